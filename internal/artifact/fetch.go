package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/otiai10/copy"

	"github.com/goplus/skiabind/internal/atomicfile"
	"github.com/goplus/skiabind/internal/env"
)

// StampFile is written next to the extracted library and records which
// archive it came from.
const StampFile = ".skiabind-artifact.json"

// Outcome reports what Fetch did.
type Outcome int

const (
	// Skipped means the library was already present and nothing was fetched.
	Skipped Outcome = iota
	// Fetched means the archive was downloaded (or taken from the download
	// cache) and extracted.
	Fetched
)

func (o Outcome) String() string {
	if o == Fetched {
		return "fetched"
	}
	return "skipped"
}

// Stamp is the content of StampFile.
type Stamp struct {
	ContentID string    `json:"content_id"`
	Archive   string    `json:"archive"`
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ReadStamp reads the stamp of the artifact extracted into dir.
func ReadStamp(dir string) (Stamp, error) {
	var s Stamp
	data, err := os.ReadFile(filepath.Join(dir, StampFile))
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("%s: %w", StampFile, err)
	}
	return s, nil
}

// Fetcher makes the prebuilt library available locally.
type Fetcher struct {
	Downloader Downloader
	Extractor  Extractor

	// CacheDir holds downloaded archives under <CacheDir>/<content-id>/.
	// Defaults to env.DownloadDir().
	CacheDir string

	// VerifyIdentity refetches when the library present locally was
	// extracted from an archive of another content id. Otherwise a
	// mismatch only logs a warning.
	VerifyIdentity bool

	Logger *slog.Logger
}

// NewFetcher returns a Fetcher downloading over HTTP.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Downloader: NewHTTPDownloader(),
		Extractor:  TarGzExtractor{},
	}
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Fetch ensures d.LibraryPath exists. When it already does, nothing is
// downloaded. The library is moved into place last, so its presence means
// the extraction completed.
func (f *Fetcher) Fetch(ctx context.Context, d Descriptor) (Outcome, error) {
	log := f.logger()
	lib := d.LibraryPath()
	if _, err := os.Stat(lib); err == nil {
		if f.upToDate(d, log) {
			return Skipped, nil
		}
		log.Info("refetching artifact", "content_id", d.ContentID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Skipped, err
	}

	archive, err := f.archive(ctx, d)
	if err != nil {
		return Skipped, err
	}
	if err := f.install(d, archive); err != nil {
		return Skipped, err
	}
	log.Info("artifact ready", "lib", lib, "content_id", d.ContentID)
	return Fetched, nil
}

// upToDate reports whether the present library may be kept.
func (f *Fetcher) upToDate(d Descriptor, log *slog.Logger) bool {
	stamp, err := ReadStamp(d.LocalDir)
	if err != nil {
		log.Debug("no artifact stamp", "dir", d.LocalDir, "error", err)
		return !f.VerifyIdentity
	}
	if stamp.ContentID == d.ContentID {
		return true
	}
	log.Warn("prebuilt library does not match pinned revision",
		"have", stamp.ContentID, "want", d.ContentID, "dir", d.LocalDir)
	return !f.VerifyIdentity
}

// archive returns the path of the downloaded archive, downloading it unless
// it is already cached.
func (f *Fetcher) archive(ctx context.Context, d Descriptor) (string, error) {
	cacheDir := f.CacheDir
	if cacheDir == "" {
		var err error
		if cacheDir, err = env.DownloadDir(); err != nil {
			return "", err
		}
	}
	dir := filepath.Join(cacheDir, d.ContentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, d.ArchiveName)
	if _, err := os.Stat(dest); err == nil {
		f.logger().Debug("using cached archive", "path", dest)
		return dest, nil
	}

	f.logger().Info("downloading", "url", d.URL)
	partial := dest + ".partial"
	if err := f.Downloader.Download(ctx, d.URL, partial); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("download %s: %w", d.URL, err)
	}
	if err := atomicfile.Replace(partial, dest); err != nil {
		os.Remove(partial)
		return "", err
	}
	return dest, nil
}

func (f *Fetcher) install(d Descriptor, archive string) error {
	parent := filepath.Dir(filepath.Clean(d.LocalDir))
	if err := os.MkdirAll(parent, 0755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, ".skiabind-extract-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := f.Extractor.Extract(archive, tmp); err != nil {
		// a corrupt archive must not be reused from the cache
		os.Remove(archive)
		return fmt.Errorf("extract %s: %w", d.ArchiveName, err)
	}
	root, err := contentRoot(tmp, filepath.Base(d.LocalDir))
	if err != nil {
		return err
	}
	extractedLib := filepath.Join(root, d.LibraryFile)
	if _, err := os.Stat(extractedLib); err != nil {
		return fmt.Errorf("%s does not contain %s", d.ArchiveName, d.LibraryFile)
	}

	if err := os.MkdirAll(d.LocalDir, 0755); err != nil {
		return err
	}
	opts := copy.Options{
		Skip: func(_ os.FileInfo, src, _ string) (bool, error) {
			return src == extractedLib, nil
		},
		OnDirExists: func(_, _ string) copy.DirExistsAction {
			return copy.Merge
		},
	}
	if err := copy.Copy(root, d.LocalDir, opts); err != nil {
		return err
	}

	stamp, err := json.MarshalIndent(Stamp{
		ContentID: d.ContentID,
		Archive:   d.ArchiveName,
		URL:       d.URL,
		FetchedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicfile.WriteFile(filepath.Join(d.LocalDir, StampFile), append(stamp, '\n'), 0644); err != nil {
		return err
	}
	now := time.Now()
	if err := os.Chtimes(extractedLib, now, now); err != nil {
		return err
	}
	return atomicfile.Replace(extractedLib, d.LibraryPath())
}

// contentRoot returns dir, or its only entry when that is a directory named
// name.
func contentRoot(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() && entries[0].Name() == name {
		return filepath.Join(dir, name), nil
	}
	return dir, nil
}
