package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goplus/skiabind/internal/target"
)

const testID = "0123456789"

func TestNewDescriptor(t *testing.T) {
	tests := []struct {
		triple  string
		url     string
		libFile string
	}{
		{"x86_64-unknown-linux-gnu", DefaultBaseURL + "/" + testID + "/skia-static-linux.tgz", "libskia.a"},
		{"aarch64-apple-darwin", DefaultBaseURL + "/" + testID + "/skia-static-osx.tgz", "libskia.a"},
		{"x86_64-pc-windows-msvc", DefaultBaseURL + "/" + testID + "/skia-static-win.tgz", "skia.lib"},
		{"x86_64-pc-windows-gnu", DefaultBaseURL + "/" + testID + "/skia-static-win.tgz", "skia.lib"},
	}
	for _, tt := range tests {
		t.Run(tt.triple, func(t *testing.T) {
			d, err := NewDescriptor(target.MustParse(tt.triple), testID, Options{LocalDir: "skia"})
			require.NoError(t, err)
			assert.Equal(t, tt.url, d.URL)
			assert.Equal(t, tt.libFile, d.LibraryFile)
			assert.Equal(t, filepath.Join("skia", tt.libFile), d.LibraryPath())
		})
	}
}

func TestNewDescriptorErrors(t *testing.T) {
	_, err := NewDescriptor(target.MustParse("aarch64-linux-android"), testID, Options{LocalDir: "skia"})
	assert.ErrorIs(t, err, target.ErrUnsupported)

	_, err = NewDescriptor(target.MustParse("x86_64-unknown-linux-gnu"), "ABCDEF0123", Options{LocalDir: "skia"})
	assert.Error(t, err)

	_, err = NewDescriptor(target.MustParse("x86_64-unknown-linux-gnu"), testID, Options{})
	assert.Error(t, err)
}

func TestNewDescriptorBaseURL(t *testing.T) {
	d, err := NewDescriptor(target.MustParse("x86_64-unknown-linux-gnu"), testID, Options{
		LocalDir: "skia",
		BaseURL:  "http://mirror.local/skia/",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://mirror.local/skia/"+testID+"/skia-static-linux.tgz", d.URL)
}

type tarEntry struct {
	name string
	body string
	dir  bool
	link string
}

func makeTgz(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeDownloader struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeDownloader) Download(_ context.Context, _, dest string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, f.data, 0644)
}

func skiaArchive(t *testing.T) []byte {
	return makeTgz(t, []tarEntry{
		{name: "skia/", dir: true},
		{name: "skia/libskia.a", body: "!<arch>\n"},
		{name: "skia/include/", dir: true},
		{name: "skia/include/core/SkCanvas.h", body: "// canvas"},
	})
}

func newTestFetcher(t *testing.T, dl Downloader) (*Fetcher, Descriptor) {
	t.Helper()
	root := t.TempDir()
	d, err := NewDescriptor(target.MustParse("x86_64-unknown-linux-gnu"), testID, Options{
		LocalDir: filepath.Join(root, "skia"),
	})
	require.NoError(t, err)
	return &Fetcher{
		Downloader: dl,
		Extractor:  TarGzExtractor{},
		CacheDir:   filepath.Join(root, "cache"),
	}, d
}

func TestFetchIdempotent(t *testing.T) {
	dl := &fakeDownloader{data: skiaArchive(t)}
	f, d := newTestFetcher(t, dl)

	out, err := f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Fetched, out)
	assert.FileExists(t, d.LibraryPath())
	assert.FileExists(t, filepath.Join(d.LocalDir, "include", "core", "SkCanvas.h"))

	stamp, err := ReadStamp(d.LocalDir)
	require.NoError(t, err)
	assert.Equal(t, testID, stamp.ContentID)
	assert.Equal(t, "skia-static-linux.tgz", stamp.Archive)

	out, err = f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Skipped, out)
	assert.Equal(t, 1, dl.calls)

	// no extraction leftovers next to the local dir
	entries, err := os.ReadDir(filepath.Dir(d.LocalDir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".skiabind-extract-")
	}
}

func TestFetchUsesDownloadCache(t *testing.T) {
	dl := &fakeDownloader{data: skiaArchive(t)}
	f, d := newTestFetcher(t, dl)
	_, err := f.Fetch(context.Background(), d)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(d.LocalDir))
	out, err := f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Fetched, out)
	assert.Equal(t, 1, dl.calls)
}

func TestFetchFlatArchive(t *testing.T) {
	dl := &fakeDownloader{data: makeTgz(t, []tarEntry{
		{name: "libskia.a", body: "!<arch>\n"},
		{name: "include/core/SkTypes.h", body: "// types"},
	})}
	f, d := newTestFetcher(t, dl)
	_, err := f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.FileExists(t, d.LibraryPath())
	assert.FileExists(t, filepath.Join(d.LocalDir, "include", "core", "SkTypes.h"))
}

func TestFetchMissingLibrary(t *testing.T) {
	dl := &fakeDownloader{data: makeTgz(t, []tarEntry{{name: "README", body: "nothing"}})}
	f, d := newTestFetcher(t, dl)
	_, err := f.Fetch(context.Background(), d)
	assert.ErrorContains(t, err, "does not contain libskia.a")
	assert.NoFileExists(t, d.LibraryPath())
}

func TestFetchDownloadError(t *testing.T) {
	boom := errors.New("network unreachable")
	f, d := newTestFetcher(t, &fakeDownloader{err: boom})
	_, err := f.Fetch(context.Background(), d)
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, d.LibraryPath())

	entries, err := os.ReadDir(filepath.Join(f.CacheDir, testID))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchCorruptArchive(t *testing.T) {
	f, d := newTestFetcher(t, &fakeDownloader{data: []byte("not a tarball")})
	_, err := f.Fetch(context.Background(), d)
	assert.Error(t, err)
	assert.NoFileExists(t, d.LibraryPath())
	assert.NoFileExists(t, filepath.Join(f.CacheDir, testID, d.ArchiveName))
}

func TestFetchStampMismatch(t *testing.T) {
	dl := &fakeDownloader{data: skiaArchive(t)}
	f, d := newTestFetcher(t, dl)
	require.NoError(t, os.MkdirAll(d.LocalDir, 0755))
	require.NoError(t, os.WriteFile(d.LibraryPath(), []byte("old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(d.LocalDir, StampFile), []byte(`{"content_id":"ffffffffff"}`), 0644))

	out, err := f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Skipped, out)
	assert.Equal(t, 0, dl.calls)

	f.VerifyIdentity = true
	out, err = f.Fetch(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Fetched, out)
	assert.Equal(t, 1, dl.calls)
	data, err := os.ReadFile(d.LibraryPath())
	require.NoError(t, err)
	assert.Equal(t, "!<arch>\n", string(data))
}

func TestExtractRejectsUnsafePaths(t *testing.T) {
	tests := map[string][]tarEntry{
		"dotdot":   {{name: "../evil", body: "x"}},
		"absolute": {{name: "/tmp/evil", body: "x"}},
		"symlink":  {{name: "skia/escape", link: "../../etc/passwd"}},
		"chained symlinks": {
			{name: "x", link: "."},
			{name: "x/y", link: ".."},
			{name: "x/y/evil.txt", body: "x"},
		},
		"through symlink": {
			{name: "up", link: "."},
			{name: "up/../../evil.txt", body: "x"},
		},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "a.tgz")
			require.NoError(t, os.WriteFile(archive, makeTgz(t, entries), 0644))
			err := TarGzExtractor{}.Extract(archive, filepath.Join(dir, "out"))
			assert.ErrorIs(t, err, ErrUnsafePath)
			assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
		})
	}
}

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ok.tgz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dl := NewHTTPDownloader()

	dest := filepath.Join(dir, "ok.tgz")
	require.NoError(t, dl.Download(context.Background(), srv.URL+"/ok.tgz", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	err = dl.Download(context.Background(), srv.URL+"/missing.tgz", filepath.Join(dir, "missing.tgz"))
	assert.ErrorContains(t, err, "404")
}
