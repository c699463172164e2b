package artifact

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// destination directory.
var ErrUnsafePath = errors.New("unsafe path in archive")

// Extractor unpacks archive into dir.
type Extractor interface {
	Extract(archive, dir string) error
}

// TarGzExtractor unpacks gzip-compressed tarballs.
type TarGzExtractor struct{}

// Extract implements Extractor. Extracted files carry the current time as
// their modification time, not the one recorded in the archive.
func (TarGzExtractor) Extract(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", archive, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", archive, err)
		}
		if err := extractEntry(tr, hdr, dir, root); err != nil {
			return fmt.Errorf("%s: %w", archive, err)
		}
	}
}

// extractEntry writes one entry below dir. root is the resolved form of
// dir; symlinks created by earlier entries are followed when checking
// where the entry lands.
func extractEntry(r io.Reader, hdr *tar.Header, dir, root string) error {
	target, err := entryPath(dir, hdr.Name)
	if err != nil {
		return err
	}
	parent, err := resolve(filepath.Dir(target))
	if err != nil {
		return err
	}
	if !within(root, parent) {
		return fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		mode := hdr.FileInfo().Mode().Perm() | 0600
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, r)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		return err
	case tar.TypeSymlink:
		link := hdr.Linkname
		if filepath.IsAbs(link) {
			return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, hdr.Name, link)
		}
		if _, err := entryPath(dir, filepath.Join(filepath.Dir(hdr.Name), link)); err != nil {
			return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, hdr.Name, link)
		}
		if !within(root, filepath.Join(parent, link)) {
			return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, hdr.Name, link)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return os.Symlink(link, target)
	default:
		// pax headers, hard links and devices are not part of release archives
		return nil
	}
}

func entryPath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dir, clean), nil
}

// resolve follows the symlinks of the longest existing prefix of p and
// appends the remaining elements.
func resolve(p string) (string, error) {
	rest := ""
	for {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(real, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		rest = filepath.Join(filepath.Base(p), rest)
		p = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
