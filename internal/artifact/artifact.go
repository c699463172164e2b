// Package artifact resolves and fetches the prebuilt static Skia archive for
// a target platform.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goplus/skiabind/internal/target"
	"github.com/goplus/skiabind/internal/vcs"
)

// DefaultBaseURL is where release archives are published, one release per
// content identifier.
const DefaultBaseURL = "https://github.com/rust-skia/skia/releases/download"

// Platform identifies the archive flavor.
type Platform string

const (
	Windows Platform = "win"
	Linux   Platform = "linux"
	MacOS   Platform = "osx"
)

// PlatformOf returns the archive platform for a target triple.
func PlatformOf(t target.Triple) (Platform, error) {
	switch {
	case t.OS == "windows":
		return Windows, nil
	case t.OS == "linux" && !strings.Contains(t.Env, "android"):
		return Linux, nil
	case t.OS == "darwin":
		return MacOS, nil
	}
	return "", fmt.Errorf("%w: %s: no prebuilt archive for this platform", target.ErrUnsupported, t)
}

// Descriptor names one prebuilt archive and where it lands locally.
type Descriptor struct {
	Platform    Platform
	ContentID   string
	ArchiveName string
	URL         string
	LocalDir    string
	LibraryFile string
}

// Options configures NewDescriptor.
type Options struct {
	// Library is the library name, "skia" by default.
	Library string
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// LocalDir is the extraction directory.
	LocalDir string
}

// NewDescriptor builds the descriptor of the archive for triple at contentID.
func NewDescriptor(t target.Triple, contentID string, opts Options) (Descriptor, error) {
	platform, err := PlatformOf(t)
	if err != nil {
		return Descriptor{}, err
	}
	if !vcs.IsContentID(contentID) {
		return Descriptor{}, fmt.Errorf("invalid content id %q: want %d lowercase hex characters", contentID, vcs.ContentIDLen)
	}
	if opts.LocalDir == "" {
		return Descriptor{}, fmt.Errorf("artifact: empty local directory")
	}
	lib := opts.Library
	if lib == "" {
		lib = "skia"
	}
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	archive := fmt.Sprintf("%s-static-%s.tgz", lib, platform)
	return Descriptor{
		Platform:    platform,
		ContentID:   contentID,
		ArchiveName: archive,
		URL:         fmt.Sprintf("%s/%s/%s", base, contentID, archive),
		LocalDir:    opts.LocalDir,
		LibraryFile: t.StaticLibName(lib),
	}, nil
}

// LibraryPath returns the local path of the static library.
func (d Descriptor) LibraryPath() string {
	return filepath.Join(d.LocalDir, d.LibraryFile)
}
