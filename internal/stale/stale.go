// Package stale decides whether generated bindings must be regenerated by
// comparing modification times of the output and its inputs.
package stale

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/afero"
)

// ErrProbe is wrapped by every failure to read the metadata of a watched
// path; no safe decision can be made in that case.
var ErrProbe = errors.New("staleness probe failed")

// Checker compares modification times on a filesystem.
type Checker struct {
	fs afero.Fs
}

// New returns a Checker on fsys. A nil fsys means the OS filesystem.
func New(fsys afero.Fs) *Checker {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Checker{fs: fsys}
}

// Reason explains a regeneration decision.
type Reason struct {
	// Missing is set when an output or a settings record does not exist.
	Missing bool
	// Output names the missing path.
	Output string
	// Newer is the first input found newer than the output.
	Newer string
	// Setting is the first recorded build setting that differs.
	Setting string
}

func (r Reason) String() string {
	switch {
	case r.Missing && r.Output != "":
		return r.Output + " missing"
	case r.Missing:
		return "output missing"
	case r.Newer != "":
		return r.Newer + " is newer than output"
	case r.Setting != "":
		return "setting " + r.Setting + " changed"
	}
	return "up to date"
}

// ShouldRegenerate reports whether output must be regenerated: it is
// missing, or some input was modified strictly after it. Inputs are
// checked in order.
func (c *Checker) ShouldRegenerate(output string, inputs ...string) (bool, Reason, error) {
	outInfo, err := c.fs.Stat(output)
	if errors.Is(err, fs.ErrNotExist) {
		return true, Reason{Missing: true, Output: output}, nil
	}
	if err != nil {
		return false, Reason{}, fmt.Errorf("%w: %s: %w", ErrProbe, output, err)
	}
	genTime := outInfo.ModTime()

	for _, in := range inputs {
		mtime, err := c.mtime(in)
		if err != nil {
			return false, Reason{}, err
		}
		if mtime.After(genTime) {
			return true, Reason{Newer: in}, nil
		}
	}
	return false, Reason{}, nil
}

func (c *Checker) mtime(path string) (time.Time, error) {
	info, err := c.fs.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrProbe, path, err)
	}
	return info.ModTime(), nil
}

// Missing reports the first of outputs that does not exist.
func (c *Checker) Missing(outputs ...string) (bool, Reason, error) {
	for _, out := range outputs {
		_, err := c.fs.Stat(out)
		if errors.Is(err, fs.ErrNotExist) {
			return true, Reason{Missing: true, Output: out}, nil
		}
		if err != nil {
			return false, Reason{}, fmt.Errorf("%w: %s: %w", ErrProbe, out, err)
		}
	}
	return false, Reason{}, nil
}
