package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrRepository is returned when the working repository cannot be opened.
	ErrRepository = errors.New("cannot open repository")
	// ErrSubmoduleNotFound is returned when no submodule of the given name
	// is registered in .gitmodules.
	ErrSubmoduleNotFound = errors.New("submodule not registered")
	// ErrNoIndexEntry is returned when the submodule path has no gitlink
	// entry in the parent repository's index.
	ErrNoIndexEntry = errors.New("submodule has no index entry")
)

// gitlinkMode is the index mode of a submodule entry.
const gitlinkMode = "160000"

// Submodules resolves the commit a repository pins for one of its submodules.
type Submodules interface {
	// SubmoduleCommit returns the full hex commit hash recorded in the index
	// of the repository containing repoDir for the submodule called name.
	SubmoduleCommit(ctx context.Context, repoDir, name string) (string, error)
}

// gitVCS implements Submodules using the git command.
type gitVCS struct {
	git string
}

// GitOption configures gitVCS.
type GitOption func(*gitVCS)

// WithGitPath sets a custom git executable path.
func WithGitPath(path string) GitOption {
	return func(g *gitVCS) {
		g.git = path
	}
}

// NewGitVCS creates a Submodules backed by the git executable.
func NewGitVCS(opts ...GitOption) Submodules {
	g := &gitVCS{git: "git"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gitVCS) SubmoduleCommit(ctx context.Context, repoDir, name string) (string, error) {
	top, err := g.output(ctx, repoDir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRepository, repoDir, err)
	}
	top = filepath.FromSlash(strings.TrimSpace(top))

	path, err := g.output(ctx, top, "config", "-f", ".gitmodules", "--get", "submodule."+name+".path")
	if err != nil || strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: %s", ErrSubmoduleNotFound, name)
	}
	path = strings.TrimSpace(path)

	out, err := g.output(ctx, top, "ls-files", "--stage", "--", path)
	if err != nil {
		return "", fmt.Errorf("ls-files %s: %w", path, err)
	}
	// format: <mode> <hash> <stage>\t<path>
	line := strings.TrimSpace(out)
	if line == "" {
		return "", fmt.Errorf("%w: %s", ErrNoIndexEntry, path)
	}
	meta, _, _ := strings.Cut(line, "\t")
	fields := strings.Fields(meta)
	if len(fields) != 3 {
		return "", fmt.Errorf("invalid ls-files output: %s", line)
	}
	if fields[0] != gitlinkMode {
		return "", fmt.Errorf("%w: %s is not a gitlink (mode %s)", ErrNoIndexEntry, path, fields[0])
	}
	return fields[1], nil
}

func (g *gitVCS) output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.git, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s", msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
