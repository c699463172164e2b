package vcs

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// goGit implements Submodules in-process with go-git.
type goGit struct{}

// NewGoGit creates a Submodules that reads the repository directly,
// without a git executable.
func NewGoGit() Submodules {
	return goGit{}
}

func (goGit) SubmoduleCommit(ctx context.Context, repoDir, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r, err := git.PlainOpenWithOptions(repoDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRepository, repoDir, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRepository, repoDir, err)
	}

	sub, err := wt.Submodule(name)
	if errors.Is(err, git.ErrSubmoduleNotFound) {
		return "", fmt.Errorf("%w: %s", ErrSubmoduleNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read .gitmodules: %w", err)
	}
	path := sub.Config().Path

	idx, err := r.Storer.Index()
	if err != nil {
		return "", fmt.Errorf("read index: %w", err)
	}
	e, err := idx.Entry(path)
	if errors.Is(err, index.ErrEntryNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNoIndexEntry, path)
	}
	if err != nil {
		return "", fmt.Errorf("read index entry %s: %w", path, err)
	}
	if e.Mode != filemode.Submodule {
		return "", fmt.Errorf("%w: %s is not a gitlink (mode %s)", ErrNoIndexEntry, path, e.Mode)
	}
	if e.Hash.IsZero() {
		return "", fmt.Errorf("%w: %s", ErrNoIndexEntry, path)
	}
	return e.Hash.String(), nil
}
