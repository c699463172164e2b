package vcs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ContentIDLen is the length of a content identifier. Release archives are
// published under the first ContentIDLen hex characters of the pinned
// commit, so this must not change.
const ContentIDLen = 10

// ErrMalformedHash is returned for commit hashes that are not full hex object ids.
var ErrMalformedHash = errors.New("malformed commit hash")

// ContentID derives the content identifier of a full commit hash: its first
// ContentIDLen characters, lower-cased.
func ContentID(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	if len(h) != 40 && len(h) != 64 {
		return "", fmt.Errorf("%w: %q has length %d", ErrMalformedHash, hash, len(h))
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedHash, hash)
	}
	return h[:ContentIDLen], nil
}

// IsContentID reports whether id is a well-formed content identifier.
func IsContentID(id string) bool {
	if len(id) != ContentIDLen || strings.ToLower(id) != id {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// Resolve returns the content identifier of the commit pinned for the
// submodule name of the repository at repoDir.
func Resolve(ctx context.Context, s Submodules, repoDir, name string) (id, commit string, err error) {
	commit, err = s.SubmoduleCommit(ctx, repoDir, name)
	if err != nil {
		return "", "", err
	}
	id, err = ContentID(commit)
	if err != nil {
		return "", "", err
	}
	return id, commit, nil
}
