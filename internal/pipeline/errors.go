package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	VersionResolution Kind = iota + 1
	ArtifactFetch
	UnsupportedPlatform
	StalenessProbe
	NativeCompile
	BindingParse
	Write
)

func (k Kind) String() string {
	switch k {
	case VersionResolution:
		return "version resolution"
	case ArtifactFetch:
		return "artifact fetch"
	case UnsupportedPlatform:
		return "unsupported platform"
	case StalenessProbe:
		return "staleness probe"
	case NativeCompile:
		return "native compile"
	case BindingParse:
		return "binding parse"
	case Write:
		return "write"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned by every failing stage. Err is the underlying cause.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func stageError(stage string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}
