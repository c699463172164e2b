package link

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/goplus/skiabind/internal/target"
)

// RenderOptions configures the generated link file.
type RenderOptions struct {
	// Package is the Go package clause of the generated file.
	Package string
	// LibDir is the directory holding the static archives, relative to the
	// directory of the generated file, slash separated.
	LibDir string
	// Generator names the tool in the "Code generated" header.
	Generator string
}

// FileName returns the name of the generated link file for triple. The
// GOOS/GOARCH suffix restricts it to matching builds.
func FileName(triple target.Triple) (string, error) {
	goos, err := triple.GOOS()
	if err != nil {
		return "", err
	}
	goarch, err := triple.GOARCH()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("link_%s_%s.go", goos, goarch), nil
}

// Render returns the Go source carrying ds as #cgo LDFLAGS for triple.
// The output depends only on its inputs.
func Render(triple target.Triple, ds []Directive, opts RenderOptions) ([]byte, error) {
	goos, err := triple.GOOS()
	if err != nil {
		return nil, err
	}
	goarch, err := triple.GOARCH()
	if err != nil {
		return nil, err
	}
	if opts.Package == "" {
		return nil, fmt.Errorf("link: empty package name")
	}
	gen := opts.Generator
	if gen == "" {
		gen = "skiabind"
	}

	flags := make([]string, 0, len(ds)+1)
	if opts.LibDir != "" {
		flags = append(flags, "-L"+SrcDir(opts.LibDir))
	}
	flags = append(flags, Flags(ds)...)

	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by %s. DO NOT EDIT.\n", gen)
	fmt.Fprintf(&b, "// target: %s\n\n", triple)
	fmt.Fprintf(&b, "//go:build %s && %s\n\n", goos, goarch)
	fmt.Fprintf(&b, "package %s\n\n", opts.Package)
	fmt.Fprintf(&b, "// #cgo LDFLAGS: %s\n", strings.Join(flags, " "))
	b.WriteString("import \"C\"\n")
	return b.Bytes(), nil
}

// SrcDir returns rel, a slash separated path relative to the package
// directory, rooted at cgo's ${SRCDIR}. Leading ".." elements are kept.
func SrcDir(rel string) string {
	rel = path.Clean(rel)
	if rel == "." {
		return "${SRCDIR}"
	}
	return "${SRCDIR}/" + rel
}
