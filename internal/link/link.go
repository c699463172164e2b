// Package link plans the linker directives needed to link a binary against
// the static Skia build and renders them as cgo LDFLAGS.
package link

import (
	"fmt"
	"strings"

	"github.com/goplus/skiabind/internal/feature"
	"github.com/goplus/skiabind/internal/target"
)

// Kind is the linkage kind of a directive.
type Kind int

const (
	Static Kind = iota
	Dynamic
	Framework
)

func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case Framework:
		return "framework"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Directive names a library and how to link it.
type Directive struct {
	Name string
	Kind Kind
}

// Condition restricts a table entry to triples containing Target, not
// containing Unless, and to builds with Feature enabled. Empty fields
// always hold.
type Condition struct {
	Target  string
	Unless  string
	Feature string
}

func (c Condition) holds(t target.Triple, features feature.Set) bool {
	if c.Target != "" && !t.Contains(c.Target) {
		return false
	}
	if c.Unless != "" && t.Contains(c.Unless) {
		return false
	}
	if c.Feature != "" && !features.Has(c.Feature) {
		return false
	}
	return true
}

// Entry is a directive guarded by a condition.
type Entry struct {
	Directive
	When Condition
}

// Platform groups the entries of one target family. A triple belongs to the
// first platform whose Match condition holds.
type Platform struct {
	Name    string
	Match   Condition
	Entries []Entry
}

// Table is the full planning configuration.
type Table struct {
	// Core is emitted first for every supported target.
	Core      []Directive
	Platforms []Platform
}

// DefaultTable returns the directives required by the prebuilt Skia
// archives and the binding shim.
func DefaultTable() Table {
	dyn := func(name string) Entry {
		return Entry{Directive: Directive{Name: name, Kind: Dynamic}}
	}
	return Table{
		Core: []Directive{
			{Name: "skiabinding", Kind: Static},
			{Name: "skia", Kind: Static},
		},
		Platforms: []Platform{
			{
				Name:  "linux",
				Match: Condition{Target: "unknown-linux-gnu"},
				Entries: []Entry{
					dyn("stdc++"),
					dyn("bz2"),
					dyn("GL"),
					dyn("fontconfig"),
					dyn("freetype"),
				},
			},
			{
				Name:  "eabi",
				Match: Condition{Target: "eabi"},
				Entries: []Entry{
					dyn("stdc++"),
					dyn("GLESv2"),
				},
			},
			{
				Name:  "macos",
				Match: Condition{Target: "apple-darwin"},
				Entries: []Entry{
					dyn("c++"),
					{Directive: Directive{Name: "OpenGL", Kind: Framework}},
					{Directive: Directive{Name: "ApplicationServices", Kind: Framework}},
				},
			},
			{
				Name:  "windows",
				Match: Condition{Target: "windows"},
				Entries: []Entry{
					{Directive: Directive{Name: "stdc++", Kind: Dynamic}, When: Condition{Target: "gnu"}},
					dyn("usp10"),
					dyn("ole32"),
					dyn("user32"),
					// GrContext::MakeVulkan pulls in opengl32.
					{Directive: Directive{Name: "opengl32", Kind: Dynamic}, When: Condition{Feature: feature.Vulkan}},
				},
			},
		},
	}
}

// Plan returns the directives for triple using the default table.
func Plan(triple target.Triple, features feature.Set) ([]Directive, string, error) {
	return DefaultTable().Plan(triple, features)
}

// Plan evaluates the table in declaration order and returns the directives
// whose condition holds, together with the name of the matched platform.
// Core directives always come first. Triples matching no platform are
// rejected with target.ErrUnsupported.
func (tab Table) Plan(triple target.Triple, features feature.Set) ([]Directive, string, error) {
	for _, p := range tab.Platforms {
		if !p.Match.holds(triple, features) {
			continue
		}
		out := make([]Directive, 0, len(tab.Core)+len(p.Entries))
		out = append(out, tab.Core...)
		for _, e := range p.Entries {
			if e.When.holds(triple, features) {
				out = append(out, e.Directive)
			}
		}
		return out, p.Name, nil
	}
	return nil, "", fmt.Errorf("%w: %s: no link configuration", target.ErrUnsupported, triple)
}

// Flags renders directives as linker flags in order.
func Flags(ds []Directive) []string {
	flags := make([]string, 0, len(ds))
	for _, d := range ds {
		switch d.Kind {
		case Framework:
			flags = append(flags, "-framework", d.Name)
		default:
			flags = append(flags, "-l"+d.Name)
		}
	}
	return flags
}

// String renders a directive the way it appears in a plan listing.
func (d Directive) String() string {
	return strings.Join([]string{d.Kind.String(), d.Name}, "=")
}
