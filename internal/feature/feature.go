// Package feature holds the named build features understood by skiabind.
package feature

import (
	"fmt"
	"sort"
	"strings"
)

// Vulkan enables the GPU interop surface: Vulkan enums in the bindings,
// SK_VULKAN in the shim, and opengl32 on Windows.
const Vulkan = "vulkan"

var known = map[string]bool{
	Vulkan: true,
}

// Set is an immutable set of enabled features.
type Set struct {
	m map[string]bool
}

// New returns a Set of the given feature names. Unknown names are rejected.
func New(names ...string) (Set, error) {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if !known[n] {
			return Set{}, fmt.Errorf("unknown feature %q (known: %s)", n, strings.Join(Known(), ", "))
		}
		m[n] = true
	}
	return Set{m: m}, nil
}

// Parse parses a comma or space separated feature list.
func Parse(list string) (Set, error) {
	return New(strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' '
	})...)
}

// Has reports whether the feature is enabled.
func (s Set) Has(name string) bool {
	return s.m[name]
}

// Names returns the enabled features, sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.m))
	for n := range s.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s Set) String() string {
	return strings.Join(s.Names(), ",")
}

// Known returns all feature names skiabind understands.
func Known() []string {
	names := make([]string, 0, len(known))
	for n := range known {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
