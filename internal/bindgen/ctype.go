package bindgen

import (
	"fmt"
	"strings"
)

type ctypeKind int

const (
	kindVoid ctypeKind = iota
	kindBuiltin
	kindNamed
	kindPointer
	kindFuncPtr
)

// ctype is a parsed C type spelling.
type ctype struct {
	kind ctypeKind
	name string // builtin or declared name
	tag  string // struct, union, enum or class when spelled
	elem *ctype
}

type builtin struct {
	goType string
	cgo    string
}

var builtins = map[string]builtin{
	"bool":               {"bool", "C.bool"},
	"char":               {"", "C.char"},
	"signed char":        {"int8", "C.schar"},
	"unsigned char":      {"uint8", "C.uchar"},
	"short":              {"int16", "C.short"},
	"unsigned short":     {"uint16", "C.ushort"},
	"int":                {"int32", "C.int"},
	"unsigned int":       {"uint32", "C.uint"},
	"long":               {"int", "C.long"},
	"unsigned long":      {"uint", "C.ulong"},
	"long long":          {"int64", "C.longlong"},
	"unsigned long long": {"uint64", "C.ulonglong"},
	"float":              {"float32", "C.float"},
	"double":             {"float64", "C.double"},
	"size_t":             {"uint", "C.size_t"},
	"int8_t":             {"int8", "C.int8_t"},
	"int16_t":            {"int16", "C.int16_t"},
	"int32_t":            {"int32", "C.int32_t"},
	"int64_t":            {"int64", "C.int64_t"},
	"uint8_t":            {"uint8", "C.uint8_t"},
	"uint16_t":           {"uint16", "C.uint16_t"},
	"uint32_t":           {"uint32", "C.uint32_t"},
	"uint64_t":           {"uint64", "C.uint64_t"},
	"intptr_t":           {"int", "C.intptr_t"},
	"uintptr_t":          {"uintptr", "C.uintptr_t"},
}

var builtinAliases = map[string]string{
	"_Bool":                  "bool",
	"signed":                 "int",
	"signed int":             "int",
	"unsigned":               "unsigned int",
	"short int":              "short",
	"signed short":           "short",
	"short unsigned int":     "unsigned short",
	"unsigned short int":     "unsigned short",
	"long int":               "long",
	"signed long":            "long",
	"long unsigned int":      "unsigned long",
	"unsigned long int":      "unsigned long",
	"long long int":          "long long",
	"signed long long":       "long long",
	"long long unsigned int": "unsigned long long",
	"unsigned long long int": "unsigned long long",
	"std::size_t":            "size_t",
}

// parseCType parses a clang type spelling. Spellings C code cannot express
// (references, templates, qualified names) are rejected.
func parseCType(s string) (*ctype, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return nil, fmt.Errorf("empty type")
	}
	if alias, ok := builtinAliases[s]; ok {
		s = alias
	}
	if strings.Contains(s, "(*)") || strings.Contains(s, "(^)") {
		return &ctype{kind: kindFuncPtr}, nil
	}
	if i := strings.IndexByte(s, '['); i >= 0 {
		elem, err := parseCType(s[:i])
		if err != nil {
			return nil, err
		}
		return &ctype{kind: kindPointer, elem: elem}, nil
	}
	for _, q := range []string{" const", " volatile", " restrict", " __restrict"} {
		s = strings.TrimSuffix(s, q)
	}
	if rest, ok := strings.CutSuffix(s, "*"); ok {
		elem, err := parseCType(rest)
		if err != nil {
			return nil, err
		}
		return &ctype{kind: kindPointer, elem: elem}, nil
	}
	if strings.ContainsAny(s, "&<>():") && s != "std::size_t" {
		return nil, fmt.Errorf("type %q has no C equivalent", s)
	}
	for _, q := range []string{"const ", "volatile "} {
		s = strings.TrimPrefix(s, q)
	}
	t := &ctype{}
	for _, tag := range []string{"struct", "union", "enum", "class"} {
		if rest, ok := strings.CutPrefix(s, tag+" "); ok {
			t.tag, s = tag, rest
			break
		}
	}
	if alias, ok := builtinAliases[s]; ok {
		s = alias
	}
	switch {
	case s == "void":
		t.kind = kindVoid
	case t.tag == "" && builtins[s].cgo != "":
		t.kind = kindBuiltin
	default:
		if strings.ContainsAny(s, " ") {
			return nil, fmt.Errorf("unknown type %q", s)
		}
		t.kind = kindNamed
	}
	t.name = s
	return t, nil
}

// goType is how a C type appears in a generated Go signature.
type goType struct {
	Go string
	// toC and toGo convert an expression between the Go and cgo types.
	toC  func(string) string
	toGo func(string) string
	// unsafe reports whether the spelling or conversions use package unsafe.
	unsafe bool
}

func identity(s string) string { return s }

func convert(typ string) func(string) string {
	return func(s string) string { return typ + "(" + s + ")" }
}

func sameType(spelling string) goType {
	return goType{Go: spelling, toC: identity, toGo: identity}
}
