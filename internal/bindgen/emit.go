package bindgen

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/tools/imports"
)

// Options configures Generate.
type Options struct {
	// Package is the Go package name of the generated file.
	Package string
	// Header is the shim header as written in the #include directive.
	Header string
	// CFlags are emitted as #cgo CFLAGS.
	CFlags []string
	// FileName is used for formatting diagnostics only.
	FileName string
	Logger   *slog.Logger
}

// Generate emits the Go source of the declarations of u selected by rs.
// The output depends only on its inputs: declarations are sorted by name
// within each section.
func Generate(u *Unit, rs *RuleSet, opts Options) ([]byte, error) {
	if opts.Package == "" {
		return nil, fmt.Errorf("bindgen: empty package name")
	}
	if opts.Header == "" {
		return nil, fmt.Errorf("bindgen: empty header")
	}
	g := newGenerator(u, rs, opts)
	g.selectDecls()

	src := g.emit()
	name := opts.FileName
	if name == "" {
		name = "bindings.go"
	}
	out, err := imports.Process(name, src, &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", name, err)
	}
	return out, nil
}

type skipped struct {
	name   string
	reason string
}

type generator struct {
	u    *Unit
	rs   *RuleSet
	opts Options
	log  *slog.Logger

	records  map[string]Record
	enums    map[string]Enum
	typedefs map[string]Typedef

	aliases   map[string]string // Go name -> cgo spelling
	enumUse   map[string]bool   // selected enums; true when mapped
	consts    []string
	vars      []string
	functions []string
	skipped   []skipped

	needUnsafe  bool
	needStrconv bool
}

func newGenerator(u *Unit, rs *RuleSet, opts Options) *generator {
	g := &generator{
		u:        u,
		rs:       rs,
		opts:     opts,
		log:      opts.Logger,
		records:  map[string]Record{},
		enums:    map[string]Enum{},
		typedefs: map[string]Typedef{},
		aliases:  map[string]string{},
		enumUse:  map[string]bool{},
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	for _, r := range u.Records {
		g.records[r.Name] = r
	}
	for _, e := range u.Enums {
		if _, ok := g.enums[e.Name]; !ok {
			g.enums[e.Name] = e
		}
	}
	for _, t := range u.Typedefs {
		if _, ok := g.typedefs[t.Name]; !ok {
			g.typedefs[t.Name] = t
		}
	}
	return g
}

func (g *generator) skip(name, reason string) {
	g.log.Warn("skipping declaration", "name", name, "reason", reason)
	g.skipped = append(g.skipped, skipped{name, reason})
}

func (g *generator) selectDecls() {
	for _, e := range g.u.Enums {
		if g.rs.Match(EnumMapping, e.Name) {
			g.enumUse[e.Name] = true
		}
	}
	g.selectTypes()

	seen := map[string]bool{}
	for _, f := range g.u.Functions {
		if seen[f.Name] || !g.rs.Match(FunctionAllow, f.Name) {
			continue
		}
		seen[f.Name] = true
		switch {
		case f.Scoped:
			g.skip(f.Name, "declared in a C++ scope")
		case f.Variadic:
			g.skip(f.Name, "variadic function")
		default:
			src, err := g.function(f)
			if err != nil {
				g.skip(f.Name, err.Error())
				continue
			}
			g.functions = append(g.functions, src)
		}
	}

	seenVar := map[string]bool{}
	for _, v := range g.u.Vars {
		if seenVar[v.Name] || !g.rs.Match(VariableAllow, v.Name) {
			continue
		}
		seenVar[v.Name] = true
		if err := g.variable(v); err != nil {
			g.skip(v.Name, err.Error())
		}
	}
	for _, m := range g.u.Macros {
		if seenVar[m.Name] || !g.rs.Match(VariableAllow, m.Name) {
			continue
		}
		seenVar[m.Name] = true
		g.consts = append(g.consts, fmt.Sprintf("%s = %s", m.Name, m.Value))
	}
}

func (g *generator) selectTypes() {
	for _, r := range g.u.Records {
		if !g.rs.Match(TypeAllow, r.Name) {
			continue
		}
		if r.Scoped {
			g.skip(r.Name, "declared in a C++ scope")
			continue
		}
		g.aliases[r.Name] = cgoRecord(r)
	}
	for _, t := range g.u.Typedefs {
		if !g.rs.Match(TypeAllow, t.Name) {
			continue
		}
		if t.Scoped {
			g.skip(t.Name, "declared in a C++ scope")
			continue
		}
		g.aliases[t.Name] = "C." + t.Name
	}
	for _, e := range g.u.Enums {
		if g.rs.Match(TypeAllow, e.Name) && !g.enumUse[e.Name] {
			g.enumUse[e.Name] = false
		}
	}
}

func cgoRecord(r Record) string {
	switch {
	case r.Typedef:
		return "C." + r.Name
	case r.Tag == "union":
		return "C.union_" + r.Name
	}
	return "C.struct_" + r.Name
}

func cgoEnum(e Enum) string {
	if e.Typedef {
		return "C." + e.Name
	}
	return "C.enum_" + e.Name
}

// mapType returns the Go form of a C type used in a signature.
func (g *generator) mapType(spelling string) (goType, error) {
	ct, err := parseCType(spelling)
	if err != nil {
		return goType{}, err
	}
	return g.mapCType(ct)
}

func (g *generator) mapCType(ct *ctype) (goType, error) {
	switch ct.kind {
	case kindVoid:
		return goType{}, fmt.Errorf("void value")
	case kindBuiltin:
		b := builtins[ct.name]
		if b.goType == "" {
			return sameType(b.cgo), nil
		}
		return goType{Go: b.goType, toC: convert(b.cgo), toGo: convert(b.goType)}, nil
	case kindFuncPtr:
		return goType{Go: "unsafe.Pointer", toC: convert("(*[0]byte)"), toGo: convert("unsafe.Pointer"), unsafe: true}, nil
	case kindPointer:
		if ct.elem.kind == kindVoid {
			t := sameType("unsafe.Pointer")
			t.unsafe = true
			return t, nil
		}
		elem, err := g.pointee(ct.elem)
		if err != nil {
			return goType{}, err
		}
		t := sameType("*" + elem)
		t.unsafe = strings.Contains(elem, "unsafe.")
		return t, nil
	}
	if e, cgo, ok := g.lookupEnum(ct.name); ok {
		if cgo == "" {
			return goType{}, fmt.Errorf("enum %s is declared in a C++ scope", e.Name)
		}
		g.useEnum(e.Name)
		return goType{Go: e.Name, toC: convert(cgo), toGo: convert(e.Name)}, nil
	}
	if r, ok := g.records[ct.name]; ok {
		if r.Scoped {
			return goType{}, fmt.Errorf("%s is declared in a C++ scope", r.Name)
		}
		g.aliases[r.Name] = cgoRecord(r)
		return sameType(r.Name), nil
	}
	if t, ok := g.typedefs[ct.name]; ok {
		if t.Scoped {
			return goType{}, fmt.Errorf("%s is declared in a C++ scope", t.Name)
		}
		g.aliases[t.Name] = "C." + t.Name
		return sameType(t.Name), nil
	}
	return goType{}, fmt.Errorf("unknown type %s", ct.name)
}

// pointee returns the spelling of a pointer's element type whose Go and cgo
// forms are identical.
func (g *generator) pointee(ct *ctype) (string, error) {
	switch ct.kind {
	case kindVoid:
		return "unsafe.Pointer", nil
	case kindBuiltin:
		return builtins[ct.name].cgo, nil
	case kindFuncPtr:
		return "*[0]byte", nil
	case kindPointer:
		if ct.elem.kind == kindVoid {
			return "unsafe.Pointer", nil
		}
		elem, err := g.pointee(ct.elem)
		if err != nil {
			return "", err
		}
		return "*" + elem, nil
	}
	if e, cgo, ok := g.lookupEnum(ct.name); ok {
		if cgo == "" {
			return "", fmt.Errorf("enum %s is declared in a C++ scope", e.Name)
		}
		return cgo, nil
	}
	t, err := g.mapCType(ct)
	if err != nil {
		return "", err
	}
	return t.Go, nil
}

// lookupEnum resolves name to an enum, directly or through a typedef. cgo
// is empty when C code cannot name the enum.
func (g *generator) lookupEnum(name string) (e Enum, cgo string, ok bool) {
	if e, ok := g.enums[name]; ok {
		if e.Scoped {
			return e, "", true
		}
		return e, cgoEnum(e), true
	}
	if t, ok := g.typedefs[name]; ok && !t.Scoped {
		if e, ok := g.enums[trimTag(t.Underlying)]; ok {
			return e, "C." + t.Name, true
		}
	}
	return Enum{}, "", false
}

func (g *generator) useEnum(name string) {
	if _, ok := g.enumUse[name]; !ok {
		g.enumUse[name] = false
	}
}

var goReserved = map[string]bool{
	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true, "for": true,
	"func": true, "go": true, "goto": true, "if": true, "import": true,
	"interface": true, "map": true, "package": true, "range": true, "return": true,
	"select": true, "struct": true, "switch": true, "type": true, "var": true,
	"C": true, "unsafe": true, "strconv": true, "_": true,
}

func paramNames(params []Param) []string {
	names := make([]string, len(params))
	used := map[string]bool{}
	for i, p := range params {
		name := p.Name
		switch {
		case name == "":
			name = "p" + strconv.Itoa(i)
		case goReserved[name]:
			name += "_"
		}
		for used[name] {
			name += strconv.Itoa(i)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func (g *generator) function(f Function) (string, error) {
	var sig, args []string
	names := paramNames(f.Params)
	unsafe := false
	for i, p := range f.Params {
		t, err := g.mapType(p.Type)
		if err != nil {
			return "", fmt.Errorf("parameter %s: %w", names[i], err)
		}
		unsafe = unsafe || t.unsafe
		sig = append(sig, names[i]+" "+t.Go)
		args = append(args, t.toC(names[i]))
	}
	call := "C." + f.Name + "(" + strings.Join(args, ", ") + ")"

	var b strings.Builder
	rt, err := parseCType(f.Result)
	if err != nil {
		return "", fmt.Errorf("result: %w", err)
	}
	if rt.kind == kindVoid {
		fmt.Fprintf(&b, "func %s(%s) {\n\t%s\n}\n", f.Name, strings.Join(sig, ", "), call)
	} else {
		t, err := g.mapCType(rt)
		if err != nil {
			return "", fmt.Errorf("result: %w", err)
		}
		unsafe = unsafe || t.unsafe
		fmt.Fprintf(&b, "func %s(%s) %s {\n\treturn %s\n}\n", f.Name, strings.Join(sig, ", "), t.Go, t.toGo(call))
	}
	if unsafe {
		g.needUnsafe = true
	}
	return b.String(), nil
}

func (g *generator) variable(v Var) error {
	if v.Value == "" {
		if v.Scoped {
			return fmt.Errorf("declared in a C++ scope")
		}
		t, err := g.mapType(v.Type)
		if err != nil {
			return err
		}
		if t.unsafe {
			g.needUnsafe = true
		}
		g.vars = append(g.vars, fmt.Sprintf("%s = %s", v.Name, t.toGo("C."+v.Name)))
		return nil
	}
	ct, err := parseCType(v.Type)
	if err == nil && ct.kind == kindBuiltin && builtins[ct.name].goType != "" {
		g.consts = append(g.consts, fmt.Sprintf("%s %s = %s", v.Name, builtins[ct.name].goType, v.Value))
		return nil
	}
	if err == nil && ct.kind == kindNamed {
		if t, err := g.mapCType(ct); err == nil && !t.unsafe {
			g.consts = append(g.consts, fmt.Sprintf("%s %s = %s", v.Name, t.Go, v.Value))
			return nil
		}
	}
	g.consts = append(g.consts, fmt.Sprintf("%s = %s", v.Name, v.Value))
	return nil
}

// enumGoType picks the Go integer type of e.
func enumGoType(e Enum) string {
	if e.Underlying != "" {
		if ct, err := parseCType(e.Underlying); err == nil && ct.kind == kindBuiltin {
			if t := builtins[ct.name].goType; t != "" && t != "bool" && !strings.HasPrefix(t, "float") {
				return t
			}
		}
	}
	var lo, hi int64
	for _, c := range e.Constants {
		if c.Unsigned {
			return "uint64"
		}
		lo, hi = min(lo, c.Value), max(hi, c.Value)
	}
	switch {
	case lo < 0 && (lo < math.MinInt32 || hi > math.MaxInt32):
		return "int64"
	case lo < 0:
		return "int32"
	case hi > math.MaxUint32:
		return "uint64"
	}
	return "uint32"
}

func isUnsigned(goType string) bool {
	return strings.HasPrefix(goType, "uint")
}

func enumValue(c EnumConstant, goType string) string {
	if !isUnsigned(goType) {
		return strconv.FormatInt(c.Value, 10)
	}
	v := uint64(c.Value)
	switch goType {
	case "uint8":
		v &= math.MaxUint8
	case "uint16":
		v &= math.MaxUint16
	case "uint32":
		v &= math.MaxUint32
	}
	return strconv.FormatUint(v, 10)
}

func (g *generator) emitEnum(b *bytes.Buffer, e Enum, mapped bool) {
	typ := enumGoType(e)
	if mapped {
		fmt.Fprintf(b, "type %s %s\n\n", e.Name, typ)
	} else {
		fmt.Fprintf(b, "type %s = %s\n\n", e.Name, typ)
	}
	if len(e.Constants) > 0 {
		b.WriteString("const (\n")
		for _, c := range e.Constants {
			fmt.Fprintf(b, "\t%s_%s %s = %s\n", e.Name, c.Name, e.Name, enumValue(c, typ))
		}
		b.WriteString(")\n\n")
	}
	if !mapped {
		return
	}
	g.needStrconv = true
	fmt.Fprintf(b, "func (e %s) String() string {\n", e.Name)
	if len(e.Constants) > 0 {
		b.WriteString("\tswitch e {\n")
		seen := map[string]bool{}
		for _, c := range e.Constants {
			v := enumValue(c, typ)
			if seen[v] {
				continue
			}
			seen[v] = true
			fmt.Fprintf(b, "\tcase %s_%s:\n\t\treturn %q\n", e.Name, c.Name, c.Name)
		}
		b.WriteString("\t}\n")
	}
	if isUnsigned(typ) {
		fmt.Fprintf(b, "\treturn %q + strconv.FormatUint(uint64(e), 10) + \")\"\n}\n\n", e.Name+"(")
	} else {
		fmt.Fprintf(b, "\treturn %q + strconv.FormatInt(int64(e), 10) + \")\"\n}\n\n", e.Name+"(")
	}
}

func (g *generator) emit() []byte {
	var body bytes.Buffer

	aliases := sortedKeys(g.aliases)
	if len(aliases) > 0 {
		body.WriteString("type (\n")
		for _, name := range aliases {
			fmt.Fprintf(&body, "\t%s = %s\n", name, g.aliases[name])
		}
		body.WriteString(")\n\n")
	}
	for _, name := range sortedKeys(g.enumUse) {
		g.emitEnum(&body, g.enums[name], g.enumUse[name])
	}
	if len(g.consts) > 0 {
		sort.Strings(g.consts)
		body.WriteString("const (\n")
		for _, c := range g.consts {
			body.WriteString("\t" + c + "\n")
		}
		body.WriteString(")\n\n")
	}
	if len(g.vars) > 0 {
		sort.Strings(g.vars)
		body.WriteString("var (\n")
		for _, v := range g.vars {
			body.WriteString("\t" + v + "\n")
		}
		body.WriteString(")\n\n")
	}
	sort.Strings(g.functions)
	for _, f := range g.functions {
		body.WriteString(f)
		body.WriteString("\n")
	}
	if len(g.skipped) > 0 {
		sort.Slice(g.skipped, func(i, j int) bool { return g.skipped[i].name < g.skipped[j].name })
		body.WriteString("// Declarations without a Go binding:\n")
		for _, s := range g.skipped {
			fmt.Fprintf(&body, "//\t%s: %s\n", s.name, s.reason)
		}
	}

	var b bytes.Buffer
	b.WriteString("// Code generated by skiabind. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", g.opts.Package)
	b.WriteString("/*\n")
	if len(g.opts.CFlags) > 0 {
		fmt.Fprintf(&b, "#cgo CFLAGS: %s\n", strings.Join(g.opts.CFlags, " "))
	}
	fmt.Fprintf(&b, "#include %q\n", g.opts.Header)
	b.WriteString("*/\nimport \"C\"\n\n")
	var imps []string
	if g.needStrconv {
		imps = append(imps, "strconv")
	}
	if g.needUnsafe {
		imps = append(imps, "unsafe")
	}
	if len(imps) > 0 {
		b.WriteString("import (\n")
		for _, p := range imps {
			fmt.Fprintf(&b, "\t%q\n", p)
		}
		b.WriteString(")\n\n")
	}
	b.Write(body.Bytes())
	return b.Bytes()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
