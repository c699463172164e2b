package bindgen

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/goplus/skiabind/internal/logutil"
)

// ErrParse is returned when the header cannot be parsed.
var ErrParse = errors.New("header parse failed")

// Parser turns a header into declarations. args carries the same language,
// define and include flags the shim is compiled with.
type Parser interface {
	Parse(ctx context.Context, header string, args []string) (*Unit, error)
}

// ClangParser parses headers with clang's JSON AST dump.
type ClangParser struct {
	// Clang is the clang binary, "clang" by default.
	Clang string
}

// Parse implements Parser.
func (p *ClangParser) Parse(ctx context.Context, header string, args []string) (*Unit, error) {
	clang := p.Clang
	if clang == "" {
		clang = "clang"
	}
	base := append([]string{"-x", "c++"}, args...)

	ast, err := output(ctx, clang, append(append(base[:len(base):len(base)], "-fsyntax-only", "-Xclang", "-ast-dump=json"), header))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, header, err)
	}
	u, err := decodeAST(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, header, err)
	}
	macros, err := output(ctx, clang, append(append(base[:len(base):len(base)], "-E", "-dM"), header))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, header, err)
	}
	u.Macros = parseMacros(macros)
	return u, nil
}

func output(ctx context.Context, bin string, args []string) ([]byte, error) {
	logutil.Trace("exec", "bin", bin, "args", strings.Join(args, " "))
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w\n%s", bin, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", bin, err)
	}
	return out, nil
}

// node is the subset of clang's JSON AST node used here.
type node struct {
	ID                  string          `json:"id"`
	Kind                string          `json:"kind"`
	Name                string          `json:"name"`
	IsImplicit          bool            `json:"isImplicit"`
	Type                *qualType       `json:"type"`
	TagUsed             string          `json:"tagUsed"`
	CompleteDefinition  bool            `json:"completeDefinition"`
	Variadic            bool            `json:"variadic"`
	FixedUnderlyingType *qualType       `json:"fixedUnderlyingType"`
	Value               json.RawMessage `json:"value"`
	Opcode              string          `json:"opcode"`
	Init                string          `json:"init"`
	Decl                *declRef        `json:"decl"`
	OwnedTagDecl        *declRef        `json:"ownedTagDecl"`
	ReferencedDecl      *declRef        `json:"referencedDecl"`
	Inner               []node          `json:"inner"`
}

type qualType struct {
	QualType string `json:"qualType"`
}

type declRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func (n *node) qualType() string {
	if n.Type == nil {
		return ""
	}
	return n.Type.QualType
}

// decodeAST builds a Unit from the output of clang -ast-dump=json.
func decodeAST(data []byte) (*Unit, error) {
	var root node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind != "TranslationUnitDecl" {
		return nil, fmt.Errorf("unexpected AST root %q", root.Kind)
	}
	w := &walker{
		u:        &Unit{},
		anonEnum: map[string]int{},
		anonRec:  map[string]int{},
		records:  map[string]int{},
		enums:    map[string]int{},
		consts:   map[string]int64{},
	}
	w.decls(root.Inner, "", false)
	w.finish()
	return w.u, nil
}

type walker struct {
	u *Unit

	// anonymous declarations waiting for a typedef to name them, by node id
	anonEnum map[string]int
	anonRec  map[string]int

	records map[string]int
	enums   map[string]int
	consts  map[string]int64
}

func scopedName(outer, name string) string {
	if outer == "" {
		return name
	}
	return outer + "_" + name
}

func (w *walker) decls(nodes []node, outer string, scoped bool) {
	for i := range nodes {
		n := &nodes[i]
		if n.IsImplicit {
			continue
		}
		var prev *node
		if i > 0 {
			prev = &nodes[i-1]
		}
		switch n.Kind {
		case "LinkageSpecDecl":
			w.decls(n.Inner, outer, scoped)
		case "NamespaceDecl":
			w.decls(n.Inner, outer, true)
		case "FunctionDecl":
			if outer != "" {
				continue
			}
			w.function(n, scoped)
		case "RecordDecl", "CXXRecordDecl":
			w.record(n, outer, scoped)
		case "EnumDecl":
			w.enum(n, outer, scoped)
		case "TypedefDecl", "TypeAliasDecl":
			w.typedef(n, prev, outer, scoped)
		case "VarDecl":
			if outer != "" {
				continue
			}
			v := Var{Name: n.Name, Type: n.qualType(), Scoped: scoped}
			if n.Init != "" && len(n.Inner) > 0 {
				v.Value, _ = w.constValue(&n.Inner[0])
			}
			w.u.Vars = append(w.u.Vars, v)
		}
	}
}

func (w *walker) function(n *node, scoped bool) {
	f := Function{
		Name:     n.Name,
		Result:   resultType(n.qualType()),
		Variadic: n.Variadic,
		Scoped:   scoped,
	}
	for i := range n.Inner {
		if p := &n.Inner[i]; p.Kind == "ParmVarDecl" {
			f.Params = append(f.Params, Param{Name: p.Name, Type: p.qualType()})
		}
	}
	w.u.Functions = append(w.u.Functions, f)
}

// resultType extracts the result type from a function type spelling such
// as "int (const char *, int)".
func resultType(fn string) string {
	fn = strings.TrimSpace(fn)
	for _, suffix := range []string{" noexcept", " throw()"} {
		fn = strings.TrimSuffix(fn, suffix)
	}
	if !strings.HasSuffix(fn, ")") {
		return fn
	}
	depth := 0
	for i := len(fn) - 1; i >= 0; i-- {
		switch fn[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return strings.TrimSpace(fn[:i])
			}
		}
	}
	return fn
}

func (w *walker) record(n *node, outer string, scoped bool) {
	if n.Name == "" {
		w.u.Records = append(w.u.Records, Record{Tag: n.TagUsed, Complete: n.CompleteDefinition, Scoped: scoped})
		w.anonRec[n.ID] = len(w.u.Records) - 1
		return
	}
	name := scopedName(outer, n.Name)
	if i, ok := w.records[name]; ok {
		w.u.Records[i].Complete = w.u.Records[i].Complete || n.CompleteDefinition
	} else {
		w.u.Records = append(w.u.Records, Record{
			Name:     name,
			Tag:      n.TagUsed,
			Complete: n.CompleteDefinition,
			Scoped:   scoped || outer != "",
		})
		w.records[name] = len(w.u.Records) - 1
	}
	w.decls(n.Inner, name, true)
}

func (w *walker) enum(n *node, outer string, scoped bool) {
	e := Enum{Scoped: scoped || outer != ""}
	if n.FixedUnderlyingType != nil {
		e.Underlying = n.FixedUnderlyingType.QualType
	}
	var next int64
	var unsigned bool
	for i := range n.Inner {
		c := &n.Inner[i]
		if c.Kind != "EnumConstantDecl" {
			continue
		}
		if len(c.Inner) > 0 {
			if v, u, ok := w.evalInt(&c.Inner[0]); ok {
				next, unsigned = v, u
			}
		}
		e.Constants = append(e.Constants, EnumConstant{Name: c.Name, Value: next, Unsigned: unsigned})
		w.consts[c.Name] = next
		next++
	}
	if n.Name == "" {
		w.u.Enums = append(w.u.Enums, e)
		w.anonEnum[n.ID] = len(w.u.Enums) - 1
		return
	}
	e.Name = scopedName(outer, n.Name)
	if _, ok := w.enums[e.Name]; ok {
		return
	}
	w.u.Enums = append(w.u.Enums, e)
	w.enums[e.Name] = len(w.u.Enums) - 1
}

func (w *walker) typedef(n, prev *node, outer string, scoped bool) {
	name := scopedName(outer, n.Name)
	scoped = scoped || outer != ""
	// an anonymous enum or record is named by the typedef that follows it
	if prev != nil && prev.Name == "" && refersTo(n, prev.ID) {
		if i, ok := w.anonEnum[prev.ID]; ok {
			w.u.Enums[i].Name = name
			w.u.Enums[i].Typedef = true
			w.enums[name] = i
			delete(w.anonEnum, prev.ID)
			return
		}
		if i, ok := w.anonRec[prev.ID]; ok {
			w.u.Records[i].Name = name
			w.u.Records[i].Typedef = true
			w.records[name] = i
			delete(w.anonRec, prev.ID)
			return
		}
	}
	target := trimTag(n.qualType())
	if target == name {
		if i, ok := w.enums[name]; ok {
			w.u.Enums[i].Typedef = true
			return
		}
		if i, ok := w.records[name]; ok {
			w.u.Records[i].Typedef = true
			return
		}
	}
	w.u.Typedefs = append(w.u.Typedefs, Typedef{Name: name, Underlying: n.qualType(), Scoped: scoped})
}

// finish drops anonymous declarations no typedef named.
func (w *walker) finish() {
	enums := w.u.Enums[:0]
	for _, e := range w.u.Enums {
		if e.Name != "" {
			enums = append(enums, e)
		}
	}
	w.u.Enums = enums
	records := w.u.Records[:0]
	for _, r := range w.u.Records {
		if r.Name != "" {
			records = append(records, r)
		}
	}
	w.u.Records = records
}

func refersTo(n *node, id string) bool {
	if n.OwnedTagDecl != nil && n.OwnedTagDecl.ID == id {
		return true
	}
	if n.Decl != nil && n.Decl.ID == id {
		return true
	}
	for i := range n.Inner {
		if refersTo(&n.Inner[i], id) {
			return true
		}
	}
	return false
}

func trimTag(s string) string {
	for _, tag := range []string{"struct ", "union ", "enum ", "class "} {
		if strings.HasPrefix(s, tag) {
			return strings.TrimPrefix(s, tag)
		}
	}
	return s
}

// rawValue returns the value attribute of n as text.
func rawValue(n *node) string {
	v := bytes.TrimSpace(n.Value)
	if len(v) > 0 && v[0] == '"' {
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s
		}
	}
	return string(v)
}

// evalInt evaluates an integer constant expression. Unsigned reports that
// the result only fits a uint64.
func (w *walker) evalInt(n *node) (v int64, unsigned, ok bool) {
	if n.Kind == "ConstantExpr" && len(n.Value) > 0 {
		return parseInt(rawValue(n))
	}
	switch n.Kind {
	case "IntegerLiteral", "CharacterLiteral":
		return parseInt(rawValue(n))
	case "CXXBoolLiteralExpr":
		if rawValue(n) == "true" {
			return 1, false, true
		}
		return 0, false, true
	case "ConstantExpr", "ImplicitCastExpr", "CStyleCastExpr", "ParenExpr",
		"CXXFunctionalCastExpr", "CXXStaticCastExpr", "ExprWithCleanups":
		if len(n.Inner) == 0 {
			return 0, false, false
		}
		return w.evalInt(&n.Inner[0])
	case "DeclRefExpr":
		if r := n.ReferencedDecl; r != nil && r.Kind == "EnumConstantDecl" {
			v, ok := w.consts[r.Name]
			return v, false, ok
		}
	case "UnaryOperator":
		if len(n.Inner) != 1 {
			return 0, false, false
		}
		x, u, ok := w.evalInt(&n.Inner[0])
		if !ok {
			return 0, false, false
		}
		switch n.Opcode {
		case "-":
			return -x, false, true
		case "+":
			return x, u, true
		case "~":
			return ^x, u, true
		}
	case "BinaryOperator":
		if len(n.Inner) != 2 {
			return 0, false, false
		}
		x, ux, ok1 := w.evalInt(&n.Inner[0])
		y, uy, ok2 := w.evalInt(&n.Inner[1])
		if !ok1 || !ok2 {
			return 0, false, false
		}
		u := ux || uy
		switch n.Opcode {
		case "+":
			return x + y, u, true
		case "-":
			return x - y, u, true
		case "*":
			return x * y, u, true
		case "/":
			if y != 0 {
				return x / y, u, true
			}
		case "%":
			if y != 0 {
				return x % y, u, true
			}
		case "<<":
			return x << uint64(y), u, true
		case ">>":
			return x >> uint64(y), u, true
		case "|":
			return x | y, u, true
		case "&":
			return x & y, u, true
		case "^":
			return x ^ y, u, true
		}
	}
	return 0, false, false
}

// constValue returns the Go literal of a constant initializer.
func (w *walker) constValue(n *node) (string, bool) {
	if v, u, ok := w.evalInt(n); ok {
		if u {
			return strconv.FormatUint(uint64(v), 10), true
		}
		return strconv.FormatInt(v, 10), true
	}
	switch n.Kind {
	case "FloatingLiteral":
		return rawValue(n), true
	case "ImplicitCastExpr", "CStyleCastExpr", "ParenExpr", "ConstantExpr", "ExprWithCleanups":
		if len(n.Inner) == 1 {
			return w.constValue(&n.Inner[0])
		}
	case "UnaryOperator":
		if n.Opcode == "-" && len(n.Inner) == 1 {
			if v, ok := w.constValue(&n.Inner[0]); ok && !strings.HasPrefix(v, "-") {
				return "-" + v, true
			}
		}
	}
	return "", false
}

func parseInt(s string) (int64, bool, bool) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, false, true
	}
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return int64(v), true, true
	}
	return 0, false, false
}

// parseMacros reads the output of clang -E -dM and keeps object-like macros
// whose body is a single literal.
func parseMacros(data []byte) []Macro {
	var macros []Macro
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		rest, ok := strings.CutPrefix(sc.Text(), "#define ")
		if !ok {
			continue
		}
		name, body, _ := strings.Cut(rest, " ")
		if name == "" || strings.Contains(name, "(") {
			continue
		}
		if lit, ok := macroLiteral(body); ok {
			macros = append(macros, Macro{Name: name, Value: lit})
		}
	}
	return macros
}

// macroLiteral converts a C literal to Go, dropping integer and float
// suffixes and redundant parentheses.
func macroLiteral(body string) (string, bool) {
	s := strings.TrimSpace(body)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "" {
		return "", false
	}
	switch s[0] {
	case '"':
		if _, err := strconv.Unquote(s); err == nil {
			return s, true
		}
		return "", false
	case '\'':
		if _, err := strconv.Unquote(s); err == nil {
			return s, true
		}
		return "", false
	}
	neg := ""
	if s[0] == '-' {
		neg, s = "-", strings.TrimSpace(s[1:])
	}
	num := strings.TrimRight(s, "uUlL")
	if _, _, ok := parseInt(num); ok {
		return neg + num, true
	}
	if !strings.HasPrefix(num, "0x") && !strings.HasPrefix(num, "0X") && strings.ContainsAny(s, ".eE") {
		f := strings.TrimRight(s, "fFlL")
		if _, err := strconv.ParseFloat(f, 64); err == nil {
			return neg + f, true
		}
	}
	return "", false
}
