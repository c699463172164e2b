package bindgen

// Unit is the set of declarations parsed from a header, in source order.
type Unit struct {
	Functions []Function
	Records   []Record
	Typedefs  []Typedef
	Enums     []Enum
	Vars      []Var
	Macros    []Macro
}

// Function is a function declaration. Types are C type spellings.
type Function struct {
	Name     string
	Result   string
	Params   []Param
	Variadic bool
	// Scoped is set for functions declared inside a namespace or class,
	// which C code cannot call.
	Scoped bool
}

type Param struct {
	Name string
	Type string
}

// Record is a struct, union or class.
type Record struct {
	// Name is the declared name; nested records are named Outer_Inner.
	Name string
	Tag  string
	// Typedef is set when a typedef of the same name exists, so C code
	// refers to the record without its tag.
	Typedef  bool
	Complete bool
	Scoped   bool
}

// Typedef is a typedef whose target is not an anonymous enum or record;
// those are folded into the Enum or Record they name.
type Typedef struct {
	Name       string
	Underlying string
	Scoped     bool
}

type Enum struct {
	// Name is the declared name; nested enums are named Outer_Inner.
	Name       string
	Underlying string
	Typedef    bool
	Scoped     bool
	Constants  []EnumConstant
}

type EnumConstant struct {
	Name  string
	Value int64
	// Unsigned is set when Value holds a uint64 bit pattern.
	Unsigned bool
}

// Var is a variable declaration. Value is the Go literal of its
// initializer when it could be evaluated.
type Var struct {
	Name   string
	Type   string
	Value  string
	Scoped bool
}

// Macro is an object-like preprocessor macro with a literal body.
type Macro struct {
	Name  string
	Value string
}
