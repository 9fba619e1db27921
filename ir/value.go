package ir

import "github.com/holiman/uint256"

// ValueKind discriminates what a ValueID refers to.
type ValueKind uint8

const (
	ConstValue  ValueKind = iota // integer constant with width
	GlobalValue                  // address of a global location
	InstrValue                   // result of an instruction
	ParamValue                   // formal parameter of a function
	FuncValue                    // reference to a function
)

// Value is one node in the module value arena.
type Value struct {
	Kind   ValueKind
	Type   Type
	Const  uint256.Int // ConstValue payload, truncated to Type.Bits
	Instr  InstrID     // InstrValue
	Global GlobalID    // GlobalValue
	Func   FuncID      // FuncValue, or owner of ParamValue
	Param  int         // ParamValue index
}

// GlobalRole is the semantic role the ABI assigns to a global
// location.
type GlobalRole uint8

const (
	RoleNone GlobalRole = iota
	RoleRegister
	RoleFlag
	RoleStackPointer
)

// Global is a module-level memory location. For lifted code these are
// the machine registers and flags; Reg carries the architecture
// register id assigned by the ABI (0 when none).
type Global struct {
	ID   GlobalID
	Name string
	Type Type // element type; address values have type Type*
	Role GlobalRole
	Reg  uint

	// Str is the initializer of a string-data global, when the
	// upstream image loader supplied one (format-string recovery
	// reads it).
	Str string

	addr ValueID
}

// Addr returns the address value of the global (type Type*).
func (g *Global) Addr() ValueID {
	return g.addr
}
