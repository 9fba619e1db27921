package ir

// Signature is a function type: return type plus ordered parameter
// types. Before param/return reconstruction runs every function is
// void().
type Signature struct {
	Ret      Type
	Params   []Type
	Variadic bool
}

func (s Signature) Equal(o Signature) bool {
	if !s.Ret.Equal(o.Ret) || s.Variadic != o.Variadic || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if !s.Params[i].Equal(o.Params[i]) {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	out := s.Ret.String() + "("
	for i, p := range s.Params {
		if i > 0 {
			out += ", "
		}
		out += p.String()
	}
	if s.Variadic {
		if len(s.Params) > 0 {
			out += ", "
		}
		out += "..."
	}
	return out + ")"
}

// Block is an ordered run of instructions with a single terminator at
// the end. Predecessors are derived from terminators, not stored.
type Block struct {
	ID     BlockID
	Func   FuncID
	Name   string
	Instrs []InstrID

	// TranslationError marks a block the lifter could not translate;
	// analyses must skip it.
	TranslationError bool
}

// Function is an ordered list of blocks; Blocks[0] is the entry.
// StackOffsets is side data from the upstream frame analysis: for a
// local allocation, its byte offset from the frame base (negative =
// local, caller-area sign is architecture dependent).
type Function struct {
	ID     FuncID
	Name   string
	Sig    Signature
	Blocks []BlockID

	StackOffsets map[InstrID]int64

	params []ValueID
}

// Entry returns the entry block, or NoBlock for a declaration.
func (f *Function) Entry() BlockID {
	if len(f.Blocks) == 0 {
		return NoBlock
	}
	return f.Blocks[0]
}

// IsDecl reports whether the function has no body.
func (f *Function) IsDecl() bool {
	return len(f.Blocks) == 0
}

// Param returns the value of the i-th formal parameter. Parameter
// values exist only after SetSig introduced a non-empty signature.
func (f *Function) Param(i int) ValueID {
	return f.params[i]
}

// StackOffset returns the frame offset recorded for an allocation.
func (f *Function) StackOffset(id InstrID) (int64, bool) {
	off, ok := f.StackOffsets[id]
	return off, ok
}
