package ir

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Builder appends (or inserts) instructions into one block. The zero
// insertion point is "append at end"; SetInsertBefore moves it.
//
// Constructing a terminator in a block that already has one, or a
// store whose value type mismatches the destination element type, is
// a programmer error and panics.
type Builder struct {
	m     *Module
	block BlockID
	pos   int // -1 = append
}

// NewBuilder returns a builder appending at the end of b.
func (m *Module) NewBuilder(b BlockID) *Builder {
	return &Builder{m: m, block: b, pos: -1}
}

// SetInsertBefore positions the builder immediately before id, which
// must belong to the builder's block.
func (b *Builder) SetInsertBefore(id InstrID) {
	blk := b.m.blocks[b.block]
	i := slices.Index(blk.Instrs, id)
	if i < 0 {
		panic("ir: insertion point not in builder block")
	}
	b.pos = i
}

// Block returns the block the builder inserts into.
func (b *Builder) Block() BlockID { return b.block }

func (b *Builder) insert(in *Instr) *Instr {
	m := b.m
	blk := m.blocks[b.block]
	if term := m.Terminator(b.block); term != nil {
		appending := b.pos < 0 || b.pos >= len(blk.Instrs)
		if appending {
			panic(fmt.Sprintf("ir: block %s already terminated by %s", blk.Name, term.Op))
		}
	}
	for _, tgt := range in.Targets {
		if m.blocks[tgt].Func != blk.Func {
			panic("ir: branch target in a different function")
		}
	}
	in.ID = InstrID(len(m.instrs))
	in.Block = b.block
	m.instrs = append(m.instrs, in)
	if in.result == 0 { // not set explicitly
		in.result = NoValue
	}
	if b.pos < 0 || b.pos >= len(blk.Instrs) {
		blk.Instrs = append(blk.Instrs, in.ID)
	} else {
		blk.Instrs = slices.Insert(blk.Instrs, b.pos, in.ID)
		b.pos++
	}
	m.addUses(in)
	m.mutated()
	return in
}

func (b *Builder) insertWithResult(in *Instr, t Type) ValueID {
	in.result = NoValue
	ins := b.insert(in)
	ins.result = b.m.newValue(&Value{Kind: InstrValue, Type: t, Instr: ins.ID})
	return ins.result
}

// Alloca allocates a stack slot of element type t; the result is the
// slot address.
func (b *Builder) Alloca(t Type) ValueID {
	return b.insertWithResult(&Instr{Op: OpAlloca, Type: t}, PtrTo(t))
}

// Load reads t from addr.
func (b *Builder) Load(addr ValueID, t Type) ValueID {
	return b.insertWithResult(&Instr{Op: OpLoad, Type: t, Args: []ValueID{addr}}, t)
}

// Store writes v to addr. The value type must match the destination
// element type.
func (b *Builder) Store(v, addr ValueID) InstrID {
	vt := b.m.TypeOf(v)
	at := b.m.TypeOf(addr)
	if at.IsPtr() && !at.Pointee().IsVoid() && !vt.Equal(at.Pointee()) {
		panic(fmt.Sprintf("ir: store type mismatch: %s into %s", vt, at))
	}
	in := &Instr{Op: OpStore, Type: vt, Args: []ValueID{v, addr}, result: NoValue}
	return b.insert(in).ID
}

// Bitcast retypes v to t. Between integer types of different widths
// it truncates (narrowing) or zero-extends (widening).
func (b *Builder) Bitcast(v ValueID, t Type) ValueID {
	return b.insertWithResult(&Instr{Op: OpBitcast, Type: t, Args: []ValueID{v}}, t)
}

// Bin emits a width-parametric binary operation; the result type is
// the first operand's type.
func (b *Builder) Bin(op Opcode, x, y ValueID) ValueID {
	if !op.IsBinary() {
		panic("ir: Bin with non-binary opcode " + op.String())
	}
	t := b.m.TypeOf(x)
	return b.insertWithResult(&Instr{Op: op, Type: t, Args: []ValueID{x, y}}, t)
}

// Neg emits two's-complement negation.
func (b *Builder) Neg(x ValueID) ValueID {
	t := b.m.TypeOf(x)
	return b.insertWithResult(&Instr{Op: OpNeg, Type: t, Args: []ValueID{x}}, t)
}

// Not emits bitwise complement.
func (b *Builder) Not(x ValueID) ValueID {
	t := b.m.TypeOf(x)
	return b.insertWithResult(&Instr{Op: OpNot, Type: t, Args: []ValueID{x}}, t)
}

// ICmp compares a and b, producing i1.
func (b *Builder) ICmp(p Pred, x, y ValueID) ValueID {
	return b.insertWithResult(&Instr{Op: OpICmp, Type: b.m.TypeOf(x), Pred: p, Args: []ValueID{x, y}}, I1)
}

// Select picks x when cond is 1, else y.
func (b *Builder) Select(cond, x, y ValueID) ValueID {
	t := b.m.TypeOf(x)
	return b.insertWithResult(&Instr{Op: OpSelect, Type: t, Args: []ValueID{cond, x, y}}, t)
}

// Call emits a call of target with the given return type and
// arguments. For a void return the result is NoValue.
func (b *Builder) Call(target ValueID, ret Type, args ...ValueID) (ValueID, InstrID) {
	in := &Instr{Op: OpCall, Type: ret, Args: append([]ValueID{target}, args...)}
	if ret.IsVoid() {
		in.result = NoValue
		return NoValue, b.insert(in).ID
	}
	res := b.insertWithResult(in, ret)
	return res, b.m.values[res].Instr
}

// Ret returns v, or returns void when v is NoValue.
func (b *Builder) Ret(v ValueID) InstrID {
	in := &Instr{Op: OpRet, result: NoValue}
	if v != NoValue {
		in.Args = []ValueID{v}
		in.Type = b.m.TypeOf(v)
	}
	return b.insert(in).ID
}

// Br branches unconditionally to dst.
func (b *Builder) Br(dst BlockID) InstrID {
	in := &Instr{Op: OpBr, Targets: []BlockID{dst}, result: NoValue}
	return b.insert(in).ID
}

// CondBr branches to t when cond is 1, else to f.
func (b *Builder) CondBr(cond ValueID, t, f BlockID) InstrID {
	in := &Instr{Op: OpCondBr, Args: []ValueID{cond}, Targets: []BlockID{t, f}, result: NoValue}
	return b.insert(in).ID
}
