package ir

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
	"golang.org/x/exp/slices"
)

// Module owns the arenas for all IR nodes of one translation unit.
// Handles returned from builders index into these arenas; a handle is
// only meaningful for the module that produced it.
//
// The module is exclusively owned by the running pass (no internal
// locking); independent modules may be processed in parallel.
type Module struct {
	Name string

	funcs   []*Function
	blocks  []*Block
	instrs  []*Instr
	values  []*Value
	globals []*Global

	funcsByName   map[string]FuncID
	globalsByName map[string]GlobalID

	uses map[ValueID]mapset.Set[InstrID]

	version uint64
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:          name,
		funcsByName:   make(map[string]FuncID),
		globalsByName: make(map[string]GlobalID),
		uses:          make(map[ValueID]mapset.Set[InstrID]),
	}
}

// Version is a counter bumped on every mutation. Analyses cache their
// results keyed by it.
func (m *Module) Version() uint64 { return m.version }

func (m *Module) mutated() { m.version++ }

//
// Node accessors.
//

func (m *Module) Func(id FuncID) *Function   { return m.funcs[id] }
func (m *Module) Block(id BlockID) *Block    { return m.blocks[id] }
func (m *Module) Instr(id InstrID) *Instr    { return m.instrs[id] }
func (m *Module) Value(id ValueID) *Value    { return m.values[id] }
func (m *Module) Global(id GlobalID) *Global { return m.globals[id] }

// Funcs returns the functions in creation order.
func (m *Module) Funcs() []*Function { return m.funcs }

// Globals returns the global locations in creation order.
func (m *Module) Globals() []*Global { return m.globals }

// FuncByName looks a function up by name.
func (m *Module) FuncByName(name string) *Function {
	if id, ok := m.funcsByName[name]; ok {
		return m.funcs[id]
	}
	return nil
}

// GlobalByName looks a global location up by name.
func (m *Module) GlobalByName(name string) *Global {
	if id, ok := m.globalsByName[name]; ok {
		return m.globals[id]
	}
	return nil
}

// TypeOf returns the type of any value.
func (m *Module) TypeOf(v ValueID) Type {
	return m.values[v].Type
}

//
// Node creation.
//

// NewFunc creates an empty void() function.
func (m *Module) NewFunc(name string) *Function {
	if _, ok := m.funcsByName[name]; ok {
		panic(fmt.Sprintf("ir: duplicate function %q", name))
	}
	f := &Function{
		ID:           FuncID(len(m.funcs)),
		Name:         name,
		Sig:          Signature{Ret: Void},
		StackOffsets: make(map[InstrID]int64),
	}
	m.funcs = append(m.funcs, f)
	m.funcsByName[name] = f.ID
	m.mutated()
	return f
}

// NewBlock appends a new empty block to f.
func (m *Module) NewBlock(f *Function, name string) BlockID {
	b := &Block{
		ID:   BlockID(len(m.blocks)),
		Func: f.ID,
		Name: name,
	}
	m.blocks = append(m.blocks, b)
	f.Blocks = append(f.Blocks, b.ID)
	m.mutated()
	return b.ID
}

// AddGlobal registers a global location. Duplicate names are a
// programmer error.
func (m *Module) AddGlobal(name string, t Type, role GlobalRole, reg uint) *Global {
	if _, ok := m.globalsByName[name]; ok {
		panic(fmt.Sprintf("ir: duplicate global %q", name))
	}
	g := &Global{
		ID:   GlobalID(len(m.globals)),
		Name: name,
		Type: t,
		Role: role,
		Reg:  reg,
	}
	g.addr = m.newValue(&Value{Kind: GlobalValue, Type: PtrTo(t), Global: g.ID})
	m.globals = append(m.globals, g)
	m.globalsByName[name] = g.ID
	m.mutated()
	return g
}

// ConstInt returns a constant of integer type t. The payload is
// truncated to the type width.
func (m *Module) ConstInt(t Type, c *uint256.Int) ValueID {
	if !t.IsInt() {
		panic("ir: ConstInt with non-integer type " + t.String())
	}
	v := &Value{Kind: ConstValue, Type: t}
	v.Const.Set(c)
	truncConst(&v.Const, t.Bits)
	return m.newValue(v)
}

// ConstU64 returns a constant of integer type t from a uint64.
func (m *Module) ConstU64(t Type, c uint64) ValueID {
	return m.ConstInt(t, uint256.NewInt(c))
}

// ConstI64 returns a constant of integer type t from a signed value,
// two's complement truncated to the type width.
func (m *Module) ConstI64(t Type, c int64) ValueID {
	u := new(uint256.Int)
	if c < 0 {
		u.SetUint64(uint64(-c))
		u.Neg(u)
	} else {
		u.SetUint64(uint64(c))
	}
	return m.ConstInt(t, u)
}

// FuncRef returns a reference value for calling f.
func (m *Module) FuncRef(f *Function) ValueID {
	return m.newValue(&Value{Kind: FuncValue, Type: PtrTo(Void), Func: f.ID})
}

// SetSig installs a signature on f and materializes its parameter
// values. Call sites are not touched; keeping them in sync is the
// caller's job.
func (m *Module) SetSig(f *Function, sig Signature) {
	f.Sig = sig
	f.params = f.params[:0]
	for i, pt := range sig.Params {
		f.params = append(f.params, m.newValue(&Value{
			Kind: ParamValue, Type: pt, Func: f.ID, Param: i,
		}))
	}
	m.mutated()
}

func (m *Module) newValue(v *Value) ValueID {
	id := ValueID(len(m.values))
	m.values = append(m.values, v)
	return id
}

func truncConst(c *uint256.Int, bits uint16) {
	if bits >= 256 {
		return
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bits))
	mask.SubUint64(mask, 1)
	c.And(c, mask)
}

//
// Uses.
//

// UsesOf returns the instructions using v, in ascending instruction
// order for determinism.
func (m *Module) UsesOf(v ValueID) []InstrID {
	set, ok := m.uses[v]
	if !ok {
		return nil
	}
	out := set.ToSlice()
	slices.Sort(out)
	return out
}

func (m *Module) addUses(in *Instr) {
	for _, a := range in.Args {
		if a == NoValue {
			continue
		}
		set, ok := m.uses[a]
		if !ok {
			set = mapset.NewThreadUnsafeSet[InstrID]()
			m.uses[a] = set
		}
		set.Add(in.ID)
	}
}

func (m *Module) dropUses(in *Instr) {
	for _, a := range in.Args {
		if a == NoValue {
			continue
		}
		if set, ok := m.uses[a]; ok {
			set.Remove(in.ID)
		}
	}
}

// ReplaceAllUses rewires every use of old to new. The caller is
// responsible for the dominance invariant: new must be defined at or
// above every rewired use.
func (m *Module) ReplaceAllUses(old, new ValueID) {
	set, ok := m.uses[old]
	if !ok {
		return
	}
	users := set.ToSlice()
	slices.Sort(users)
	for _, id := range users {
		in := m.instrs[id]
		for i, a := range in.Args {
			if a == old {
				in.Args[i] = new
			}
		}
		m.addUses(in)
	}
	set.Clear()
	m.mutated()
}

// ReplaceArg swaps one operand of an instruction, keeping the use
// sets in sync.
func (m *Module) ReplaceArg(id InstrID, idx int, v ValueID) {
	in := m.instrs[id]
	old := in.Args[idx]
	if old == v {
		return
	}
	in.Args[idx] = v
	if set, ok := m.uses[old]; ok {
		still := false
		for _, a := range in.Args {
			if a == old {
				still = true
			}
		}
		if !still {
			set.Remove(id)
		}
	}
	m.addUses(in)
	m.mutated()
}

// RemoveInstr turns an instruction into a nop and drops its operand
// uses. The arena slot stays allocated so other handles remain valid.
// Removing an instruction whose result still has uses is a programmer
// error.
func (m *Module) RemoveInstr(id InstrID) {
	in := m.instrs[id]
	if in.result != NoValue {
		if set, ok := m.uses[in.result]; ok && set.Cardinality() > 0 {
			panic(fmt.Sprintf("ir: removing instruction %d with live uses", id))
		}
	}
	m.dropUses(in)
	b := m.blocks[in.Block]
	if i := slices.Index(b.Instrs, id); i >= 0 {
		b.Instrs = slices.Delete(b.Instrs, i, i+1)
	}
	in.Op = OpNop
	in.Args = nil
	in.Targets = nil
	in.result = NoValue
	m.mutated()
}

//
// CFG helpers.
//

// Succs returns the successor blocks of b, derived from its
// terminator.
func (m *Module) Succs(b BlockID) []BlockID {
	blk := m.blocks[b]
	if len(blk.Instrs) == 0 {
		return nil
	}
	last := m.instrs[blk.Instrs[len(blk.Instrs)-1]]
	return last.Targets
}

// Preds computes the predecessor map for all blocks of f.
func (m *Module) Preds(f *Function) map[BlockID][]BlockID {
	preds := make(map[BlockID][]BlockID, len(f.Blocks))
	for _, b := range f.Blocks {
		preds[b] = nil
	}
	for _, b := range f.Blocks {
		for _, s := range m.Succs(b) {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

// Terminator returns the terminator of b, or nil if the block is
// unterminated.
func (m *Module) Terminator(b BlockID) *Instr {
	blk := m.blocks[b]
	if len(blk.Instrs) == 0 {
		return nil
	}
	last := m.instrs[blk.Instrs[len(blk.Instrs)-1]]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}
