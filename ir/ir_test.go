package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypes(t *testing.T) {
	assert.Equal(t, "i32", I32.String())
	assert.Equal(t, "i1", I1.String())
	assert.Equal(t, "f64", F64.String())
	assert.Equal(t, "void", Void.String())
	assert.Equal(t, "i8*", PtrTo(I8).String())
	assert.Equal(t, "i64**", PtrTo(PtrTo(I64)).String())

	assert.True(t, PtrTo(I32).Equal(PtrTo(I32)))
	assert.False(t, PtrTo(I32).Equal(PtrTo(I64)))
	assert.False(t, I32.Equal(F32))
	assert.Equal(t, I32, PtrTo(I32).Pointee())
}

func TestBuilderAndPrinter(t *testing.T) {
	m := NewModule("test")
	g := m.AddGlobal("eax", I32, RoleRegister, 1)

	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)

	slot := b.Alloca(I32)
	b.Store(m.ConstU64(I32, 123), slot)
	v := b.Load(g.Addr(), I32)
	sum := b.Bin(OpAdd, v, m.ConstU64(I32, 1))
	b.Store(sum, g.Addr())
	b.Ret(NoValue)

	require.NoError(t, m.Verify(f))

	want := `func @fnc void() {
entry:
  %0 = alloca i32
  store i32 123, %0
  %1 = load i32, @eax
  %2 = add i32 %1, 1
  store i32 %2, @eax
  ret void
}
`
	assert.Equal(t, want, m.FuncString(f))
}

func TestStoreTypeMismatchPanics(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)
	slot := b.Alloca(I32)

	assert.Panics(t, func() {
		b.Store(m.ConstU64(I64, 1), slot)
	})
}

func TestSecondTerminatorPanics(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)
	b.Ret(NoValue)

	assert.Panics(t, func() {
		b.Ret(NoValue)
	})
}

func TestForeignBranchTargetPanics(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunc("f")
	fb := m.NewBlock(f, "entry")
	g := m.NewFunc("g")
	gb := m.NewBlock(g, "entry")

	b := m.NewBuilder(fb)
	assert.Panics(t, func() {
		b.Br(gb)
	})
}

func TestReplaceAllUses(t *testing.T) {
	m := NewModule("test")
	g := m.AddGlobal("x0", I64, RoleRegister, 1)
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)

	old := b.Load(g.Addr(), I64)
	sum := b.Bin(OpAdd, old, old)
	b.Store(sum, g.Addr())
	b.Ret(NoValue)

	repl := m.ConstU64(I64, 7)
	m.ReplaceAllUses(old, repl)

	sumIn := m.Instr(m.Value(sum).Instr)
	assert.Equal(t, []ValueID{repl, repl}, sumIn.Args)
	assert.Empty(t, m.UsesOf(old))
	assert.Contains(t, m.UsesOf(repl), sumIn.ID)
}

func TestRemoveInstrWithLiveUsesPanics(t *testing.T) {
	m := NewModule("test")
	g := m.AddGlobal("x0", I64, RoleRegister, 1)
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)

	v := b.Load(g.Addr(), I64)
	b.Store(v, g.Addr())
	b.Ret(NoValue)

	assert.Panics(t, func() {
		m.RemoveInstr(m.Value(v).Instr)
	})
}

func TestRemoveInstr(t *testing.T) {
	m := NewModule("test")
	g := m.AddGlobal("x0", I64, RoleRegister, 1)
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)

	st := b.Store(m.ConstU64(I64, 1), g.Addr())
	b.Ret(NoValue)

	n := len(m.Block(entry).Instrs)
	m.RemoveInstr(st)
	assert.Len(t, m.Block(entry).Instrs, n-1)
	assert.Equal(t, OpNop, m.Instr(st).Op)
}

func TestInsertBefore(t *testing.T) {
	m := NewModule("test")
	g := m.AddGlobal("x0", I64, RoleRegister, 1)
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)

	ret := b.Ret(NoValue)

	b2 := m.NewBuilder(entry)
	b2.SetInsertBefore(ret)
	v := b2.Load(g.Addr(), I64)
	b2.Store(v, g.Addr())

	instrs := m.Block(entry).Instrs
	require.Len(t, instrs, 3)
	assert.Equal(t, OpLoad, m.Instr(instrs[0]).Op)
	assert.Equal(t, OpStore, m.Instr(instrs[1]).Op)
	assert.Equal(t, OpRet, m.Instr(instrs[2]).Op)
	require.NoError(t, m.Verify(f))
}

func TestDominators(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	left := m.NewBlock(f, "left")
	right := m.NewBlock(f, "right")
	exit := m.NewBlock(f, "exit")

	cond := m.ConstU64(I1, 1)
	m.NewBuilder(entry).CondBr(cond, left, right)
	m.NewBuilder(left).Br(exit)
	m.NewBuilder(right).Br(exit)
	m.NewBuilder(exit).Ret(NoValue)

	d := Dominators(m, f)
	assert.True(t, d.Dominates(entry, exit))
	assert.True(t, d.Dominates(entry, left))
	assert.False(t, d.Dominates(left, exit))
	assert.False(t, d.Dominates(right, left))
	assert.True(t, d.Dominates(exit, exit))
}

func TestVerifyCatchesDominanceViolation(t *testing.T) {
	m := NewModule("test")
	g := m.AddGlobal("x0", I64, RoleRegister, 1)
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	left := m.NewBlock(f, "left")
	right := m.NewBlock(f, "right")
	exit := m.NewBlock(f, "exit")

	cond := m.ConstU64(I1, 1)
	m.NewBuilder(entry).CondBr(cond, left, right)

	lb := m.NewBuilder(left)
	v := lb.Load(g.Addr(), I64)
	lb.Br(exit)
	m.NewBuilder(right).Br(exit)

	xb := m.NewBuilder(exit)
	xb.Store(v, g.Addr()) // v does not dominate exit
	xb.Ret(NoValue)

	assert.Error(t, m.Verify(f))
}

func TestSetSigCreatesParams(t *testing.T) {
	m := NewModule("test")
	f := m.NewFunc("fnc")
	m.SetSig(f, Signature{Ret: I64, Params: []Type{I64, I32}})
	assert.Equal(t, I64, m.TypeOf(f.Param(0)))
	assert.Equal(t, I32, m.TypeOf(f.Param(1)))
	assert.Equal(t, "i64(i64, i32)", f.Sig.String())

	m.SetSig(f, Signature{Ret: Void, Params: []Type{I8}, Variadic: true})
	assert.Equal(t, "void(i8, ...)", f.Sig.String())
}

func TestVersionBumpsOnMutation(t *testing.T) {
	m := NewModule("test")
	v0 := m.Version()
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	assert.Greater(t, m.Version(), v0)

	v1 := m.Version()
	m.NewBuilder(entry).Ret(NoValue)
	assert.Greater(t, m.Version(), v1)
}
