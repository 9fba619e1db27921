package paramret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binlift/binlift/abi"
	"github.com/binlift/binlift/analysis/rda"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/typeinfo"
)

func newPass(t *testing.T, m *ir.Module, arch abi.Arch, conv abi.CallConv, ti *typeinfo.Table) *Pass {
	t.Helper()
	ab, err := abi.New(arch, conv)
	require.NoError(t, err)
	ab.RegisterGlobals(m)
	return NewPass(m, ab, rda.NewAnalysis(1000), ti, Config{})
}

// callsIn collects the call instructions of f in program order.
func callsIn(m *ir.Module, f *ir.Function) []*ir.Instr {
	var out []*ir.Instr
	for _, bid := range f.Blocks {
		for _, iid := range m.Block(bid).Instrs {
			if in := m.Instr(iid); in.Op == ir.OpCall {
				out = append(out, in)
			}
		}
	}
	return out
}

// Scenario: an x86 cdecl indirect call picks up the two stack slots
// stored before it, in ascending offset order, and the signature
// stays void.
func TestX86StackArgsReconstruction(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchX86, abi.ConvCdecl, nil)

	r := m.AddGlobal("r", ir.I32, ir.RoleNone, 0)
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)

	s4 := b.Alloca(ir.I32)
	s8 := b.Alloca(ir.I32)
	f.StackOffsets[m.Value(s4).Instr] = -4
	f.StackOffsets[m.Value(s8).Instr] = -8
	b.Store(m.ConstU64(ir.I32, 123), s4)
	b.Store(m.ConstU64(ir.I32, 456), s8)
	target := b.Bitcast(r.Addr(), ir.PtrTo(ir.Void))
	b.Call(target, ir.Void)
	b.Ret(ir.NoValue)

	require.NoError(t, p.Run())
	require.NoError(t, m.Verify(f))

	calls := callsIn(m, f)
	require.Len(t, calls, 1)
	call := calls[0]
	require.Len(t, call.Args, 3) // target + 2 args
	assert.True(t, call.Type.IsVoid())

	// first argument from stack_-8, second from stack_-4
	arg1 := m.Instr(m.Value(call.Args[1]).Instr)
	arg2 := m.Instr(m.Value(call.Args[2]).Instr)
	assert.Equal(t, ir.OpLoad, arg1.Op)
	assert.Equal(t, s8, arg1.Args[0])
	assert.Equal(t, s8, arg1.Args[0])
	assert.Equal(t, ir.I32, arg1.Type)
	assert.Equal(t, s4, arg2.Args[0])
	assert.Equal(t, ir.I32, arg2.Type)

	// the caller itself stays niladic void
	assert.True(t, f.Sig.Ret.IsVoid())
	assert.Empty(t, f.Sig.Params)
}

// Scenario: non-contiguous stack slots are dropped — the -4 local
// does not join the -24/-20/-16 run.
func TestContinuityFilterDropsGap(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchX86, abi.ConvCdecl, nil)

	r := m.AddGlobal("r", ir.I32, ir.RoleNone, 0)
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)

	offs := []int64{-4, -16, -20, -24}
	slots := make(map[int64]ir.ValueID)
	for _, off := range offs {
		s := b.Alloca(ir.I32)
		f.StackOffsets[m.Value(s).Instr] = off
		slots[off] = s
		b.Store(m.ConstU64(ir.I32, uint64(-off)), s)
	}
	target := b.Bitcast(r.Addr(), ir.PtrTo(ir.Void))
	b.Call(target, ir.Void)
	b.Ret(ir.NoValue)

	require.NoError(t, p.Run())

	call := callsIn(m, f)[0]
	require.Len(t, call.Args, 4) // target + 3 args

	wantOrder := []int64{-24, -20, -16}
	for i, off := range wantOrder {
		arg := m.Instr(m.Value(call.Args[i+1]).Instr)
		assert.Equal(t, ir.OpLoad, arg.Op)
		assert.Equal(t, slots[off], arg.Args[0], "argument %d should load offset %d", i, off)
	}
}

// Scenario: x86-64 System V spills to the stack past the sixth
// integer argument; the callee's result flows via rax.
func TestSysVOverflowToStack(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchX86_64, abi.ConvSysV, nil)

	print := m.NewFunc("print")
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)

	for _, reg := range []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9", "r10"} {
		g := m.GlobalByName(reg)
		require.NotNil(t, g)
		b.Store(m.ConstU64(ir.I64, 1), g.Addr())
	}
	s8 := b.Alloca(ir.I64)
	s16 := b.Alloca(ir.I64)
	f.StackOffsets[m.Value(s8).Instr] = -8
	f.StackOffsets[m.Value(s16).Instr] = -16
	b.Store(m.ConstU64(ir.I64, 2), s8)
	b.Store(m.ConstU64(ir.I64, 3), s16)
	b.Call(m.FuncRef(print), ir.Void)
	b.Ret(ir.NoValue)

	require.NoError(t, p.Run())
	require.NoError(t, m.Verify(f))

	call := callsIn(m, f)[0]
	require.Len(t, call.Args, 9) // target + 8 args
	assert.Equal(t, ir.I64, call.Type)

	// the six registers in ABI order
	wantRegs := []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	for i, reg := range wantRegs {
		arg := m.Instr(m.Value(call.Args[i+1]).Instr)
		require.Equal(t, ir.OpLoad, arg.Op)
		src := m.Value(arg.Args[0])
		require.Equal(t, ir.GlobalValue, src.Kind)
		assert.Equal(t, reg, m.Global(src.Global).Name)
	}
	// then the two stack slots, ascending
	arg7 := m.Instr(m.Value(call.Args[7]).Instr)
	arg8 := m.Instr(m.Value(call.Args[8]).Instr)
	assert.Equal(t, s16, arg7.Args[0])
	assert.Equal(t, s8, arg8.Args[0])

	// the result lands in rax right after the call
	rax := m.GlobalByName("rax")
	instrs := m.Block(entry).Instrs
	callPos := -1
	for i, iid := range instrs {
		if iid == call.ID {
			callPos = i
		}
	}
	require.GreaterOrEqual(t, callPos, 0)
	after := m.Instr(instrs[callPos+1])
	require.Equal(t, ir.OpStore, after.Op)
	assert.Equal(t, rax.Addr(), after.Args[1])
	assert.Equal(t, call.Result(), after.Args[0])
}

// A defined callee recovers its own parameters from entry-block
// register loads, and its return from the store reaching ret.
func TestDefinedCalleeSignatureFromBody(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, nil)

	x0 := m.GlobalByName("x0")
	x1 := m.GlobalByName("x1")

	g := m.NewFunc("g")
	ge := m.NewBlock(g, "entry")
	gb := m.NewBuilder(ge)
	a := gb.Load(x0.Addr(), ir.I64)
	bv := gb.Load(x1.Addr(), ir.I64)
	sum := gb.Bin(ir.OpAdd, a, bv)
	gb.Store(sum, x0.Addr())
	gb.Ret(ir.NoValue)

	h := m.NewFunc("h")
	he := m.NewBlock(h, "entry")
	hb := m.NewBuilder(he)
	hb.Store(m.ConstU64(ir.I64, 5), x0.Addr())
	hb.Store(m.ConstU64(ir.I64, 7), x1.Addr())
	hb.Call(m.FuncRef(g), ir.Void)
	hb.Ret(ir.NoValue)

	require.NoError(t, p.Run())
	require.NoError(t, m.Verify(g))
	require.NoError(t, m.Verify(h))

	assert.Equal(t, "i64(i64, i64)", g.Sig.String())

	call := callsIn(m, h)[0]
	require.Len(t, call.Args, 3)
	assert.Equal(t, ir.I64, call.Type)

	// g's entry now spills its parameters into x0/x1 before the body
	first := m.Instr(m.Block(ge).Instrs[0])
	second := m.Instr(m.Block(ge).Instrs[1])
	assert.Equal(t, ir.OpStore, first.Op)
	assert.Equal(t, ir.OpStore, second.Op)
	assert.Equal(t, ir.ParamValue, m.Value(first.Args[0]).Kind)

	// and g's ret returns the value from x0
	gTerm := m.Terminator(ge)
	require.Equal(t, ir.OpRet, gTerm.Op)
	require.Len(t, gTerm.Args, 1)
	retLoad := m.Instr(m.Value(gTerm.Args[0]).Instr)
	assert.Equal(t, ir.OpLoad, retLoad.Op)
	assert.Equal(t, x0.Addr(), retLoad.Args[0])
}

// Scenario: the register prefix must be continuous — a stored x0 and
// x2 with no x1 yields a single parameter.
func TestRegisterPrefixGap(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, nil)

	callee := m.NewFunc("callee")
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)
	b.Store(m.ConstU64(ir.I64, 1), m.GlobalByName("x0").Addr())
	b.Store(m.ConstU64(ir.I64, 3), m.GlobalByName("x2").Addr())
	b.Call(m.FuncRef(callee), ir.Void)
	b.Ret(ir.NoValue)

	require.NoError(t, p.Run())

	call := callsIn(m, f)[0]
	require.Len(t, call.Args, 2) // target + x0 only
	src := m.Value(m.Instr(m.Value(call.Args[1]).Instr).Args[0])
	assert.Equal(t, "x0", m.Global(src.Global).Name)
}

// Scenario: all call sites must agree — a register stored at only one
// of two sites is not a parameter.
func TestCommonRegisterCrossFilter(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, nil)

	callee := m.NewFunc("callee")
	x0 := m.GlobalByName("x0")
	x1 := m.GlobalByName("x1")

	f1 := m.NewFunc("caller1")
	e1 := m.NewBlock(f1, "entry")
	b1 := m.NewBuilder(e1)
	b1.Store(m.ConstU64(ir.I64, 1), x0.Addr())
	b1.Store(m.ConstU64(ir.I64, 2), x1.Addr())
	b1.Call(m.FuncRef(callee), ir.Void)
	b1.Ret(ir.NoValue)

	f2 := m.NewFunc("caller2")
	e2 := m.NewBlock(f2, "entry")
	b2 := m.NewBuilder(e2)
	b2.Store(m.ConstU64(ir.I64, 1), x0.Addr())
	b2.Call(m.FuncRef(callee), ir.Void)
	b2.Ret(ir.NoValue)

	require.NoError(t, p.Run())

	for _, f := range []*ir.Function{f1, f2} {
		call := callsIn(m, f)[0]
		require.Len(t, call.Args, 2, "every site passes exactly the common x0")
	}
}

// Scenario: wrapper connection — f is just "call g; ret", so f
// inherits g's signature and f's callers are redirected to g.
func TestWrapperConnection(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, nil)

	x0 := m.GlobalByName("x0")
	x30 := m.GlobalByName("x30")

	g := m.NewFunc("g")
	ge := m.NewBlock(g, "entry")
	gb := m.NewBuilder(ge)
	v := gb.Load(x0.Addr(), ir.I64)
	gb.Store(gb.Bin(ir.OpAdd, v, m.ConstU64(ir.I64, 1)), x0.Addr())
	gb.Ret(ir.NoValue)

	f := m.NewFunc("f")
	fe := m.NewBlock(f, "entry")
	fb := m.NewBuilder(fe)
	fb.Store(m.ConstU64(ir.I64, 0x1004), x30.Addr())
	fb.Call(m.FuncRef(g), ir.Void)
	fb.Ret(ir.NoValue)

	h := m.NewFunc("h")
	he := m.NewBlock(h, "entry")
	hb := m.NewBuilder(he)
	hb.Store(m.ConstU64(ir.I64, 41), x0.Addr())
	hb.Call(m.FuncRef(f), ir.Void)
	hb.Ret(ir.NoValue)

	require.NoError(t, p.Run())

	assert.True(t, f.Sig.Equal(g.Sig), "wrapper inherits the callee signature")
	assert.Equal(t, "i64(i64)", f.Sig.String())

	// h now calls g directly
	call := callsIn(m, h)[0]
	tv := m.Value(call.Args[0])
	require.Equal(t, ir.FuncValue, tv.Kind)
	assert.Equal(t, g.ID, tv.Func)
	require.Len(t, call.Args, 2)
}

// Running the pass twice must observe no change the second time.
func TestIdempotence(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, nil)

	callee := m.NewFunc("callee")
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)
	b.Store(m.ConstU64(ir.I64, 1), m.GlobalByName("x0").Addr())
	b.Call(m.FuncRef(callee), ir.Void)
	b.Ret(ir.NoValue)

	require.NoError(t, p.Run())
	snapshot := m.String()

	p2 := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, nil)
	require.NoError(t, p2.Run())
	assert.Equal(t, snapshot, m.String())
}

// An external declaration overrides inference entirely.
func TestKnownTypeOverride(t *testing.T) {
	ti := typeinfo.NewTable()
	ti.Add(typeinfo.Decl{
		Name:      "known",
		Ret:       ir.I32,
		Params:    []ir.Type{ir.I32, ir.PtrTo(ir.I8)},
		FormatArg: -1,
	})

	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, ti)

	known := m.NewFunc("known")
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)
	b.Store(m.ConstU64(ir.I64, 1), m.GlobalByName("x0").Addr())
	b.Call(m.FuncRef(known), ir.Void)
	b.Ret(ir.NoValue)

	require.NoError(t, p.Run())

	call := callsIn(m, f)[0]
	require.Len(t, call.Args, 3)
	assert.Equal(t, ir.I32, call.Type)
	assert.Equal(t, ir.I32, m.TypeOf(call.Args[1]))
	assert.True(t, m.TypeOf(call.Args[2]).IsPtr())
}

// A printf-family callee gets its variadic tail from the format
// literal stored into its format argument.
func TestVariadicFormatString(t *testing.T) {
	ti := typeinfo.NewTable()
	ti.Add(typeinfo.Decl{
		Name:      "printf",
		Ret:       ir.I32,
		Params:    []ir.Type{ir.PtrTo(ir.I8)},
		Variadic:  true,
		FormatArg: 0,
	})

	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, ti)

	fmtStr := m.AddGlobal("str_fmt", ir.I8, ir.RoleNone, 0)
	fmtStr.Str = "%d %s\n"

	printf := m.NewFunc("printf")
	f := m.NewFunc("fnc")
	entry := m.NewBlock(f, "entry")
	b := m.NewBuilder(entry)
	x0 := m.GlobalByName("x0")
	// the format string's address goes into the first argument
	// register
	addr := b.Bitcast(fmtStr.Addr(), ir.I64)
	b.Store(addr, x0.Addr())
	b.Store(m.ConstU64(ir.I64, 42), m.GlobalByName("x1").Addr())
	b.Call(m.FuncRef(printf), ir.Void)
	b.Ret(ir.NoValue)

	require.NoError(t, p.Run())

	call := callsIn(m, f)[0]
	// fixed i8* prefix plus the %d and %s tail
	require.Len(t, call.Args, 4)
	assert.Equal(t, ir.I32, call.Type)
	assert.True(t, m.TypeOf(call.Args[1]).IsPtr())
	assert.Equal(t, ir.I64, m.TypeOf(call.Args[2]))
	assert.True(t, m.TypeOf(call.Args[3]).IsPtr())
}

// Stack slots with the callee-side wrong sign are locals, not
// incoming arguments.
func TestCalleeSideSignFilter(t *testing.T) {
	m := ir.NewModule("test")
	p := newPass(t, m, abi.ArchAArch64, abi.ConvDefault, nil)

	g := m.NewFunc("g")
	ge := m.NewBlock(g, "entry")
	gb := m.NewBuilder(ge)
	local := gb.Alloca(ir.I64)
	incoming := gb.Alloca(ir.I64)
	g.StackOffsets[m.Value(local).Instr] = -8
	g.StackOffsets[m.Value(incoming).Instr] = 0
	gb.Load(local, ir.I64)
	gb.Load(incoming, ir.I64)
	gb.Ret(ir.NoValue)

	require.NoError(t, p.Run())

	require.Len(t, g.Sig.Params, 1, "only the caller-area slot is a parameter")
}

// With the analysis unavailable the function keeps no signature and
// its call sites stay untouched.
func TestRDAUnavailableFallback(t *testing.T) {
	m := ir.NewModule("test")
	ab, err := abi.New(abi.ArchAArch64, abi.ConvDefault)
	require.NoError(t, err)
	ab.RegisterGlobals(m)

	g := m.NewFunc("g")
	ge := m.NewBlock(g, "entry")
	gb := m.NewBuilder(ge)
	gb.Load(m.GlobalByName("x0").Addr(), ir.I64)
	prev := ge
	for i := 0; i < 8; i++ {
		blk := m.NewBlock(g, "b")
		m.NewBuilder(prev).Br(blk)
		prev = blk
	}
	m.NewBuilder(prev).Ret(ir.NoValue)

	f := m.NewFunc("fnc")
	fe := m.NewBlock(f, "entry")
	fb := m.NewBuilder(fe)
	fb.Store(m.ConstU64(ir.I64, 1), m.GlobalByName("x0").Addr())
	fb.Call(m.FuncRef(g), ir.Void)
	fb.Ret(ir.NoValue)

	// iteration cap of one: RDA gives up on the nine-block g, while the
	// single-block caller still converges
	p := NewPass(m, ab, rda.NewAnalysis(1), nil, Config{})
	require.NoError(t, p.Run())

	assert.Empty(t, g.Sig.Params)
	assert.True(t, g.Sig.Ret.IsVoid())
	call := callsIn(m, f)[0]
	assert.Len(t, call.Args, 1, "call sites of an unanalyzable function stay niladic")
}

func TestScanFormat(t *testing.T) {
	types := ScanFormat("%d %s %f %llx %hd %% %q", 64)
	require.Len(t, types, 6)
	assert.Equal(t, ir.I64, types[0])
	assert.True(t, types[1].IsPtr())
	assert.Equal(t, ir.F64, types[2])
	assert.Equal(t, ir.I64, types[3])
	assert.Equal(t, ir.I16, types[4])
	assert.Equal(t, ir.I64, types[5]) // unknown directive degrades to word

	assert.Empty(t, ScanFormat("no directives", 64))
}

func TestPrefixFilter(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, prefixFilter([]int{0, 1, 2}))
	assert.Equal(t, []int{0}, prefixFilter([]int{0, 2}))
	assert.Empty(t, prefixFilter([]int{1, 2}))
	assert.Empty(t, prefixFilter(nil))
}
