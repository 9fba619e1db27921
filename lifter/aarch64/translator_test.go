package aarch64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binlift/binlift/abi"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
)

// lift translates one function's instructions and returns the module,
// the function, and a fresh machine for concrete evaluation.
func lift(t *testing.T, insns ...lifter.Instruction) (*ir.Module, *ir.Function, *machine) {
	t.Helper()
	ab, err := abi.New(abi.ArchAArch64, abi.ConvDefault)
	require.NoError(t, err)
	m := ir.NewModule("test")
	tr := NewTranslator(m, ab)
	f, err := tr.TranslateFunc("fnc", insns)
	require.NoError(t, err)
	require.NoError(t, m.Verify(f))
	return m, f, newMachine(t, m)
}

func insn(addr uint64, mn lifter.Mnemonic, ops ...lifter.Operand) lifter.Instruction {
	return lifter.Instruction{Addr: addr, Mnemonic: mn, Cond: lifter.CondAL, Operands: ops}
}

func condInsn(addr uint64, mn lifter.Mnemonic, cond lifter.Cond, ops ...lifter.Operand) lifter.Instruction {
	return lifter.Instruction{Addr: addr, Mnemonic: mn, Cond: cond, Operands: ops}
}

func TestAddRegisterGolden(t *testing.T) {
	m, f, _ := lift(t,
		insn(0x1000, lifter.MnADD, lifter.Reg("x0"), lifter.Reg("x1"), lifter.Reg("x2")),
		insn(0x1004, lifter.MnRET),
	)
	want := `func @fnc void() {
pc_1000:
  %0 = load i64, @x1
  %1 = load i64, @x2
  %2 = add i64 %0, %1
  store i64 %2, @x0
  ret void
}
`
	assert.Equal(t, want, m.FuncString(f))
}

func TestAdcsFlags(t *testing.T) {
	// adcs x0, x1, x2 with x1=0xFFFFFFFFFFFFFFFE, x2=1, C=1
	// → x0=0, N=0, Z=1, C=1, V=0
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnADCS, lifter.Reg("x0"), lifter.Reg("x1"), lifter.Reg("x2")),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x1", 0xFFFFFFFFFFFFFFFE)
	mc.setReg("x2", 1)
	mc.setFlag("cpsr_c", true)
	mc.run(f)

	assert.Equal(t, uint64(0), mc.reg("x0"))
	assert.False(t, mc.flag("cpsr_n"))
	assert.True(t, mc.flag("cpsr_z"))
	assert.True(t, mc.flag("cpsr_c"))
	assert.False(t, mc.flag("cpsr_v"))
}

func TestAddExtendedRegister(t *testing.T) {
	// add x0, x1, w2, sxth with x1=-1, w2=0xFFFB (-5 as i16) → x0=-6
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnADD, lifter.Reg("x0"), lifter.Reg("x1"),
			lifter.ExtReg("w2", lifter.ExtSXTH, 0)),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x1", ^uint64(0))
	mc.setReg("x2", 0xFFFB)
	mc.run(f)

	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFA), mc.reg("x0"))
}

func TestWRegisterWriteZeroExtends(t *testing.T) {
	// mov w0, w1 with x0 full of ones beforehand: the upper half is
	// cleared no matter what it held.
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnMOV, lifter.Reg("w0"), lifter.Reg("w1")),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x0", ^uint64(0))
	mc.setReg("x1", 0xAAAA_BBBB_CCCC_DDDD)
	mc.run(f)

	assert.Equal(t, uint64(0x0000_0000_CCCC_DDDD), mc.reg("x0"))
}

func TestShiftAmountMasked(t *testing.T) {
	// lsr x0, x1, x2 with x2=65 shifts by 65 mod 64 = 1.
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnLSR, lifter.Reg("x0"), lifter.Reg("x1"), lifter.Reg("x2")),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x1", 4)
	mc.setReg("x2", 65)
	mc.run(f)
	assert.Equal(t, uint64(2), mc.reg("x0"))
}

func TestShiftAmountMasked32(t *testing.T) {
	// lsl w0, w1, w2 with w2=33 shifts by 33 mod 32 = 1.
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnLSL, lifter.Reg("w0"), lifter.Reg("w1"), lifter.Reg("w2")),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x1", 3)
	mc.setReg("x2", 33)
	mc.run(f)
	assert.Equal(t, uint64(6), mc.reg("x0"))
}

func TestSbcIdentities(t *testing.T) {
	// sbc with C=1 equals plain sub; with C=0 it subtracts one more.
	prog := []lifter.Instruction{
		insn(0x1000, lifter.MnSBC, lifter.Reg("x0"), lifter.Reg("x1"), lifter.Reg("x2")),
		insn(0x1004, lifter.MnRET),
	}

	_, f, mc := lift(t, prog...)
	mc.setReg("x1", 10)
	mc.setReg("x2", 3)
	mc.setFlag("cpsr_c", true)
	mc.run(f)
	assert.Equal(t, uint64(7), mc.reg("x0"))

	_, f, mc = lift(t, prog...)
	mc.setReg("x1", 10)
	mc.setReg("x2", 3)
	mc.setFlag("cpsr_c", false)
	mc.run(f)
	assert.Equal(t, uint64(6), mc.reg("x0"))
}

func TestSubsBorrowFlags(t *testing.T) {
	run := func(a, b uint64) *machine {
		_, f, mc := lift(t,
			insn(0x1000, lifter.MnSUBS, lifter.Reg("x0"), lifter.Reg("x1"), lifter.Reg("x2")),
			insn(0x1004, lifter.MnRET),
		)
		mc.setReg("x1", a)
		mc.setReg("x2", b)
		mc.run(f)
		return mc
	}

	mc := run(5, 3) // no borrow
	assert.True(t, mc.flag("cpsr_c"))
	assert.False(t, mc.flag("cpsr_n"))
	assert.False(t, mc.flag("cpsr_z"))

	mc = run(3, 5) // borrow
	assert.False(t, mc.flag("cpsr_c"))
	assert.True(t, mc.flag("cpsr_n"))

	mc = run(5, 5)
	assert.True(t, mc.flag("cpsr_c"))
	assert.True(t, mc.flag("cpsr_z"))

	// signed overflow: MinInt64 - 1
	mc = run(0x8000000000000000, 1)
	assert.True(t, mc.flag("cpsr_v"))
}

func TestCselAlIsMove(t *testing.T) {
	_, f, mc := lift(t,
		condInsn(0x1000, lifter.MnCSEL, lifter.CondAL,
			lifter.Reg("x0"), lifter.Reg("x1"), lifter.Reg("x2")),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x1", 11)
	mc.setReg("x2", 22)
	mc.run(f)
	assert.Equal(t, uint64(11), mc.reg("x0"))
}

func TestCsetAndCsetm(t *testing.T) {
	_, f, mc := lift(t,
		condInsn(0x1000, lifter.MnCSET, lifter.CondAL, lifter.Reg("x0")),
		insn(0x1004, lifter.MnRET),
	)
	mc.run(f)
	assert.Equal(t, uint64(1), mc.reg("x0"))

	_, f, mc = lift(t,
		condInsn(0x1000, lifter.MnCSETM, lifter.CondEQ, lifter.Reg("x0")),
		insn(0x1004, lifter.MnRET),
	)
	mc.setFlag("cpsr_z", true)
	mc.run(f)
	assert.Equal(t, ^uint64(0), mc.reg("x0"))
}

func TestCmpConditionCodes(t *testing.T) {
	// cmp x1, x2; cset x0, <cond>
	run := func(a, b uint64, cond lifter.Cond) uint64 {
		_, f, mc := lift(t,
			insn(0x1000, lifter.MnCMP, lifter.Reg("x1"), lifter.Reg("x2")),
			condInsn(0x1004, lifter.MnCSET, cond, lifter.Reg("x0")),
			insn(0x1008, lifter.MnRET),
		)
		mc.setReg("x1", a)
		mc.setReg("x2", b)
		mc.run(f)
		return mc.reg("x0")
	}

	assert.Equal(t, uint64(1), run(5, 5, lifter.CondEQ))
	assert.Equal(t, uint64(0), run(5, 4, lifter.CondEQ))
	assert.Equal(t, uint64(1), run(5, 4, lifter.CondNE))
	assert.Equal(t, uint64(1), run(5, 4, lifter.CondHI))
	assert.Equal(t, uint64(0), run(4, 5, lifter.CondHI))
	assert.Equal(t, uint64(1), run(4, 5, lifter.CondLS))
	assert.Equal(t, uint64(1), run(5, 5, lifter.CondCS))
	assert.Equal(t, uint64(1), run(4, 5, lifter.CondCC))
	// signed comparisons across the sign boundary
	neg1 := ^uint64(0)
	assert.Equal(t, uint64(1), run(neg1, 1, lifter.CondLT))
	assert.Equal(t, uint64(0), run(neg1, 1, lifter.CondGE))
	assert.Equal(t, uint64(1), run(1, neg1, lifter.CondGT))
	assert.Equal(t, uint64(1), run(5, 5, lifter.CondLE))
}

func TestRotateRight(t *testing.T) {
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnROR, lifter.Reg("x0"), lifter.Reg("x1"), lifter.Imm(8)),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x1", 0x11223344_55667788)
	mc.run(f)
	assert.Equal(t, uint64(0x88112233_44556677), mc.reg("x0"))
}

func TestMovzMovkCompose(t *testing.T) {
	_, f, mc := lift(t,
		lifter.Instruction{Addr: 0x1000, Mnemonic: lifter.MnMOVZ, Cond: lifter.CondAL,
			Operands: []lifter.Operand{lifter.Reg("x0"), lifter.Imm(0xBEEF)}},
		lifter.Instruction{Addr: 0x1004, Mnemonic: lifter.MnMOVK, Cond: lifter.CondAL,
			Operands: []lifter.Operand{lifter.Reg("x0"), {Kind: lifter.OpndImm, Imm: 0xDEAD, ShiftAmt: 48}}},
		insn(0x1008, lifter.MnRET),
	)
	mc.run(f)
	assert.Equal(t, uint64(0xDEAD_0000_0000_BEEF), mc.reg("x0"))
}

func TestMovnInverts(t *testing.T) {
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnMOVN, lifter.Reg("w0"), lifter.Imm(5)),
		insn(0x1004, lifter.MnRET),
	)
	mc.run(f)
	assert.Equal(t, uint64(0xFFFFFFFA), mc.reg("x0"))
}

func TestCbzBranches(t *testing.T) {
	prog := []lifter.Instruction{
		insn(0x00, lifter.MnCBZ, lifter.Reg("x0"), lifter.Label(0x0c)),
		insn(0x04, lifter.MnMOVZ, lifter.Reg("x1"), lifter.Imm(2)),
		insn(0x08, lifter.MnB, lifter.Label(0x10)),
		insn(0x0c, lifter.MnMOVZ, lifter.Reg("x1"), lifter.Imm(1)),
		insn(0x10, lifter.MnRET),
	}

	_, f, mc := lift(t, prog...)
	mc.setReg("x0", 0)
	mc.run(f)
	assert.Equal(t, uint64(1), mc.reg("x1"))

	_, f, mc = lift(t, prog...)
	mc.setReg("x0", 7)
	mc.run(f)
	assert.Equal(t, uint64(2), mc.reg("x1"))
}

func TestTbnzBranchesOnBit(t *testing.T) {
	prog := []lifter.Instruction{
		insn(0x00, lifter.MnTBNZ, lifter.Reg("x0"), lifter.Imm(3), lifter.Label(0x0c)),
		insn(0x04, lifter.MnMOVZ, lifter.Reg("x1"), lifter.Imm(2)),
		insn(0x08, lifter.MnB, lifter.Label(0x10)),
		insn(0x0c, lifter.MnMOVZ, lifter.Reg("x1"), lifter.Imm(1)),
		insn(0x10, lifter.MnRET),
	}

	_, f, mc := lift(t, prog...)
	mc.setReg("x0", 0b1000)
	mc.run(f)
	assert.Equal(t, uint64(1), mc.reg("x1"))

	_, f, mc = lift(t, prog...)
	mc.setReg("x0", 0b0111)
	mc.run(f)
	assert.Equal(t, uint64(2), mc.reg("x1"))
}

func TestStrLdrWriteback(t *testing.T) {
	// str x1, [sp, #-16]!  then ldr x2, [sp], #16
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnSTR, lifter.Reg("x1"), lifter.MemWb("sp", -16, lifter.WbPre)),
		insn(0x1004, lifter.MnLDR, lifter.Reg("x2"), lifter.MemWb("sp", 16, lifter.WbPost)),
		insn(0x1008, lifter.MnRET),
	)
	mc.setReg("sp", 0x2000)
	mc.setReg("x1", 0xCAFE)
	mc.run(f)

	assert.Equal(t, uint64(0xCAFE), mc.reg("x2"))
	assert.Equal(t, uint64(0x2000), mc.reg("sp"))
	assert.Equal(t, uint64(0xCAFE), mc.readMem(0x1FF0, 64))
}

func TestPreAndPostIndexDifferOnlyInBase(t *testing.T) {
	// Pre-indexed with zero displacement and post-indexed with a
	// displacement access the same address; only the final base
	// differs.
	_, f1, mc1 := lift(t,
		insn(0x1000, lifter.MnSTR, lifter.Reg("x1"), lifter.MemWb("x0", 0, lifter.WbPre)),
		insn(0x1004, lifter.MnRET),
	)
	mc1.setReg("x0", 0x3000)
	mc1.setReg("x1", 0x42)
	mc1.run(f1)

	_, f2, mc2 := lift(t,
		insn(0x1000, lifter.MnSTR, lifter.Reg("x1"), lifter.MemWb("x0", 8, lifter.WbPost)),
		insn(0x1004, lifter.MnRET),
	)
	mc2.setReg("x0", 0x3000)
	mc2.setReg("x1", 0x42)
	mc2.run(f2)

	assert.Equal(t, mc1.readMem(0x3000, 64), mc2.readMem(0x3000, 64))
	assert.Equal(t, uint64(0x3000), mc1.reg("x0"))
	assert.Equal(t, uint64(0x3008), mc2.reg("x0"))
}

func TestLdpStpRoundTrip(t *testing.T) {
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnSTP, lifter.Reg("x1"), lifter.Reg("x2"),
			lifter.MemWb("sp", -16, lifter.WbPre)),
		insn(0x1004, lifter.MnLDP, lifter.Reg("x3"), lifter.Reg("x4"),
			lifter.MemWb("sp", 16, lifter.WbPost)),
		insn(0x1008, lifter.MnRET),
	)
	mc.setReg("sp", 0x4000)
	mc.setReg("x1", 111)
	mc.setReg("x2", 222)
	mc.run(f)

	assert.Equal(t, uint64(111), mc.reg("x3"))
	assert.Equal(t, uint64(222), mc.reg("x4"))
	assert.Equal(t, uint64(0x4000), mc.reg("sp"))
}

func TestLdrbZeroExtendsLdrsbSignExtends(t *testing.T) {
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnLDRB, lifter.Reg("w1"), lifter.Mem("x0", 0)),
		insn(0x1004, lifter.MnLDRSB, lifter.Reg("x2"), lifter.Mem("x0", 0)),
		insn(0x1008, lifter.MnRET),
	)
	mc.setReg("x0", 0x5000)
	mc.writeMem(0x5000, 0x80, 8)
	mc.run(f)

	assert.Equal(t, uint64(0x80), mc.reg("x1"))
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFF80), mc.reg("x2"))
}

func TestMemoryIndexedExtend(t *testing.T) {
	// ldr x1, [x0, w2, sxtw] with w2 = -8
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnLDR, lifter.Reg("x1"),
			lifter.MemIdx("x0", "w2", lifter.ExtSXTW, 0)),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x0", 0x5008)
	mc.setReg("x2", 0xFFFFFFF8) // -8 as i32
	mc.writeMem(0x5000, 0x77, 64)
	mc.run(f)
	assert.Equal(t, uint64(0x77), mc.reg("x1"))
}

func TestAdrLoadsTarget(t *testing.T) {
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnADR, lifter.Reg("x0"), lifter.Label(0x2340)),
		insn(0x1004, lifter.MnRET),
	)
	mc.run(f)
	assert.Equal(t, uint64(0x2340), mc.reg("x0"))
}

func TestSmullUmull(t *testing.T) {
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnSMULL, lifter.Reg("x0"), lifter.Reg("w1"), lifter.Reg("w2")),
		insn(0x1004, lifter.MnUMULL, lifter.Reg("x3"), lifter.Reg("w1"), lifter.Reg("w2")),
		insn(0x1008, lifter.MnRET),
	)
	mc.setReg("x1", 0xFFFFFFFF) // -1 as i32
	mc.setReg("x2", 4)
	mc.run(f)

	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFC), mc.reg("x0")) // -4
	assert.Equal(t, uint64(0x3FFFFFFFC), mc.reg("x3"))
}

func TestBlWritesLinkRegisterAndCreatesCallee(t *testing.T) {
	m, f, mc := lift(t,
		insn(0x1000, lifter.MnBL, lifter.Label(0x2000)),
		insn(0x1004, lifter.MnRET),
	)
	mc.run(f)
	assert.Equal(t, uint64(0x1004), mc.reg("x30"))

	callee := m.FuncByName("fn_2000")
	require.NotNil(t, callee)
	assert.True(t, callee.IsDecl())

	var foundCall bool
	for _, bid := range f.Blocks {
		for _, iid := range m.Block(bid).Instrs {
			in := m.Instr(iid)
			if in.Op == ir.OpCall {
				foundCall = true
				v := m.Value(in.Args[0])
				assert.Equal(t, ir.FuncValue, v.Kind)
				assert.Equal(t, callee.ID, v.Func)
			}
		}
	}
	assert.True(t, foundCall)
}

func TestUnknownOpcodeBecomesIntrinsic(t *testing.T) {
	m, f, mc := lift(t,
		insn(0x1000, lifter.MnUnknown, lifter.Reg("x0"), lifter.Reg("x1")),
		insn(0x1004, lifter.MnRET),
	)
	intr := m.FuncByName("__asm_unknown")
	require.NotNil(t, intr)

	var call *ir.Instr
	for _, iid := range m.Block(f.Entry()).Instrs {
		if in := m.Instr(iid); in.Op == ir.OpCall {
			call = in
		}
	}
	require.NotNil(t, call)
	assert.Len(t, call.Args, 2) // target + one source register read
	assert.True(t, call.HasResult())

	mc.run(f) // the pipeline continues; the intrinsic is inert
}

func TestMalformedOperandMarksBlock(t *testing.T) {
	m, f, _ := lift(t,
		insn(0x1000, lifter.MnMOV, lifter.Reg("q99"), lifter.Reg("x1")),
		insn(0x1004, lifter.MnRET),
	)
	assert.True(t, m.Block(f.Entry()).TranslationError)
}

func TestFallthroughBranchInserted(t *testing.T) {
	// The instruction after a conditional branch starts a new block;
	// a block that does not end in a branch falls through explicitly.
	m, f, _ := lift(t,
		insn(0x00, lifter.MnCBZ, lifter.Reg("x0"), lifter.Label(0x08)),
		insn(0x04, lifter.MnNOP),
		insn(0x08, lifter.MnRET),
	)
	require.Len(t, f.Blocks, 3)
	term := m.Terminator(f.Blocks[1])
	require.NotNil(t, term)
	assert.Equal(t, ir.OpBr, term.Op)
	assert.Equal(t, f.Blocks[2], term.Targets[0])
}

func TestWzrReadsZeroWritesVanish(t *testing.T) {
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnADD, lifter.Reg("x0"), lifter.Reg("x1"), lifter.Reg("xzr")),
		insn(0x1004, lifter.MnMOV, lifter.Reg("xzr"), lifter.Reg("x1")),
		insn(0x1008, lifter.MnRET),
	)
	mc.setReg("x1", 55)
	mc.run(f)
	assert.Equal(t, uint64(55), mc.reg("x0"))
}

func TestShiftedRegisterOperand(t *testing.T) {
	// add x0, x1, x2, lsl #3
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnADD, lifter.Reg("x0"), lifter.Reg("x1"),
			lifter.ShiftedReg("x2", lifter.ShiftLSL, 3)),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x1", 100)
	mc.setReg("x2", 5)
	mc.run(f)
	assert.Equal(t, uint64(140), mc.reg("x0"))
}

func TestLogicalFlagFormsLeaveCarryAlone(t *testing.T) {
	// ands sets N/Z only; C keeps its previous value.
	_, f, mc := lift(t,
		insn(0x1000, lifter.MnANDS, lifter.Reg("x0"), lifter.Reg("x1"), lifter.Reg("x2")),
		insn(0x1004, lifter.MnRET),
	)
	mc.setReg("x1", 0x8000000000000000)
	mc.setReg("x2", 0x8000000000000000)
	mc.setFlag("cpsr_c", true)
	mc.setFlag("cpsr_v", true)
	mc.run(f)

	assert.True(t, mc.flag("cpsr_n"))
	assert.False(t, mc.flag("cpsr_z"))
	assert.True(t, mc.flag("cpsr_c"), "C must be unchanged by logical flag forms")
	assert.True(t, mc.flag("cpsr_v"), "V must be unchanged by logical flag forms")
}
