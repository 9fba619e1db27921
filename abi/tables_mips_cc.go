package abi

import "fmt"

// MIPS o32: args A0-A3 / F12, F14; return V0 (V1 second word), F0.
// The first four stack-parameter slots shadow A0-A3, so stack
// parameters proper begin 16 bytes above the frame base.
func newMIPS() (*ABI, error) {
	tb := newTableBuilder()

	tb.reg("zero", 32)
	tb.reg("at", 32)
	v0 := tb.reg("v0", 32)
	v1 := tb.reg("v1", 32)
	a0 := tb.reg("a0", 32)
	a1 := tb.reg("a1", 32)
	a2 := tb.reg("a2", 32)
	a3 := tb.reg("a3", 32)
	for i := 0; i <= 9; i++ {
		tb.reg(fmt.Sprintf("t%d", i), 32)
	}
	for i := 0; i <= 7; i++ {
		tb.reg(fmt.Sprintf("s%d", i), 32)
	}
	tb.reg("gp", 32)
	tb.spreg("sp", 32)
	tb.reg("fp", 32)
	tb.lrreg("ra", 32)

	f0 := tb.fpreg("f0", 64)
	tb.fpreg("f2", 64)
	f12 := tb.fpreg("f12", 64)
	f14 := tb.fpreg("f14", 64)

	return &ABI{
		arch:                  ArchMIPS,
		conv:                  ConvDefault,
		wordBits:              32,
		stackDir:              AscendingFromSP,
		maxRegsPerParam:       1,
		firstStackParamOffset: 16,
		paramGPRs:             []Reg{a0, a1, a2, a3},
		paramFPRs:             []Reg{f12, f14},
		returnGPRs:            []Reg{v0, v1},
		returnFPRs:            []Reg{f0},
		regs:                  tb.regs,
		byName:                tb.byName,
	}, nil
}

// PowerPC (SVR4): args R3-R10 / F1-F8; return R3 (R4 second word), F1.
func newPowerPC() (*ABI, error) {
	tb := newTableBuilder()

	var r [32]Reg
	for i := 0; i < 32; i++ {
		switch i {
		case 1:
			r[i] = tb.spreg("r1", 32)
		default:
			r[i] = tb.reg(fmt.Sprintf("r%d", i), 32)
		}
	}
	tb.lrreg("lr", 32)
	var f [9]Reg
	for i := 1; i <= 8; i++ {
		f[i] = tb.fpreg(fmt.Sprintf("f%d", i), 64)
	}

	return &ABI{
		arch:                  ArchPowerPC,
		conv:                  ConvDefault,
		wordBits:              32,
		stackDir:              AscendingFromSP,
		maxRegsPerParam:       1,
		firstStackParamOffset: 8,
		paramGPRs:             []Reg{r[3], r[4], r[5], r[6], r[7], r[8], r[9], r[10]},
		paramFPRs:             f[1:],
		returnGPRs:            []Reg{r[3], r[4]},
		returnFPRs:            []Reg{f[1]},
		regs:                  tb.regs,
		byName:                tb.byName,
	}, nil
}
