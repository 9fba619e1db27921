package abi

import "fmt"

// AArch64 AAPCS64: integer args X0-X7, float args V0-V7 (D view),
// return X0 (X1 second word), V0. W registers are 32-bit views of X.
// NZCV is modeled as four one-bit flag locations, the way the lifter
// writes them.
func newAArch64() (*ABI, error) {
	tb := newTableBuilder()

	var x [31]Reg
	for i := 0; i < 31; i++ {
		name := fmt.Sprintf("x%d", i)
		if i == 30 {
			x[i] = tb.lrreg(name, 64)
		} else {
			x[i] = tb.reg(name, 64)
		}
	}
	for i := 0; i < 31; i++ {
		tb.sub(fmt.Sprintf("w%d", i), 32, x[i])
	}
	tb.spreg("sp", 64)
	tb.reg("pc", 64)

	var v [8]Reg
	for i := 0; i < 8; i++ {
		v[i] = tb.fpreg(fmt.Sprintf("v%d", i), 64)
	}
	tb.flag("cpsr_n")
	tb.flag("cpsr_z")
	tb.flag("cpsr_c")
	tb.flag("cpsr_v")

	return &ABI{
		arch:                  ArchAArch64,
		conv:                  ConvDefault,
		wordBits:              64,
		stackDir:              AscendingFromSP,
		maxRegsPerParam:       1,
		firstStackParamOffset: 0,
		paramGPRs:             []Reg{x[0], x[1], x[2], x[3], x[4], x[5], x[6], x[7]},
		paramFPRs:             v[:],
		returnGPRs:            []Reg{x[0], x[1]},
		returnFPRs:            []Reg{v[0]},
		regs:                  tb.regs,
		byName:                tb.byName,
	}, nil
}

// ARM AAPCS: args R0-R3 / D0-D3, return R0 (R1 high half), D0, D1. Two
// consecutive core registers may pair to carry one 64-bit parameter.
func newARM() (*ABI, error) {
	tb := newTableBuilder()

	var r [16]Reg
	for i := 0; i < 13; i++ {
		r[i] = tb.reg(fmt.Sprintf("r%d", i), 32)
	}
	r[13] = tb.spreg("sp", 32)
	r[14] = tb.lrreg("lr", 32)
	r[15] = tb.reg("pc", 32)

	var d [4]Reg
	for i := 0; i < 4; i++ {
		d[i] = tb.fpreg(fmt.Sprintf("d%d", i), 64)
	}
	tb.flag("cpsr_n")
	tb.flag("cpsr_z")
	tb.flag("cpsr_c")
	tb.flag("cpsr_v")

	return &ABI{
		arch:                  ArchARM,
		conv:                  ConvDefault,
		wordBits:              32,
		stackDir:              AscendingFromSP,
		maxRegsPerParam:       2,
		firstStackParamOffset: 0,
		paramGPRs:             []Reg{r[0], r[1], r[2], r[3]},
		paramFPRs:             d[:],
		returnGPRs:            []Reg{r[0], r[1]},
		returnFPRs:            []Reg{d[0], d[1]},
		regs:                  tb.regs,
		byName:                tb.byName,
	}, nil
}
