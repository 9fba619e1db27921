package abi

import "fmt"

// x86 conventions pass everything on the stack except fastcall
// (ECX, EDX) and the watcom convention (EAX, EDX, EBX, ECX). Return
// value in EAX, with EDX carrying the high half of 64-bit returns.
func newX86(conv CallConv) (*ABI, error) {
	tb := newTableBuilder()

	eax := tb.reg("eax", 32)
	ecx := tb.reg("ecx", 32)
	edx := tb.reg("edx", 32)
	ebx := tb.reg("ebx", 32)
	tb.spreg("esp", 32)
	tb.reg("ebp", 32)
	tb.reg("esi", 32)
	tb.reg("edi", 32)
	tb.sub("ax", 16, eax)
	tb.sub("al", 8, eax)
	tb.sub("ah", 8, eax)
	tb.sub("cx", 16, ecx)
	tb.sub("cl", 8, ecx)
	tb.sub("dx", 16, edx)
	tb.sub("dl", 8, edx)
	tb.sub("bx", 16, ebx)
	tb.sub("bl", 8, ebx)
	st0 := tb.fpreg("st0", 64)
	tb.fpreg("st1", 64)
	tb.flag("zf")
	tb.flag("sf")
	tb.flag("cf")
	tb.flag("of")

	a := &ABI{
		arch:                  ArchX86,
		conv:                  conv,
		wordBits:              32,
		stackDir:              AscendingFromSP,
		maxRegsPerParam:       1,
		firstStackParamOffset: 4, // past the pushed return address
		returnGPRs:            []Reg{eax, edx},
		returnFPRs:            []Reg{st0},
		regs:                  tb.regs,
		byName:                tb.byName,
	}

	switch conv {
	case ConvDefault, ConvCdecl, ConvStdcall:
		// stack only
	case ConvFastcall:
		a.paramGPRs = []Reg{ecx, edx}
	case ConvWatcom:
		a.paramGPRs = []Reg{eax, edx, ebx, ecx}
	default:
		return nil, fmt.Errorf("abi: x86 has no %d calling convention table", conv)
	}
	return a, nil
}
