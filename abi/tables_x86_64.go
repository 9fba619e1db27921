package abi

import "fmt"

// x86-64 System V: integer args RDI, RSI, RDX, RCX, R8, R9 and float
// args XMM0-XMM7; return RAX (RDX high half), XMM0. Microsoft x64:
// RCX, RDX, R8, R9 / XMM0-XMM3; return RAX, XMM0.
func newX86_64(conv CallConv) (*ABI, error) {
	tb := newTableBuilder()

	rax := tb.reg("rax", 64)
	rcx := tb.reg("rcx", 64)
	rdx := tb.reg("rdx", 64)
	rbx := tb.reg("rbx", 64)
	tb.spreg("rsp", 64)
	tb.reg("rbp", 64)
	rsi := tb.reg("rsi", 64)
	rdi := tb.reg("rdi", 64)
	r8 := tb.reg("r8", 64)
	r9 := tb.reg("r9", 64)
	for _, n := range []string{"r10", "r11", "r12", "r13", "r14", "r15"} {
		tb.reg(n, 64)
	}
	tb.sub("eax", 32, rax)
	tb.sub("ecx", 32, rcx)
	tb.sub("edx", 32, rdx)
	tb.sub("ebx", 32, rbx)
	tb.sub("esi", 32, rsi)
	tb.sub("edi", 32, rdi)
	tb.sub("r8d", 32, r8)
	tb.sub("r9d", 32, r9)

	var xmm []Reg
	for i := 0; i < 8; i++ {
		xmm = append(xmm, tb.fpreg(fmt.Sprintf("xmm%d", i), 64))
	}
	tb.flag("zf")
	tb.flag("sf")
	tb.flag("cf")
	tb.flag("of")

	a := &ABI{
		arch:                  ArchX86_64,
		conv:                  conv,
		wordBits:              64,
		stackDir:              AscendingFromSP,
		maxRegsPerParam:       1,
		firstStackParamOffset: 8, // past the pushed return address
		returnGPRs:            []Reg{rax, rdx},
		returnFPRs:            []Reg{xmm[0]},
		regs:                  tb.regs,
		byName:                tb.byName,
	}

	switch conv {
	case ConvDefault, ConvSysV:
		a.paramGPRs = []Reg{rdi, rsi, rdx, rcx, r8, r9}
		a.paramFPRs = xmm[:8]
	case ConvMicrosoft:
		a.paramGPRs = []Reg{rcx, rdx, r8, r9}
		a.paramFPRs = xmm[:4]
		a.returnGPRs = []Reg{rax}
	default:
		return nil, fmt.Errorf("abi: x86-64 has no %d calling convention table", conv)
	}
	return a, nil
}
