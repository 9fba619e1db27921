// Package lifter defines the decoded machine-instruction model the
// per-architecture translators consume, and the translator interface
// itself. The operand grammar follows the AArch64 reference surface:
// immediates, registers (plain, shifted, extended), memory operands
// with optional index/extend/writeback, and PC-relative labels.
//
// Disassembly itself is out of scope; the stream arriving here is
// already decoded.
package lifter

import "github.com/binlift/binlift/ir"

// Mnemonic is a decoded opcode name. The set covers the AArch64
// surface the translator implements; anything outside it degrades to
// an opaque intrinsic.
type Mnemonic uint16

const (
	MnUnknown Mnemonic = iota

	// Data processing, immediate and register.
	MnMOV
	MnMOVZ
	MnMOVN
	MnMOVK
	MnMVN
	MnADD
	MnADDS
	MnSUB
	MnSUBS
	MnADC
	MnADCS
	MnSBC
	MnSBCS
	MnNEG
	MnNEGS
	MnCMP
	MnCMN
	MnAND
	MnANDS
	MnORR
	MnEOR
	MnBIC
	MnBICS
	MnORN
	MnEON
	MnTST
	MnLSL
	MnLSR
	MnASR
	MnROR
	MnMUL
	MnMNEG
	MnMADD
	MnMSUB
	MnSMULL
	MnUMULL
	MnSDIV
	MnUDIV
	MnSXTB
	MnSXTH
	MnSXTW
	MnUXTB
	MnUXTH

	// Loads and stores.
	MnLDR
	MnLDRB
	MnLDRH
	MnLDRSB
	MnLDRSH
	MnLDRSW
	MnSTR
	MnSTRB
	MnSTRH
	MnLDP
	MnLDPSW
	MnSTP

	// PC-relative.
	MnADR
	MnADRP

	// Control flow.
	MnB // conditional when Instruction.Cond != CondAL
	MnBL
	MnBR
	MnBLR
	MnRET
	MnCBZ
	MnCBNZ
	MnTBZ
	MnTBNZ
	MnCSEL
	MnCSINC
	MnCSINV
	MnCSNEG
	MnCSET
	MnCSETM
	MnCINC
	MnNOP
)

var mnemonicNames = map[Mnemonic]string{
	MnMOV: "mov", MnMOVZ: "movz", MnMOVN: "movn", MnMOVK: "movk", MnMVN: "mvn",
	MnADD: "add", MnADDS: "adds", MnSUB: "sub", MnSUBS: "subs",
	MnADC: "adc", MnADCS: "adcs", MnSBC: "sbc", MnSBCS: "sbcs",
	MnNEG: "neg", MnNEGS: "negs", MnCMP: "cmp", MnCMN: "cmn",
	MnAND: "and", MnANDS: "ands", MnORR: "orr", MnEOR: "eor",
	MnBIC: "bic", MnBICS: "bics", MnORN: "orn", MnEON: "eon", MnTST: "tst",
	MnLSL: "lsl", MnLSR: "lsr", MnASR: "asr", MnROR: "ror",
	MnMUL: "mul", MnMNEG: "mneg", MnMADD: "madd", MnMSUB: "msub",
	MnSMULL: "smull", MnUMULL: "umull", MnSDIV: "sdiv", MnUDIV: "udiv",
	MnSXTB: "sxtb", MnSXTH: "sxth", MnSXTW: "sxtw", MnUXTB: "uxtb", MnUXTH: "uxth",
	MnLDR: "ldr", MnLDRB: "ldrb", MnLDRH: "ldrh", MnLDRSB: "ldrsb",
	MnLDRSH: "ldrsh", MnLDRSW: "ldrsw", MnSTR: "str", MnSTRB: "strb", MnSTRH: "strh",
	MnLDP: "ldp", MnLDPSW: "ldpsw", MnSTP: "stp",
	MnADR: "adr", MnADRP: "adrp",
	MnB: "b", MnBL: "bl", MnBR: "br", MnBLR: "blr", MnRET: "ret",
	MnCBZ: "cbz", MnCBNZ: "cbnz", MnTBZ: "tbz", MnTBNZ: "tbnz",
	MnCSEL: "csel", MnCSINC: "csinc", MnCSINV: "csinv", MnCSNEG: "csneg",
	MnCSET: "cset", MnCSETM: "csetm", MnCINC: "cinc", MnNOP: "nop",
}

func (m Mnemonic) String() string {
	if n, ok := mnemonicNames[m]; ok {
		return n
	}
	return "unknown"
}

var mnemonicsByName = func() map[string]Mnemonic {
	out := make(map[string]Mnemonic, len(mnemonicNames))
	for m, n := range mnemonicNames {
		out[n] = m
	}
	return out
}()

// ParseMnemonic resolves a lowercase mnemonic name; unknown names map
// to MnUnknown (which lifts as an opaque intrinsic).
func ParseMnemonic(s string) Mnemonic {
	if m, ok := mnemonicsByName[s]; ok {
		return m
	}
	return MnUnknown
}

// ParseCond resolves a lowercase condition name ("hs"/"lo" aliases
// included); anything unrecognized is AL.
func ParseCond(s string) Cond {
	switch s {
	case "hs":
		return CondCS
	case "lo":
		return CondCC
	}
	for i, n := range condNames {
		if n == s {
			return Cond(i)
		}
	}
	return CondAL
}

// Cond is an ARM condition-code predicate.
type Cond uint8

const (
	CondEQ Cond = iota // Z
	CondNE             // !Z
	CondCS             // C (alias HS)
	CondCC             // !C (alias LO)
	CondMI             // N
	CondPL             // !N
	CondVS             // V
	CondVC             // !V
	CondHI             // C && !Z
	CondLS             // !C || Z
	CondGE             // N == V
	CondLT             // N != V
	CondGT             // !Z && N == V
	CondLE             // Z || N != V
	CondAL             // always
)

var condNames = [...]string{
	"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "al",
}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "cond?"
}

// Invert returns the negated condition. AL has no inverse and is
// returned unchanged.
func (c Cond) Invert() Cond {
	if c == CondAL {
		return c
	}
	return c ^ 1
}

// OperandKind discriminates operand categories.
type OperandKind uint8

const (
	OpndImm OperandKind = iota
	OpndReg
	OpndMem
	OpndLabel
)

// ShiftKind is an operand shift modifier.
type ShiftKind uint8

const (
	ShiftNone ShiftKind = iota
	ShiftLSL
	ShiftLSR
	ShiftASR
	ShiftROR
)

// Extend is an operand extension modifier ({U,S}XT{B,H,W,X}).
type Extend uint8

const (
	ExtNone Extend = iota
	ExtUXTB
	ExtUXTH
	ExtUXTW
	ExtUXTX
	ExtSXTB
	ExtSXTH
	ExtSXTW
	ExtSXTX
)

// Bits returns the source width of the extension.
func (e Extend) Bits() uint16 {
	switch e {
	case ExtUXTB, ExtSXTB:
		return 8
	case ExtUXTH, ExtSXTH:
		return 16
	case ExtUXTW, ExtSXTW:
		return 32
	case ExtUXTX, ExtSXTX:
		return 64
	}
	return 0
}

// Signed reports whether the extension sign-extends.
func (e Extend) Signed() bool {
	return e >= ExtSXTB
}

// WritebackMode selects pre-/post-indexed addressing.
type WritebackMode uint8

const (
	WbNone WritebackMode = iota
	WbPre                // [base, #off]!  base updated before the access is visible
	WbPost               // [base], #off   base used as-is, then updated
)

// Operand is one decoded operand.
type Operand struct {
	Kind OperandKind

	// OpndImm
	Imm int64

	// OpndReg, with optional shift or extension modifier.
	Reg      string
	Shift    ShiftKind
	ShiftAmt uint8
	Ext      Extend
	ExtShift uint8

	// OpndMem: [Base{, Disp | Index{, Ext #ExtShift | Shift #ShiftAmt}}]{!}
	Base      string
	Index     string
	Disp      int64
	Writeback WritebackMode

	// OpndLabel
	Target uint64
}

// Imm returns an immediate operand.
func Imm(v int64) Operand { return Operand{Kind: OpndImm, Imm: v} }

// Reg returns a plain register operand.
func Reg(name string) Operand { return Operand{Kind: OpndReg, Reg: name} }

// ShiftedReg returns a register operand with a shift modifier.
func ShiftedReg(name string, kind ShiftKind, amt uint8) Operand {
	return Operand{Kind: OpndReg, Reg: name, Shift: kind, ShiftAmt: amt}
}

// ExtReg returns a register operand with an extension modifier.
func ExtReg(name string, ext Extend, shift uint8) Operand {
	return Operand{Kind: OpndReg, Reg: name, Ext: ext, ExtShift: shift}
}

// Mem returns a base+displacement memory operand.
func Mem(base string, disp int64) Operand {
	return Operand{Kind: OpndMem, Base: base, Disp: disp}
}

// MemWb returns a pre- or post-indexed memory operand.
func MemWb(base string, disp int64, mode WritebackMode) Operand {
	return Operand{Kind: OpndMem, Base: base, Disp: disp, Writeback: mode}
}

// MemIdx returns a base+index memory operand with an optional extend.
func MemIdx(base, index string, ext Extend, shift uint8) Operand {
	return Operand{Kind: OpndMem, Base: base, Index: index, Ext: ext, ExtShift: shift}
}

// Label returns a PC-relative label operand.
func Label(target uint64) Operand { return Operand{Kind: OpndLabel, Target: target} }

// Instruction is one decoded machine instruction.
type Instruction struct {
	Addr     uint64
	Mnemonic Mnemonic
	Cond     Cond // B.cond / CSEL family; CondAL otherwise
	Operands []Operand
}

// Translator lifts a decoded instruction stream into an IR function.
// Output order matches input order; translation is deterministic.
type Translator interface {
	// TranslateFunc lifts insns into a new function named name. The
	// stream must be the body of a single function in address order.
	TranslateFunc(name string, insns []Instruction) (*ir.Function, error)
}
