// Package abi holds the per-architecture calling-convention tables:
// parameter and return registers in ABI order, stack parameter
// conventions, word size, and the sub-register aliasing map. Tables
// are immutable; one ABI value per (architecture, convention) pair is
// shared read-only by all passes.
package abi

import (
	"fmt"

	"github.com/binlift/binlift/ir"
)

// Arch identifies a machine architecture.
type Arch uint8

const (
	ArchUnknown Arch = iota
	ArchX86
	ArchX86_64
	ArchAArch64
	ArchARM
	ArchMIPS
	ArchPowerPC
)

var archNames = map[Arch]string{
	ArchX86:     "x86",
	ArchX86_64:  "x86-64",
	ArchAArch64: "aarch64",
	ArchARM:     "arm",
	ArchMIPS:    "mips",
	ArchPowerPC: "powerpc",
}

func (a Arch) String() string {
	if n, ok := archNames[a]; ok {
		return n
	}
	return "unknown"
}

// ParseArch maps a configuration name to an Arch.
func ParseArch(name string) (Arch, bool) {
	for a, n := range archNames {
		if n == name {
			return a, true
		}
	}
	return ArchUnknown, false
}

// CallConv selects one of the recognized calling conventions of an
// architecture.
type CallConv uint8

const (
	ConvDefault CallConv = iota
	ConvCdecl
	ConvStdcall
	ConvFastcall
	ConvWatcom
	ConvSysV
	ConvMicrosoft
)

// StackDir is the direction stack parameters grow in, viewed from the
// stack pointer at call time.
type StackDir uint8

const (
	AscendingFromSP StackDir = iota
	DescendingFromSP
)

// Reg is an architecture register id, scoped to one ABI table.
type Reg uint16

// NoReg is the zero Reg; table ids start at 1 so that a Global with
// Reg==0 is "not a register".
const NoReg Reg = 0

type regDef struct {
	name   string
	bits   uint16
	parent Reg // self for full-width registers
	fp     bool
	flag   bool
	sp     bool
	lr     bool
}

// ABI is one immutable calling-convention table.
type ABI struct {
	arch Arch
	conv CallConv

	wordBits        uint16
	stackDir        StackDir
	maxRegsPerParam int

	// First incoming stack-parameter offset on the callee side
	// (bytes above the frame base: past the return address on x86).
	firstStackParamOffset int64

	paramGPRs  []Reg
	paramFPRs  []Reg
	returnGPRs []Reg
	returnFPRs []Reg

	regs   []regDef // index Reg-1
	byName map[string]Reg
}

// New returns the ABI table for the architecture/convention pair, or
// a configuration error when no table is known. This is the fatal
// error of the pipeline: callers must not continue without an ABI.
func New(arch Arch, conv CallConv) (*ABI, error) {
	switch arch {
	case ArchX86:
		return newX86(conv)
	case ArchX86_64:
		return newX86_64(conv)
	case ArchAArch64:
		return newAArch64()
	case ArchARM:
		return newARM()
	case ArchMIPS:
		return newMIPS()
	case ArchPowerPC:
		return newPowerPC()
	}
	return nil, fmt.Errorf("abi: no table for architecture %q", arch)
}

func (a *ABI) Arch() Arch              { return a.arch }
func (a *ABI) Conv() CallConv          { return a.conv }
func (a *ABI) WordBits() uint16        { return a.wordBits }
func (a *ABI) WordType() ir.Type      { return ir.IntT(a.wordBits) }
func (a *ABI) StackParamDir() StackDir { return a.stackDir }

// MaxRegsPerParam is how many consecutive parameter registers may be
// paired to carry one wider-than-word parameter (2 on ARM AAPCS).
func (a *ABI) MaxRegsPerParam() int { return a.maxRegsPerParam }

// FirstStackParamOffset is the callee-side frame offset of the first
// stack-carried parameter.
func (a *ABI) FirstStackParamOffset() int64 { return a.firstStackParamOffset }

func (a *ABI) ParamGPRs() []Reg  { return a.paramGPRs }
func (a *ABI) ParamFPRs() []Reg  { return a.paramFPRs }
func (a *ABI) ReturnGPRs() []Reg { return a.returnGPRs }
func (a *ABI) ReturnFPRs() []Reg { return a.returnFPRs }

func (a *ABI) def(r Reg) *regDef {
	if r == NoReg || int(r) > len(a.regs) {
		panic(fmt.Sprintf("abi: bad register id %d", r))
	}
	return &a.regs[r-1]
}

// RegByName resolves a register name (parent or sub-register).
func (a *ABI) RegByName(name string) (Reg, bool) {
	r, ok := a.byName[name]
	return r, ok
}

// RegName returns the canonical name of r.
func (a *ABI) RegName(r Reg) string { return a.def(r).name }

// RegBits returns the width of r.
func (a *ABI) RegBits(r Reg) uint16 { return a.def(r).bits }

// ParentOf returns the full-width alias of a sub-register, or r
// itself when it is full width.
func (a *ABI) ParentOf(r Reg) Reg {
	d := a.def(r)
	if d.parent == NoReg {
		return r
	}
	return d.parent
}

func (a *ABI) IsFlag(r Reg) bool         { return a.def(r).flag }
func (a *ABI) IsStackPointer(r Reg) bool { return a.def(r).sp }
func (a *ABI) IsLinkRegister(r Reg) bool { return a.def(r).lr }
func (a *ABI) IsFP(r Reg) bool           { return a.def(r).fp }

// ParamRegIndex returns the position of r in the GPR or FP parameter
// sequence, or -1.
func (a *ABI) ParamRegIndex(r Reg, fp bool) int {
	seq := a.paramGPRs
	if fp {
		seq = a.paramFPRs
	}
	for i, pr := range seq {
		if pr == r {
			return i
		}
	}
	return -1
}

// IsParamReg reports whether r belongs to either parameter sequence.
func (a *ABI) IsParamReg(r Reg) bool {
	return a.ParamRegIndex(r, false) >= 0 || a.ParamRegIndex(r, true) >= 0
}

// IsReturnReg reports whether r belongs to either return sequence.
func (a *ABI) IsReturnReg(r Reg) bool {
	for _, rr := range a.returnGPRs {
		if rr == r {
			return true
		}
	}
	for _, rr := range a.returnFPRs {
		if rr == r {
			return true
		}
	}
	return false
}

// RegisterGlobals creates the module globals for every full-width
// register of the table (sub-registers are views, not locations) and
// tags them with their roles. Safe to call on a module that already
// has some of the globals.
func (a *ABI) RegisterGlobals(m *ir.Module) {
	for i := range a.regs {
		d := &a.regs[i]
		if d.parent != NoReg {
			continue
		}
		if m.GlobalByName(d.name) != nil {
			continue
		}
		role := ir.RoleRegister
		switch {
		case d.flag:
			role = ir.RoleFlag
		case d.sp:
			role = ir.RoleStackPointer
		}
		t := ir.IntT(d.bits)
		if d.fp {
			t = ir.FloatT(d.bits)
		}
		m.AddGlobal(d.name, t, role, uint(Reg(i+1)))
	}
}

// RegGlobal resolves the module global of a register, following the
// sub-register map to the parent location.
func (a *ABI) RegGlobal(m *ir.Module, r Reg) *ir.Global {
	return m.GlobalByName(a.RegName(a.ParentOf(r)))
}

// tableBuilder accumulates register definitions for one table.
type tableBuilder struct {
	regs   []regDef
	byName map[string]Reg
}

func newTableBuilder() *tableBuilder {
	return &tableBuilder{byName: make(map[string]Reg)}
}

func (tb *tableBuilder) add(d regDef) Reg {
	tb.regs = append(tb.regs, d)
	r := Reg(len(tb.regs))
	tb.byName[d.name] = r
	return r
}

func (tb *tableBuilder) reg(name string, bits uint16) Reg {
	return tb.add(regDef{name: name, bits: bits})
}

func (tb *tableBuilder) sub(name string, bits uint16, parent Reg) Reg {
	return tb.add(regDef{name: name, bits: bits, parent: parent})
}

func (tb *tableBuilder) fpreg(name string, bits uint16) Reg {
	return tb.add(regDef{name: name, bits: bits, fp: true})
}

func (tb *tableBuilder) flag(name string) Reg {
	return tb.add(regDef{name: name, bits: 1, flag: true})
}

func (tb *tableBuilder) spreg(name string, bits uint16) Reg {
	return tb.add(regDef{name: name, bits: bits, sp: true})
}

func (tb *tableBuilder) lrreg(name string, bits uint16) Reg {
	return tb.add(regDef{name: name, bits: bits, lr: true})
}
