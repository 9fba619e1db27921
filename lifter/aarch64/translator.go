// Package aarch64 lifts decoded AArch64 instructions into the IR.
// Each opcode translates to a fixed, deterministic instruction
// sequence; condition flags, addressing-mode writeback, and the
// W-register zero-extension rule are modeled explicitly.
package aarch64

import (
	"fmt"

	"github.com/binlift/binlift/abi"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
	"github.com/binlift/binlift/log"
)

// Translator lifts AArch64 instruction streams into one IR module.
// It tracks the functions it has created by entry address so that
// direct calls between translated functions resolve to references.
type Translator struct {
	m  *ir.Module
	ab *abi.ABI

	funcsByAddr map[uint64]*ir.Function

	unknownSeen log.EveryN
}

// NewTranslator returns a translator emitting into m. The ABI table
// must be the AArch64 one; all of its register globals are created in
// m here.
func NewTranslator(m *ir.Module, ab *abi.ABI) *Translator {
	ab.RegisterGlobals(m)
	return &Translator{
		m:           m,
		ab:          ab,
		funcsByAddr: map[uint64]*ir.Function{},
	}
}

// FuncAt returns the function whose entry is at addr, declaring a
// stub named fn_<addr> when none exists yet.
func (t *Translator) FuncAt(addr uint64) *ir.Function {
	if f, ok := t.funcsByAddr[addr]; ok {
		return f
	}
	name := fmt.Sprintf("fn_%x", addr)
	f := t.m.FuncByName(name)
	if f == nil {
		f = t.m.NewFunc(name)
	}
	t.funcsByAddr[addr] = f
	return f
}

// TranslateFunc lifts insns, the body of one function in address
// order, into a function named name. Lifter output order matches the
// input instruction order.
func (t *Translator) TranslateFunc(name string, insns []lifter.Instruction) (*ir.Function, error) {
	if len(insns) == 0 {
		return nil, fmt.Errorf("aarch64: empty instruction stream for %q", name)
	}

	entry := insns[0].Addr
	f, ok := t.funcsByAddr[entry]
	if !ok {
		f = t.m.NewFunc(name)
		t.funcsByAddr[entry] = f
	} else if !f.IsDecl() {
		return nil, fmt.Errorf("aarch64: function at %#x already translated", entry)
	}

	c := &fnctx{t: t, m: t.m, ab: t.ab, f: f, insns: insns}
	c.scanBlocks()
	c.translate()
	return f, nil
}

// fnctx is the per-function translation state.
type fnctx struct {
	t  *Translator
	m  *ir.Module
	ab *abi.ABI
	f  *ir.Function

	insns  []lifter.Instruction
	blocks map[uint64]ir.BlockID // block start addr -> block

	b  *ir.Builder // current block builder
	pc uint64      // address of the instruction being translated
	// next is the address of the following instruction; used for the
	// link-register value of calls and as conditional fallthrough.
	next uint64
}

// scanBlocks identifies block-start addresses: the entry, every
// in-range branch target, and the instruction after any branch. The
// scan mirrors the two-phase parse the CFG builder uses: stub blocks
// first, instructions second.
func (c *fnctx) scanBlocks() {
	starts := map[uint64]bool{c.insns[0].Addr: true}
	last := c.insns[len(c.insns)-1].Addr
	inRange := func(a uint64) bool {
		return a >= c.insns[0].Addr && a <= last
	}
	for i, in := range c.insns {
		branching := false
		switch in.Mnemonic {
		case lifter.MnB, lifter.MnCBZ, lifter.MnCBNZ, lifter.MnTBZ, lifter.MnTBNZ:
			branching = true
			for _, op := range in.Operands {
				if op.Kind == lifter.OpndLabel && inRange(op.Target) {
					starts[op.Target] = true
				}
			}
		case lifter.MnBR, lifter.MnRET:
			branching = true
		}
		if branching && i+1 < len(c.insns) {
			starts[c.insns[i+1].Addr] = true
		}
	}

	c.blocks = make(map[uint64]ir.BlockID, len(starts))
	// Entry block first; the rest in address order.
	c.blocks[c.insns[0].Addr] = c.m.NewBlock(c.f, blockName(c.insns[0].Addr))
	for _, in := range c.insns {
		if starts[in.Addr] && in.Addr != c.insns[0].Addr {
			if _, ok := c.blocks[in.Addr]; !ok {
				c.blocks[in.Addr] = c.m.NewBlock(c.f, blockName(in.Addr))
			}
		}
	}
}

func blockName(addr uint64) string {
	return fmt.Sprintf("pc_%x", addr)
}

func (c *fnctx) translate() {
	c.b = c.m.NewBuilder(c.blocks[c.insns[0].Addr])
	for i := range c.insns {
		in := &c.insns[i]
		c.pc = in.Addr
		if i+1 < len(c.insns) {
			c.next = c.insns[i+1].Addr
		} else {
			c.next = in.Addr + 4
		}

		if bid, ok := c.blocks[in.Addr]; ok && bid != c.b.Block() {
			// Fall through into the next block when the previous one
			// did not end in a branch.
			if c.m.Terminator(c.b.Block()) == nil {
				c.b.Br(bid)
			}
			c.b = c.m.NewBuilder(bid)
		}

		if err := c.dispatch(in); err != nil {
			// Malformed operands are fatal for this instruction only;
			// the block is marked and downstream passes skip it.
			log.Warn("Translation error", "func", c.f.Name, "pc", c.pc, "mnemonic", in.Mnemonic, "err", err)
			c.m.Block(c.b.Block()).TranslationError = true
		}
	}
	if c.m.Terminator(c.b.Block()) == nil {
		c.b.Ret(ir.NoValue)
	}
}

func (c *fnctx) dispatch(in *lifter.Instruction) error {
	switch in.Mnemonic {
	case lifter.MnNOP:
		return nil
	case lifter.MnMOV:
		return c.translateMov(in)
	case lifter.MnMOVZ, lifter.MnMOVN:
		return c.translateMovImm(in)
	case lifter.MnMOVK:
		return c.translateMovk(in)
	case lifter.MnMVN:
		return c.translateMvn(in)
	case lifter.MnADD, lifter.MnADDS, lifter.MnSUB, lifter.MnSUBS:
		return c.translateAddSub(in)
	case lifter.MnADC, lifter.MnADCS, lifter.MnSBC, lifter.MnSBCS:
		return c.translateAdcSbc(in)
	case lifter.MnNEG, lifter.MnNEGS:
		return c.translateNeg(in)
	case lifter.MnCMP, lifter.MnCMN:
		return c.translateCmp(in)
	case lifter.MnAND, lifter.MnANDS, lifter.MnORR, lifter.MnEOR,
		lifter.MnBIC, lifter.MnBICS, lifter.MnORN, lifter.MnEON:
		return c.translateLogical(in)
	case lifter.MnTST:
		return c.translateTst(in)
	case lifter.MnLSL, lifter.MnLSR, lifter.MnASR, lifter.MnROR:
		return c.translateShift(in)
	case lifter.MnMUL, lifter.MnMNEG, lifter.MnMADD, lifter.MnMSUB:
		return c.translateMul(in)
	case lifter.MnSMULL, lifter.MnUMULL:
		return c.translateMull(in)
	case lifter.MnSXTB, lifter.MnSXTH, lifter.MnSXTW, lifter.MnUXTB, lifter.MnUXTH:
		return c.translateExtend(in)
	case lifter.MnLDR, lifter.MnLDRB, lifter.MnLDRH, lifter.MnLDRSB,
		lifter.MnLDRSH, lifter.MnLDRSW:
		return c.translateLoad(in)
	case lifter.MnSTR, lifter.MnSTRB, lifter.MnSTRH:
		return c.translateStore(in)
	case lifter.MnLDP, lifter.MnLDPSW, lifter.MnSTP:
		return c.translatePair(in)
	case lifter.MnADR, lifter.MnADRP:
		return c.translateAdr(in)
	case lifter.MnB:
		return c.translateB(in)
	case lifter.MnBL, lifter.MnBLR:
		return c.translateCall(in)
	case lifter.MnBR:
		return c.translateBr(in)
	case lifter.MnRET:
		return c.translateRet(in)
	case lifter.MnCBZ, lifter.MnCBNZ:
		return c.translateCbz(in)
	case lifter.MnTBZ, lifter.MnTBNZ:
		return c.translateTbz(in)
	case lifter.MnCSEL, lifter.MnCSINC, lifter.MnCSINV, lifter.MnCSNEG:
		return c.translateCsel(in)
	case lifter.MnCSET, lifter.MnCSETM, lifter.MnCINC:
		return c.translateCset(in)
	default:
		return c.translateIntrinsic(in)
	}
}
