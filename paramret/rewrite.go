package paramret

import (
	"github.com/binlift/binlift/analysis/rda"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/log"
)

// applyToIR rewrites the IR for one entry: call sites receive
// explicit typed arguments loaded from their locations immediately
// before the call, with the result stored back to the return
// location; a defined function gets its signature installed and an
// entry preamble storing incoming parameters into the locations its
// body reads.
func (e *dataFlowEntry) applyToIR() {
	if e.unavailable {
		return
	}
	for _, ce := range e.calls {
		e.rewriteCall(ce)
	}
	if e.fn != nil && !e.fn.IsDecl() && !sigKnown(e.fn) {
		e.rewriteFunction()
	}
}

func (e *dataFlowEntry) rewriteCall(ce *callEntry) {
	m := e.p.m

	types := e.argTypes
	locs := e.argLocs
	if len(ce.specTypes) > 0 {
		types = ce.specTypes
		locs = e.layoutForTypes(ce.specTypes)
	}
	if len(types) == 0 && e.retType.IsVoid() && !e.variadic {
		return
	}

	old := m.Instr(ce.call)
	b := m.NewBuilder(old.Block)
	b.SetInsertBefore(ce.call)

	var args []ir.ValueID
	for i, l := range locs {
		args = append(args, e.loadArgAt(b, ce, l, types[i]))
	}

	target := old.Args[0]
	res, newCall := b.Call(target, e.retType, args...)
	ce.newCall = newCall
	if !e.retType.IsVoid() {
		if g := e.returnLocGlobal(); g != nil {
			v := res
			if !m.TypeOf(v).Equal(g.Type) {
				v = b.Bitcast(v, g.Type)
			}
			b.Store(v, g.Addr())
		}
	}
	m.RemoveInstr(ce.call)
}

// loadArgAt materializes one argument value right before the call.
func (e *dataFlowEntry) loadArgAt(b *ir.Builder, ce *callEntry, l argLoc, t ir.Type) ir.ValueID {
	m := e.p.m
	switch {
	case l.pair:
		// join the register pair: low | (high << word)
		wide := ir.IntT(e.p.ab.WordBits() * 2)
		g1 := e.p.ab.RegGlobal(m, l.reg)
		g2 := e.p.ab.RegGlobal(m, l.reg2)
		lo := b.Bitcast(b.Load(g1.Addr(), g1.Type), wide)
		hi := b.Bitcast(b.Load(g2.Addr(), g2.Type), wide)
		sh := m.ConstU64(wide, uint64(e.p.ab.WordBits()))
		v := b.Bin(ir.OpOr, lo, b.Bin(ir.OpShl, hi, sh))
		if !m.TypeOf(v).Equal(t) {
			v = b.Bitcast(v, t)
		}
		return v
	case !l.stack:
		g := e.p.ab.RegGlobal(m, l.reg)
		v := b.Load(g.Addr(), g.Type)
		if !g.Type.Equal(t) {
			v = b.Bitcast(v, t)
		}
		return v
	default:
		addr := e.stackSlotAddr(b, ce, l)
		elem := m.TypeOf(addr).Pointee()
		v := b.Load(addr, elem)
		if !elem.Equal(t) {
			v = b.Bitcast(v, t)
		}
		return v
	}
}

// stackSlotAddr finds the caller's slot for a stack argument: the
// destination of the collected store when there is one, otherwise a
// fresh slot in the caller's entry block.
func (e *dataFlowEntry) stackSlotAddr(b *ir.Builder, ce *callEntry, l argLoc) ir.ValueID {
	m := e.p.m
	for loc, sid := range ce.argStores {
		if loc.Kind == rda.LocStack && loc.Off == l.off {
			return m.Instr(sid).Args[1]
		}
	}
	// No store was seen; the slot still must exist for the call to be
	// well formed.
	t := ir.IntT(e.p.ab.WordBits())
	if l.width > 0 {
		t = ir.IntT(l.width)
	}
	entry := ce.caller.Entry()
	eb := m.NewBuilder(entry)
	if instrs := m.Block(entry).Instrs; len(instrs) > 0 {
		eb.SetInsertBefore(instrs[0])
	}
	return eb.Alloca(t)
}

// returnLocGlobal is the first ABI return location of the matching
// bank.
func (e *dataFlowEntry) returnLocGlobal() *ir.Global {
	regs := e.p.ab.ReturnGPRs()
	if e.retType.IsFloat() || e.retFP {
		regs = e.p.ab.ReturnFPRs()
	}
	if len(regs) == 0 {
		return nil
	}
	return e.p.ab.RegGlobal(e.p.m, regs[0])
}

// rewriteFunction installs the signature, stores incoming parameters
// into their ABI locations at the top of the entry block, and makes
// every return pass the value from the return location explicitly.
func (e *dataFlowEntry) rewriteFunction() {
	m := e.p.m
	f := e.fn

	m.SetSig(f, ir.Signature{
		Ret:      e.retType,
		Params:   append([]ir.Type(nil), e.argTypes...),
		Variadic: e.variadic,
	})
	log.Debug("Recovered signature", "func", f.Name, "sig", f.Sig)

	if len(e.argLocs) > 0 {
		entry := f.Entry()
		b := m.NewBuilder(entry)
		if instrs := m.Block(entry).Instrs; len(instrs) > 0 {
			b.SetInsertBefore(instrs[0])
		}
		for i, l := range e.argLocs {
			if i >= len(f.Sig.Params) {
				break
			}
			e.storeParamAt(b, f.Param(i), l)
		}
	}

	if !e.retType.IsVoid() {
		g := e.returnLocGlobal()
		for _, bid := range f.Blocks {
			blk := m.Block(bid)
			if blk.TranslationError || len(blk.Instrs) == 0 {
				continue
			}
			last := blk.Instrs[len(blk.Instrs)-1]
			ret := m.Instr(last)
			if ret.Op != ir.OpRet || len(ret.Args) > 0 {
				continue
			}
			b := m.NewBuilder(bid)
			b.SetInsertBefore(last)
			var v ir.ValueID
			if g != nil {
				v = b.Load(g.Addr(), g.Type)
				if !g.Type.Equal(e.retType) {
					v = b.Bitcast(v, e.retType)
				}
			} else {
				v = m.ConstU64(ir.IntT(e.p.ab.WordBits()), 0)
			}
			m.RemoveInstr(last)
			b2 := m.NewBuilder(bid)
			b2.Ret(v)
		}
	}
}

// storeParamAt spills one incoming parameter into the location the
// body reads: its register, register pair, or stack slot.
func (e *dataFlowEntry) storeParamAt(b *ir.Builder, param ir.ValueID, l argLoc) {
	m := e.p.m
	switch {
	case l.pair:
		word := e.p.ab.WordBits()
		g1 := e.p.ab.RegGlobal(m, l.reg)
		g2 := e.p.ab.RegGlobal(m, l.reg2)
		wide := m.TypeOf(param)
		lo := b.Bitcast(param, g1.Type)
		hi := b.Bitcast(b.Bin(ir.OpLShr, param, m.ConstU64(wide, uint64(word))), g2.Type)
		b.Store(lo, g1.Addr())
		b.Store(hi, g2.Addr())
	case !l.stack:
		g := e.p.ab.RegGlobal(m, l.reg)
		v := param
		if !m.TypeOf(v).Equal(g.Type) {
			v = b.Bitcast(v, g.Type)
		}
		b.Store(v, g.Addr())
	default:
		addr := e.calleeStackSlot(b, l)
		v := param
		elem := m.TypeOf(addr).Pointee()
		if !m.TypeOf(v).Equal(elem) {
			v = b.Bitcast(v, elem)
		}
		b.Store(v, addr)
	}
}

// calleeStackSlot finds (or creates) the callee's allocation at the
// given incoming-argument offset.
func (e *dataFlowEntry) calleeStackSlot(b *ir.Builder, l argLoc) ir.ValueID {
	m := e.p.m
	for iid, off := range e.fn.StackOffsets {
		if off == l.off {
			in := m.Instr(iid)
			if in.Op == ir.OpAlloca {
				return in.Result()
			}
		}
	}
	t := ir.IntT(e.p.ab.WordBits())
	if l.width > 0 {
		t = ir.IntT(l.width)
	}
	slot := b.Alloca(t)
	e.fn.StackOffsets[m.Value(slot).Instr] = l.off
	return slot
}
