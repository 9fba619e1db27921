package paramret

import (
	"golang.org/x/exp/slices"

	"github.com/binlift/binlift/abi"
	"github.com/binlift/binlift/analysis/rda"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/typeinfo"
)

// argLoc is one surviving argument location of an entry, in final
// argument order.
type argLoc struct {
	stack bool
	reg   abi.Reg // parent register, when !stack
	fp    bool
	off   int64 // frame offset, when stack

	// register pair carrying one wider-than-word argument
	pair bool
	reg2 abi.Reg

	// observed evidence for type inference
	width uint16
	float bool
}

// callEntry is the caller-side view of one call site.
type callEntry struct {
	caller *ir.Function
	call   ir.InstrID

	// nearest unshadowed store per location on every path into the
	// call
	argStores map[rda.Loc]ir.InstrID
	// loads of return locations after the call, before any
	// intervening store
	retLoads []ir.InstrID

	// specTypes are the call-site argument types when a variadic
	// format string refined them.
	specTypes []ir.Type

	// newCall is the rewritten typed call replacing the original.
	newCall ir.InstrID
}

// returnEntry is the callee-side view of one ret: the stores into
// return locations that reach it.
type returnEntry struct {
	ret    ir.InstrID
	stores []ir.InstrID
}

// dataFlowEntry aggregates everything known about one call target.
type dataFlowEntry struct {
	p   *Pass
	key entryKey

	fn    *ir.Function // nil for indirect targets
	decl  *typeinfo.Decl
	calls []*callEntry

	// callee-side candidates (defined functions only)
	argLoads   []ir.InstrID
	retEntries []returnEntry

	// results
	argLocs  []argLoc
	argTypes []ir.Type
	retType  ir.Type
	retFP    bool
	variadic bool

	// unavailable marks a function whose dataflow analysis gave up;
	// it keeps no signature and its call sites stay untouched.
	unavailable bool

	wrapped *ir.Function // the function a wrapper forwards to
}

func (e *dataFlowEntry) addCall(caller *ir.Function, call ir.InstrID) {
	ce := &callEntry{
		caller:    caller,
		call:      call,
		argStores: make(map[rda.Loc]ir.InstrID),
		newCall:   ir.NoInstr,
	}
	e.collectCallArgs(ce)
	e.collectCallReturns(ce)
	e.calls = append(e.calls, ce)
}

// collectCallArgs walks backwards from the call gathering the nearest
// store per ABI argument location. The walk leaves a block into its
// predecessor only when that predecessor is unique, so every
// collected store reaches the call on all paths; another call ends
// the walk, since stores behind it belong to that call.
func (e *dataFlowEntry) collectCallArgs(ce *callEntry) {
	m := e.p.m
	preds := m.Preds(ce.caller)
	seen := map[ir.BlockID]bool{}

	blk := m.Instr(ce.call).Block
	start := slices.Index(m.Block(blk).Instrs, ce.call) - 1

	for {
		if seen[blk] {
			return
		}
		seen[blk] = true
		instrs := m.Block(blk).Instrs
		for i := start; i >= 0; i-- {
			in := m.Instr(instrs[i])
			if in.Op == ir.OpCall {
				return
			}
			if in.Op != ir.OpStore {
				continue
			}
			loc, ok := rda.LocOfAddr(m, ce.caller, in.Args[1])
			if !ok || !e.isArgCandidateLoc(loc) {
				continue
			}
			if _, have := ce.argStores[loc]; !have {
				ce.argStores[loc] = in.ID
			}
		}
		ps := preds[blk]
		if len(ps) != 1 {
			return
		}
		blk = ps[0]
		start = len(m.Block(blk).Instrs) - 1
	}
}

// isArgCandidateLoc accepts parameter registers and stack slots.
func (e *dataFlowEntry) isArgCandidateLoc(loc rda.Loc) bool {
	switch loc.Kind {
	case rda.LocReg:
		r, ok := e.p.regOfGlobal(loc.Global)
		return ok && e.p.ab.IsParamReg(r)
	case rda.LocStack:
		return true
	}
	return false
}

// collectCallReturns scans forward from the call for loads of return
// locations, stopping per location at the first intervening store.
// The scan follows unique successors so the loads stay dominated by
// the call.
func (e *dataFlowEntry) collectCallReturns(ce *callEntry) {
	m := e.p.m
	ab := e.p.ab
	stored := map[rda.Loc]bool{}
	seen := map[ir.BlockID]bool{}

	blk := m.Instr(ce.call).Block
	start := slices.Index(m.Block(blk).Instrs, ce.call) + 1

	for {
		if seen[blk] {
			return
		}
		seen[blk] = true
		instrs := m.Block(blk).Instrs
		for i := start; i < len(instrs); i++ {
			in := m.Instr(instrs[i])
			switch in.Op {
			case ir.OpCall:
				return
			case ir.OpStore:
				if loc, ok := rda.LocOfAddr(m, ce.caller, in.Args[1]); ok {
					stored[loc] = true
				}
			case ir.OpLoad:
				loc, ok := rda.LocOfAddr(m, ce.caller, in.Args[0])
				if !ok || loc.Kind != rda.LocReg || stored[loc] {
					continue
				}
				if r, isReg := e.p.regOfGlobal(loc.Global); isReg && ab.IsReturnReg(r) {
					ce.retLoads = append(ce.retLoads, in.ID)
				}
			}
		}
		succs := m.Succs(blk)
		if len(succs) != 1 {
			return
		}
		blk = succs[0]
		start = 0
	}
}

// addArgLoads collects the callee-side candidates: entry-block loads
// of ABI parameter locations with no store in front of them.
func (e *dataFlowEntry) addArgLoads() {
	m := e.p.m
	entry := e.fn.Entry()
	stored := map[rda.Loc]bool{}
	for _, iid := range m.Block(entry).Instrs {
		in := m.Instr(iid)
		switch in.Op {
		case ir.OpStore:
			if loc, ok := rda.LocOfAddr(m, e.fn, in.Args[1]); ok {
				stored[loc] = true
			}
		case ir.OpLoad:
			loc, ok := rda.LocOfAddr(m, e.fn, in.Args[0])
			if !ok || stored[loc] || !e.isArgCandidateLoc(loc) {
				continue
			}
			e.argLoads = append(e.argLoads, iid)
		}
	}
}

// addRetStores collects, per ret, the stores into return locations
// that reach it. With the analysis unavailable the function keeps no
// return candidates at all.
func (e *dataFlowEntry) addRetStores() {
	m := e.p.m
	res := e.p.rdaFor[e.fn.ID]
	if res == nil {
		return
	}
	retLocs := e.p.returnLocs()
	for _, bid := range e.fn.Blocks {
		blk := m.Block(bid)
		if blk.TranslationError || len(blk.Instrs) == 0 {
			continue
		}
		last := blk.Instrs[len(blk.Instrs)-1]
		if m.Instr(last).Op != ir.OpRet {
			continue
		}
		re := returnEntry{ret: last}
		for _, loc := range retLocs {
			defs := res.DefsReaching(last, loc)
			ids := defs.ToSlice()
			slices.Sort(ids)
			re.stores = append(re.stores, ids...)
		}
		e.retEntries = append(e.retEntries, re)
	}
}

// regOfGlobal maps a global back to its ABI register id.
func (p *Pass) regOfGlobal(g ir.GlobalID) (abi.Reg, bool) {
	gl := p.m.Global(g)
	if gl.Reg == 0 {
		return abi.NoReg, false
	}
	return abi.Reg(gl.Reg), true
}

// returnLocs lists the GPR and FP return locations of the ABI that
// exist in the module.
func (p *Pass) returnLocs() []rda.Loc {
	var out []rda.Loc
	for _, r := range p.ab.ReturnGPRs() {
		if g := p.ab.RegGlobal(p.m, r); g != nil {
			out = append(out, rda.RegLoc(g.ID))
		}
	}
	for _, r := range p.ab.ReturnFPRs() {
		if g := p.ab.RegGlobal(p.m, r); g != nil {
			out = append(out, rda.RegLoc(g.ID))
		}
	}
	return out
}
