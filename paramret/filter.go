package paramret

import (
	"golang.org/x/exp/slices"

	"github.com/binlift/binlift/analysis/rda"
	"github.com/binlift/binlift/ir"
)

// candSet is the candidate argument locations seen at one site (one
// call, or the callee body), split by bank the way the filters treat
// them.
type candSet struct {
	gprs     []int // ABI parameter-sequence indices, sorted
	fprs     []int
	stacks   []stackCand // sorted by offset
	gprWidth map[int]uint16
	fprWidth map[int]uint16
}

type stackCand struct {
	off   int64
	width uint16
}

func newCandSet() *candSet {
	return &candSet{gprWidth: map[int]uint16{}, fprWidth: map[int]uint16{}}
}

func (cs *candSet) addReg(idx int, fp bool, width uint16) {
	if fp {
		if !slices.Contains(cs.fprs, idx) {
			cs.fprs = append(cs.fprs, idx)
			cs.fprWidth[idx] = width
		}
		return
	}
	if !slices.Contains(cs.gprs, idx) {
		cs.gprs = append(cs.gprs, idx)
		cs.gprWidth[idx] = width
	}
}

func (cs *candSet) addStack(off int64, width uint16) {
	for _, s := range cs.stacks {
		if s.off == off {
			return
		}
	}
	cs.stacks = append(cs.stacks, stackCand{off: off, width: width})
}

func (cs *candSet) sort() {
	slices.Sort(cs.gprs)
	slices.Sort(cs.fprs)
	slices.SortFunc(cs.stacks, func(a, b stackCand) int {
		switch {
		case a.off < b.off:
			return -1
		case a.off > b.off:
			return 1
		}
		return 0
	})
}

// filter runs the candidate filters in their fixed order: continuous
// register prefix and stack continuity per site, sign filter on the
// callee side, then the cross-site register and stack-count filters,
// and finally the known-type adjustment.
func (e *dataFlowEntry) filter() {
	if e.fn != nil && !e.fn.IsDecl() {
		if res, ok := e.p.rdaFor[e.fn.ID]; ok && res == nil {
			e.unavailable = true
			return
		}
	}

	var sets []*candSet

	bodySet := e.bodyCandidates()
	if bodySet != nil {
		sets = append(sets, bodySet)
	} else {
		for _, ce := range e.calls {
			sets = append(sets, e.callCandidates(ce))
		}
	}
	if len(sets) == 0 {
		e.applyKnownTypes()
		return
	}

	for _, cs := range sets {
		cs.sort()
		cs.gprs = prefixFilter(cs.gprs)
		cs.fprs = prefixFilter(cs.fprs)
		cs.stacks = e.stackContinuityFilter(cs.stacks)
	}

	merged := sets[0]
	crossSets := sets
	if bodySet != nil && len(e.calls) > 1 {
		// A defined function called from several sites is additionally
		// constrained by what its callers actually set up.
		for _, ce := range e.calls {
			cc := e.callCandidates(ce)
			cc.sort()
			cc.gprs = prefixFilter(cc.gprs)
			cc.fprs = prefixFilter(cc.fprs)
			cc.stacks = e.stackContinuityFilter(cc.stacks)
			crossSets = append(crossSets, cc)
		}
	}
	// Common-register cross-filter: only registers every site stored
	// survive; the minimum wins.
	for _, cs := range crossSets[1:] {
		merged.gprs = intersect(merged.gprs, cs.gprs)
		merged.fprs = intersect(merged.fprs, cs.fprs)
	}
	merged.gprs = prefixFilter(merged.gprs)
	merged.fprs = prefixFilter(merged.fprs)

	// Equal-stack-count filter: all sites must agree; adopt the
	// minimum.
	minStacks := len(merged.stacks)
	for _, cs := range crossSets[1:] {
		if len(cs.stacks) < minStacks {
			minStacks = len(cs.stacks)
		}
	}
	merged.stacks = merged.stacks[:minStacks]

	e.argLocs = e.locsFromSet(merged)
	e.applyKnownTypes()
}

// bodyCandidates classifies the callee-side argument loads, dropping
// stack slots with the wrong sign (locals).
func (e *dataFlowEntry) bodyCandidates() *candSet {
	if e.fn == nil || e.fn.IsDecl() {
		return nil
	}
	// Body evidence is authoritative for defined functions: an empty
	// set means a provably niladic callee; call-site stores only
	// narrow it further, never widen it.
	cs := newCandSet()
	m := e.p.m
	for _, iid := range e.argLoads {
		in := m.Instr(iid)
		loc, ok := rda.LocOfAddr(m, e.fn, in.Args[0])
		if !ok {
			continue
		}
		switch loc.Kind {
		case rda.LocReg:
			r, isReg := e.p.regOfGlobal(loc.Global)
			if !isReg {
				continue
			}
			fp := e.p.ab.IsFP(r)
			if idx := e.p.ab.ParamRegIndex(r, fp); idx >= 0 {
				cs.addReg(idx, fp, in.Type.Bits)
			}
		case rda.LocStack:
			// Sign filter: only caller-area offsets may be incoming
			// arguments.
			if loc.Off >= e.p.ab.FirstStackParamOffset() {
				cs.addStack(loc.Off, in.Type.Bits)
			}
		}
	}
	return cs
}

// callCandidates classifies the stores collected at one call site.
func (e *dataFlowEntry) callCandidates(ce *callEntry) *candSet {
	cs := newCandSet()
	m := e.p.m
	for loc, sid := range ce.argStores {
		st := m.Instr(sid)
		switch loc.Kind {
		case rda.LocReg:
			r, isReg := e.p.regOfGlobal(loc.Global)
			if !isReg {
				continue
			}
			fp := e.p.ab.IsFP(r)
			if idx := e.p.ab.ParamRegIndex(r, fp); idx >= 0 {
				cs.addReg(idx, fp, st.Type.Bits)
			}
		case rda.LocStack:
			cs.addStack(loc.Off, st.Type.Bits)
		}
	}
	return cs
}

// prefixFilter keeps only the contiguous prefix of the ABI ordering:
// a gap ends the parameter sequence.
func prefixFilter(idxs []int) []int {
	out := idxs[:0:0]
	for i, idx := range idxs {
		if idx != i {
			break
		}
		out = append(out, idx)
	}
	return out
}

// stackContinuityFilter keeps the contiguous run of stack offsets.
// Callee-side (non-negative) runs are anchored at the ABI's first
// stack-parameter offset; caller-side outgoing areas run upward from
// their lowest slot. A gap terminates the run.
func (e *dataFlowEntry) stackContinuityFilter(stacks []stackCand) []stackCand {
	if len(stacks) == 0 {
		return stacks
	}
	wordBytes := int64(e.p.ab.WordBits() / 8)
	anchor := stacks[0].off
	if stacks[0].off >= 0 {
		anchor = e.p.ab.FirstStackParamOffset()
	}
	var out []stackCand
	expect := anchor
	for _, s := range stacks {
		if s.off != expect {
			break
		}
		out = append(out, s)
		step := wordBytes
		if slot := int64(s.width / 8); slot > step {
			step = slot
		}
		expect = s.off + step
	}
	return out
}

func intersect(a, b []int) []int {
	out := a[:0:0]
	for _, x := range a {
		if slices.Contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}

// locsFromSet lays the surviving candidates out in final argument
// order: GPR prefix, FP prefix, then stack slots ascending.
func (e *dataFlowEntry) locsFromSet(cs *candSet) []argLoc {
	var out []argLoc
	for _, idx := range cs.gprs {
		out = append(out, argLoc{
			reg:   e.p.ab.ParamGPRs()[idx],
			width: cs.gprWidth[idx],
		})
	}
	for _, idx := range cs.fprs {
		out = append(out, argLoc{
			reg:   e.p.ab.ParamFPRs()[idx],
			fp:    true,
			float: true,
			width: cs.fprWidth[idx],
		})
	}
	for _, s := range cs.stacks {
		out = append(out, argLoc{stack: true, off: s.off, width: s.width})
	}
	return out
}

// applyKnownTypes is the known-type adjustment: an external
// declaration overrides the inferred candidates outright, laying
// parameters onto the ABI sequences (with register pairing for
// wider-than-word integers where the ABI pairs registers).
func (e *dataFlowEntry) applyKnownTypes() {
	if e.decl == nil {
		return
	}
	e.argLocs = e.layoutForTypes(e.decl.Params)
	e.variadic = e.decl.Variadic
}

// layoutForTypes assigns a location per type from the ABI sequences.
func (e *dataFlowEntry) layoutForTypes(types []ir.Type) []argLoc {
	ab := e.p.ab
	var out []argLoc
	gpr, fpr := 0, 0
	stackOff := ab.FirstStackParamOffset()
	wordBytes := int64(ab.WordBits() / 8)
	nextStack := func(width uint16) argLoc {
		l := argLoc{stack: true, off: stackOff, width: width}
		step := wordBytes
		if slot := int64(width / 8); slot > step {
			step = slot
		}
		stackOff += step
		return l
	}
	for _, t := range types {
		switch {
		case t.IsFloat():
			if fpr < len(ab.ParamFPRs()) {
				out = append(out, argLoc{reg: ab.ParamFPRs()[fpr], fp: true, float: true, width: t.Bits})
				fpr++
			} else {
				out = append(out, nextStack(t.Bits))
			}
		case t.IsInt() && t.Bits > ab.WordBits() && ab.MaxRegsPerParam() > 1 && gpr+1 < len(ab.ParamGPRs()):
			// Alternating pair merge: two consecutive registers carry
			// one wide argument.
			out = append(out, argLoc{
				reg:   ab.ParamGPRs()[gpr],
				reg2:  ab.ParamGPRs()[gpr+1],
				pair:  true,
				width: t.Bits,
			})
			gpr += 2
		default:
			if gpr < len(ab.ParamGPRs()) {
				w := t.Bits
				if w == 0 || t.IsPtr() {
					w = ab.WordBits()
				}
				out = append(out, argLoc{reg: ab.ParamGPRs()[gpr], width: w})
				gpr++
			} else {
				out = append(out, nextStack(t.Bits))
			}
		}
	}
	return out
}
