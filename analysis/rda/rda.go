// Package rda implements intra-procedural reaching-definitions
// analysis over the IR: for each instruction and each register/stack
// location it may read, the set of stores that may supply the value.
//
// Locations are tracked coarsely: registers by their full-width
// parent global, stack slots by their frame offset when the upstream
// pass assigned one, other allocations by identity. Memory reached
// through a computed pointer is unknown and no definitions reach it.
package rda

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/willf/bitset"

	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/log"
)

// ErrFixpointCap is returned when the worklist exceeds the iteration
// cap. Callers must treat the analysis as unavailable for that
// function and fall back to conservative behavior.
var ErrFixpointCap = errors.New("rda: fixpoint iteration cap exceeded")

// LocKind discriminates tracked location kinds.
type LocKind uint8

const (
	LocUnknown LocKind = iota
	LocReg             // a global register location
	LocStack           // a stack slot with known frame offset
	LocAlloca          // a local allocation without an offset
)

// Loc is one tracked memory location.
type Loc struct {
	Kind   LocKind
	Global ir.GlobalID
	Off    int64
	Alloca ir.InstrID
}

// RegLoc returns the location of a global.
func RegLoc(g ir.GlobalID) Loc { return Loc{Kind: LocReg, Global: g} }

// StackLoc returns the location of a stack slot at off.
func StackLoc(off int64) Loc { return Loc{Kind: LocStack, Off: off} }

func (l Loc) String() string {
	switch l.Kind {
	case LocReg:
		return fmt.Sprintf("reg:%d", l.Global)
	case LocStack:
		return fmt.Sprintf("stack:%d", l.Off)
	case LocAlloca:
		return fmt.Sprintf("alloca:%d", l.Alloca)
	}
	return "unknown"
}

// LocOfAddr classifies the address value of a load/store. Bitcasts
// are looked through. The second result is false for computed
// pointers.
func LocOfAddr(m *ir.Module, f *ir.Function, addr ir.ValueID) (Loc, bool) {
	for {
		v := m.Value(addr)
		switch v.Kind {
		case ir.GlobalValue:
			return RegLoc(v.Global), true
		case ir.InstrValue:
			in := m.Instr(v.Instr)
			switch in.Op {
			case ir.OpAlloca:
				if off, ok := f.StackOffset(in.ID); ok {
					return StackLoc(off), true
				}
				return Loc{Kind: LocAlloca, Alloca: in.ID}, true
			case ir.OpBitcast:
				addr = in.Args[0]
				continue
			}
			return Loc{}, false
		default:
			return Loc{}, false
		}
	}
}

// Analysis runs and caches reaching-definitions results. Results are
// keyed by (function, module version); any IR mutation invalidates
// them implicitly.
type Analysis struct {
	iterCap int
	cache   *lru.Cache
}

type cacheKey struct {
	fn      ir.FuncID
	version uint64
}

// NewAnalysis returns an analysis with the given worklist iteration
// cap per function.
func NewAnalysis(iterCap int) *Analysis {
	cache, _ := lru.New(128)
	return &Analysis{iterCap: iterCap, cache: cache}
}

// Run computes (or returns cached) reaching definitions for f.
func (a *Analysis) Run(m *ir.Module, f *ir.Function) (*Result, error) {
	key := cacheKey{fn: f.ID, version: m.Version()}
	if r, ok := a.cache.Get(key); ok {
		if r == nil {
			return nil, fmt.Errorf("%w (function %s, cached)", ErrFixpointCap, f.Name)
		}
		return r.(*Result), nil
	}
	r, err := compute(m, f, a.iterCap)
	if err != nil {
		a.cache.Add(key, nil)
		return nil, err
	}
	a.cache.Add(key, r)
	return r, nil
}

// Result is the reaching-definitions solution for one function.
type Result struct {
	m *ir.Module
	f *ir.Function

	stores   []ir.InstrID
	storeIdx map[ir.InstrID]uint
	locOf    []Loc
	in       map[ir.BlockID]*bitset.BitSet
}

func compute(m *ir.Module, f *ir.Function, iterCap int) (*Result, error) {
	r := &Result{
		m:        m,
		f:        f,
		storeIdx: make(map[ir.InstrID]uint),
		in:       make(map[ir.BlockID]*bitset.BitSet),
	}

	// Build the definition universe: every store to a classifiable
	// location. Blocks the lifter failed on are skipped entirely.
	for _, bid := range f.Blocks {
		blk := m.Block(bid)
		if blk.TranslationError {
			continue
		}
		for _, iid := range blk.Instrs {
			in := m.Instr(iid)
			if in.Op != ir.OpStore {
				continue
			}
			loc, ok := LocOfAddr(m, f, in.Args[1])
			if !ok {
				continue
			}
			r.storeIdx[iid] = uint(len(r.stores))
			r.stores = append(r.stores, iid)
			r.locOf = append(r.locOf, loc)
		}
	}
	n := uint(len(r.stores))

	// Per-location def sets, for kill computation.
	defsOfLoc := make(map[Loc]*bitset.BitSet)
	for i, loc := range r.locOf {
		s, ok := defsOfLoc[loc]
		if !ok {
			s = bitset.New(n)
			defsOfLoc[loc] = s
		}
		s.Set(uint(i))
	}

	gen := make(map[ir.BlockID]*bitset.BitSet)
	kill := make(map[ir.BlockID]*bitset.BitSet)
	out := make(map[ir.BlockID]*bitset.BitSet)
	for _, bid := range f.Blocks {
		g, k := bitset.New(n), bitset.New(n)
		blk := m.Block(bid)
		if !blk.TranslationError {
			for _, iid := range blk.Instrs {
				idx, ok := r.storeIdx[iid]
				if !ok {
					continue
				}
				loc := r.locOf[idx]
				g.InPlaceDifference(defsOfLoc[loc])
				k.InPlaceUnion(defsOfLoc[loc])
				g.Set(idx)
				k.Clear(idx)
			}
		}
		gen[bid] = g
		kill[bid] = k
		r.in[bid] = bitset.New(n)
		out[bid] = g.Clone()
	}

	preds := m.Preds(f)

	// Classic forward worklist. The cap bounds total block visits so
	// a pathological graph cannot spin.
	worklist := make([]ir.BlockID, len(f.Blocks))
	copy(worklist, f.Blocks)
	inWorklist := make(map[ir.BlockID]bool, len(f.Blocks))
	for _, b := range worklist {
		inWorklist[b] = true
	}
	iters := 0
	for len(worklist) > 0 {
		iters++
		if iters > iterCap {
			log.Warn("Reaching definitions did not converge", "func", f.Name, "cap", iterCap)
			return nil, fmt.Errorf("%w (function %s)", ErrFixpointCap, f.Name)
		}
		bid := worklist[0]
		worklist = worklist[1:]
		delete(inWorklist, bid)

		newIn := bitset.New(n)
		for _, p := range preds[bid] {
			newIn.InPlaceUnion(out[p])
		}
		r.in[bid] = newIn

		newOut := newIn.Clone()
		newOut.InPlaceDifference(kill[bid])
		newOut.InPlaceUnion(gen[bid])
		if !newOut.Equal(out[bid]) {
			out[bid] = newOut
			for _, s := range m.Succs(bid) {
				if !inWorklist[s] {
					worklist = append(worklist, s)
					inWorklist[s] = true
				}
			}
		}
	}
	return r, nil
}

// DefsReaching returns the stores to loc that may reach the program
// point just before at.
func (r *Result) DefsReaching(at ir.InstrID, loc Loc) mapset.Set[ir.InstrID] {
	out := mapset.NewThreadUnsafeSet[ir.InstrID]()
	if loc.Kind == LocUnknown {
		return out
	}
	in := r.m.Instr(at)
	live := r.in[in.Block].Clone()
	blk := r.m.Block(in.Block)
	for _, iid := range blk.Instrs {
		if iid == at {
			break
		}
		idx, ok := r.storeIdx[iid]
		if !ok {
			continue
		}
		if other := r.locOf[idx]; other == loc {
			// later store to the same location shadows earlier ones
			for i, l := range r.locOf {
				if l == loc {
					live.Clear(uint(i))
				}
			}
			live.Set(idx)
		}
	}
	for i, l := range r.locOf {
		if l == loc && live.Test(uint(i)) {
			out.Add(r.stores[i])
		}
	}
	return out
}

// DefsReachingLoad classifies the load's address and returns the
// stores that may supply its value. Computed pointers yield the empty
// set.
func (r *Result) DefsReachingLoad(load ir.InstrID) mapset.Set[ir.InstrID] {
	in := r.m.Instr(load)
	loc, ok := LocOfAddr(r.m, r.f, in.Args[0])
	if !ok {
		return mapset.NewThreadUnsafeSet[ir.InstrID]()
	}
	return r.DefsReaching(load, loc)
}

// LocOfStore returns the tracked location a store writes, if any.
func (r *Result) LocOfStore(store ir.InstrID) (Loc, bool) {
	idx, ok := r.storeIdx[store]
	if !ok {
		return Loc{}, false
	}
	return r.locOf[idx], true
}
