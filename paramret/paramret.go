// Package paramret reconstructs function parameters and return
// values. Input functions are niladic and communicate through
// register globals and stack slots; the pass recovers, per function
// and per call site, which locations carry arguments and returns,
// assigns types, and rewrites calls, signatures, and returns.
//
// The pass is whole-module: candidates are collected for every
// function and call, filtered in a fixed order, typed, and finally
// applied to the IR. Running it twice is a no-op the second time.
package paramret

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/binlift/binlift/abi"
	"github.com/binlift/binlift/analysis/rda"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/log"
	"github.com/binlift/binlift/typeinfo"
)

// Config controls pass behavior.
type Config struct {
	// DumpEntries deep-dumps collected dataflow entries before
	// rewriting, for debugging filter decisions.
	DumpEntries bool
}

// Pass is one param/return reconstruction run over a module.
type Pass struct {
	m   *ir.Module
	ab  *abi.ABI
	rd  *rda.Analysis
	ti  *typeinfo.Table
	cfg Config

	entries map[entryKey]*dataFlowEntry
	// rdaFor caches per-function RDA results; a nil entry means the
	// analysis gave up and the function must be handled
	// conservatively.
	rdaFor map[ir.FuncID]*rda.Result
}

// entryKey identifies what a call targets: a function, or an opaque
// computed value (indirect call through one SSA value).
type entryKey struct {
	fn  ir.FuncID
	val ir.ValueID
}

func keyOf(m *ir.Module, target ir.ValueID) entryKey {
	if v := m.Value(target); v.Kind == ir.FuncValue {
		return entryKey{fn: v.Func, val: ir.NoValue}
	}
	return entryKey{fn: ir.NoFunc, val: target}
}

// NewPass prepares a run. The typeinfo table may be nil.
func NewPass(m *ir.Module, ab *abi.ABI, rd *rda.Analysis, ti *typeinfo.Table, cfg Config) *Pass {
	if ti == nil {
		ti = typeinfo.NewTable()
	}
	return &Pass{
		m:       m,
		ab:      ab,
		rd:      rd,
		ti:      ti,
		cfg:     cfg,
		entries: make(map[entryKey]*dataFlowEntry),
		rdaFor:  make(map[ir.FuncID]*rda.Result),
	}
}

// Run executes the pass: collect, filter, type, rewrite.
func (p *Pass) Run() error {
	if p.ab == nil {
		return fmt.Errorf("paramret: no ABI table supplied")
	}

	for _, f := range p.m.Funcs() {
		if f.IsDecl() {
			continue
		}
		r, err := p.rd.Run(p.m, f)
		if err != nil {
			log.Warn("Analysis unavailable, assuming no parameters", "func", f.Name, "err", err)
			p.rdaFor[f.ID] = nil
			continue
		}
		p.rdaFor[f.ID] = r
	}

	p.collectAllCalls()

	for _, e := range p.sortedEntries() {
		e.filter()
		e.setTypes()
	}
	for _, e := range p.sortedEntries() {
		e.detectWrapper()
	}

	if p.cfg.DumpEntries {
		p.dumpInfo()
	}

	for _, e := range p.sortedEntries() {
		e.applyToIR()
	}
	for _, e := range p.sortedEntries() {
		e.connectWrappers()
	}
	return nil
}

// collectAllCalls builds a dataflow entry per distinct call target
// and per defined function, then gathers candidate argument and
// return sites.
func (p *Pass) collectAllCalls() {
	for _, f := range p.m.Funcs() {
		if f.IsDecl() {
			continue
		}
		// A function that already carries a signature was processed
		// by an earlier run; nothing to collect.
		if sigKnown(f) {
			continue
		}
		e := p.entryFor(entryKey{fn: f.ID, val: ir.NoValue})
		e.fn = f
	}

	for _, f := range p.m.Funcs() {
		for _, bid := range f.Blocks {
			blk := p.m.Block(bid)
			if blk.TranslationError {
				continue
			}
			for _, iid := range blk.Instrs {
				in := p.m.Instr(iid)
				if in.Op != ir.OpCall || len(in.Args) != 1 || in.HasResult() {
					// Only niladic void calls are unreconstructed;
					// typed calls (asm intrinsics, earlier runs) stay
					// as they are.
					continue
				}
				key := keyOf(p.m, in.Args[0])
				if key.fn != ir.NoFunc {
					callee := p.m.Func(key.fn)
					if sigKnown(callee) && !callee.IsDecl() {
						continue
					}
				}
				e := p.entryFor(key)
				if key.fn != ir.NoFunc {
					e.fn = p.m.Func(key.fn)
				}
				e.addCall(f, iid)
			}
		}
	}

	for _, e := range p.sortedEntries() {
		if e.fn != nil {
			e.decl, _ = p.ti.Lookup(e.fn.Name)
			if !e.fn.IsDecl() {
				e.addArgLoads()
				e.addRetStores()
			}
		}
	}
}

func sigKnown(f *ir.Function) bool {
	return !f.Sig.Ret.IsVoid() || len(f.Sig.Params) > 0 || f.Sig.Variadic
}

func (p *Pass) entryFor(k entryKey) *dataFlowEntry {
	e, ok := p.entries[k]
	if !ok {
		e = &dataFlowEntry{p: p, key: k, retType: ir.Void}
		p.entries[k] = e
	}
	return e
}

// sortedEntries returns entries in a deterministic order: function
// entries by function id, then value entries by value id.
func (p *Pass) sortedEntries() []*dataFlowEntry {
	out := make([]*dataFlowEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if entryLess(out[j].key, out[i].key) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func entryLess(a, b entryKey) bool {
	if (a.fn != ir.NoFunc) != (b.fn != ir.NoFunc) {
		return a.fn != ir.NoFunc
	}
	if a.fn != b.fn {
		return a.fn < b.fn
	}
	return a.val < b.val
}

func (p *Pass) dumpInfo() {
	cs := spew.ConfigState{Indent: "  ", MaxDepth: 4, DisablePointerAddresses: true}
	for _, e := range p.sortedEntries() {
		name := "<value>"
		if e.fn != nil {
			name = e.fn.Name
		}
		log.Debug("Dataflow entry", "target", name, "dump", cs.Sdump(e.argLocs, e.retType))
	}
}
