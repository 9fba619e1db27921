package paramret

import (
	"github.com/binlift/binlift/abi"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/log"
)

// detectWrapper marks a function whose body, ignoring register moves
// and stack setup, is exactly one direct call. A wrapper inherits its
// callee's signature. Its other stores must pass trivialStore; beyond
// that, whether the call's result reaches the return unchanged is not
// checked.
func (e *dataFlowEntry) detectWrapper() {
	if e.fn == nil || e.fn.IsDecl() || e.unavailable {
		return
	}
	m := e.p.m

	var theCall *ir.Instr
	for _, bid := range e.fn.Blocks {
		blk := m.Block(bid)
		if blk.TranslationError {
			return
		}
		for _, iid := range blk.Instrs {
			in := m.Instr(iid)
			switch in.Op {
			case ir.OpCall:
				if theCall != nil {
					return // more than one call
				}
				theCall = in
			case ir.OpStore:
				if !e.trivialStore(in) {
					return
				}
			case ir.OpNop, ir.OpAlloca, ir.OpLoad, ir.OpBitcast,
				ir.OpBr, ir.OpRet:
				// moves and stack setup
			default:
				return
			}
		}
	}
	if theCall == nil {
		return
	}
	calleeVal := m.Value(theCall.Args[0])
	if calleeVal.Kind != ir.FuncValue {
		return
	}
	callee := m.Func(calleeVal.Func)
	if callee == e.fn {
		return
	}
	calleeEntry, ok := e.p.entries[entryKey{fn: callee.ID, val: ir.NoValue}]
	if !ok || calleeEntry.unavailable {
		return
	}

	// Inherit the callee's signature; the forwarded registers and the
	// return location are the same on both sides.
	e.wrapped = callee
	e.argLocs = append([]argLoc(nil), calleeEntry.argLocs...)
	e.argTypes = append([]ir.Type(nil), calleeEntry.argTypes...)
	e.retType = calleeEntry.retType
	e.retFP = calleeEntry.retFP
	e.variadic = calleeEntry.variadic
	log.Debug("Simple wrapper detected", "func", e.fn.Name, "wraps", callee.Name)
}

// trivialStore recognizes the stores a wrapper body may contain:
// register-to-register moves (the stored value comes from a load),
// link-register bookkeeping, and spills into the function's own
// frame. A store that materializes a fresh value into a parameter
// location is argument setup, not forwarding.
func (e *dataFlowEntry) trivialStore(in *ir.Instr) bool {
	m := e.p.m
	if v := m.Value(in.Args[0]); v.Kind == ir.InstrValue {
		if def := m.Instr(v.Instr); def.Op == ir.OpLoad {
			return true
		}
	}
	if addr := m.Value(in.Args[1]); addr.Kind == ir.GlobalValue {
		g := m.Global(addr.Global)
		if g.Reg != 0 && e.p.ab.IsLinkRegister(abi.Reg(g.Reg)) {
			return true
		}
		return false
	}
	// a spill into the wrapper's own frame
	return true
}

// connectWrappers redirects every call of a wrapper to the wrapped
// function directly, now that both carry the same signature.
func (e *dataFlowEntry) connectWrappers() {
	if e.wrapped == nil {
		return
	}
	m := e.p.m
	for _, ce := range e.calls {
		id := ce.call
		if ce.newCall != ir.NoInstr {
			id = ce.newCall
		}
		call := m.Instr(id)
		if call.Op != ir.OpCall {
			continue
		}
		m.ReplaceArg(id, 0, m.FuncRef(e.wrapped))
	}
}
