package paramret

import (
	"github.com/binlift/binlift/analysis/rda"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/log"
)

// setTypes assigns the return and argument types of the entry.
// External declarations win over inference; the conflict surfaces as
// a warning. Without a declaration the observed widths decide, with
// word-size integer as the default.
func (e *dataFlowEntry) setTypes() {
	if e.unavailable {
		e.retType = ir.Void
		return
	}
	if e.decl != nil {
		if inferred := e.inferRetType(); !inferred.IsVoid() && !inferred.Equal(e.decl.Ret) {
			name := e.name()
			log.Warn("External type declaration overrides inferred type",
				"func", name, "declared", e.decl.Ret, "inferred", inferred)
		}
		e.retType = e.decl.Ret
		e.argTypes = append([]ir.Type(nil), e.decl.Params...)
		e.variadic = e.decl.Variadic
		if e.decl.FormatArg >= 0 {
			e.refineVariadicCalls()
		}
		return
	}

	e.retType = e.inferRetType()
	e.argTypes = e.argTypes[:0]
	word := e.p.ab.WordBits()
	for _, l := range e.argLocs {
		switch {
		case l.float:
			bits := l.width
			if bits != 32 && bits != 64 {
				bits = 64
			}
			e.argTypes = append(e.argTypes, ir.FloatT(bits))
		case l.width > 0:
			// the first access width recorded for the location decides;
			// a later access of another width does not change it
			e.argTypes = append(e.argTypes, ir.IntT(l.width))
		default:
			e.argTypes = append(e.argTypes, ir.IntT(word))
		}
	}
}

// inferRetType decides the return type from the collected evidence:
//
//   - a defined function returns the type its reaching return-store
//     wrote, or nothing when no store reaches any ret;
//   - an external function defaults to the word integer (its body is
//     invisible, and a caller is free to ignore the result);
//   - an indirect target returns only when some call site reads a
//     return location afterwards.
func (e *dataFlowEntry) inferRetType() ir.Type {
	m := e.p.m
	if e.fn != nil && !e.fn.IsDecl() {
		for _, re := range e.retEntries {
			for _, sid := range re.stores {
				st := m.Instr(sid)
				if loc, ok := rda.LocOfAddr(m, e.fn, st.Args[1]); ok && loc.Kind == rda.LocReg {
					if r, isReg := e.p.regOfGlobal(loc.Global); isReg && e.p.ab.IsFP(r) {
						e.retFP = true
					}
				}
				return st.Type
			}
		}
		return ir.Void
	}
	if e.fn != nil && e.fn.IsDecl() {
		return ir.IntT(e.p.ab.WordBits())
	}
	for _, ce := range e.calls {
		for _, lid := range ce.retLoads {
			return m.Instr(lid).Type
		}
	}
	return ir.Void
}

func (e *dataFlowEntry) name() string {
	if e.fn != nil {
		return e.fn.Name
	}
	return "<indirect>"
}

// refineVariadicCalls scans the format-string literal at each call
// site of a printf-family callee and derives the call's variadic tail
// types. The literal is found by chasing the format argument's store
// back to a string global. Sites without a recoverable literal keep
// the fixed prefix only.
func (e *dataFlowEntry) refineVariadicCalls() {
	if e.decl.FormatArg >= len(e.argLocs) {
		return
	}
	fmtLoc := e.argLocs[e.decl.FormatArg]
	for _, ce := range e.calls {
		lit, ok := e.formatLiteralAt(ce, fmtLoc)
		if !ok {
			continue
		}
		tail := ScanFormat(lit, e.p.ab.WordBits())
		ce.specTypes = append(append([]ir.Type(nil), e.decl.Params...), tail...)
	}
}

// formatLiteralAt resolves the string stored into the format-argument
// location before the call.
func (e *dataFlowEntry) formatLiteralAt(ce *callEntry, l argLoc) (string, bool) {
	if l.stack || l.reg == 0 {
		// format strings on the stack are not chased
		return "", false
	}
	g := e.p.ab.RegGlobal(e.p.m, l.reg)
	if g == nil {
		return "", false
	}
	sid, ok := ce.argStores[rda.RegLoc(g.ID)]
	if !ok {
		return "", false
	}
	st := e.p.m.Instr(sid)
	stored := st.Args[0]
	// the address is usually retyped to the register width first
	for {
		v := e.p.m.Value(stored)
		if v.Kind == ir.InstrValue {
			if in := e.p.m.Instr(v.Instr); in.Op == ir.OpBitcast {
				stored = in.Args[0]
				continue
			}
		}
		break
	}
	v := e.p.m.Value(stored)
	if v.Kind != ir.GlobalValue {
		return "", false
	}
	str := e.p.m.Global(v.Global)
	if str.Str == "" {
		return "", false
	}
	return str.Str, true
}

// ScanFormat maps printf directives to argument types. Length
// modifiers h/hh/l/ll are honored for integers; unrecognized
// directives degrade to the word integer.
func ScanFormat(s string, wordBits uint16) []ir.Type {
	word := ir.IntT(wordBits)
	var out []ir.Type
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		i++
		// flags, width, precision
		for i < len(s) && (s[i] == '-' || s[i] == '+' || s[i] == ' ' ||
			s[i] == '#' || s[i] == '0' || s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		bits := wordBits
		for i < len(s) && (s[i] == 'h' || s[i] == 'l') {
			if s[i] == 'h' {
				if bits == 16 {
					bits = 8
				} else {
					bits = 16
				}
			} else {
				bits = 64
			}
			i++
		}
		if i >= len(s) {
			break
		}
		switch s[i] {
		case '%':
			// literal percent, no argument
		case 'd', 'i', 'u', 'x', 'X', 'o', 'c':
			out = append(out, ir.IntT(bits))
		case 's', 'p', 'n':
			out = append(out, ir.PtrTo(ir.I8))
		case 'f', 'e', 'E', 'g', 'G':
			out = append(out, ir.F64)
		default:
			out = append(out, word)
		}
	}
	return out
}
