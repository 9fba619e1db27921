package ir

import (
	"fmt"
	"strings"
)

// String renders the module in a deterministic LLVM-flavored text
// form. Instruction results are numbered per function in block order,
// so two structurally equal modules print identically.
func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s\n", m.Name)
	for _, g := range m.globals {
		fmt.Fprintf(&sb, "global @%s : %s\n", g.Name, g.Type)
	}
	for _, f := range m.funcs {
		sb.WriteString(m.FuncString(f))
	}
	return sb.String()
}

// FuncString renders one function.
func (m *Module) FuncString(f *Function) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func @%s %s", f.Name, f.Sig)
	if f.IsDecl() {
		sb.WriteString("\n")
		return sb.String()
	}
	sb.WriteString(" {\n")

	names := make(map[ValueID]string)
	n := 0
	for _, bid := range f.Blocks {
		for _, iid := range m.blocks[bid].Instrs {
			in := m.instrs[iid]
			if in.result != NoValue {
				names[in.result] = fmt.Sprintf("%%%d", n)
				n++
			}
		}
	}

	for _, bid := range f.Blocks {
		blk := m.blocks[bid]
		fmt.Fprintf(&sb, "%s:", blk.Name)
		if blk.TranslationError {
			sb.WriteString(" ; translation-error")
		}
		sb.WriteString("\n")
		for _, iid := range blk.Instrs {
			in := m.instrs[iid]
			if in.Op == OpNop {
				continue
			}
			sb.WriteString("  ")
			sb.WriteString(m.instrString(in, names))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (m *Module) instrString(in *Instr, names map[ValueID]string) string {
	val := func(v ValueID) string { return m.valueString(v, names) }
	switch in.Op {
	case OpAlloca:
		return fmt.Sprintf("%s = alloca %s", names[in.result], in.Type)
	case OpLoad:
		return fmt.Sprintf("%s = load %s, %s", names[in.result], in.Type, val(in.Args[0]))
	case OpStore:
		return fmt.Sprintf("store %s %s, %s", in.Type, val(in.Args[0]), val(in.Args[1]))
	case OpBitcast:
		return fmt.Sprintf("%s = bitcast %s to %s", names[in.result], val(in.Args[0]), in.Type)
	case OpAdd, OpSub, OpMul, OpAnd, OpOr, OpXor, OpShl, OpLShr, OpAShr:
		return fmt.Sprintf("%s = %s %s %s, %s", names[in.result], in.Op, in.Type, val(in.Args[0]), val(in.Args[1]))
	case OpNeg, OpNot:
		return fmt.Sprintf("%s = %s %s %s", names[in.result], in.Op, in.Type, val(in.Args[0]))
	case OpICmp:
		return fmt.Sprintf("%s = icmp %s %s %s, %s", names[in.result], in.Pred, in.Type, val(in.Args[0]), val(in.Args[1]))
	case OpSelect:
		return fmt.Sprintf("%s = select %s, %s %s, %s", names[in.result], val(in.Args[0]), in.Type, val(in.Args[1]), val(in.Args[2]))
	case OpCall:
		args := make([]string, 0, len(in.Args)-1)
		for _, a := range in.Args[1:] {
			args = append(args, fmt.Sprintf("%s %s", m.TypeOf(a), val(a)))
		}
		callexpr := fmt.Sprintf("call %s %s(%s)", in.Type, val(in.Args[0]), strings.Join(args, ", "))
		if in.result == NoValue {
			return callexpr
		}
		return fmt.Sprintf("%s = %s", names[in.result], callexpr)
	case OpRet:
		if len(in.Args) == 0 {
			return "ret void"
		}
		return fmt.Sprintf("ret %s %s", in.Type, val(in.Args[0]))
	case OpBr:
		return fmt.Sprintf("br %s", m.blocks[in.Targets[0]].Name)
	case OpCondBr:
		return fmt.Sprintf("cond_br %s, %s, %s", val(in.Args[0]), m.blocks[in.Targets[0]].Name, m.blocks[in.Targets[1]].Name)
	}
	return in.Op.String()
}

func (m *Module) valueString(v ValueID, names map[ValueID]string) string {
	if v == NoValue {
		return "<none>"
	}
	vv := m.values[v]
	switch vv.Kind {
	case ConstValue:
		return vv.Const.Dec()
	case GlobalValue:
		return "@" + m.globals[vv.Global].Name
	case InstrValue:
		if n, ok := names[v]; ok {
			return n
		}
		return fmt.Sprintf("%%i%d", vv.Instr)
	case ParamValue:
		return fmt.Sprintf("%%arg%d", vv.Param)
	case FuncValue:
		return "@" + m.funcs[vv.Func].Name
	}
	return "?"
}
