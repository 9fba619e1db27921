package aarch64

// A minimal concrete evaluator for lifted IR, used to check the
// per-opcode semantics (flags, extends, shifts, writeback) against
// the reference formulas on real operand values. It executes integer
// widths up to 64 bits, models register globals directly and routes
// computed addresses through a flat byte memory; calls are inert.

import (
	"testing"

	"github.com/binlift/binlift/ir"
)

type machine struct {
	t    *testing.T
	m    *ir.Module
	regs map[ir.GlobalID]uint64
	mem  map[uint64]byte
	vals map[ir.ValueID]uint64

	nextAlloca uint64
}

func newMachine(t *testing.T, m *ir.Module) *machine {
	return &machine{
		t:          t,
		m:          m,
		regs:       make(map[ir.GlobalID]uint64),
		mem:        make(map[uint64]byte),
		vals:       make(map[ir.ValueID]uint64),
		nextAlloca: 0x8000_0000,
	}
}

func (mc *machine) setReg(name string, v uint64) {
	g := mc.m.GlobalByName(name)
	if g == nil {
		mc.t.Fatalf("no global %q", name)
	}
	mc.regs[g.ID] = v & widthMask(g.Type.Bits)
}

func (mc *machine) reg(name string) uint64 {
	g := mc.m.GlobalByName(name)
	if g == nil {
		mc.t.Fatalf("no global %q", name)
	}
	return mc.regs[g.ID]
}

func (mc *machine) setFlag(name string, b bool) {
	if b {
		mc.setReg(name, 1)
	} else {
		mc.setReg(name, 0)
	}
}

func (mc *machine) flag(name string) bool {
	return mc.reg(name) != 0
}

func widthMask(bits uint16) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

func signExt(v uint64, bits uint16) int64 {
	if bits >= 64 {
		return int64(v)
	}
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func (mc *machine) value(v ir.ValueID) uint64 {
	val := mc.m.Value(v)
	switch val.Kind {
	case ir.ConstValue:
		return val.Const.Uint64()
	case ir.InstrValue:
		return mc.vals[v]
	}
	return 0
}

// run executes f from its entry until a return, with a step budget as
// a runaway guard.
func (mc *machine) run(f *ir.Function) {
	m := mc.m
	block := f.Entry()
	for steps := 0; ; steps++ {
		if steps > 100000 {
			mc.t.Fatal("evaluator step budget exceeded")
		}
		next := ir.NoBlock
		for _, iid := range m.Block(block).Instrs {
			in := m.Instr(iid)
			stop, branch := mc.step(in)
			if stop {
				return
			}
			if branch != ir.NoBlock {
				next = branch
				break
			}
		}
		if next == ir.NoBlock {
			return
		}
		block = next
	}
}

func (mc *machine) step(in *ir.Instr) (stop bool, branch ir.BlockID) {
	m := mc.m
	mask := widthMask(in.Type.Bits)
	switch in.Op {
	case ir.OpNop:
	case ir.OpAlloca:
		mc.vals[in.Result()] = mc.nextAlloca
		mc.nextAlloca += 64
	case ir.OpLoad:
		addr := m.Value(in.Args[0])
		if addr.Kind == ir.GlobalValue {
			mc.vals[in.Result()] = mc.regs[addr.Global] & mask
		} else {
			mc.vals[in.Result()] = mc.readMem(mc.value(in.Args[0]), in.Type.Bits)
		}
	case ir.OpStore:
		v := mc.value(in.Args[0])
		addr := m.Value(in.Args[1])
		if addr.Kind == ir.GlobalValue {
			g := m.Global(addr.Global)
			mc.regs[addr.Global] = v & widthMask(g.Type.Bits)
		} else {
			mc.writeMem(mc.value(in.Args[1]), v, in.Type.Bits)
		}
	case ir.OpBitcast:
		v := mc.value(in.Args[0])
		if in.Type.IsInt() {
			v &= mask
		}
		mc.vals[in.Result()] = v
	case ir.OpAdd:
		mc.vals[in.Result()] = (mc.value(in.Args[0]) + mc.value(in.Args[1])) & mask
	case ir.OpSub:
		mc.vals[in.Result()] = (mc.value(in.Args[0]) - mc.value(in.Args[1])) & mask
	case ir.OpMul:
		mc.vals[in.Result()] = (mc.value(in.Args[0]) * mc.value(in.Args[1])) & mask
	case ir.OpAnd:
		mc.vals[in.Result()] = mc.value(in.Args[0]) & mc.value(in.Args[1])
	case ir.OpOr:
		mc.vals[in.Result()] = mc.value(in.Args[0]) | mc.value(in.Args[1])
	case ir.OpXor:
		mc.vals[in.Result()] = mc.value(in.Args[0]) ^ mc.value(in.Args[1])
	case ir.OpShl:
		a, s := mc.value(in.Args[0]), mc.value(in.Args[1])
		if s >= uint64(in.Type.Bits) {
			mc.vals[in.Result()] = 0
		} else {
			mc.vals[in.Result()] = (a << s) & mask
		}
	case ir.OpLShr:
		a, s := mc.value(in.Args[0]), mc.value(in.Args[1])
		if s >= uint64(in.Type.Bits) {
			mc.vals[in.Result()] = 0
		} else {
			mc.vals[in.Result()] = (a & mask) >> s
		}
	case ir.OpAShr:
		a, s := mc.value(in.Args[0]), mc.value(in.Args[1])
		sa := signExt(a, in.Type.Bits)
		if s >= uint64(in.Type.Bits) {
			s = uint64(in.Type.Bits) - 1
		}
		mc.vals[in.Result()] = uint64(sa>>s) & mask
	case ir.OpNeg:
		mc.vals[in.Result()] = (-mc.value(in.Args[0])) & mask
	case ir.OpNot:
		mc.vals[in.Result()] = (^mc.value(in.Args[0])) & mask
	case ir.OpICmp:
		a, b := mc.value(in.Args[0]), mc.value(in.Args[1])
		bits := m.TypeOf(in.Args[0]).Bits
		var r bool
		switch in.Pred {
		case ir.PredEQ:
			r = a == b
		case ir.PredNE:
			r = a != b
		case ir.PredULT:
			r = a < b
		case ir.PredULE:
			r = a <= b
		case ir.PredUGT:
			r = a > b
		case ir.PredUGE:
			r = a >= b
		case ir.PredSLT:
			r = signExt(a, bits) < signExt(b, bits)
		case ir.PredSLE:
			r = signExt(a, bits) <= signExt(b, bits)
		case ir.PredSGT:
			r = signExt(a, bits) > signExt(b, bits)
		case ir.PredSGE:
			r = signExt(a, bits) >= signExt(b, bits)
		}
		if r {
			mc.vals[in.Result()] = 1
		} else {
			mc.vals[in.Result()] = 0
		}
	case ir.OpSelect:
		if mc.value(in.Args[0]) != 0 {
			mc.vals[in.Result()] = mc.value(in.Args[1]) & mask
		} else {
			mc.vals[in.Result()] = mc.value(in.Args[2]) & mask
		}
	case ir.OpCall:
		if in.HasResult() {
			mc.vals[in.Result()] = 0
		}
	case ir.OpRet:
		return true, ir.NoBlock
	case ir.OpBr:
		return false, in.Targets[0]
	case ir.OpCondBr:
		if mc.value(in.Args[0]) != 0 {
			return false, in.Targets[0]
		}
		return false, in.Targets[1]
	default:
		mc.t.Fatalf("evaluator: unhandled op %s", in.Op)
	}
	return false, ir.NoBlock
}

func (mc *machine) readMem(addr uint64, bits uint16) uint64 {
	var v uint64
	for i := uint16(0); i < bits/8; i++ {
		v |= uint64(mc.mem[addr+uint64(i)]) << (8 * i)
	}
	return v
}

func (mc *machine) writeMem(addr, v uint64, bits uint16) {
	for i := uint16(0); i < bits/8; i++ {
		mc.mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
}
