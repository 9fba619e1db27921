package aarch64

import (
	"fmt"

	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
)

const (
	flagN = "cpsr_n"
	flagZ = "cpsr_z"
	flagC = "cpsr_c"
	flagV = "cpsr_v"
)

func (c *fnctx) flagAddr(name string) ir.ValueID {
	g := c.m.GlobalByName(name)
	if g == nil {
		panic("aarch64: flag global missing: " + name)
	}
	return g.Addr()
}

func (c *fnctx) loadFlag(name string) ir.ValueID {
	return c.b.Load(c.flagAddr(name), ir.I1)
}

func (c *fnctx) storeFlag(name string, v ir.ValueID) {
	c.b.Store(v, c.flagAddr(name))
}

// msb extracts the sign bit of v as i1.
func (c *fnctx) msb(v ir.ValueID, width uint16) ir.ValueID {
	sh := c.m.ConstU64(ir.IntT(width), uint64(width-1))
	return c.trunc(c.b.Bin(ir.OpLShr, v, sh), 1)
}

// setNZ writes N (sign of result) and Z (result == 0).
func (c *fnctx) setNZ(r ir.ValueID, width uint16) {
	zero := c.m.ConstU64(ir.IntT(width), 0)
	c.storeFlag(flagN, c.b.ICmp(ir.PredSLT, r, zero))
	c.storeFlag(flagZ, c.b.ICmp(ir.PredEQ, r, zero))
}

// setCVAdd writes C and V for r = a + b (+ carry-in), using the
// carry-chain identities
//
//	C = msb((a & b) | ((a | b) & ~r))
//	V = msb((a ^ r) & (b ^ r))
//
// which hold for any carry-in folded into r. Subtraction a - b - ~cin
// reuses them with b complemented.
func (c *fnctx) setCVAdd(a, b, r ir.ValueID, width uint16) {
	ab := c.b.Bin(ir.OpAnd, a, b)
	aob := c.b.Bin(ir.OpOr, a, b)
	carry := c.b.Bin(ir.OpOr, ab, c.b.Bin(ir.OpAnd, aob, c.b.Not(r)))
	c.storeFlag(flagC, c.msb(carry, width))

	over := c.b.Bin(ir.OpAnd, c.b.Bin(ir.OpXor, a, r), c.b.Bin(ir.OpXor, b, r))
	c.storeFlag(flagV, c.msb(over, width))
}

// condValue materializes a condition predicate as i1 from the flag
// locations, with the canonical ARM encodings.
func (c *fnctx) condValue(cond lifter.Cond) (ir.ValueID, error) {
	n := func() ir.ValueID { return c.loadFlag(flagN) }
	z := func() ir.ValueID { return c.loadFlag(flagZ) }
	cf := func() ir.ValueID { return c.loadFlag(flagC) }
	v := func() ir.ValueID { return c.loadFlag(flagV) }

	switch cond {
	case lifter.CondEQ:
		return z(), nil
	case lifter.CondNE:
		return c.b.Not(z()), nil
	case lifter.CondCS:
		return cf(), nil
	case lifter.CondCC:
		return c.b.Not(cf()), nil
	case lifter.CondMI:
		return n(), nil
	case lifter.CondPL:
		return c.b.Not(n()), nil
	case lifter.CondVS:
		return v(), nil
	case lifter.CondVC:
		return c.b.Not(v()), nil
	case lifter.CondHI:
		return c.b.Bin(ir.OpAnd, cf(), c.b.Not(z())), nil
	case lifter.CondLS:
		return c.b.Bin(ir.OpOr, c.b.Not(cf()), z()), nil
	case lifter.CondGE:
		return c.b.ICmp(ir.PredEQ, n(), v()), nil
	case lifter.CondLT:
		return c.b.ICmp(ir.PredNE, n(), v()), nil
	case lifter.CondGT:
		return c.b.Bin(ir.OpAnd, c.b.Not(z()), c.b.ICmp(ir.PredEQ, n(), v())), nil
	case lifter.CondLE:
		return c.b.Bin(ir.OpOr, z(), c.b.ICmp(ir.PredNE, n(), v())), nil
	case lifter.CondAL:
		return c.m.ConstU64(ir.I1, 1), nil
	}
	return ir.NoValue, fmt.Errorf("bad condition code %d", cond)
}
