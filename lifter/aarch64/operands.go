package aarch64

import (
	"fmt"

	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
)

// regInfo resolves an operand register name to its full-width global
// and the operand's view width. The zero registers have no location.
func (c *fnctx) regInfo(name string) (g *ir.Global, bits uint16, err error) {
	if name == "" {
		return nil, 0, fmt.Errorf("empty register name")
	}
	if name == "xzr" {
		return nil, 64, nil
	}
	if name == "wzr" {
		return nil, 32, nil
	}
	r, ok := c.ab.RegByName(name)
	if !ok {
		return nil, 0, fmt.Errorf("unknown register %q", name)
	}
	return c.ab.RegGlobal(c.m, r), c.ab.RegBits(r), nil
}

// readReg loads a register at its view width: parent load plus a
// truncating retype for W views.
func (c *fnctx) readReg(name string) (ir.ValueID, error) {
	g, bits, err := c.regInfo(name)
	if err != nil {
		return ir.NoValue, err
	}
	if g == nil { // zero register
		return c.m.ConstU64(ir.IntT(bits), 0), nil
	}
	v := c.b.Load(g.Addr(), g.Type)
	if g.Type.Bits > bits {
		v = c.b.Bitcast(v, ir.IntT(bits))
	}
	return v, nil
}

// writeReg stores v into a register. A W-register write zero-extends
// into the full X location; writes to the zero registers vanish.
func (c *fnctx) writeReg(name string, v ir.ValueID) error {
	g, bits, err := c.regInfo(name)
	if err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	vt := c.m.TypeOf(v)
	if vt.Bits != bits {
		return fmt.Errorf("width mismatch writing %s: %s", name, vt)
	}
	if g.Type.Bits > bits {
		v = c.b.Bitcast(v, g.Type) // upper bits cleared
	}
	c.b.Store(v, g.Addr())
	return nil
}

// regWidth returns the view width of a destination register operand.
func (c *fnctx) regWidth(op lifter.Operand) (uint16, error) {
	if op.Kind != lifter.OpndReg {
		return 0, fmt.Errorf("expected register operand")
	}
	_, bits, err := c.regInfo(op.Reg)
	return bits, err
}

//
// Width conversion. The closed instruction set has no explicit
// extension ops: a widening retype zero-extends, a narrowing one
// truncates, and sign extension is the shl/ashr idiom.
//

func (c *fnctx) zext(v ir.ValueID, to uint16) ir.ValueID {
	if c.m.TypeOf(v).Bits == to {
		return v
	}
	return c.b.Bitcast(v, ir.IntT(to))
}

func (c *fnctx) sext(v ir.ValueID, to uint16) ir.ValueID {
	from := c.m.TypeOf(v).Bits
	if from == to {
		return v
	}
	t := ir.IntT(to)
	wide := c.b.Bitcast(v, t)
	sh := c.m.ConstU64(t, uint64(to-from))
	return c.b.Bin(ir.OpAShr, c.b.Bin(ir.OpShl, wide, sh), sh)
}

func (c *fnctx) trunc(v ir.ValueID, to uint16) ir.ValueID {
	if c.m.TypeOf(v).Bits == to {
		return v
	}
	return c.b.Bitcast(v, ir.IntT(to))
}

// boolToWidth converts an i1 to a 0/1 value of the given width.
func (c *fnctx) boolToWidth(v ir.ValueID, to uint16) ir.ValueID {
	return c.zext(v, to)
}

// operandValue evaluates a source operand at the given width,
// applying shift and extension modifiers: truncate to the extend
// source width, extend back to width, then shift left.
func (c *fnctx) operandValue(op lifter.Operand, width uint16) (ir.ValueID, error) {
	switch op.Kind {
	case lifter.OpndImm:
		return c.m.ConstI64(ir.IntT(width), op.Imm), nil
	case lifter.OpndLabel:
		return c.m.ConstU64(ir.IntT(width), op.Target), nil
	case lifter.OpndReg:
		v, err := c.readReg(op.Reg)
		if err != nil {
			return ir.NoValue, err
		}
		if op.Ext != lifter.ExtNone {
			src := op.Ext.Bits()
			if c.m.TypeOf(v).Bits > src {
				v = c.trunc(v, src)
			}
			if op.Ext.Signed() {
				v = c.sext(v, width)
			} else {
				v = c.zext(v, width)
			}
			if op.ExtShift > 0 {
				v = c.b.Bin(ir.OpShl, v, c.m.ConstU64(ir.IntT(width), uint64(op.ExtShift)))
			}
			return v, nil
		}
		if c.m.TypeOf(v).Bits != width {
			// A W source feeding an X destination without an explicit
			// modifier behaves as UXTW.
			if c.m.TypeOf(v).Bits < width {
				v = c.zext(v, width)
			} else {
				v = c.trunc(v, width)
			}
		}
		if op.Shift != lifter.ShiftNone && op.ShiftAmt > 0 {
			amt := c.m.ConstU64(ir.IntT(width), uint64(op.ShiftAmt))
			switch op.Shift {
			case lifter.ShiftLSL:
				v = c.b.Bin(ir.OpShl, v, amt)
			case lifter.ShiftLSR:
				v = c.b.Bin(ir.OpLShr, v, amt)
			case lifter.ShiftASR:
				v = c.b.Bin(ir.OpAShr, v, amt)
			case lifter.ShiftROR:
				v = c.rotateRight(v, amt, width)
			}
		}
		return v, nil
	}
	return ir.NoValue, fmt.Errorf("operand kind %d not valid as value", op.Kind)
}

// rotateRight emits (v >> amt) | (v << ((W - amt) & (W-1))).
func (c *fnctx) rotateRight(v, amt ir.ValueID, width uint16) ir.ValueID {
	t := ir.IntT(width)
	w := c.m.ConstU64(t, uint64(width))
	mask := c.m.ConstU64(t, uint64(width-1))
	left := c.b.Bin(ir.OpAnd, c.b.Bin(ir.OpSub, w, amt), mask)
	return c.b.Bin(ir.OpOr,
		c.b.Bin(ir.OpLShr, v, amt),
		c.b.Bin(ir.OpShl, v, left))
}

// memAccess resolves a memory operand into an address value and
// handles writeback ordering: pre-indexed operands update the base
// before the access is visible, post-indexed ones after. The returned
// post function must be called once the access has been emitted.
func (c *fnctx) memAccess(op lifter.Operand, extraOff int64) (addr ir.ValueID, post func() error, err error) {
	if op.Kind != lifter.OpndMem {
		return ir.NoValue, nil, fmt.Errorf("expected memory operand")
	}
	base, err := c.readReg(op.Base)
	if err != nil {
		return ir.NoValue, nil, err
	}
	t := ir.I64
	nop := func() error { return nil }

	if op.Index != "" {
		idx, err := c.readReg(op.Index)
		if err != nil {
			return ir.NoValue, nil, err
		}
		if op.Ext != lifter.ExtNone {
			src := op.Ext.Bits()
			if c.m.TypeOf(idx).Bits > src {
				idx = c.trunc(idx, src)
			}
			if op.Ext.Signed() {
				idx = c.sext(idx, 64)
			} else {
				idx = c.zext(idx, 64)
			}
		} else {
			idx = c.zext(idx, 64)
		}
		if op.ExtShift > 0 {
			idx = c.b.Bin(ir.OpShl, idx, c.m.ConstU64(t, uint64(op.ExtShift)))
		}
		return c.b.Bin(ir.OpAdd, base, idx), nop, nil
	}

	disp := op.Disp + extraOff
	switch op.Writeback {
	case lifter.WbPre:
		// Writeback applies the operand displacement once; the pair
		// second-element offset rides on top of the new base.
		nb := c.b.Bin(ir.OpAdd, base, c.m.ConstI64(t, op.Disp))
		if err := c.writeReg(op.Base, nb); err != nil {
			return ir.NoValue, nil, err
		}
		addr = nb
		if extraOff != 0 {
			addr = c.b.Bin(ir.OpAdd, nb, c.m.ConstI64(t, extraOff))
		}
		return addr, nop, nil
	case lifter.WbPost:
		addr = base
		if extraOff != 0 {
			addr = c.b.Bin(ir.OpAdd, base, c.m.ConstI64(t, extraOff))
		}
		return addr, func() error {
			nb := c.b.Bin(ir.OpAdd, base, c.m.ConstI64(t, op.Disp))
			return c.writeReg(op.Base, nb)
		}, nil
	default:
		addr = base
		if disp != 0 {
			addr = c.b.Bin(ir.OpAdd, base, c.m.ConstI64(t, disp))
		}
		return addr, nop, nil
	}
}

// loadMem emits a typed load through a computed address.
func (c *fnctx) loadMem(addr ir.ValueID, t ir.Type) ir.ValueID {
	p := c.b.Bitcast(addr, ir.PtrTo(t))
	return c.b.Load(p, t)
}

// storeMem emits a typed store through a computed address.
func (c *fnctx) storeMem(v, addr ir.ValueID) {
	p := c.b.Bitcast(addr, ir.PtrTo(c.m.TypeOf(v)))
	c.b.Store(v, p)
}
