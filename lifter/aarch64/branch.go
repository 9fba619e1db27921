package aarch64

import (
	"fmt"

	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
)

// blockAt resolves an in-function branch target.
func (c *fnctx) blockAt(addr uint64) (ir.BlockID, bool) {
	b, ok := c.blocks[addr]
	return b, ok
}

// writeLinkRegister stores the return address (the next instruction)
// into x30 before a call branches.
func (c *fnctx) writeLinkRegister() error {
	return c.writeReg("x30", c.m.ConstU64(ir.I64, c.next))
}

// b / b.cond
func (c *fnctx) translateB(in *lifter.Instruction) error {
	if len(in.Operands) != 1 || in.Operands[0].Kind != lifter.OpndLabel {
		return fmt.Errorf("b: bad operands")
	}
	target := in.Operands[0].Target

	if in.Cond == lifter.CondAL {
		if bid, ok := c.blockAt(target); ok {
			c.b.Br(bid)
			return nil
		}
		// Branch out of the function: a tail call.
		callee := c.t.FuncAt(target)
		c.b.Call(c.m.FuncRef(callee), ir.Void)
		c.b.Ret(ir.NoValue)
		return nil
	}

	cond, err := c.condValue(in.Cond)
	if err != nil {
		return err
	}
	tblk, ok := c.blockAt(target)
	if !ok {
		return fmt.Errorf("b.%s: target %#x outside function", in.Cond, target)
	}
	fblk, ok := c.blockAt(c.next)
	if !ok {
		return fmt.Errorf("b.%s: no fallthrough block at %#x", in.Cond, c.next)
	}
	c.b.CondBr(cond, tblk, fblk)
	return nil
}

// cbz/cbnz rt, label
func (c *fnctx) translateCbz(in *lifter.Instruction) error {
	if len(in.Operands) != 2 || in.Operands[0].Kind != lifter.OpndReg ||
		in.Operands[1].Kind != lifter.OpndLabel {
		return fmt.Errorf("%s: bad operands", in.Mnemonic)
	}
	v, err := c.readReg(in.Operands[0].Reg)
	if err != nil {
		return err
	}
	zero := c.m.ConstU64(c.m.TypeOf(v), 0)
	pred := ir.PredEQ
	if in.Mnemonic == lifter.MnCBNZ {
		pred = ir.PredNE
	}
	cond := c.b.ICmp(pred, v, zero)
	return c.emitCondBr(cond, in.Operands[1].Target)
}

// tbz/tbnz rt, #bit, label
func (c *fnctx) translateTbz(in *lifter.Instruction) error {
	if len(in.Operands) != 3 || in.Operands[0].Kind != lifter.OpndReg ||
		in.Operands[1].Kind != lifter.OpndImm || in.Operands[2].Kind != lifter.OpndLabel {
		return fmt.Errorf("%s: bad operands", in.Mnemonic)
	}
	v, err := c.readReg(in.Operands[0].Reg)
	if err != nil {
		return err
	}
	t := c.m.TypeOf(v)
	bit := c.b.Bin(ir.OpAnd,
		c.b.Bin(ir.OpLShr, v, c.m.ConstU64(t, uint64(in.Operands[1].Imm))),
		c.m.ConstU64(t, 1))
	pred := ir.PredEQ
	if in.Mnemonic == lifter.MnTBNZ {
		pred = ir.PredNE
	}
	cond := c.b.ICmp(pred, bit, c.m.ConstU64(t, 0))
	return c.emitCondBr(cond, in.Operands[2].Target)
}

func (c *fnctx) emitCondBr(cond ir.ValueID, target uint64) error {
	tblk, ok := c.blockAt(target)
	if !ok {
		return fmt.Errorf("conditional branch target %#x outside function", target)
	}
	fblk, ok := c.blockAt(c.next)
	if !ok {
		return fmt.Errorf("no fallthrough block at %#x", c.next)
	}
	c.b.CondBr(cond, tblk, fblk)
	return nil
}

// bl label / blr rn — write the link register, then call. Callees
// are niladic until param/return reconstruction rewrites them.
func (c *fnctx) translateCall(in *lifter.Instruction) error {
	if len(in.Operands) != 1 {
		return fmt.Errorf("%s: bad operands", in.Mnemonic)
	}
	if err := c.writeLinkRegister(); err != nil {
		return err
	}
	var target ir.ValueID
	switch {
	case in.Mnemonic == lifter.MnBL && in.Operands[0].Kind == lifter.OpndLabel:
		target = c.m.FuncRef(c.t.FuncAt(in.Operands[0].Target))
	case in.Mnemonic == lifter.MnBLR && in.Operands[0].Kind == lifter.OpndReg:
		v, err := c.readReg(in.Operands[0].Reg)
		if err != nil {
			return err
		}
		target = c.b.Bitcast(v, ir.PtrTo(ir.Void))
	default:
		return fmt.Errorf("%s: bad operand kind", in.Mnemonic)
	}
	c.b.Call(target, ir.Void)
	return nil
}

// br rn — indirect branch with no link; lifted as a tail call.
func (c *fnctx) translateBr(in *lifter.Instruction) error {
	if len(in.Operands) != 1 || in.Operands[0].Kind != lifter.OpndReg {
		return fmt.Errorf("br: bad operands")
	}
	v, err := c.readReg(in.Operands[0].Reg)
	if err != nil {
		return err
	}
	c.b.Call(c.b.Bitcast(v, ir.PtrTo(ir.Void)), ir.Void)
	c.b.Ret(ir.NoValue)
	return nil
}

// ret {rn} — the return value, if any, is materialized later by
// param/return reconstruction.
func (c *fnctx) translateRet(in *lifter.Instruction) error {
	c.b.Ret(ir.NoValue)
	return nil
}

// csel/csinc/csinv/csneg rd, rn, rm, cond
func (c *fnctx) translateCsel(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 3 {
		return orOperandErr(err, in)
	}
	a, err := c.operandValue(lifter.Reg(in.Operands[1].Reg), w)
	if err != nil {
		return err
	}
	b, err := c.operandValue(lifter.Reg(in.Operands[2].Reg), w)
	if err != nil {
		return err
	}
	switch in.Mnemonic {
	case lifter.MnCSINC:
		b = c.b.Bin(ir.OpAdd, b, c.m.ConstU64(ir.IntT(w), 1))
	case lifter.MnCSINV:
		b = c.b.Not(b)
	case lifter.MnCSNEG:
		b = c.b.Neg(b)
	}
	cond, err := c.condValue(in.Cond)
	if err != nil {
		return err
	}
	return c.writeReg(dst, c.b.Select(cond, a, b))
}

// cset rd, cond → select(cond, 1, 0); csetm → select(cond, -1, 0);
// cinc rd, rn, cond → select(cond, rn+1, rn).
func (c *fnctx) translateCset(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil {
		return err
	}
	t := ir.IntT(w)
	cond, err := c.condValue(in.Cond)
	if err != nil {
		return err
	}
	switch in.Mnemonic {
	case lifter.MnCSET:
		if len(in.Operands) != 1 {
			return fmt.Errorf("cset: bad operands")
		}
		return c.writeReg(dst, c.b.Select(cond, c.m.ConstU64(t, 1), c.m.ConstU64(t, 0)))
	case lifter.MnCSETM:
		if len(in.Operands) != 1 {
			return fmt.Errorf("csetm: bad operands")
		}
		return c.writeReg(dst, c.b.Select(cond, c.m.ConstI64(t, -1), c.m.ConstU64(t, 0)))
	default: // cinc
		if len(in.Operands) != 2 {
			return fmt.Errorf("cinc: bad operands")
		}
		v, err := c.operandValue(lifter.Reg(in.Operands[1].Reg), w)
		if err != nil {
			return err
		}
		inc := c.b.Bin(ir.OpAdd, v, c.m.ConstU64(t, 1))
		return c.writeReg(dst, c.b.Select(cond, inc, v))
	}
}
