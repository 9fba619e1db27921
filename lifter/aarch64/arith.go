package aarch64

import (
	"fmt"

	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
)

func (c *fnctx) dstAndWidth(in *lifter.Instruction) (string, uint16, error) {
	if len(in.Operands) == 0 || in.Operands[0].Kind != lifter.OpndReg {
		return "", 0, fmt.Errorf("%s: missing destination register", in.Mnemonic)
	}
	w, err := c.regWidth(in.Operands[0])
	return in.Operands[0].Reg, w, err
}

// mov rd, rm|#imm — also covers the register form of mov to/from sp.
func (c *fnctx) translateMov(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 2 {
		return orOperandErr(err, in)
	}
	v, err := c.operandValue(in.Operands[1], w)
	if err != nil {
		return err
	}
	return c.writeReg(dst, v)
}

// movz/movn rd, #imm{, lsl #s}
func (c *fnctx) translateMovImm(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 2 || in.Operands[1].Kind != lifter.OpndImm {
		return orOperandErr(err, in)
	}
	op := in.Operands[1]
	val := uint64(op.Imm) << op.ShiftAmt
	if in.Mnemonic == lifter.MnMOVN {
		val = ^val
	}
	return c.writeReg(dst, c.m.ConstU64(ir.IntT(w), val))
}

// movk rd, #imm{, lsl #s} — inserts 16 bits, keeps the rest.
func (c *fnctx) translateMovk(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 2 || in.Operands[1].Kind != lifter.OpndImm {
		return orOperandErr(err, in)
	}
	op := in.Operands[1]
	t := ir.IntT(w)
	old, err := c.readReg(dst)
	if err != nil {
		return err
	}
	keep := c.b.Bin(ir.OpAnd, old, c.m.ConstU64(t, ^(uint64(0xffff)<<op.ShiftAmt)))
	ins := c.m.ConstU64(t, (uint64(op.Imm)&0xffff)<<op.ShiftAmt)
	return c.writeReg(dst, c.b.Bin(ir.OpOr, keep, ins))
}

// mvn rd, rm{, shift}
func (c *fnctx) translateMvn(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 2 {
		return orOperandErr(err, in)
	}
	v, err := c.operandValue(in.Operands[1], w)
	if err != nil {
		return err
	}
	return c.writeReg(dst, c.b.Not(v))
}

// add/adds/sub/subs rd, rn, rm|#imm with optional shift/extend.
func (c *fnctx) translateAddSub(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 3 {
		return orOperandErr(err, in)
	}
	a, err := c.operandValue(lifter.Reg(in.Operands[1].Reg), w)
	if err != nil {
		return err
	}
	b, err := c.operandValue(in.Operands[2], w)
	if err != nil {
		return err
	}
	sub := in.Mnemonic == lifter.MnSUB || in.Mnemonic == lifter.MnSUBS
	var r ir.ValueID
	if sub {
		r = c.b.Bin(ir.OpSub, a, b)
	} else {
		r = c.b.Bin(ir.OpAdd, a, b)
	}
	if err := c.writeReg(dst, r); err != nil {
		return err
	}
	if in.Mnemonic == lifter.MnADDS || in.Mnemonic == lifter.MnSUBS {
		c.setNZ(r, w)
		if sub {
			c.setCVAdd(a, c.b.Not(b), r, w)
		} else {
			c.setCVAdd(a, b, r, w)
		}
	}
	return nil
}

// adc/adcs/sbc/sbcs rd, rn, rm. SBC is rn + ~rm + C: with C set it
// equals plain SUB, with C clear it subtracts one more.
func (c *fnctx) translateAdcSbc(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 3 {
		return orOperandErr(err, in)
	}
	a, err := c.operandValue(lifter.Reg(in.Operands[1].Reg), w)
	if err != nil {
		return err
	}
	b, err := c.operandValue(in.Operands[2], w)
	if err != nil {
		return err
	}
	sub := in.Mnemonic == lifter.MnSBC || in.Mnemonic == lifter.MnSBCS
	if sub {
		b = c.b.Not(b)
	}
	cin := c.boolToWidth(c.loadFlag(flagC), w)
	sum := c.b.Bin(ir.OpAdd, a, b)
	r := c.b.Bin(ir.OpAdd, sum, cin)
	if err := c.writeReg(dst, r); err != nil {
		return err
	}
	if in.Mnemonic == lifter.MnADCS || in.Mnemonic == lifter.MnSBCS {
		c.setNZ(r, w)
		c.setCVAdd(a, b, r, w)
	}
	return nil
}

// neg/negs rd, rm{, shift} — subs from the zero register.
func (c *fnctx) translateNeg(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 2 {
		return orOperandErr(err, in)
	}
	v, err := c.operandValue(in.Operands[1], w)
	if err != nil {
		return err
	}
	r := c.b.Neg(v)
	if err := c.writeReg(dst, r); err != nil {
		return err
	}
	if in.Mnemonic == lifter.MnNEGS {
		zero := c.m.ConstU64(ir.IntT(w), 0)
		c.setNZ(r, w)
		c.setCVAdd(zero, c.b.Not(v), r, w)
	}
	return nil
}

// cmp/cmn rn, rm|#imm — flag-only adds/subs.
func (c *fnctx) translateCmp(in *lifter.Instruction) error {
	if len(in.Operands) != 2 || in.Operands[0].Kind != lifter.OpndReg {
		return fmt.Errorf("%s: bad operands", in.Mnemonic)
	}
	w, err := c.regWidth(in.Operands[0])
	if err != nil {
		return err
	}
	a, err := c.operandValue(lifter.Reg(in.Operands[0].Reg), w)
	if err != nil {
		return err
	}
	b, err := c.operandValue(in.Operands[1], w)
	if err != nil {
		return err
	}
	if in.Mnemonic == lifter.MnCMP {
		r := c.b.Bin(ir.OpSub, a, b)
		c.setNZ(r, w)
		c.setCVAdd(a, c.b.Not(b), r, w)
	} else {
		r := c.b.Bin(ir.OpAdd, a, b)
		c.setNZ(r, w)
		c.setCVAdd(a, b, r, w)
	}
	return nil
}

// and/ands/orr/eor/bic/bics/orn/eon rd, rn, rm|#imm. The flag-setting
// forms write N and Z only; C and V are left as they are.
func (c *fnctx) translateLogical(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 3 {
		return orOperandErr(err, in)
	}
	a, err := c.operandValue(lifter.Reg(in.Operands[1].Reg), w)
	if err != nil {
		return err
	}
	b, err := c.operandValue(in.Operands[2], w)
	if err != nil {
		return err
	}
	var r ir.ValueID
	switch in.Mnemonic {
	case lifter.MnAND, lifter.MnANDS:
		r = c.b.Bin(ir.OpAnd, a, b)
	case lifter.MnORR:
		r = c.b.Bin(ir.OpOr, a, b)
	case lifter.MnEOR:
		r = c.b.Bin(ir.OpXor, a, b)
	case lifter.MnBIC, lifter.MnBICS:
		r = c.b.Bin(ir.OpAnd, a, c.b.Not(b))
	case lifter.MnORN:
		r = c.b.Bin(ir.OpOr, a, c.b.Not(b))
	case lifter.MnEON:
		r = c.b.Bin(ir.OpXor, a, c.b.Not(b))
	}
	if err := c.writeReg(dst, r); err != nil {
		return err
	}
	if in.Mnemonic == lifter.MnANDS || in.Mnemonic == lifter.MnBICS {
		c.setNZ(r, w)
	}
	return nil
}

// tst rn, rm|#imm — flag-only ands.
func (c *fnctx) translateTst(in *lifter.Instruction) error {
	if len(in.Operands) != 2 || in.Operands[0].Kind != lifter.OpndReg {
		return fmt.Errorf("tst: bad operands")
	}
	w, err := c.regWidth(in.Operands[0])
	if err != nil {
		return err
	}
	a, err := c.operandValue(lifter.Reg(in.Operands[0].Reg), w)
	if err != nil {
		return err
	}
	b, err := c.operandValue(in.Operands[1], w)
	if err != nil {
		return err
	}
	c.setNZ(c.b.Bin(ir.OpAnd, a, b), w)
	return nil
}

// lsl/lsr/asr/ror rd, rn, rm|#imm. Register shift amounts are masked
// to log2(W) bits, matching the hardware.
func (c *fnctx) translateShift(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 3 {
		return orOperandErr(err, in)
	}
	a, err := c.operandValue(lifter.Reg(in.Operands[1].Reg), w)
	if err != nil {
		return err
	}
	t := ir.IntT(w)
	var amt ir.ValueID
	if in.Operands[2].Kind == lifter.OpndImm {
		amt = c.m.ConstU64(t, uint64(in.Operands[2].Imm)&uint64(w-1))
	} else {
		raw, err := c.operandValue(in.Operands[2], w)
		if err != nil {
			return err
		}
		amt = c.b.Bin(ir.OpAnd, raw, c.m.ConstU64(t, uint64(w-1)))
	}
	var r ir.ValueID
	switch in.Mnemonic {
	case lifter.MnLSL:
		r = c.b.Bin(ir.OpShl, a, amt)
	case lifter.MnLSR:
		r = c.b.Bin(ir.OpLShr, a, amt)
	case lifter.MnASR:
		r = c.b.Bin(ir.OpAShr, a, amt)
	case lifter.MnROR:
		r = c.rotateRight(a, amt, w)
	}
	return c.writeReg(dst, r)
}

// mul/mneg rd,rn,rm and madd/msub rd,rn,rm,ra.
func (c *fnctx) translateMul(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil {
		return err
	}
	want := 3
	if in.Mnemonic == lifter.MnMADD || in.Mnemonic == lifter.MnMSUB {
		want = 4
	}
	if len(in.Operands) != want {
		return fmt.Errorf("%s: bad operands", in.Mnemonic)
	}
	a, err := c.operandValue(lifter.Reg(in.Operands[1].Reg), w)
	if err != nil {
		return err
	}
	b, err := c.operandValue(lifter.Reg(in.Operands[2].Reg), w)
	if err != nil {
		return err
	}
	prod := c.b.Bin(ir.OpMul, a, b)
	switch in.Mnemonic {
	case lifter.MnMUL:
		return c.writeReg(dst, prod)
	case lifter.MnMNEG:
		return c.writeReg(dst, c.b.Neg(prod))
	case lifter.MnMADD, lifter.MnMSUB:
		acc, err := c.operandValue(lifter.Reg(in.Operands[3].Reg), w)
		if err != nil {
			return err
		}
		if in.Mnemonic == lifter.MnMADD {
			return c.writeReg(dst, c.b.Bin(ir.OpAdd, acc, prod))
		}
		return c.writeReg(dst, c.b.Bin(ir.OpSub, acc, prod))
	}
	return nil
}

// smull/umull xd, wn, wm — widening 32x32→64 multiply.
func (c *fnctx) translateMull(in *lifter.Instruction) error {
	dst, _, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 3 {
		return orOperandErr(err, in)
	}
	a, err := c.readReg(in.Operands[1].Reg)
	if err != nil {
		return err
	}
	b, err := c.readReg(in.Operands[2].Reg)
	if err != nil {
		return err
	}
	if in.Mnemonic == lifter.MnSMULL {
		a, b = c.sext(a, 64), c.sext(b, 64)
	} else {
		a, b = c.zext(a, 64), c.zext(b, 64)
	}
	return c.writeReg(dst, c.b.Bin(ir.OpMul, a, b))
}

// sxtb/sxth/sxtw/uxtb/uxth rd, rn.
func (c *fnctx) translateExtend(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 2 {
		return orOperandErr(err, in)
	}
	v, err := c.readReg(in.Operands[1].Reg)
	if err != nil {
		return err
	}
	var src uint16
	signed := false
	switch in.Mnemonic {
	case lifter.MnSXTB:
		src, signed = 8, true
	case lifter.MnSXTH:
		src, signed = 16, true
	case lifter.MnSXTW:
		src, signed = 32, true
	case lifter.MnUXTB:
		src = 8
	case lifter.MnUXTH:
		src = 16
	}
	if c.m.TypeOf(v).Bits > src {
		v = c.trunc(v, src)
	}
	if signed {
		v = c.sext(v, w)
	} else {
		v = c.zext(v, w)
	}
	return c.writeReg(dst, v)
}

func orOperandErr(err error, in *lifter.Instruction) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("%s: bad operands", in.Mnemonic)
}
