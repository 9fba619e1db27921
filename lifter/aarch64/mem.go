package aarch64

import (
	"fmt"

	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
)

// ldr and the sized/sign-extending variants.
func (c *fnctx) translateLoad(in *lifter.Instruction) error {
	dst, w, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 2 {
		return orOperandErr(err, in)
	}
	var memBits uint16
	signed := false
	switch in.Mnemonic {
	case lifter.MnLDR:
		memBits = w
	case lifter.MnLDRB:
		memBits = 8
	case lifter.MnLDRH:
		memBits = 16
	case lifter.MnLDRSB:
		memBits, signed = 8, true
	case lifter.MnLDRSH:
		memBits, signed = 16, true
	case lifter.MnLDRSW:
		memBits, signed = 32, true
	}
	addr, post, err := c.memAccess(in.Operands[1], 0)
	if err != nil {
		return err
	}
	v := c.loadMem(addr, ir.IntT(memBits))
	if memBits < w {
		if signed {
			v = c.sext(v, w)
		} else {
			v = c.zext(v, w)
		}
	}
	if err := c.writeReg(dst, v); err != nil {
		return err
	}
	return post()
}

// str and the sized variants.
func (c *fnctx) translateStore(in *lifter.Instruction) error {
	if len(in.Operands) != 2 || in.Operands[0].Kind != lifter.OpndReg {
		return fmt.Errorf("%s: bad operands", in.Mnemonic)
	}
	v, err := c.readReg(in.Operands[0].Reg)
	if err != nil {
		return err
	}
	switch in.Mnemonic {
	case lifter.MnSTRB:
		v = c.trunc(v, 8)
	case lifter.MnSTRH:
		v = c.trunc(v, 16)
	}
	addr, post, err := c.memAccess(in.Operands[1], 0)
	if err != nil {
		return err
	}
	c.storeMem(v, addr)
	return post()
}

// ldp/stp/ldpsw — two sequential accesses at base+off and
// base+off+size, with writeback applied to the base as usual.
func (c *fnctx) translatePair(in *lifter.Instruction) error {
	if len(in.Operands) != 3 ||
		in.Operands[0].Kind != lifter.OpndReg || in.Operands[1].Kind != lifter.OpndReg {
		return fmt.Errorf("%s: bad operands", in.Mnemonic)
	}
	w, err := c.regWidth(in.Operands[0])
	if err != nil {
		return err
	}
	elemBits := w
	if in.Mnemonic == lifter.MnLDPSW {
		elemBits = 32
	}
	elemSize := int64(elemBits / 8)

	mem := in.Operands[2]
	addr1, post, err := c.memAccess(mem, 0)
	if err != nil {
		return err
	}
	addr2 := c.b.Bin(ir.OpAdd, addr1, c.m.ConstI64(ir.I64, elemSize))

	switch in.Mnemonic {
	case lifter.MnSTP:
		v1, err := c.readReg(in.Operands[0].Reg)
		if err != nil {
			return err
		}
		v2, err := c.readReg(in.Operands[1].Reg)
		if err != nil {
			return err
		}
		c.storeMem(v1, addr1)
		c.storeMem(v2, addr2)
	default: // ldp, ldpsw
		t := ir.IntT(elemBits)
		v1 := c.loadMem(addr1, t)
		v2 := c.loadMem(addr2, t)
		if in.Mnemonic == lifter.MnLDPSW {
			v1, v2 = c.sext(v1, 64), c.sext(v2, 64)
		}
		if err := c.writeReg(in.Operands[0].Reg, v1); err != nil {
			return err
		}
		if err := c.writeReg(in.Operands[1].Reg, v2); err != nil {
			return err
		}
	}
	return post()
}

// adr/adrp — the decoder resolves the label, so both reduce to a
// constant: pc+imm for adr, (pc &^ 0xFFF) + (imm << 12) for adrp.
func (c *fnctx) translateAdr(in *lifter.Instruction) error {
	dst, _, err := c.dstAndWidth(in)
	if err != nil || len(in.Operands) != 2 || in.Operands[1].Kind != lifter.OpndLabel {
		return orOperandErr(err, in)
	}
	return c.writeReg(dst, c.m.ConstU64(ir.I64, in.Operands[1].Target))
}
