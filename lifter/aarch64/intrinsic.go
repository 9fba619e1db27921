package aarch64

import (
	"fmt"

	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
	"github.com/binlift/binlift/log"
)

// translateIntrinsic is the unknown-opcode fallback: an opaque call
// named after the mnemonic, taking every register the instruction
// reads and storing the result into the register it writes. The
// pipeline continues; only the precise semantics are lost.
func (c *fnctx) translateIntrinsic(in *lifter.Instruction) error {
	name := fmt.Sprintf("__asm_%s", in.Mnemonic)
	callee := c.m.FuncByName(name)
	if callee == nil {
		callee = c.m.NewFunc(name)
	}
	log.DebugBy(&c.t.unknownSeen, "Unsupported opcode lifted as intrinsic",
		"mnemonic", in.Mnemonic, "pc", c.pc)

	var dst string
	var dstBits uint16
	var args []ir.ValueID
	for i, op := range in.Operands {
		switch op.Kind {
		case lifter.OpndReg:
			if i == 0 {
				var err error
				dst = op.Reg
				_, dstBits, err = c.regInfo(op.Reg)
				if err != nil {
					return err
				}
				continue
			}
			v, err := c.readReg(op.Reg)
			if err != nil {
				return err
			}
			args = append(args, v)
		case lifter.OpndImm:
			args = append(args, c.m.ConstI64(ir.I64, op.Imm))
		case lifter.OpndMem:
			v, err := c.readReg(op.Base)
			if err != nil {
				return err
			}
			args = append(args, v)
		}
	}

	ret := ir.Void
	if dst != "" {
		ret = ir.IntT(dstBits)
	}
	res, _ := c.b.Call(c.m.FuncRef(callee), ret, args...)
	if dst != "" {
		return c.writeReg(dst, res)
	}
	return nil
}
