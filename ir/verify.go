package ir

import "fmt"

// Verify checks the structural invariants of f:
//
//   - every block ends in exactly one terminator (and only there),
//   - every terminator targets blocks of f,
//   - every instruction-result operand is dominated by its definition,
//   - stores write a value of the destination element type.
//
// It returns the first violation found.
func (m *Module) Verify(f *Function) error {
	dom := Dominators(m, f)
	for _, bid := range f.Blocks {
		blk := m.blocks[bid]
		for i, iid := range blk.Instrs {
			in := m.instrs[iid]
			if in.Op == OpNop {
				continue
			}
			last := i == len(blk.Instrs)-1
			if in.Op.IsTerminator() != last {
				if in.Op.IsTerminator() {
					return fmt.Errorf("ir: %s: terminator %s not at end of block %s", f.Name, in.Op, blk.Name)
				}
				return fmt.Errorf("ir: %s: block %s not terminated", f.Name, blk.Name)
			}
			for _, tgt := range in.Targets {
				if m.blocks[tgt].Func != f.ID {
					return fmt.Errorf("ir: %s: terminator in %s targets foreign block", f.Name, blk.Name)
				}
			}
			if in.Op == OpStore {
				vt := m.TypeOf(in.Args[0])
				at := m.TypeOf(in.Args[1])
				if at.IsPtr() && !at.Pointee().IsVoid() && !vt.Equal(at.Pointee()) {
					return fmt.Errorf("ir: %s: store of %s into %s in %s", f.Name, vt, at, blk.Name)
				}
			}
			for _, a := range in.Args {
				if a == NoValue {
					continue
				}
				av := m.values[a]
				if av.Kind != InstrValue {
					continue
				}
				def := m.instrs[av.Instr]
				if def.Op == OpNop {
					return fmt.Errorf("ir: %s: use of removed instruction %d in %s", f.Name, av.Instr, blk.Name)
				}
				if !m.InstrDominates(dom, av.Instr, iid) {
					return fmt.Errorf("ir: %s: use in %s not dominated by definition", f.Name, blk.Name)
				}
			}
		}
	}
	return nil
}
