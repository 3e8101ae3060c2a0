package cfg

import (
	"encoding/binary"

	"github.com/xyproto/pe67/disasm"
)

// detectSwitch recognizes the `cmp r, imm ; ja default ; jmp [table + r*8]`
// shape spec.md §4.5 names: a bounds check followed by an indirect jump
// through a register-indexed table. The table's base address is recovered
// from an earlier `lea reg,[rip+table]` in the same block feeding the jmp's
// base register; entries are read via the image (C1) as absolute 8-byte
// addresses, the entry width the jmp's *8 scale implies.
func detectSwitch(p *Program, b *Block) (tableVA uint64, successors []uint64, ok bool) {
	if len(b.Instructions) < 2 {
		return 0, nil, false
	}
	jmp := b.Instructions[len(b.Instructions)-1]
	if len(jmp.Operands) != 1 || jmp.Operands[0].Kind != disasm.OperandMem {
		return 0, nil, false
	}
	mem := jmp.Operands[0].Mem
	if mem.IndexReg == "" || mem.Scale != 8 {
		return 0, nil, false
	}

	var base uint64
	haveBase := false
	var boundImm int64
	haveBound := false

	for _, in := range b.Instructions {
		if in.Mnemonic == "lea" && in.RipRel != nil && len(in.Operands) == 2 &&
			in.Operands[0].Reg == mem.BaseReg {
			base = in.RipRel.TargetVA
			haveBase = true
		}
		if in.Mnemonic == "cmp" && len(in.Operands) == 2 && in.Operands[1].Kind == disasm.OperandImm {
			boundImm = in.Operands[1].Imm
			haveBound = true
		}
	}
	if !haveBase {
		if jmp.RipRel != nil {
			base = jmp.RipRel.TargetVA
			haveBase = true
		}
	}
	if !haveBase || !haveBound || boundImm < 0 || boundImm > 4096 {
		return 0, nil, false
	}

	count := int(boundImm) + 1
	rva, ok := p.Img.RVA(base)
	if !ok {
		return 0, nil, false
	}
	data, ok := p.Img.BytesAtRVA(rva, count*8)
	if !ok {
		return 0, nil, false
	}

	successors = make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		successors = append(successors, binary.LittleEndian.Uint64(data[i*8:i*8+8]))
	}
	return base, successors, true
}
