package disasm

// attachRipRel tags mov/lea RIP-relative memory operands, per the detail
// floor's "MOV r,[rip+d]", "MOV [rip+d],r" and "LEA r,[rip+d]" families.
// These always count as data accesses.
func (d *decoder) attachRipRel(in *Instruction, m modrmResult, widthBits int, isDataAccess bool) {
	if !m.ripRelBase {
		return
	}
	in.RipRel = &RipRel{
		TargetVA:     d.va + uint64(d.pos-d.instrStart) + uint64(int64(m.mem.Disp)),
		IsDataAccess: isDataAccess,
	}
}

// attachRipRelArith tags the CMP/TEST/ADD/SUB/AND/OR/XOR family named by the
// detail floor, and no others, even though the ModR/M encoding is shared
// with ADC/SBB.
func (d *decoder) attachRipRelArith(in *Instruction, m modrmResult, widthBits int, mnemonic string) {
	if !m.ripRelBase || !ripRelArithMnemonics[mnemonic] {
		return
	}
	in.RipRel = &RipRel{
		TargetVA:     d.va + uint64(d.pos-d.instrStart) + uint64(int64(m.mem.Disp)),
		IsDataAccess: true,
	}
}

// attachRipRelControl tags the two control-flow RIP-relative forms, FF /2
// (call [rip+d]) and FF /4 (jmp [rip+d]) — a pointer fetch, not a data
// access in the decompiler's sense: it feeds a branch, not a value.
func (d *decoder) attachRipRelControl(in *Instruction, m modrmResult) {
	if !m.ripRelBase {
		return
	}
	in.RipRel = &RipRel{
		TargetVA:     d.va + uint64(d.pos-d.instrStart) + uint64(int64(m.mem.Disp)),
		IsDataAccess: false,
	}
}
