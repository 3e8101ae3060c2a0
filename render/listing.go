package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xyproto/pe67/analyze"
	"github.com/xyproto/pe67/disasm"
	"github.com/xyproto/pe67/peimage"
)

// FormatListing produces the `<name>_full.asm` line-oriented disassembly
// spec.md §6 describes: `0x<hex>: <mnemonic> <operands>`, one instruction
// per line, a blank line between functions, and a `; === sub_<hex> ===`
// header per function. Memory operands that resolve through the image use
// the same data_<hex>/import_<hex>/string_<hex> naming reloc.Relocate
// expects, so a listing can be hand-edited and fed back through asmx64 and
// reloc without renaming anything.
func FormatListing(prog *analyze.AnalyzedProgram) string {
	funcs := make([]*analyze.AnalyzedFunction, len(prog.Functions))
	copy(funcs, prog.Functions)
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].EntryVA < funcs[j].EntryVA })

	var b strings.Builder
	for i, fn := range funcs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("; === %s ===\n", funcName(prog.Img, fn)))
		for _, va := range fn.Order {
			block := fn.Blocks[va]
			for _, in := range block.Instructions {
				b.WriteString(formatListingInstruction(prog.Img, in))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func formatListingInstruction(img *peimage.Image, in disasm.Instruction) string {
	if in.Undecoded {
		return fmt.Sprintf("0x%x: <undecoded>", in.VA)
	}
	if len(in.Operands) == 0 {
		return fmt.Sprintf("0x%x: %s", in.VA, in.Mnemonic)
	}
	parts := make([]string, len(in.Operands))
	for i, op := range in.Operands {
		parts[i] = formatListingOperand(img, in, op)
	}
	return fmt.Sprintf("0x%x: %s %s", in.VA, in.Mnemonic, strings.Join(parts, ", "))
}

func formatListingOperand(img *peimage.Image, in disasm.Instruction, op disasm.Operand) string {
	switch op.Kind {
	case disasm.OperandReg:
		return op.Reg
	case disasm.OperandImm:
		return fmt.Sprintf("%d", op.Imm)
	case disasm.OperandRel:
		return fmt.Sprintf("0x%x", op.Rel)
	case disasm.OperandMem:
		if op.Mem.RipRelative {
			return "[rip+" + listingRipLabel(img, in) + "]"
		}
		return formatListingMem(op.Mem)
	default:
		return "0"
	}
}

// listingRipLabel names a RIP-relative target the way reloc.kindMatches
// checks it: import/IAT slots as import_<hex>, recognized strings as
// string_<hex>, everything else (section data, exports, unresolved) as
// data_<hex>.
func listingRipLabel(img *peimage.Image, in disasm.Instruction) string {
	if in.RipRel == nil {
		return "data_0"
	}
	target := in.RipRel.TargetVA
	r := img.Resolve(target)
	switch r.Kind {
	case peimage.ResolvedImport, peimage.ResolvedIatSlot:
		return fmt.Sprintf("import_%x", target)
	case peimage.ResolvedString:
		return fmt.Sprintf("string_%x", target)
	default:
		return fmt.Sprintf("data_%x", target)
	}
}

func formatListingMem(m disasm.MemOperand) string {
	inner := ""
	if m.BaseReg != "" {
		inner += m.BaseReg
	}
	if m.IndexReg != "" {
		if inner != "" {
			inner += "+"
		}
		inner += fmt.Sprintf("%s*%d", m.IndexReg, m.Scale)
	}
	if m.Disp != 0 {
		if m.Disp > 0 && inner != "" {
			inner += fmt.Sprintf("+%d", m.Disp)
		} else {
			inner += fmt.Sprintf("%d", m.Disp)
		}
	} else if inner == "" {
		inner = "0"
	}
	return "[" + inner + "]"
}
