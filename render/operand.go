package render

import (
	"fmt"

	"github.com/xyproto/pe67/analyze"
	"github.com/xyproto/pe67/disasm"
	"github.com/xyproto/pe67/peimage"
)

// operandText renders one decoded operand of in as an expression. Recovered
// stack variables substitute their Var name; a RIP-relative memory operand
// resolves through the image (import/export/string/section) the same way
// analyze's API-call recognition does; everything else falls back to a raw
// register/address expression.
func operandText(img *peimage.Image, fn *analyze.AnalyzedFunction, in disasm.Instruction, op disasm.Operand) string {
	switch op.Kind {
	case disasm.OperandReg:
		return op.Reg
	case disasm.OperandImm:
		return fmt.Sprintf("%d", op.Imm)
	case disasm.OperandRel:
		return fmt.Sprintf("0x%x", op.Rel)
	case disasm.OperandMem:
		if op.Mem.RipRelative {
			return ripText(img, in)
		}
		return memText(fn, op)
	default:
		return "0"
	}
}

func memText(fn *analyze.AnalyzedFunction, op disasm.Operand) string {
	m := op.Mem
	if m.IndexReg == "" {
		if v, ok := fn.Vars[analyze.VarKey{BaseReg: m.BaseReg, Offset: m.Disp}]; ok {
			return varExpr(v)
		}
	}
	expr := "*(" + ptrCast(m.WidthBits) + ")("
	if m.BaseReg != "" {
		expr += m.BaseReg
	}
	if m.IndexReg != "" {
		expr += fmt.Sprintf("+%s*%d", m.IndexReg, m.Scale)
	}
	if m.Disp != 0 {
		if m.Disp > 0 {
			expr += fmt.Sprintf("+%d", m.Disp)
		} else {
			expr += fmt.Sprintf("%d", m.Disp)
		}
	}
	expr += ")"
	return expr
}

func ptrCast(widthBits int) string {
	switch widthBits {
	case 8:
		return "uint8_t*"
	case 16:
		return "uint16_t*"
	case 64:
		return "uint64_t*"
	default:
		return "uint32_t*"
	}
}

// ripText resolves a RIP-relative operand's pre-computed absolute target VA
// against the image so globals and string literals get the §4.7 naming
// scheme instead of a raw address.
func ripText(img *peimage.Image, in disasm.Instruction) string {
	if in.RipRel == nil {
		return "0"
	}
	target := in.RipRel.TargetVA
	r := img.Resolve(target)
	switch r.Kind {
	case peimage.ResolvedImport:
		return sanitizeIdent(r.Symbol)
	case peimage.ResolvedExport:
		return sanitizeIdent(r.ExportName)
	case peimage.ResolvedString:
		return stringName(target)
	default:
		return globalName(target)
	}
}
