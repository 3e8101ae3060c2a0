package render

import (
	"fmt"

	"github.com/xyproto/pe67/analyze"
	"github.com/xyproto/pe67/cfg"
	"github.com/xyproto/pe67/disasm"
	"github.com/xyproto/pe67/peimage"
)

var arithOps = map[string]string{
	"add": "+=", "sub": "-=", "and": "&=", "or": "|=", "xor": "^=",
}

var jccRelOp = map[string]string{
	"je": "==", "jne": "!=",
	"jg": ">", "jge": ">=", "jl": "<", "jle": "<=",
	"ja": ">", "jae": ">=", "jb": "<", "jbe": "<=",
}

func invertRelOp(op string) string {
	switch op {
	case "==":
		return "!="
	case "!=":
		return "=="
	case ">":
		return "<="
	case ">=":
		return "<"
	case "<":
		return ">="
	case "<=":
		return ">"
	default:
		return op
	}
}

// condPair reports whether b ends with a cmp/test immediately followed by a
// recognized Jcc -- the one shape condText can actually trace back to a
// comparison.
func condPair(b *cfg.Block) (cmp, jcc disasm.Instruction, ok bool) {
	if len(b.Instructions) < 2 {
		return cmp, jcc, false
	}
	jcc = b.Instructions[len(b.Instructions)-1]
	if _, ok := jccRelOp[jcc.Mnemonic]; !ok {
		return cmp, jcc, false
	}
	cmp = b.Instructions[len(b.Instructions)-2]
	if (cmp.Mnemonic != "cmp" && cmp.Mnemonic != "test") || len(cmp.Operands) != 2 {
		return cmp, jcc, false
	}
	return cmp, jcc, true
}

// condText pairs the block's terminal Jcc with the immediately preceding
// cmp/test to build a comparison expression. Blocks whose flags dependency
// can't be traced this way (the common case is a cmp/test immediately
// before the Jcc; anything else is a known gap, not a full flag-dataflow
// engine) fall back to a named, always-true placeholder so the emitted
// code stays syntactically valid without claiming a semantics it can't
// recover.
func condText(img *peimage.Image, fn *analyze.AnalyzedFunction, b *cfg.Block) string {
	cmp, jcc, ok := condPair(b)
	if !ok {
		return "1 /* unrecovered flags */"
	}
	rel := jccRelOp[jcc.Mnemonic]
	lhs := operandText(img, fn, cmp, cmp.Operands[0])
	rhs := operandText(img, fn, cmp, cmp.Operands[1])
	if cmp.Mnemonic == "test" {
		return fmt.Sprintf("(%s & %s) %s 0", lhs, rhs, rel)
	}
	return fmt.Sprintf("%s %s %s", lhs, rel, rhs)
}

// instrLine renders one non-branch instruction as a statement. The cmp/jcc
// pair a while/for header has already folded into its condition is omitted
// by blockStatements (skipTrailingCondPair) before it gets here.
func instrLine(img *peimage.Image, fn *analyze.AnalyzedFunction, in disasm.Instruction) string {
	if in.Undecoded {
		return fmt.Sprintf("asm { %x };", in.Raw)
	}
	switch in.Mnemonic {
	case "mov", "movzx", "movsx", "movabs":
		if len(in.Operands) != 2 {
			break
		}
		dst := operandText(img, fn, in, in.Operands[0])
		src := operandText(img, fn, in, in.Operands[1])
		return fmt.Sprintf("%s = %s;", dst, src)
	case "lea":
		if len(in.Operands) != 2 || in.Operands[1].Kind != disasm.OperandMem {
			break
		}
		dst := operandText(img, fn, in, in.Operands[0])
		if in.Operands[1].Mem.RipRelative {
			return fmt.Sprintf("%s = &%s;", dst, ripText(img, in))
		}
		return fmt.Sprintf("%s = &%s;", dst, memText(fn, in.Operands[1]))
	case "xor":
		if in.IsXorSelf() {
			return fmt.Sprintf("%s = 0;", operandText(img, fn, in, in.Operands[0]))
		}
		fallthrough
	case "add", "sub", "and", "or":
		if len(in.Operands) != 2 {
			break
		}
		dst := operandText(img, fn, in, in.Operands[0])
		src := operandText(img, fn, in, in.Operands[1])
		return fmt.Sprintf("%s %s %s;", dst, arithOps[in.Mnemonic], src)
	case "inc":
		if len(in.Operands) != 1 {
			break
		}
		return fmt.Sprintf("%s++;", operandText(img, fn, in, in.Operands[0]))
	case "dec":
		if len(in.Operands) != 1 {
			break
		}
		return fmt.Sprintf("%s--;", operandText(img, fn, in, in.Operands[0]))
	case "not":
		if len(in.Operands) != 1 {
			break
		}
		dst := operandText(img, fn, in, in.Operands[0])
		return fmt.Sprintf("%s = ~%s;", dst, dst)
	case "neg":
		if len(in.Operands) != 1 {
			break
		}
		dst := operandText(img, fn, in, in.Operands[0])
		return fmt.Sprintf("%s = -%s;", dst, dst)
	case "imul", "mul":
		if len(in.Operands) != 2 {
			break
		}
		dst := operandText(img, fn, in, in.Operands[0])
		src := operandText(img, fn, in, in.Operands[1])
		return fmt.Sprintf("%s *= %s;", dst, src)
	case "cmp", "test":
		lhs, rhs := "?", "?"
		if len(in.Operands) == 2 {
			lhs = operandText(img, fn, in, in.Operands[0])
			rhs = operandText(img, fn, in, in.Operands[1])
		}
		return fmt.Sprintf("// %s %s, %s", in.Mnemonic, lhs, rhs)
	case "push":
		if len(in.Operands) != 1 {
			break
		}
		return fmt.Sprintf("// push %s", operandText(img, fn, in, in.Operands[0]))
	case "pop":
		if len(in.Operands) != 1 {
			break
		}
		return fmt.Sprintf("// pop %s", operandText(img, fn, in, in.Operands[0]))
	case "call":
		return callLine(img, fn, in)
	}
	return fmt.Sprintf("// %s %s", in.Mnemonic, operandsJoin(img, fn, in))
}

func operandsJoin(img *peimage.Image, fn *analyze.AnalyzedFunction, in disasm.Instruction) string {
	s := ""
	for i, op := range in.Operands {
		if i > 0 {
			s += ", "
		}
		s += operandText(img, fn, in, op)
	}
	return s
}

func callLine(img *peimage.Image, fn *analyze.AnalyzedFunction, in disasm.Instruction) string {
	for _, c := range fn.ApiCalls {
		if c.CallSiteVA == in.VA {
			return fmt.Sprintf("%s(); // %s!%s", sanitizeIdent(c.Symbol), c.DLL, c.Symbol)
		}
	}
	if target, ok := in.DirectTarget(); ok {
		return fmt.Sprintf("%s();", fmt.Sprintf("sub_%x", target))
	}
	if len(in.Operands) == 1 {
		return fmt.Sprintf("(*%s)();", operandText(img, fn, in, in.Operands[0]))
	}
	return "(*unknown_target)();"
}
