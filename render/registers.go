package render

import (
	"sort"

	"github.com/xyproto/pe67/analyze"
	"github.com/xyproto/pe67/disasm"
)

// usedRegisters returns every distinct register name the function's
// instructions reference directly (as a bare register operand, or as the
// base/index of a memory operand the stack-frame recovery pass didn't
// resolve to a named Var), sorted for deterministic declaration order. The
// C and Rust renderers declare each as a function-local so the emitted
// source never references an undeclared identifier.
func usedRegisters(fn *analyze.AnalyzedFunction) []string {
	seen := map[string]bool{}
	add := func(r string) {
		if r != "" && r != "rip" {
			seen[r] = true
		}
	}
	for _, va := range fn.Order {
		b := fn.Blocks[va]
		for _, in := range b.Instructions {
			for _, op := range in.Operands {
				switch op.Kind {
				case disasm.OperandReg:
					add(op.Reg)
				case disasm.OperandMem:
					if op.Mem.RipRelative {
						continue
					}
					if op.Mem.IndexReg == "" {
						if _, ok := fn.Vars[analyze.VarKey{BaseReg: op.Mem.BaseReg, Offset: op.Mem.Disp}]; ok {
							continue
						}
					}
					add(op.Mem.BaseReg)
					add(op.Mem.IndexReg)
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// regWidthBits classifies a register name by its operand width from its
// spelling alone (the decoder never hands back a separate width for bare
// register operands).
func regWidthBits(name string) int {
	if len(name) == 0 {
		return 32
	}
	if name[0] == 'r' {
		if len(name) >= 3 && name[len(name)-1] == 'd' {
			return 32 // r8d..r15d
		}
		if len(name) >= 3 && name[len(name)-1] == 'w' {
			return 16 // r8w..r15w
		}
		if len(name) >= 3 && name[len(name)-1] == 'b' {
			return 8 // r8b..r15b
		}
		return 64 // rax, rbx, ..., r8..r15
	}
	if name[0] == 'e' {
		return 32 // eax, ebx, ...
	}
	switch len(name) {
	case 2:
		if name[1] == 'l' || name[1] == 'h' {
			return 8 // al, ah, bl, bh, ...
		}
		return 16 // ax, bx, si, di, bp, sp
	case 3:
		return 8 // sil, dil, bpl, spl
	}
	return 32
}

func regCType(name string) string {
	switch regWidthBits(name) {
	case 8:
		return "uint8_t"
	case 16:
		return "uint16_t"
	case 64:
		return "uint64_t"
	default:
		return "uint32_t"
	}
}

func regRustType(name string) string {
	switch regWidthBits(name) {
	case 8:
		return "u8"
	case 16:
		return "u16"
	case 64:
		return "u64"
	default:
		return "u32"
	}
}

func cRegisterDecls(fn *analyze.AnalyzedFunction, ind string) []string {
	var lines []string
	for _, r := range usedRegisters(fn) {
		lines = append(lines, ind+regCType(r)+" "+r+" = 0;")
	}
	return lines
}

func rustRegisterDecls(fn *analyze.AnalyzedFunction, ind string) []string {
	var lines []string
	for _, r := range usedRegisters(fn) {
		lines = append(lines, ind+"let mut "+r+": "+regRustType(r)+" = 0;")
	}
	return lines
}
