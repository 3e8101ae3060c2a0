package analyze

import (
	"github.com/xyproto/pe67/cfg"
	"github.com/xyproto/pe67/disasm"
)

var win64ArgRegs = []string{"rcx", "rdx", "r8", "r9"}

// DetectConvention implements spec.md §4.6's calling-convention heuristic:
// callee `ret imm` means stdcall-like stack cleanup; otherwise the argument
// registers read (not yet overwritten) in the entry block point at Win64 or
// SysV. No decisive signal leaves the result Unknown, which the spec
// explicitly allows.
func DetectConvention(fn *cfg.Function) CallingConvention {
	if usesRetImm(fn) {
		return ConventionStdcall
	}

	entry, ok := fn.Blocks[fn.EntryVA]
	if !ok {
		return ConventionUnknown
	}
	reads := registersReadBeforeWrite(entry)

	// SysV's distinguishing first two args (rdi, rsi) are absent from
	// Win64's set, so their presence is the decisive signal.
	if reads["rdi"] || reads["rsi"] {
		return ConventionSysV
	}
	if countPresent(reads, win64ArgRegs) >= 1 {
		return ConventionWin64
	}
	return ConventionUnknown
}

func countPresent(reads map[string]bool, names []string) int {
	n := 0
	for _, r := range names {
		if reads[r] {
			n++
		}
	}
	return n
}

func usesRetImm(fn *cfg.Function) bool {
	for _, va := range fn.Order {
		b := fn.Blocks[va]
		if b.Terminal != cfg.TermReturn || len(b.Instructions) == 0 {
			continue
		}
		last := b.Instructions[len(b.Instructions)-1]
		if len(last.Operands) == 1 && last.Operands[0].Kind == disasm.OperandImm {
			return true
		}
	}
	return false
}

// registersReadBeforeWrite scans the block's instructions in order and
// records each register name the first time it is read as a source
// operand, before it has been written as a destination — so reuse of the
// register later for an unrelated value doesn't look like an argument read.
func registersReadBeforeWrite(b *cfg.Block) map[string]bool {
	reads := make(map[string]bool)
	written := make(map[string]bool)
	for _, in := range b.Instructions {
		destWrites := isWriteOperand(in.Mnemonic)
		for i, op := range in.Operands {
			if op.Kind != disasm.OperandReg {
				continue
			}
			if destWrites && i == 0 {
				continue // destination, not a read
			}
			if !written[op.Reg] {
				reads[op.Reg] = true
			}
		}
		if destWrites && len(in.Operands) > 0 && in.Operands[0].Kind == disasm.OperandReg {
			written[in.Operands[0].Reg] = true
		}
	}
	return reads
}

func isWriteOperand(mnemonic string) bool {
	switch mnemonic {
	case "mov", "lea", "movzx", "movsx", "movabs", "add", "sub", "and", "or", "xor",
		"inc", "dec", "not", "neg", "imul", "pop":
		return true
	}
	return false
}
