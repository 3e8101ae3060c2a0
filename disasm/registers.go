package disasm

// x86-64 general-purpose register name tables, keyed by encoding (0-15) and
// operand width in bits. Mirrors the shape of the teacher's reg.go register
// map (Name/Size/Encoding), narrowed to the one architecture this toolchain
// targets and widened to cover every width the decoder can produce.

var gpr64 = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

var gpr32 = [16]string{
	"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
	"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d",
}

var gpr16 = [16]string{
	"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
	"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w",
}

// gpr8 is the REX-present byte register set (spl/bpl/sil/dil instead of
// ah/ch/dh/bh).
var gpr8 = [16]string{
	"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
	"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b",
}

// gpr8Legacy is the byte register set used when no REX prefix is present,
// where encodings 4-7 name the high-byte halves of rsp/rbp/rsi/rdi instead.
var gpr8Legacy = [8]string{"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh"}

var xmmRegs = [16]string{
	"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
	"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
}

// regName resolves a register encoding (0-15, after REX.R/X/B extension has
// already been folded in by the caller) to its textual name at the given
// operand width in bits.
func regName(enc uint8, widthBits int, hasREX bool) string {
	switch widthBits {
	case 8:
		if hasREX || enc >= 8 {
			return gpr8[enc]
		}
		return gpr8Legacy[enc]
	case 16:
		return gpr16[enc]
	case 32:
		return gpr32[enc]
	case 64:
		return gpr64[enc]
	case 128:
		return xmmRegs[enc&0xF]
	default:
		return gpr32[enc]
	}
}
