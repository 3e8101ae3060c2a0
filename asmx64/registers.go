package asmx64

// register describes one addressable x86-64 general-purpose register: its
// encoding (0-15, register-extension bit included) and width in bits.
// Field names and the register set mirror the teacher's x86_64Registers
// table, trimmed to the general-purpose subset this assembler supports.
type register struct {
	Name     string
	Size     int
	Encoding uint8
}

var registers = map[string]register{
	"rax": {"rax", 64, 0}, "rcx": {"rcx", 64, 1}, "rdx": {"rdx", 64, 2}, "rbx": {"rbx", 64, 3},
	"rsp": {"rsp", 64, 4}, "rbp": {"rbp", 64, 5}, "rsi": {"rsi", 64, 6}, "rdi": {"rdi", 64, 7},
	"r8": {"r8", 64, 8}, "r9": {"r9", 64, 9}, "r10": {"r10", 64, 10}, "r11": {"r11", 64, 11},
	"r12": {"r12", 64, 12}, "r13": {"r13", 64, 13}, "r14": {"r14", 64, 14}, "r15": {"r15", 64, 15},

	"eax": {"eax", 32, 0}, "ecx": {"ecx", 32, 1}, "edx": {"edx", 32, 2}, "ebx": {"ebx", 32, 3},
	"esp": {"esp", 32, 4}, "ebp": {"ebp", 32, 5}, "esi": {"esi", 32, 6}, "edi": {"edi", 32, 7},
	"r8d": {"r8d", 32, 8}, "r9d": {"r9d", 32, 9}, "r10d": {"r10d", 32, 10}, "r11d": {"r11d", 32, 11},
	"r12d": {"r12d", 32, 12}, "r13d": {"r13d", 32, 13}, "r14d": {"r14d", 32, 14}, "r15d": {"r15d", 32, 15},

	"ax": {"ax", 16, 0}, "cx": {"cx", 16, 1}, "dx": {"dx", 16, 2}, "bx": {"bx", 16, 3},
	"sp": {"sp", 16, 4}, "bp": {"bp", 16, 5}, "si": {"si", 16, 6}, "di": {"di", 16, 7},

	"al": {"al", 8, 0}, "cl": {"cl", 8, 1}, "dl": {"dl", 8, 2}, "bl": {"bl", 8, 3},
	"spl": {"spl", 8, 4}, "bpl": {"bpl", 8, 5}, "sil": {"sil", 8, 6}, "dil": {"dil", 8, 7},
}

func lookupReg(name string) (register, bool) {
	r, ok := registers[name]
	return r, ok
}

// needsRexForByteReg reports whether addressing this 8-bit register at all
// requires a REX prefix (spl/bpl/sil/dil collide with ah/ch/dh/bh's
// encodings without one -- this assembler only ever supports the REX-only
// forms, never the legacy ah/bh/ch/dh high-byte registers).
func needsRexForByteReg(r register) bool {
	return r.Size == 8 && r.Encoding >= 4 && r.Encoding < 8
}
