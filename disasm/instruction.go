// Package disasm implements the one-pass x86-64 decoder (C2) and the junk
// filter (C3): raw executable-section bytes in, a typed instruction stream
// out, RIP-relative operands pre-resolved to absolute target VAs.
package disasm

// OperandKind distinguishes the operand shapes disassemble() can produce.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandImm
	OperandMem
	OperandRel
)

// MemOperand is a `[base + index*scale + disp]` addressing form, optionally
// RIP-relative (base/index empty, RipRelative true, Disp holds disp32 as read
// from the instruction; the resolved absolute target lives on Instruction.RipRel).
type MemOperand struct {
	BaseReg     string
	IndexReg    string
	Scale       uint8
	Disp        int32
	RipRelative bool
	Segment     string // "" if no segment override prefix
	WidthBits   int    // operand width for the pointer-size keyword ("dword ptr" etc)
}

// Operand is a sum type over register, immediate, memory and rel8/32 operands.
type Operand struct {
	Kind OperandKind
	Reg  string
	Imm  int64
	Mem  MemOperand
	// Rel is the statically resolved absolute target VA for a branch/call
	// with an immediate displacement.
	Rel uint64
}

// RipRel records the resolved target of a `[rip+disp32]` operand, per
// spec.md §4.2's "detail floor for RIP handling".
type RipRel struct {
	TargetVA     uint64
	IsDataAccess bool
}

// Instruction is one decoded (or Undecoded) unit in the linear sweep.
type Instruction struct {
	VA        uint64
	Length    int
	Mnemonic  string
	Operands  []Operand
	RipRel    *RipRel
	Raw       []byte
	Undecoded bool

	// NoReturn marks call targets known to be process-terminating
	// imports. Neither the decoder nor analyze sets it; it stays false
	// unless a caller sets it.
	NoReturn bool

	// ZeroingIdiom marks a trailing `xor r,r` that the junk filter
	// recognized as a zeroing idiom. Never removed, per spec.md's Design
	// Notes: the renderer special-cases it as `r = 0` instead of leaving
	// an opaque self-xor.
	ZeroingIdiom bool
}

// IsXorSelf reports whether this is `xor r,r`/`xor r32,r32` for the same
// register on both sides — the zeroing idiom the junk filter marks.
func (in Instruction) IsXorSelf() bool {
	if in.Mnemonic != "xor" || len(in.Operands) != 2 {
		return false
	}
	a, b := in.Operands[0], in.Operands[1]
	return a.Kind == OperandReg && b.Kind == OperandReg && a.Reg == b.Reg
}

// IsBranch reports whether this instruction can transfer control away from
// the fall-through address (used by function discovery and CFG leader
// computation).
func (in Instruction) IsBranch() bool {
	switch in.Mnemonic {
	case "jmp", "call", "ret", "retn":
		return true
	}
	if len(in.Mnemonic) >= 1 && in.Mnemonic[0] == 'j' {
		return true
	}
	return false
}

// IsConditionalBranch reports whether this is a Jcc.
func (in Instruction) IsConditionalBranch() bool {
	return len(in.Mnemonic) >= 2 && in.Mnemonic[0] == 'j' && in.Mnemonic != "jmp"
}

// IsCall reports whether this is a call instruction (direct or indirect).
func (in Instruction) IsCall() bool { return in.Mnemonic == "call" }

// IsRet reports whether this is a return instruction.
func (in Instruction) IsRet() bool { return in.Mnemonic == "ret" || in.Mnemonic == "retn" }

// IsUnconditionalJump reports a direct or indirect jmp.
func (in Instruction) IsUnconditionalJump() bool { return in.Mnemonic == "jmp" }

// DirectTarget returns the statically known target VA of a direct
// call/jmp/jcc, if any.
func (in Instruction) DirectTarget() (uint64, bool) {
	if !in.IsBranch() || in.IsRet() {
		return 0, false
	}
	for _, op := range in.Operands {
		if op.Kind == OperandRel {
			return op.Rel, true
		}
	}
	return 0, false
}

// IsIndirect reports whether a call/jmp targets a register or memory operand
// rather than an immediate displacement.
func (in Instruction) IsIndirect() bool {
	if in.Mnemonic != "call" && in.Mnemonic != "jmp" {
		return false
	}
	for _, op := range in.Operands {
		if op.Kind == OperandReg || op.Kind == OperandMem {
			return true
		}
	}
	return false
}
