package asmx64

import (
	"encoding/binary"
	"fmt"
)

// encCtx carries what an instruction's encoder needs beyond its own
// operands: the address the instruction starts at (for RIP-relative and
// branch displacement math), the label table built by pass 1, and which
// branch displacement width (rel8 vs rel32) pass 1 settled on for this
// statement.
type encCtx struct {
	addr      uint64
	labels    map[string]uint64
	branchRel int // 1 or 4; 0 if this statement isn't a branch
	line      int
	// sizeOnly is set during pass 1's length-measuring passes, where label
	// addresses aren't settled yet. Label lookups fall back to a zero
	// placeholder instead of failing -- every form's byte length depends
	// only on operand shape and, for branches, the caller-chosen
	// branchRel, never on the resolved address's actual value.
	sizeOnly bool
	// external resolves a name the local label table doesn't define --
	// the hook C9 (reloc) hangs its data_/import_/string_ symbol
	// resolution off of, so those references get the same address-aware
	// RIP/absolute math as any other label instead of text-level
	// displacement patching.
	external func(name string) (uint64, bool)
}

func (ctx encCtx) resolveLabel(name string) (uint64, error) {
	if v, ok := ctx.labels[name]; ok {
		return v, nil
	}
	if ctx.external != nil {
		if v, ok := ctx.external(name); ok {
			return v, nil
		}
	}
	if ctx.sizeOnly {
		return 0, nil
	}
	return 0, &AsmError{Line: ctx.line, Message: "undefined label " + name}
}

// rexByte builds a REX prefix: W for 64-bit operand size, R for the
// ModRM.reg extension bit, X for the SIB.index extension bit, B for the
// ModRM.rm/SIB.base/opcode+reg extension bit. Returns 0 (omit) only when
// force is false and no bit is set.
func rexByte(w, r, x, b bool, force bool) (byte, bool) {
	if !w && !r && !x && !b && !force {
		return 0, false
	}
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if b {
		rex |= 0x01
	}
	return rex, true
}

// encodedMem is a fully-resolved memory operand: the ModRM mod/rm bits it
// contributes, an optional SIB byte, and its displacement bytes.
type encodedMem struct {
	mod     byte // 0,1,2, or 3 meaning "no SIB, direct reg" (never used here)
	rm      byte
	hasSIB  bool
	sib     byte
	disp    []byte
	rexX, B bool
}

func resolveMemOperand(m memOperand, ctx encCtx, instrLen int) (encodedMem, error) {
	if m.ripLabel {
		target, err := ctx.resolveLabel(m.label)
		if err != nil {
			return encodedMem{}, err
		}
		// disp32 = target - (address of next instruction); instrLen is the
		// full encoded instruction length, known because displacement-only
		// RIP operands don't affect it (always disp32).
		disp := int32(int64(target) - int64(ctx.addr+uint64(instrLen)))
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(disp))
		return encodedMem{mod: 0, rm: 0x05, disp: b}, nil
	}

	if m.label != "" && m.base == "" && m.index == "" {
		target, err := ctx.resolveLabel(m.label)
		if err != nil {
			return encodedMem{}, err
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(target))
		return encodedMem{mod: 0, rm: 0x04, hasSIB: true, sib: 0x25, disp: b}, nil
	}

	if m.index != "" {
		idxReg, ok := lookupReg(m.index)
		if !ok {
			return encodedMem{}, &AsmError{Line: ctx.line, Message: "unknown index register " + m.index}
		}
		scaleBits := scaleToBits(m.scale)
		var baseField byte = 0x05
		var baseReg register
		haveBase := m.base != ""
		mod := byte(0)
		if haveBase {
			baseReg, ok = lookupReg(m.base)
			if !ok {
				return encodedMem{}, &AsmError{Line: ctx.line, Message: "unknown base register " + m.base}
			}
			baseField = baseReg.Encoding & 7
			mod, _ = chooseMod(m, baseReg)
		}
		sib := (scaleBits << 6) | ((idxReg.Encoding & 7) << 3) | baseField
		disp := dispBytes(m, mod, !haveBase)
		return encodedMem{mod: mod, rm: 0x04, hasSIB: true, sib: sib, disp: disp, rexX: idxReg.Encoding >= 8, B: haveBase && baseReg.Encoding >= 8}, nil
	}

	baseReg, ok := lookupReg(m.base)
	if !ok {
		return encodedMem{}, &AsmError{Line: ctx.line, Message: "unknown base register " + m.base}
	}
	rmField := baseReg.Encoding & 7
	needsSIB := rmField == 0x04 // rsp/r12 can't be a bare ModRM base
	mod, forceDisp0 := chooseMod(m, baseReg)
	_ = forceDisp0
	if needsSIB {
		sib := byte(0x00) | (0x04 << 3) | rmField // no index, scale 0
		disp := dispBytes(m, mod, false)
		return encodedMem{mod: mod, rm: 0x04, hasSIB: true, sib: sib, disp: disp, B: baseReg.Encoding >= 8}, nil
	}
	disp := dispBytes(m, mod, false)
	return encodedMem{mod: mod, rm: rmField, disp: disp, B: baseReg.Encoding >= 8}, nil
}

// chooseMod picks ModRM.mod for a base+disp addressing form: rbp/r13 can't
// use mod=00 (that encoding means RIP-relative with no SIB), so a zero
// displacement on those bases is promoted to an explicit disp8 of 0.
func chooseMod(m memOperand, base register) (mod byte, forcedZeroDisp bool) {
	isBP := base.Encoding&7 == 0x05
	if !m.dispSet || m.disp == 0 {
		if isBP {
			return 1, true
		}
		return 0, false
	}
	if fitsInt8(m.disp) {
		return 1, false
	}
	return 2, false
}

func dispBytes(m memOperand, mod byte, absoluteNoBase bool) []byte {
	switch {
	case absoluteNoBase:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(m.disp)))
		return b
	case mod == 1:
		return []byte{byte(int8(m.disp))}
	case mod == 2:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(m.disp)))
		return b
	default:
		return nil
	}
}

func fitsInt8(v int64) bool { return v >= -128 && v <= 127 }

func scaleToBits(scale int64) byte {
	switch scale {
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	default:
		return 0
	}
}

// modrmReg builds a direct (register-to-register) ModRM byte.
func modrmReg(regField, rmField byte) byte {
	return 0xC0 | ((regField & 7) << 3) | (rmField & 7)
}

func immBytes(v int64, width int) []byte {
	b := make([]byte, width)
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
	return b
}

// encodeInstruction dispatches on mnemonic to the per-instruction-family
// encoder. Every encoder returns the complete byte sequence (prefixes
// through immediate/displacement) for one instruction.
func encodeInstruction(mnemonic string, ops []operand, ctx encCtx) ([]byte, error) {
	switch mnemonic {
	case "nop":
		return []byte{0x90}, nil
	case "ret", "retn":
		return encodeRet(ops)
	case "mov":
		return encodeMov(ops, ctx)
	case "lea":
		return encodeLea(ops, ctx)
	case "add", "or", "and", "sub", "xor", "cmp":
		return encodeArith(mnemonic, ops, ctx)
	case "test":
		return encodeTest(ops, ctx)
	case "inc", "dec", "not", "neg":
		return encodeUnary(mnemonic, ops, ctx)
	case "imul", "mul":
		return encodeMulFamily(mnemonic, ops, ctx)
	case "push":
		return encodePush(ops)
	case "pop":
		return encodePop(ops)
	case "call":
		return encodeCall(ops, ctx)
	case "jmp":
		return encodeJmp(ops, ctx)
	case "je", "jne", "jg", "jge", "jl", "jle", "ja", "jae", "jb", "jbe":
		return encodeJcc(mnemonic, ops, ctx)
	default:
		return nil, &AsmError{Line: ctx.line, Message: "unsupported mnemonic " + mnemonic}
	}
}

var group1Idx = map[string]byte{"add": 0, "or": 1, "and": 4, "sub": 5, "xor": 6, "cmp": 7}

func encodeArith(mnemonic string, ops []operand, ctx encCtx) ([]byte, error) {
	if len(ops) != 2 {
		return nil, &AsmError{Line: ctx.line, Message: mnemonic + " needs 2 operands"}
	}
	dst, src := ops[0], ops[1]
	switch {
	case dst.kind == opReg && src.kind == opReg:
		dstReg, _ := lookupReg(dst.reg)
		srcReg, _ := lookupReg(src.reg)
		opcodeByArith := map[string]byte{"add": 0x01, "or": 0x09, "and": 0x21, "sub": 0x29, "xor": 0x31, "cmp": 0x39}
		rex, ok := rexByte(dstReg.Size == 64, srcReg.Encoding >= 8, false, dstReg.Encoding >= 8, needsRexForByteReg(dstReg) || needsRexForByteReg(srcReg))
		var out []byte
		if ok {
			out = append(out, rex)
		}
		out = append(out, opcodeByArith[mnemonic], modrmReg(srcReg.Encoding, dstReg.Encoding))
		return out, nil
	case dst.kind == opReg && src.kind == opImm:
		dstReg, _ := lookupReg(dst.reg)
		rex, ok := rexByte(dstReg.Size == 64, false, false, dstReg.Encoding >= 8, needsRexForByteReg(dstReg))
		var out []byte
		if ok {
			out = append(out, rex)
		}
		if fitsInt8(src.imm) && dstReg.Size != 8 {
			out = append(out, 0x83, byte(0xC0|(group1Idx[mnemonic]<<3)|(dstReg.Encoding&7)))
			out = append(out, immBytes(src.imm, 1)...)
		} else {
			op := byte(0x81)
			if dstReg.Size == 8 {
				op = 0x80
			}
			out = append(out, op, byte(0xC0|(group1Idx[mnemonic]<<3)|(dstReg.Encoding&7)))
			width := 4
			if dstReg.Size == 8 {
				width = 1
			} else if dstReg.Size == 16 {
				width = 2
			}
			out = append(out, immBytes(src.imm, width)...)
		}
		return out, nil
	case dst.kind == opMem && src.kind == opReg:
		return encodeRegMem(mustArithOpcode(mnemonic, false), src.reg, dst.mem, ctx)
	case dst.kind == opReg && src.kind == opMem:
		return encodeRegMem(mustArithOpcode(mnemonic, true), dst.reg, src.mem, ctx)
	}
	return nil, &AsmError{Line: ctx.line, Message: "unsupported operand combination for " + mnemonic}
}

func mustArithOpcode(mnemonic string, loadDirection bool) byte {
	base := map[string]byte{"add": 0x00, "or": 0x08, "and": 0x20, "sub": 0x28, "xor": 0x30, "cmp": 0x38}[mnemonic]
	if loadDirection {
		return base + 0x03
	}
	return base + 0x01
}

// encodeRegMem builds `opcode ModRM[regField] mem` for a reg<->memory
// instruction, computing REX and the full ModRM/SIB/disp tail from the
// memory operand.
func encodeRegMem(opcode byte, regName string, mem memOperand, ctx encCtx) ([]byte, error) {
	r, ok := lookupReg(regName)
	if !ok {
		return nil, &AsmError{Line: ctx.line, Message: "unknown register " + regName}
	}
	// Worst-case length for RIP-relative displacement math: opcode(1) +
	// optional REX(1) + ModRM(1) + disp(4). Computed precisely below once
	// the memory encoding is known, but RIP disp32 math needs the total
	// instruction length up front, so resolve twice: once to learn the
	// shape, once with the real length.
	probe, err := resolveMemOperand(mem, encCtx{addr: ctx.addr, labels: ctx.labels, line: ctx.line, sizeOnly: ctx.sizeOnly, external: ctx.external}, 0)
	if err != nil {
		return nil, err
	}
	prefixLen := 1 // opcode
	if r.Size == 64 || r.Encoding >= 8 || probe.B || probe.rexX || needsRexForByteReg(r) {
		prefixLen++
	}
	total := prefixLen + 1 + boolToInt(probe.hasSIB) + len(probe.disp)

	em, err := resolveMemOperand(mem, encCtx{addr: ctx.addr, labels: ctx.labels, line: ctx.line, sizeOnly: ctx.sizeOnly, external: ctx.external}, total)
	if err != nil {
		return nil, err
	}
	rex, ok := rexByte(r.Size == 64, r.Encoding >= 8, em.rexX, em.B, needsRexForByteReg(r))
	var out []byte
	if ok {
		out = append(out, rex)
	}
	out = append(out, opcode, (em.mod<<6)|((r.Encoding&7)<<3)|em.rm)
	if em.hasSIB {
		out = append(out, em.sib)
	}
	out = append(out, em.disp...)
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeTest(ops []operand, ctx encCtx) ([]byte, error) {
	if len(ops) != 2 || ops[0].kind != opReg {
		return nil, &AsmError{Line: ctx.line, Message: "test requires reg,reg or reg,imm"}
	}
	dstReg, _ := lookupReg(ops[0].reg)
	if ops[1].kind == opReg {
		srcReg, _ := lookupReg(ops[1].reg)
		rex, ok := rexByte(dstReg.Size == 64, srcReg.Encoding >= 8, false, dstReg.Encoding >= 8, needsRexForByteReg(dstReg) || needsRexForByteReg(srcReg))
		var out []byte
		if ok {
			out = append(out, rex)
		}
		out = append(out, 0x85, modrmReg(srcReg.Encoding, dstReg.Encoding))
		return out, nil
	}
	rex, ok := rexByte(dstReg.Size == 64, false, false, dstReg.Encoding >= 8, needsRexForByteReg(dstReg))
	var out []byte
	if ok {
		out = append(out, rex)
	}
	out = append(out, 0xF7, byte(0xC0|(dstReg.Encoding&7)))
	width := 4
	if dstReg.Size == 16 {
		width = 2
	}
	out = append(out, immBytes(ops[1].imm, width)...)
	return out, nil
}

func encodeMov(ops []operand, ctx encCtx) ([]byte, error) {
	if len(ops) != 2 {
		return nil, &AsmError{Line: ctx.line, Message: "mov needs 2 operands"}
	}
	dst, src := ops[0], ops[1]
	switch {
	case dst.kind == opReg && src.kind == opReg:
		dstReg, _ := lookupReg(dst.reg)
		srcReg, _ := lookupReg(src.reg)
		rex, ok := rexByte(dstReg.Size == 64, srcReg.Encoding >= 8, false, dstReg.Encoding >= 8, needsRexForByteReg(dstReg) || needsRexForByteReg(srcReg))
		var out []byte
		if ok {
			out = append(out, rex)
		}
		op := byte(0x89)
		if dstReg.Size == 8 {
			op = 0x88
		}
		out = append(out, op, modrmReg(srcReg.Encoding, dstReg.Encoding))
		return out, nil
	case dst.kind == opReg && src.kind == opImm:
		dstReg, _ := lookupReg(dst.reg)
		rex, ok := rexByte(dstReg.Size == 64, false, false, dstReg.Encoding >= 8, needsRexForByteReg(dstReg))
		var out []byte
		if ok {
			out = append(out, rex)
		}
		if dstReg.Size == 64 {
			out = append(out, 0xB8+(dstReg.Encoding&7))
			out = append(out, immBytes(src.imm, 8)...)
			return out, nil
		}
		width := 4
		opBase := byte(0xB8)
		if dstReg.Size == 8 {
			width, opBase = 1, 0xB0
		} else if dstReg.Size == 16 {
			width = 2
		}
		out = append(out, opBase+(dstReg.Encoding&7))
		out = append(out, immBytes(src.imm, width)...)
		return out, nil
	case dst.kind == opMem && src.kind == opReg:
		return encodeRegMem(0x89, src.reg, dst.mem, ctx)
	case dst.kind == opReg && src.kind == opMem:
		return encodeRegMem(0x8B, dst.reg, src.mem, ctx)
	}
	return nil, &AsmError{Line: ctx.line, Message: "unsupported operand combination for mov"}
}

func encodeLea(ops []operand, ctx encCtx) ([]byte, error) {
	if len(ops) != 2 || ops[0].kind != opReg || ops[1].kind != opMem {
		return nil, &AsmError{Line: ctx.line, Message: "lea requires reg, [mem]"}
	}
	return encodeRegMem(0x8D, ops[0].reg, ops[1].mem, ctx)
}

func encodeUnary(mnemonic string, ops []operand, ctx encCtx) ([]byte, error) {
	if len(ops) != 1 || ops[0].kind != opReg {
		return nil, &AsmError{Line: ctx.line, Message: mnemonic + " requires a register operand"}
	}
	r, _ := lookupReg(ops[0].reg)
	rex, ok := rexByte(r.Size == 64, false, false, r.Encoding >= 8, needsRexForByteReg(r))
	var out []byte
	if ok {
		out = append(out, rex)
	}
	extIdx := map[string]byte{"inc": 0, "dec": 1, "not": 2, "neg": 3}[mnemonic]
	op := byte(0xFF)
	if r.Size == 8 {
		op = 0xFE
	}
	out = append(out, op, byte(0xC0|(extIdx<<3)|(r.Encoding&7)))
	return out, nil
}

func encodeMulFamily(mnemonic string, ops []operand, ctx encCtx) ([]byte, error) {
	if mnemonic == "mul" {
		if len(ops) != 1 || ops[0].kind != opReg {
			return nil, &AsmError{Line: ctx.line, Message: "mul requires a register operand"}
		}
		r, _ := lookupReg(ops[0].reg)
		rex, ok := rexByte(r.Size == 64, false, false, r.Encoding >= 8, false)
		var out []byte
		if ok {
			out = append(out, rex)
		}
		out = append(out, 0xF7, byte(0xC0|(4<<3)|(r.Encoding&7)))
		return out, nil
	}
	// imul dst, src (two-operand form: dst *= src)
	if len(ops) != 2 || ops[0].kind != opReg || ops[1].kind != opReg {
		return nil, &AsmError{Line: ctx.line, Message: "imul requires reg, reg"}
	}
	dstReg, _ := lookupReg(ops[0].reg)
	srcReg, _ := lookupReg(ops[1].reg)
	rex, ok := rexByte(dstReg.Size == 64, dstReg.Encoding >= 8, false, srcReg.Encoding >= 8, false)
	var out []byte
	if ok {
		out = append(out, rex)
	}
	out = append(out, 0x0F, 0xAF, modrmReg(dstReg.Encoding, srcReg.Encoding))
	return out, nil
}

func encodePush(ops []operand) ([]byte, error) {
	if len(ops) != 1 || ops[0].kind != opReg {
		return nil, fmt.Errorf("push requires a register operand")
	}
	r, _ := lookupReg(ops[0].reg)
	var out []byte
	if r.Encoding >= 8 {
		out = append(out, 0x41)
	}
	out = append(out, 0x50+(r.Encoding&7))
	return out, nil
}

func encodePop(ops []operand) ([]byte, error) {
	if len(ops) != 1 || ops[0].kind != opReg {
		return nil, fmt.Errorf("pop requires a register operand")
	}
	r, _ := lookupReg(ops[0].reg)
	var out []byte
	if r.Encoding >= 8 {
		out = append(out, 0x41)
	}
	out = append(out, 0x58+(r.Encoding&7))
	return out, nil
}

func encodeRet(ops []operand) ([]byte, error) {
	if len(ops) == 0 {
		return []byte{0xC3}, nil
	}
	if len(ops) == 1 && ops[0].kind == opImm {
		out := []byte{0xC2}
		out = append(out, immBytes(ops[0].imm, 2)...)
		return out, nil
	}
	return nil, fmt.Errorf("ret takes 0 or 1 (immediate) operands")
}

func encodeCall(ops []operand, ctx encCtx) ([]byte, error) {
	if len(ops) != 1 {
		return nil, &AsmError{Line: ctx.line, Message: "call requires 1 operand"}
	}
	if ops[0].kind == opReg {
		r, _ := lookupReg(ops[0].reg)
		var out []byte
		if r.Encoding >= 8 {
			out = append(out, 0x41)
		}
		out = append(out, 0xFF, byte(0xC0|(2<<3)|(r.Encoding&7)))
		return out, nil
	}
	if ops[0].kind != opLabelRef {
		return nil, &AsmError{Line: ctx.line, Message: "call target must be a register or label"}
	}
	target, err := ctx.resolveLabel(ops[0].label)
	if err != nil {
		return nil, err
	}
	rel := int32(int64(target) - int64(ctx.addr+5))
	out := []byte{0xE8}
	out = append(out, immBytes(int64(rel), 4)...)
	return out, nil
}

func encodeJmp(ops []operand, ctx encCtx) ([]byte, error) {
	if len(ops) != 1 {
		return nil, &AsmError{Line: ctx.line, Message: "jmp requires 1 operand"}
	}
	if ops[0].kind == opReg {
		r, _ := lookupReg(ops[0].reg)
		var out []byte
		if r.Encoding >= 8 {
			out = append(out, 0x41)
		}
		out = append(out, 0xFF, byte(0xC0|(4<<3)|(r.Encoding&7)))
		return out, nil
	}
	if ops[0].kind != opLabelRef {
		return nil, &AsmError{Line: ctx.line, Message: "jmp target must be a register or label"}
	}
	target, err := ctx.resolveLabel(ops[0].label)
	if err != nil {
		return nil, err
	}
	if ctx.branchRel == 1 {
		rel := int64(target) - int64(ctx.addr+2)
		return []byte{0xEB, byte(int8(rel))}, nil
	}
	rel := int32(int64(target) - int64(ctx.addr+5))
	out := []byte{0xE9}
	out = append(out, immBytes(int64(rel), 4)...)
	return out, nil
}

var jccOpcode = map[string]byte{
	"je": 0x74, "jne": 0x75, "jg": 0x7F, "jge": 0x7D, "jl": 0x7C, "jle": 0x7E,
	"ja": 0x77, "jae": 0x73, "jb": 0x72, "jbe": 0x76,
}
var jccOpcodeNear = map[string]byte{
	"je": 0x84, "jne": 0x85, "jg": 0x8F, "jge": 0x8D, "jl": 0x8C, "jle": 0x8E,
	"ja": 0x87, "jae": 0x83, "jb": 0x82, "jbe": 0x86,
}

func encodeJcc(mnemonic string, ops []operand, ctx encCtx) ([]byte, error) {
	if len(ops) != 1 || ops[0].kind != opLabelRef {
		return nil, &AsmError{Line: ctx.line, Message: mnemonic + " requires a label operand"}
	}
	target, err := ctx.resolveLabel(ops[0].label)
	if err != nil {
		return nil, err
	}
	if ctx.branchRel == 1 {
		rel := int64(target) - int64(ctx.addr+2)
		return []byte{jccOpcode[mnemonic], byte(int8(rel))}, nil
	}
	rel := int32(int64(target) - int64(ctx.addr+6))
	out := []byte{0x0F, jccOpcodeNear[mnemonic]}
	out = append(out, immBytes(int64(rel), 4)...)
	return out, nil
}
