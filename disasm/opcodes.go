package disasm

// group1Mnemonics maps the ModR/M reg field (0-7) for the 0x80/0x81/0x83
// "group 1" arithmetic opcodes to their mnemonic.
var group1Mnemonics = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}

// group2Mnemonics maps the reg field for the 0xC0/0xC1/0xD0-0xD3 shift group.
var group2Mnemonics = [8]string{"rol", "ror", "rcl", "rcr", "shl", "shr", "sal", "sar"}

// group3Mnemonics maps the reg field for the 0xF6/0xF7 test/not/neg/mul/div group.
var group3Mnemonics = [8]string{"test", "test", "not", "neg", "mul", "imul", "div", "idiv"}

// group5Mnemonics maps the reg field for the 0xFF inc/dec/call/jmp/push group.
var group5Mnemonics = [8]string{"inc", "dec", "call", "callf", "jmp", "jmpf", "push", "(bad)"}

var jccMnemonics = [16]string{
	"jo", "jno", "jb", "jae", "je", "jne", "jbe", "ja",
	"js", "jns", "jp", "jnp", "jl", "jge", "jle", "jg",
}

// ripRelArithMnemonics is the exact family of mnemonics for which a `00 xxx 101`
// ModR/M byte denotes a data-access RIP-relative operand per the decoder's
// detail floor, versus the control-flow forms (FF /2, FF /4) handled
// separately in decodeOneByte.
var ripRelArithMnemonics = map[string]bool{
	"add": true, "sub": true, "and": true, "or": true, "xor": true,
	"cmp": true, "test": true,
}

func (d *decoder) decodeOneByte(op byte) (Instruction, bool) {
	w := d.defaultWidth()

	switch {
	case op >= 0x50 && op <= 0x57:
		r := (op - 0x50)
		if d.rexB {
			r |= 0x8
		}
		return in1("push", Operand{Kind: OperandReg, Reg: regName(r, 64, d.rexPresent)}), true

	case op >= 0x58 && op <= 0x5F:
		r := (op - 0x58)
		if d.rexB {
			r |= 0x8
		}
		return in1("pop", Operand{Kind: OperandReg, Reg: regName(r, 64, d.rexPresent)}), true

	case op == 0xC3:
		return in0("ret"), true
	case op == 0xC2:
		imm, ok := d.readI16()
		if !ok {
			return Instruction{}, false
		}
		return in1("ret", Operand{Kind: OperandImm, Imm: int64(imm)}), true

	case op == 0xE8:
		rel, ok := d.readI32()
		if !ok {
			return Instruction{}, false
		}
		return in1("call", Operand{Kind: OperandRel, Rel: d.relTarget(rel)}), true

	case op == 0xE9:
		rel, ok := d.readI32()
		if !ok {
			return Instruction{}, false
		}
		return in1("jmp", Operand{Kind: OperandRel, Rel: d.relTarget(rel)}), true

	case op == 0xEB:
		rel, ok := d.readI8()
		if !ok {
			return Instruction{}, false
		}
		return in1("jmp", Operand{Kind: OperandRel, Rel: d.relTarget(rel)}), true

	case op >= 0x70 && op <= 0x7F:
		rel, ok := d.readI8()
		if !ok {
			return Instruction{}, false
		}
		mnem := jccMnemonics[op-0x70]
		return in1(mnem, Operand{Kind: OperandRel, Rel: d.relTarget(rel)}), true

	case op == 0x90:
		if !d.rexB {
			return in0("nop"), true
		}
		return in2("xchg",
			Operand{Kind: OperandReg, Reg: regName(8, w, d.rexPresent)},
			Operand{Kind: OperandReg, Reg: regName(0, w, d.rexPresent)}), true

	case op == 0x98:
		if d.rexW {
			return in0("cdqe"), true
		}
		return in0("cwde"), true
	case op == 0x99:
		if d.rexW {
			return in0("cqo"), true
		}
		return in0("cdq"), true
	case op == 0xC9:
		return in0("leave"), true
	case op == 0xCC:
		return in0("int3"), true
	case op == 0xF4:
		return in0("hlt"), true

	case op == 0x88 || op == 0x89:
		width := w
		if op == 0x88 {
			width = 8
		}
		m, ok := d.readModRM(width)
		if !ok {
			return Instruction{}, false
		}
		regOp := regOperand(m.regField, width, d.rexPresent)
		rmOp := d.rmOperand(m, width)
		in := in2("mov", rmOp, regOp)
		d.attachRipRel(&in, m, width, true)
		return in, true

	case op == 0x8A || op == 0x8B:
		width := w
		if op == 0x8A {
			width = 8
		}
		m, ok := d.readModRM(width)
		if !ok {
			return Instruction{}, false
		}
		regOp := regOperand(m.regField, width, d.rexPresent)
		rmOp := d.rmOperand(m, width)
		in := in2("mov", regOp, rmOp)
		d.attachRipRel(&in, m, width, true)
		return in, true

	case op == 0x8D:
		m, ok := d.readModRM(w)
		if !ok || m.rmIsReg {
			return Instruction{}, false
		}
		regOp := regOperand(m.regField, w, d.rexPresent)
		rmOp := d.rmOperand(m, w)
		in := in2("lea", regOp, rmOp)
		d.attachRipRel(&in, m, w, true)
		return in, true

	case op == 0xC6:
		m, ok := d.readModRM(8)
		if !ok || m.regField&7 != 0 {
			return Instruction{}, false
		}
		imm, ok := d.readI8()
		if !ok {
			return Instruction{}, false
		}
		rmOp := d.rmOperand(m, 8)
		in := in2("mov", rmOp, Operand{Kind: OperandImm, Imm: int64(imm)})
		d.attachRipRel(&in, m, 8, true)
		return in, true

	case op == 0xC7:
		m, ok := d.readModRM(w)
		if !ok || m.regField&7 != 0 {
			return Instruction{}, false
		}
		imm, ok := d.readI32()
		if !ok {
			return Instruction{}, false
		}
		rmOp := d.rmOperand(m, w)
		in := in2("mov", rmOp, Operand{Kind: OperandImm, Imm: int64(imm)})
		d.attachRipRel(&in, m, w, true)
		return in, true

	case op >= 0xB0 && op <= 0xB7:
		r := op - 0xB0
		if d.rexB {
			r |= 0x8
		}
		imm, ok := d.readI8()
		if !ok {
			return Instruction{}, false
		}
		return in2("mov", Operand{Kind: OperandReg, Reg: regName(r, 8, d.rexPresent)},
			Operand{Kind: OperandImm, Imm: int64(imm)}), true

	case op >= 0xB8 && op <= 0xBF:
		r := op - 0xB8
		if d.rexB {
			r |= 0x8
		}
		if d.rexW {
			imm, ok := d.readI64()
			if !ok {
				return Instruction{}, false
			}
			return in2("movabs", Operand{Kind: OperandReg, Reg: regName(r, 64, d.rexPresent)},
				Operand{Kind: OperandImm, Imm: imm}), true
		}
		imm, ok := d.readI32()
		if !ok {
			return Instruction{}, false
		}
		return in2("mov", Operand{Kind: OperandReg, Reg: regName(r, w, d.rexPresent)},
			Operand{Kind: OperandImm, Imm: int64(imm)}), true

	case isArithOpcode(op):
		return d.decodeArith(op, w)

	case op == 0x80 || op == 0x81 || op == 0x83:
		return d.decodeGroup1(op, w)

	case op == 0x84 || op == 0x85:
		width := w
		if op == 0x84 {
			width = 8
		}
		m, ok := d.readModRM(width)
		if !ok {
			return Instruction{}, false
		}
		regOp := regOperand(m.regField, width, d.rexPresent)
		rmOp := d.rmOperand(m, width)
		in := in2("test", rmOp, regOp)
		d.attachRipRel(&in, m, width, true)
		return in, true

	case op == 0xFE || op == 0xFF:
		return d.decodeGroup5(op, w)

	case op == 0xF6 || op == 0xF7:
		return d.decodeGroup3(op, w)

	case op == 0xC0 || op == 0xC1 || op == 0xD0 || op == 0xD1 || op == 0xD2 || op == 0xD3:
		return d.decodeGroup2(op, w)

	case op == 0x68:
		imm, ok := d.readI32()
		if !ok {
			return Instruction{}, false
		}
		return in1("push", Operand{Kind: OperandImm, Imm: int64(imm)}), true
	case op == 0x6A:
		imm, ok := d.readI8()
		if !ok {
			return Instruction{}, false
		}
		return in1("push", Operand{Kind: OperandImm, Imm: int64(imm)}), true

	case op == 0x6B || op == 0x69:
		m, ok := d.readModRM(w)
		if !ok {
			return Instruction{}, false
		}
		var imm int32
		if op == 0x6B {
			imm, ok = d.readI8()
		} else {
			imm, ok = d.readI32()
		}
		if !ok {
			return Instruction{}, false
		}
		regOp := regOperand(m.regField, w, d.rexPresent)
		rmOp := d.rmOperand(m, w)
		return in3("imul", regOp, rmOp, Operand{Kind: OperandImm, Imm: int64(imm)}), true
	}

	return Instruction{}, false
}

func isArithOpcode(op byte) bool {
	switch {
	case op <= 0x05: // add
	case op >= 0x08 && op <= 0x0D: // or
	case op >= 0x20 && op <= 0x25: // and
	case op >= 0x28 && op <= 0x2D: // sub
	case op >= 0x30 && op <= 0x35: // xor
	case op >= 0x38 && op <= 0x3D: // cmp
	default:
		return false
	}
	return true
}

var arithBase = map[byte]string{
	0x00: "add", 0x08: "or", 0x20: "and", 0x28: "sub", 0x30: "xor", 0x38: "cmp",
}

// decodeArith handles the classic `op r/m,r` / `op r,r/m` / `op al,imm` /
// `op eax,imm` encodings shared by add/or/and/sub/xor/cmp.
func (d *decoder) decodeArith(op byte, w int) (Instruction, bool) {
	base := op &^ 0x07
	mnem, ok := arithBase[base]
	if !ok {
		return Instruction{}, false
	}
	sub := op & 0x07

	switch sub {
	case 0x04: // op al, imm8
		imm, ok := d.readI8()
		if !ok {
			return Instruction{}, false
		}
		return in2(mnem, Operand{Kind: OperandReg, Reg: "al"}, Operand{Kind: OperandImm, Imm: int64(imm)}), true
	case 0x05: // op eax/rax, imm32
		imm, ok := d.readI32()
		if !ok {
			return Instruction{}, false
		}
		return in2(mnem, Operand{Kind: OperandReg, Reg: regName(0, w, d.rexPresent)},
			Operand{Kind: OperandImm, Imm: int64(imm)}), true
	}

	width := w
	if sub == 0x00 || sub == 0x02 {
		width = 8
	}
	m, ok := d.readModRM(width)
	if !ok {
		return Instruction{}, false
	}
	regOp := regOperand(m.regField, width, d.rexPresent)
	rmOp := d.rmOperand(m, width)

	var in Instruction
	switch sub {
	case 0x00, 0x01: // op r/m, r
		in = in2(mnem, rmOp, regOp)
		d.attachRipRelArith(&in, m, width, mnem)
	case 0x02, 0x03: // op r, r/m
		in = in2(mnem, regOp, rmOp)
		d.attachRipRelArith(&in, m, width, mnem)
	default:
		return Instruction{}, false
	}
	return in, true
}

func (d *decoder) decodeGroup1(op byte, w int) (Instruction, bool) {
	width := w
	if op == 0x80 {
		width = 8
	}
	m, ok := d.readModRM(width)
	if !ok {
		return Instruction{}, false
	}
	mnem := group1Mnemonics[m.regField&7]
	var imm int32
	switch op {
	case 0x80:
		imm, ok = d.readI8()
	case 0x81:
		imm, ok = d.readI32()
	case 0x83:
		imm, ok = d.readI8()
	}
	if !ok {
		return Instruction{}, false
	}
	rmOp := d.rmOperand(m, width)
	in := in2(mnem, rmOp, Operand{Kind: OperandImm, Imm: int64(imm)})
	d.attachRipRelArith(&in, m, width, mnem)
	return in, true
}

func (d *decoder) decodeGroup2(op byte, w int) (Instruction, bool) {
	width := w
	if op == 0xC0 || op == 0xD0 || op == 0xD2 {
		width = 8
	}
	m, ok := d.readModRM(width)
	if !ok {
		return Instruction{}, false
	}
	mnem := group2Mnemonics[m.regField&7]
	rmOp := d.rmOperand(m, width)
	switch op {
	case 0xC0, 0xC1:
		imm, ok := d.readI8()
		if !ok {
			return Instruction{}, false
		}
		return in2(mnem, rmOp, Operand{Kind: OperandImm, Imm: int64(imm)}), true
	case 0xD0, 0xD1:
		return in2(mnem, rmOp, Operand{Kind: OperandImm, Imm: 1}), true
	case 0xD2, 0xD3:
		return in2(mnem, rmOp, Operand{Kind: OperandReg, Reg: "cl"}), true
	}
	return Instruction{}, false
}

func (d *decoder) decodeGroup3(op byte, w int) (Instruction, bool) {
	width := w
	if op == 0xF6 {
		width = 8
	}
	m, ok := d.readModRM(width)
	if !ok {
		return Instruction{}, false
	}
	mnem := group3Mnemonics[m.regField&7]
	rmOp := d.rmOperand(m, width)
	if m.regField&7 <= 1 { // test r/m, imm
		var imm int32
		if width == 8 {
			imm, ok = d.readI8()
		} else {
			imm, ok = d.readI32()
		}
		if !ok {
			return Instruction{}, false
		}
		return in2("test", rmOp, Operand{Kind: OperandImm, Imm: int64(imm)}), true
	}
	return in1(mnem, rmOp), true
}

func (d *decoder) decodeGroup5(op byte, w int) (Instruction, bool) {
	width := w
	if op == 0xFE {
		width = 8
	}
	m, ok := d.readModRM(width)
	if !ok {
		return Instruction{}, false
	}
	reg := m.regField & 7
	mnem := group5Mnemonics[reg]
	rmOp := d.rmOperand(m, width)

	switch {
	case op == 0xFE && (reg == 0 || reg == 1):
		return in1(mnem, rmOp), true
	case op == 0xFF && (reg == 0 || reg == 1):
		return in1(mnem, rmOp), true
	case op == 0xFF && reg == 2: // call r/m64 (indirect)
		in := in1("call", rmOp)
		d.attachRipRelControl(&in, m)
		return in, true
	case op == 0xFF && reg == 4: // jmp r/m64 (indirect)
		in := in1("jmp", rmOp)
		d.attachRipRelControl(&in, m)
		return in, true
	case op == 0xFF && reg == 6: // push r/m64
		return in1("push", rmOp), true
	}
	return Instruction{}, false
}

func (d *decoder) decodeTwoByte(op2 byte) (Instruction, bool) {
	w := d.defaultWidth()

	switch {
	case op2 == 0x05:
		return in0("syscall"), true
	case op2 == 0x1F:
		m, ok := d.readModRM(w)
		if !ok {
			return Instruction{}, false
		}
		rmOp := d.rmOperand(m, w)
		return in1("nop", rmOp), true
	case op2 >= 0x80 && op2 <= 0x8F:
		rel, ok := d.readI32()
		if !ok {
			return Instruction{}, false
		}
		mnem := jccMnemonics[op2-0x80]
		return in1(mnem, Operand{Kind: OperandRel, Rel: d.relTarget(rel)}), true
	case op2 == 0xAF:
		m, ok := d.readModRM(w)
		if !ok {
			return Instruction{}, false
		}
		regOp := regOperand(m.regField, w, d.rexPresent)
		rmOp := d.rmOperand(m, w)
		return in2("imul", regOp, rmOp), true
	case op2 == 0xB6 || op2 == 0xB7:
		srcWidth := 8
		if op2 == 0xB7 {
			srcWidth = 16
		}
		m, ok := d.readModRM(srcWidth)
		if !ok {
			return Instruction{}, false
		}
		regOp := regOperand(m.regField, w, d.rexPresent)
		rmOp := d.rmOperand(m, srcWidth)
		return in2("movzx", regOp, rmOp), true
	case op2 == 0xBE || op2 == 0xBF:
		srcWidth := 8
		if op2 == 0xBF {
			srcWidth = 16
		}
		m, ok := d.readModRM(srcWidth)
		if !ok {
			return Instruction{}, false
		}
		regOp := regOperand(m.regField, w, d.rexPresent)
		rmOp := d.rmOperand(m, srcWidth)
		return in2("movsx", regOp, rmOp), true
	case op2 >= 0x90 && op2 <= 0x9F:
		m, ok := d.readModRM(8)
		if !ok {
			return Instruction{}, false
		}
		mnem := "set" + jccMnemonics[op2-0x90][1:]
		rmOp := d.rmOperand(m, 8)
		return in1(mnem, rmOp), true
	}
	return Instruction{}, false
}

func (d *decoder) readI16() (int16, bool) {
	if d.pos+2 > len(d.raw) {
		return 0, false
	}
	v := int16(uint16(d.raw[d.pos]) | uint16(d.raw[d.pos+1])<<8)
	d.consume(2)
	return v, true
}

// relTarget resolves a rel8/rel32 displacement to an absolute VA. x86 branch
// displacements are relative to the address of the byte following the
// instruction, which for call/jmp/jcc is exactly d.pos once the displacement
// itself has been consumed (none of these forms carry trailing bytes).
func (d *decoder) relTarget(rel int32) uint64 {
	return d.va + uint64(d.pos-d.instrStart) + uint64(int64(rel))
}

func in0(mnem string) Instruction { return Instruction{Mnemonic: mnem} }
func in1(mnem string, a Operand) Instruction {
	return Instruction{Mnemonic: mnem, Operands: []Operand{a}}
}
func in2(mnem string, a, b Operand) Instruction {
	return Instruction{Mnemonic: mnem, Operands: []Operand{a, b}}
}
func in3(mnem string, a, b, c Operand) Instruction {
	return Instruction{Mnemonic: mnem, Operands: []Operand{a, b, c}}
}
