package disasm

import "encoding/binary"

// decoder carries prefix state across the byte stream for a single
// instruction decode.
type decoder struct {
	raw        []byte
	pos        int // current read cursor within raw
	instrStart int // offset of the instruction's first (prefix) byte
	va         uint64

	rexPresent bool
	rexW       bool
	rexR       bool
	rexX       bool
	rexB       bool
	opSize16   bool // 0x66 prefix
	segment    string
}

// decodeOne decodes the instruction at raw[off:], whose first byte sits at
// virtual address va. It never panics on truncated input: any attempt to
// read past len(raw) degrades to Undecoded. On success or failure it always
// returns a length >= 1 so the linear sweep always advances.
func decodeOne(raw []byte, off int, va uint64) Instruction {
	d := &decoder{raw: raw, pos: off, va: va}
	in, ok := d.decode()
	if !ok || in.Length <= 0 {
		return Instruction{
			VA:        va,
			Length:    1,
			Mnemonic:  "(bad)",
			Undecoded: true,
			Raw:       sliceSafe(raw, off, off+1),
		}
	}
	in.VA = va
	in.Raw = sliceSafe(raw, off, off+in.Length)
	return in
}

func sliceSafe(raw []byte, start, end int) []byte {
	if start < 0 {
		start = 0
	}
	if end > len(raw) {
		end = len(raw)
	}
	if end < start {
		return nil
	}
	out := make([]byte, end-start)
	copy(out, raw[start:end])
	return out
}

func (d *decoder) byte(i int) (byte, bool) {
	idx := d.pos + i
	if idx < 0 || idx >= len(d.raw) {
		return 0, false
	}
	return d.raw[idx], true
}

func (d *decoder) consume(n int) bool {
	if d.pos+n > len(d.raw) {
		return false
	}
	d.pos += n
	return true
}

func (d *decoder) decode() (Instruction, bool) {
	start := d.pos
	d.instrStart = start

	// Legacy and REX prefixes, in any order, per byte.
	for {
		b, ok := d.byte(0)
		if !ok {
			return Instruction{}, false
		}
		switch b {
		case 0x66:
			d.opSize16 = true
			d.consume(1)
			continue
		case 0x2E:
			d.segment = "cs"
			d.consume(1)
			continue
		case 0x36:
			d.segment = "ss"
			d.consume(1)
			continue
		case 0x3E:
			d.segment = "ds"
			d.consume(1)
			continue
		case 0x26:
			d.segment = "es"
			d.consume(1)
			continue
		case 0x64:
			d.segment = "fs"
			d.consume(1)
			continue
		case 0x65:
			d.segment = "gs"
			d.consume(1)
			continue
		case 0xF0, 0xF2, 0xF3, 0x67:
			// lock / repnz / rep / addr-size: accepted but not modeled.
			d.consume(1)
			continue
		}
		if b >= 0x40 && b <= 0x4F {
			d.rexPresent = true
			d.rexW = b&0x08 != 0
			d.rexR = b&0x04 != 0
			d.rexX = b&0x02 != 0
			d.rexB = b&0x01 != 0
			d.consume(1)
			continue
		}
		break
	}

	op, ok := d.byte(0)
	if !ok {
		return Instruction{}, false
	}
	d.consume(1)

	var in Instruction
	var decoded bool
	if op == 0x0F {
		op2, ok := d.byte(0)
		if !ok {
			return Instruction{}, false
		}
		d.consume(1)
		in, decoded = d.decodeTwoByte(op2)
	} else {
		in, decoded = d.decodeOneByte(op)
	}
	if !decoded {
		return Instruction{}, false
	}
	in.Length = d.pos - start
	return in, true
}

// defaultWidth returns the GPR operand width implied by REX.W / 0x66 / the
// default 32-bit operand size.
func (d *decoder) defaultWidth() int {
	if d.rexW {
		return 64
	}
	if d.opSize16 {
		return 16
	}
	return 32
}

// modrm reads a ModR/M byte (and any SIB/displacement it implies), returning
// the register field (with REX.R folded in), whether the r/m field is itself
// a register (mod==3) plus its encoding, or a MemOperand otherwise.
type modrmResult struct {
	regField   uint8
	rmIsReg    bool
	rmReg      uint8
	mem        MemOperand
	ripRelBase bool // mod==0, rm==5: rip-relative
}

func (d *decoder) readModRM(widthBits int) (modrmResult, bool) {
	b, ok := d.byte(0)
	if !ok {
		return modrmResult{}, false
	}
	d.consume(1)

	mod := b >> 6
	regField := (b >> 3) & 0x7
	rmField := b & 0x7
	if d.rexR {
		regField |= 0x8
	}

	var res modrmResult
	res.regField = regField

	if mod == 3 {
		rm := rmField
		if d.rexB {
			rm |= 0x8
		}
		res.rmIsReg = true
		res.rmReg = rm
		return res, true
	}

	mem := MemOperand{Segment: d.segment, WidthBits: widthBits}

	if rmField == 4 {
		sib, ok := d.byte(0)
		if !ok {
			return modrmResult{}, false
		}
		d.consume(1)
		scale := uint8(1) << (sib >> 6)
		index := (sib >> 3) & 0x7
		base := sib & 0x7
		if d.rexX {
			index |= 0x8
		}
		if d.rexB {
			base |= 0x8
		}
		if index != 4 { // rsp/r12 as index means "no index"
			mem.IndexReg = gpr64[index]
			mem.Scale = scale
		}
		if base == 5 && mod == 0 {
			disp, ok := d.readI32()
			if !ok {
				return modrmResult{}, false
			}
			mem.Disp = disp
		} else {
			baseReg := base
			mem.BaseReg = gpr64[baseReg]
			switch mod {
			case 1:
				disp, ok := d.readI8()
				if !ok {
					return modrmResult{}, false
				}
				mem.Disp = disp
			case 2:
				disp, ok := d.readI32()
				if !ok {
					return modrmResult{}, false
				}
				mem.Disp = disp
			}
		}
		res.mem = mem
		return res, true
	}

	if mod == 0 && rmField == 5 {
		disp, ok := d.readI32()
		if !ok {
			return modrmResult{}, false
		}
		mem.RipRelative = true
		mem.Disp = disp
		res.ripRelBase = true
		res.mem = mem
		return res, true
	}

	rm := rmField
	if d.rexB {
		rm |= 0x8
	}
	mem.BaseReg = gpr64[rm]
	switch mod {
	case 1:
		disp, ok := d.readI8()
		if !ok {
			return modrmResult{}, false
		}
		mem.Disp = disp
	case 2:
		disp, ok := d.readI32()
		if !ok {
			return modrmResult{}, false
		}
		mem.Disp = disp
	}
	res.mem = mem
	return res, true
}

func (d *decoder) readI8() (int32, bool) {
	b, ok := d.byte(0)
	if !ok {
		return 0, false
	}
	d.consume(1)
	return int32(int8(b)), true
}

func (d *decoder) readI32() (int32, bool) {
	if d.pos+4 > len(d.raw) {
		return 0, false
	}
	v := int32(binary.LittleEndian.Uint32(d.raw[d.pos : d.pos+4]))
	d.consume(4)
	return v, true
}

func (d *decoder) readI64() (int64, bool) {
	if d.pos+8 > len(d.raw) {
		return 0, false
	}
	v := int64(binary.LittleEndian.Uint64(d.raw[d.pos : d.pos+8]))
	d.consume(8)
	return v, true
}

// regOperand builds a register Operand from a modrm register-side encoding.
func regOperand(enc uint8, widthBits int, hasREX bool) Operand {
	return Operand{Kind: OperandReg, Reg: regName(enc, widthBits, hasREX)}
}

// rmOperand turns a modrmResult's r/m side into an Operand, setting
// widthBits on register r/m operands too.
func (d *decoder) rmOperand(m modrmResult, widthBits int) Operand {
	if m.rmIsReg {
		return Operand{Kind: OperandReg, Reg: regName(m.rmReg, widthBits, d.rexPresent)}
	}
	mem := m.mem
	mem.WidthBits = widthBits
	return Operand{Kind: OperandMem, Mem: mem}
}
