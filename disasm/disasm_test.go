package disasm

import "testing"

func TestDecodeRet(t *testing.T) {
	in := decodeOne([]byte{0xC3}, 0, 0x1000)
	if in.Mnemonic != "ret" || in.Length != 1 || in.Undecoded {
		t.Fatalf("unexpected decode: %+v", in)
	}
}

func TestDecodeNop(t *testing.T) {
	in := decodeOne([]byte{0x90}, 0, 0x1000)
	if in.Mnemonic != "nop" || in.Length != 1 {
		t.Fatalf("unexpected decode: %+v", in)
	}
}

func TestDecodeMovRegToReg(t *testing.T) {
	// 48 89 c3 -> mov rbx, rax
	in := decodeOne([]byte{0x48, 0x89, 0xC3}, 0, 0x1000)
	if in.Mnemonic != "mov" || in.Length != 3 {
		t.Fatalf("unexpected decode: %+v", in)
	}
	if in.Operands[0].Reg != "rbx" || in.Operands[1].Reg != "rax" {
		t.Fatalf("unexpected operands: %+v", in.Operands)
	}
}

func TestDecodeAddImm8Group1(t *testing.T) {
	// 48 83 c0 01 -> add rax, 1
	in := decodeOne([]byte{0x48, 0x83, 0xC0, 0x01}, 0, 0x1000)
	if in.Mnemonic != "add" || in.Length != 4 {
		t.Fatalf("unexpected decode: %+v", in)
	}
	if in.Operands[0].Reg != "rax" || in.Operands[1].Imm != 1 {
		t.Fatalf("unexpected operands: %+v", in.Operands)
	}
}

func TestDecodeCallRel32(t *testing.T) {
	// e8 00 00 00 00 -> call <next instruction> (rel32 == 0)
	in := decodeOne([]byte{0xE8, 0x00, 0x00, 0x00, 0x00}, 0, 0x1000)
	if in.Mnemonic != "call" || in.Length != 5 {
		t.Fatalf("unexpected decode: %+v", in)
	}
	if in.Operands[0].Kind != OperandRel || in.Operands[0].Rel != 0x1005 {
		t.Fatalf("unexpected call target: %+v", in.Operands[0])
	}
}

func TestDecodeJmpShort(t *testing.T) {
	// eb fe -> jmp $ (infinite loop: target == instruction's own VA)
	in := decodeOne([]byte{0xEB, 0xFE}, 0, 0x2000)
	if in.Mnemonic != "jmp" || in.Length != 2 {
		t.Fatalf("unexpected decode: %+v", in)
	}
	if in.Operands[0].Rel != 0x2000 {
		t.Fatalf("unexpected jmp target: 0x%x", in.Operands[0].Rel)
	}
}

func TestDecodeRipRelativeMov(t *testing.T) {
	// 48 8b 05 f2 ff ff ff -> mov rax, [rip-14]
	in := decodeOne([]byte{0x48, 0x8B, 0x05, 0xF2, 0xFF, 0xFF, 0xFF}, 0, 0x1000)
	if in.Mnemonic != "mov" || in.Length != 7 {
		t.Fatalf("unexpected decode: %+v", in)
	}
	if in.RipRel == nil {
		t.Fatal("expected RipRel to be attached")
	}
	wantTarget := uint64(0x1000) + 7 - 14
	if in.RipRel.TargetVA != wantTarget {
		t.Fatalf("RipRel target = 0x%x, want 0x%x", in.RipRel.TargetVA, wantTarget)
	}
	if !in.RipRel.IsDataAccess {
		t.Fatal("mov [rip+d] should be a data access")
	}
}

func TestDecodeLeaRipRelative(t *testing.T) {
	// 48 8d 0d 10 00 00 00 -> lea rcx, [rip+0x10]
	in := decodeOne([]byte{0x48, 0x8D, 0x0D, 0x10, 0x00, 0x00, 0x00}, 0, 0x2000)
	if in.Mnemonic != "lea" {
		t.Fatalf("unexpected decode: %+v", in)
	}
	if in.RipRel == nil || in.RipRel.TargetVA != 0x2000+7+0x10 {
		t.Fatalf("unexpected riprel: %+v", in.RipRel)
	}
}

func TestUndecodedAdvancesOneByte(t *testing.T) {
	// 0F alone with no second byte available: truncated, must degrade.
	in := decodeOne([]byte{0x0F}, 0, 0x3000)
	if !in.Undecoded || in.Length != 1 {
		t.Fatalf("expected Undecoded(1), got %+v", in)
	}
}

func TestDisassembleIsDeterministic(t *testing.T) {
	code := []byte{0x48, 0x89, 0xC3, 0xC3, 0x90, 0x90, 0xC3}
	first := sweepAll(code, 0x1000)
	second := sweepAll(code, 0x1000)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic lengths: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Mnemonic != second[i].Mnemonic || first[i].VA != second[i].VA {
			t.Fatalf("non-deterministic instruction at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func sweepAll(code []byte, baseVA uint64) []Instruction {
	var out []Instruction
	off := 0
	for off < len(code) {
		in := decodeOne(code, off, baseVA+uint64(off))
		out = append(out, in)
		off += in.Length
	}
	return out
}

func TestJunkFilterRemovesNopsAndCancelingPairs(t *testing.T) {
	// xor eax,eax ; inc ecx ; dec ecx ; nop ; push rbx ; pop rbx ; ret
	code := []byte{
		0x31, 0xC0, // xor eax,eax
		0xFF, 0xC1, // inc ecx
		0xFF, 0xC9, // dec ecx
		0x90,       // nop
		0x53,       // push rbx
		0x5B,       // pop rbx
		0xC3,       // ret
	}
	stream := sweepAll(code, 0x1000)
	filtered := Filter(stream)

	if len(filtered) != 2 {
		t.Fatalf("expected 2 surviving instructions (xor, ret), got %d: %+v", len(filtered), filtered)
	}
	if filtered[0].Mnemonic != "xor" || !filtered[0].ZeroingIdiom {
		t.Fatalf("expected marked xor zeroing idiom, got %+v", filtered[0])
	}
	if filtered[1].Mnemonic != "ret" {
		t.Fatalf("expected ret, got %+v", filtered[1])
	}
}

func TestJunkFilterNeverBridgesBlockBoundary(t *testing.T) {
	// A push/pop pair that the caller must NOT pass as one slice across a
	// block boundary; Filter trusts its input is already one block, so
	// feeding it a pre-split slice (just the push) must not see the pop.
	code := []byte{0x53} // push rbx, alone
	stream := sweepAll(code, 0x1000)
	filtered := Filter(stream)
	if len(filtered) != 1 || filtered[0].Mnemonic != "push" {
		t.Fatalf("push alone should survive when its pop is outside this slice: %+v", filtered)
	}
}
