package asmx64

import (
	"bytes"
	"strings"
	"testing"
)

func assembleOrFatal(t *testing.T, source string) []byte {
	t.Helper()
	res, err := Assemble(source, Options{})
	if err != nil {
		t.Fatalf("Assemble(%q): %v", source, err)
	}
	return res.Bytes
}

// TestAssembleFixedForms checks a corpus of single instructions against
// their known-correct machine code, the way a disassembler would have
// produced them in the first place -- each case is an instruction this
// toolchain's own disassembler recognizes, hand-verified against its
// canonical encoding.
func TestAssembleFixedForms(t *testing.T) {
	cases := []struct {
		name   string
		source string
		want   []byte
	}{
		{"mov imm32", "mov eax, 1", []byte{0xB8, 0x01, 0x00, 0x00, 0x00}},
		{"mov imm64", "mov rax, 1", []byte{0x48, 0xB8, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"add reg reg", "add eax, ecx", []byte{0x01, 0xC8}},
		{"cmp reg imm8", "cmp ecx, 0", []byte{0x83, 0xF9, 0x00}},
		{"dec reg", "dec ecx", []byte{0xFF, 0xC9}},
		{"push r64", "push rbp", []byte{0x55}},
		{"pop r64", "pop rbp", []byte{0x5D}},
		{"ret", "ret", []byte{0xC3}},
		{"lea stack slot", "lea rax, [rbp-8]", []byte{0x48, 0x8D, 0x45, 0xF8}},
		{"mov store stack slot", "mov [rbp-4], eax", []byte{0x89, 0x45, 0xFC}},
		{"extended reg", "mov r8d, ecx", []byte{0x41, 0x89, 0xC8}},
		{"nop", "nop", []byte{0x90}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := assembleOrFatal(t, c.source)
			if !bytes.Equal(got, c.want) {
				t.Errorf("%s: got % x, want % x", c.source, got, c.want)
			}
		})
	}
}

// TestAssembleCountingLoop assembles a hand-written source form of the
// same counting loop used as a disassembly fixture elsewhere in this
// module, and checks it reproduces that exact byte sequence -- the two
// directions (disassemble a byte sequence into structure, assemble
// source back into bytes) must agree on one shared program.
func TestAssembleCountingLoop(t *testing.T) {
	source := `
	mov ecx, 5
L1:
	cmp ecx, 0
	je exit
	dec ecx
	jmp L1
exit:
	ret
`
	want := []byte{
		0xB9, 0x05, 0x00, 0x00, 0x00, // mov ecx, 5
		0x83, 0xF9, 0x00, // cmp ecx, 0
		0x74, 0x04, // je +4
		0xFF, 0xC9, // dec ecx
		0xEB, 0xF7, // jmp -9
		0xC3, // ret
	}
	got := assembleOrFatal(t, source)
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

// TestAssembleLongBackwardJumpPromotes checks that a backward branch whose
// displacement doesn't fit in a signed byte gets promoted to the near
// (rel32) form rather than producing an out-of-range rel8.
func TestAssembleLongBackwardJumpPromotes(t *testing.T) {
	var b []byte
	b = append(b, "L1:\n"...)
	for i := 0; i < 40; i++ {
		b = append(b, "\tnop\n"...)
	}
	b = append(b, "\tjmp L1\n"...)
	res, err := Assemble(string(b), Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// 40 nops then a jmp back to offset 0; rel8 range is -128..127, and
	// the near form is 5 bytes vs 2 for short, so the distance (-42) would
	// actually still fit in a byte -- the real assertion here is just that
	// assembly succeeds and produces the minimal 2-byte short form.
	if len(res.Bytes) != 40+2 {
		t.Fatalf("expected short jmp (2 bytes), got total length %d", len(res.Bytes))
	}

	far := "L1:\n"
	for i := 0; i < 200; i++ {
		far += "\tnop\n"
	}
	far += "\tjmp L1\n"
	res2, err := Assemble(far, Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(res2.Bytes) != 200+5 {
		t.Fatalf("expected near jmp (5 bytes) once displacement exceeds int8 range, got total length %d", len(res2.Bytes))
	}
	last5 := res2.Bytes[len(res2.Bytes)-5:]
	if last5[0] != 0xE9 {
		t.Fatalf("expected near jmp opcode 0xE9, got %#x", last5[0])
	}
}

func TestAssembleDataDirectives(t *testing.T) {
	source := `
	nop
	align 4
	db 1,2,3
`
	want := []byte{0x90, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03}
	got := assembleOrFatal(t, source)
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestAssembleTimes(t *testing.T) {
	got := assembleOrFatal(t, "times 3 db 0x41")
	want := []byte{0x41, 0x41, 0x41}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestAssembleStringLiteral(t *testing.T) {
	got := assembleOrFatal(t, `db "hi", 0`)
	want := []byte{'h', 'i', 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestAssembleWideDirectives(t *testing.T) {
	got := assembleOrFatal(t, "dd 0x11223344")
	want := []byte{0x44, 0x33, 0x22, 0x11}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestAssembleUndefinedLabelReportsLineAndMessage(t *testing.T) {
	_, err := Assemble("\tjmp nowhere\n", Options{})
	if err == nil {
		t.Fatal("expected an error for an undefined label")
	}
	asmErr, ok := err.(*AsmError)
	if !ok {
		t.Fatalf("expected *AsmError, got %T", err)
	}
	if asmErr.Line != 1 {
		t.Errorf("expected line 1, got %d", asmErr.Line)
	}
	if !strings.Contains(asmErr.Message, "nowhere") {
		t.Errorf("expected the message to name the undefined label, got %q", asmErr.Message)
	}
}

func TestAssembleDuplicateLabelRejected(t *testing.T) {
	_, err := Assemble("L1:\n\tnop\nL1:\n\tret\n", Options{})
	if err == nil {
		t.Fatal("expected an error for a duplicate label")
	}
}

func TestAssembleRipRelative(t *testing.T) {
	source := `
	lea rax, [rip+target]
target:
	nop
`
	res, err := Assemble(source, Options{Origin: 0x1000})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// lea rax, [rip+target] is 7 bytes (REX.W + 8D + modrm + disp32);
	// target immediately follows, so disp32 = 0.
	want := []byte{0x48, 0x8D, 0x05, 0x00, 0x00, 0x00, 0x00, 0x90}
	if !bytes.Equal(res.Bytes, want) {
		t.Errorf("got % x, want % x", res.Bytes, want)
	}
	if res.Labels["target"] != 0x1007 {
		t.Errorf("expected target at 0x1007, got %#x", res.Labels["target"])
	}
}
