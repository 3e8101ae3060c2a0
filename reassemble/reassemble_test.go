package reassemble

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/xyproto/pe67/internal/testpe"
	"github.com/xyproto/pe67/peimage"
)

func buildFixture(t *testing.T) []byte {
	t.Helper()
	return testpe.Build(testpe.Spec{
		Text:    []byte{0x55, 0x48, 0x89, 0xE5, 0x5D, 0xC3}, // push rbp; mov rbp,rsp; pop rbp; ret
		Imports: []testpe.Import{{DLL: "kernel32.dll", Name: "ExitProcess"}},
	})
}

func TestReassembleReplacesTextAndPads(t *testing.T) {
	preserved := buildFixture(t)
	newText := []byte{0x90, 0x90, 0xC3} // shorter than the original

	out, err := Reassemble(preserved, newText, Options{})
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if len(out) != len(preserved) {
		t.Fatalf("output length changed: got %d, want %d", len(out), len(preserved))
	}

	img, err := peimage.Parse(preserved, true)
	if err != nil {
		t.Fatalf("peimage.Parse(preserved): %v", err)
	}
	text := img.SectionByName(".text")
	if text == nil {
		t.Fatal("fixture has no .text section")
	}

	start, end := text.FileRange()
	got := out[start:end]
	want := append(append([]byte{}, newText...), bytes.Repeat([]byte{0x90}, int(text.FSize)-len(newText))...)
	if !bytes.Equal(got, want) {
		t.Errorf(".text bytes: got % x, want % x", got, want)
	}

	// Property 1/8: everything outside [start, end) is byte-identical to
	// the preserved image.
	if !bytes.Equal(out[:start], preserved[:start]) {
		t.Error("bytes before .text changed")
	}
	if !bytes.Equal(out[end:], preserved[end:]) {
		t.Error("bytes after .text changed")
	}
}

func TestReassembleTextTooLarge(t *testing.T) {
	preserved := buildFixture(t)
	img, err := peimage.Parse(preserved, true)
	if err != nil {
		t.Fatalf("peimage.Parse: %v", err)
	}
	text := img.SectionByName(".text")

	newText := bytes.Repeat([]byte{0x90}, int(text.FSize)+1)
	_, err = Reassemble(preserved, newText, Options{})
	if err == nil {
		t.Fatal("expected TextTooLarge error")
	}
	reErr, ok := err.(*ReasmError)
	if !ok || reErr.Kind != TextTooLarge {
		t.Fatalf("expected *ReasmError{Kind: TextTooLarge}, got %#v", err)
	}
	if reErr.OldSize != text.FSize || reErr.NewSize != len(newText) {
		t.Errorf("unexpected sizes in error: %+v", reErr)
	}
}

func TestReassembleExactFit(t *testing.T) {
	preserved := buildFixture(t)
	img, err := peimage.Parse(preserved, true)
	if err != nil {
		t.Fatalf("peimage.Parse: %v", err)
	}
	text := img.SectionByName(".text")

	newText := bytes.Repeat([]byte{0xCC}, int(text.FSize))
	out, err := Reassemble(preserved, newText, Options{})
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	start, end := text.FileRange()
	if !bytes.Equal(out[start:end], newText) {
		t.Error("exact-fit .text replacement didn't match byte-for-byte")
	}
}

func TestReassembleNoTextSection(t *testing.T) {
	preserved := buildFixture(t)
	idx := bytes.Index(preserved, []byte(".text\x00"))
	if idx < 0 {
		t.Fatal("fixture doesn't contain a .text section header name")
	}
	mangled := append([]byte{}, preserved...)
	copy(mangled[idx:idx+8], make([]byte, 8))

	_, err := Reassemble(mangled, []byte{0xC3}, Options{})
	if err == nil {
		t.Fatal("expected NoTextSection error")
	}
	reErr, ok := err.(*ReasmError)
	if !ok || reErr.Kind != NoTextSection {
		t.Fatalf("expected *ReasmError{Kind: NoTextSection}, got %#v", err)
	}
}

func TestReassembleMalformedSourceRejected(t *testing.T) {
	_, err := Reassemble([]byte{0x00, 0x01, 0x02}, []byte{0xC3}, Options{})
	if err == nil {
		t.Fatal("expected MalformedSourcePe error for a too-small buffer")
	}
	reErr, ok := err.(*ReasmError)
	if !ok || reErr.Kind != MalformedSourcePe {
		t.Fatalf("expected *ReasmError{Kind: MalformedSourcePe}, got %#v", err)
	}
}

func TestReassembleRecomputesChecksumOnlyWhenAsked(t *testing.T) {
	preserved := buildFixture(t)
	newText := []byte{0x90, 0xC3}

	outNoChecksum, err := Reassemble(preserved, newText, Options{})
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	off, err := checksumFieldOffset(outNoChecksum)
	if err != nil {
		t.Fatalf("checksumFieldOffset: %v", err)
	}
	if binary.LittleEndian.Uint32(outNoChecksum[off:off+4]) != 0 {
		t.Error("checksum field changed without RecomputeChecksum set")
	}

	outChecksum, err := Reassemble(preserved, newText, Options{RecomputeChecksum: true})
	if err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	got := binary.LittleEndian.Uint32(outChecksum[off : off+4])

	zeroed := append([]byte{}, outChecksum...)
	binary.LittleEndian.PutUint32(zeroed[off:off+4], 0)
	want := peChecksum(zeroed)

	if got != want {
		t.Errorf("recomputed checksum %#x doesn't match standalone computation %#x", got, want)
	}

	// Outside the checksum field and .text, a RecomputeChecksum run must
	// still match the non-recomputing run byte-for-byte.
	img, _ := peimage.Parse(preserved, true)
	text := img.SectionByName(".text")
	start, end := text.FileRange()
	for i := range outNoChecksum {
		if i >= int(start) && i < int(end) {
			continue
		}
		if uint32(i) >= off && uint32(i) < off+4 {
			continue
		}
		if outNoChecksum[i] != outChecksum[i] {
			t.Fatalf("unexpected divergence at byte %d outside .text and checksum field", i)
		}
	}
}
