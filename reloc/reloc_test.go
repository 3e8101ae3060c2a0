package reloc

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/xyproto/pe67/asmx64"
	"github.com/xyproto/pe67/internal/testpe"
	"github.com/xyproto/pe67/peimage"
)

func buildFixture(t *testing.T) *peimage.Image {
	t.Helper()
	raw := testpe.Build(testpe.Spec{
		Text:      []byte{0xC3},
		Imports:   []testpe.Import{{DLL: "kernel32.dll", Name: "ExitProcess"}},
		ExtraData: append([]byte("hello world"), 0x00),
	})
	img, err := peimage.Parse(raw, false)
	if err != nil {
		t.Fatalf("peimage.Parse: %v", err)
	}
	return img
}

func importVA(t *testing.T, img *peimage.Image) uint64 {
	t.Helper()
	for va := range img.ImportMap {
		return va
	}
	t.Fatal("fixture has no imports")
	return 0
}

func dataVA(t *testing.T, img *peimage.Image) uint64 {
	t.Helper()
	s := img.SectionByName(".data")
	if s == nil {
		t.Fatal("fixture has no .data section")
	}
	return img.VA(s.VAddr)
}

func TestRelocateResolvesKnownLabels(t *testing.T) {
	img := buildFixture(t)
	imp := importVA(t, img)
	str := dataVA(t, img)

	source := fmt.Sprintf(
		"mov eax, [import_%x]\nlea rax, [rip+string_%x]\n",
		imp, str,
	)

	res, err := Relocate(img, source, PolicyReport, 0)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if len(res.Unresolved) != 0 {
		t.Fatalf("expected no unresolved refs, got %v", res.Unresolved)
	}

	if va, ok := res.Resolver(fmt.Sprintf("import_%x", imp)); !ok || va != imp {
		t.Errorf("import label: got (%x, %v), want (%x, true)", va, ok, imp)
	}
	if va, ok := res.Resolver(fmt.Sprintf("string_%x", str)); !ok || va != str {
		t.Errorf("string label: got (%x, %v), want (%x, true)", va, ok, str)
	}
}

func TestRelocateRejectsMismatchedKind(t *testing.T) {
	img := buildFixture(t)
	imp := importVA(t, img)

	// Labeling an import's VA as a string is a category mismatch --
	// should be reported, not silently accepted.
	source := fmt.Sprintf("mov eax, [string_%x]\n", imp)

	res, err := Relocate(img, source, PolicyReport, 0)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if len(res.Unresolved) != 1 {
		t.Fatalf("expected exactly one unresolved ref, got %v", res.Unresolved)
	}
	if res.Unresolved[0].Line != 1 {
		t.Errorf("expected line 1, got %d", res.Unresolved[0].Line)
	}
}

func TestRelocatePlaceholderPolicySubstitutes(t *testing.T) {
	img := buildFixture(t)
	source := "mov eax, [data_deadbeef]\n"

	res, err := Relocate(img, source, PolicyPlaceholder, 0x4141414141414141)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if len(res.Unresolved) != 0 {
		t.Fatalf("expected no unresolved refs under placeholder policy, got %v", res.Unresolved)
	}
	va, ok := res.Resolver("data_deadbeef")
	if !ok || va != 0x4141414141414141 {
		t.Errorf("got (%x, %v), want (0x4141414141414141, true)", va, ok)
	}
}

func TestRelocateResolverFeedsAssembler(t *testing.T) {
	img := buildFixture(t)
	str := dataVA(t, img)

	source := fmt.Sprintf("lea rax, [rip+string_%x]\n", str)
	res, err := Relocate(img, source, PolicyReport, 0)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if len(res.Unresolved) != 0 {
		t.Fatalf("expected no unresolved refs, got %v", res.Unresolved)
	}
	if _, ok := res.ResolvedVAs[fmt.Sprintf("string_%x", str)]; !ok {
		t.Fatalf("expected ResolvedVAs to carry the resolved label for downstream assembly")
	}

	origin := img.VA(img.SectionByName(".text").VAddr)
	asmRes, err := asmx64.Assemble(source, asmx64.Options{Origin: origin, ExternalLabels: res.Resolver})
	if err != nil {
		t.Fatalf("Assemble with the relocator's resolver: %v", err)
	}
	// lea rax, [rip+label] is 7 bytes; its disp32 is the label's VA minus
	// the address of the next instruction.
	if len(asmRes.Bytes) != 7 {
		t.Fatalf("expected a 7-byte lea, got % x", asmRes.Bytes)
	}
	disp := int64(int32(binary.LittleEndian.Uint32(asmRes.Bytes[3:7])))
	if want := int64(str) - int64(origin+7); disp != want {
		t.Errorf("disp32 = %#x, want %#x", disp, want)
	}
}
