package peimage

import (
	"testing"

	"github.com/xyproto/pe67/internal/testpe"
)

func TestParseMinimalImage(t *testing.T) {
	raw := testpe.Build(testpe.Spec{
		Text: []byte{0xC3}, // ret
	})

	img, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !img.IsPE32Plus {
		t.Fatal("expected PE32+")
	}
	if len(img.Sections) != 1 || img.Sections[0].Name != ".text" {
		t.Fatalf("unexpected sections: %+v", img.Sections)
	}
	if !img.Sections[0].IsCode {
		t.Fatal(".text should be marked code")
	}
}

func TestParseRejectsTooSmall(t *testing.T) {
	_, err := Parse([]byte{0, 1, 2}, false)
	var perr *PeError
	if err == nil {
		t.Fatal("expected error")
	}
	if pe, ok := err.(*PeError); !ok || pe.Kind != TooSmall {
		t.Fatalf("expected TooSmall, got %v (%T)", err, perr)
	}
}

func TestParseRejectsBadDosMagic(t *testing.T) {
	raw := testpe.Build(testpe.Spec{Text: []byte{0xC3}})
	raw[0] = 'X'
	_, err := Parse(raw, false)
	pe, ok := err.(*PeError)
	if !ok || pe.Kind != BadDosMagic {
		t.Fatalf("expected BadDosMagic, got %v", err)
	}
}

func TestImportsResolveToImportKind(t *testing.T) {
	raw := testpe.Build(testpe.Spec{
		Text: []byte{0xC3},
		Imports: []testpe.Import{
			{DLL: "kernel32.dll", Name: "GetProcAddress"},
			{DLL: "kernel32.dll", Name: "LoadLibraryA"},
		},
	})
	img, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(img.ImportMap) != 2 {
		t.Fatalf("expected 2 imports, got %d: %+v", len(img.ImportMap), img.ImportMap)
	}

	var found int
	for va, ref := range img.ImportMap {
		if ref.DLL != "kernel32.dll" {
			t.Fatalf("unexpected dll: %s", ref.DLL)
		}
		if ref.Symbol == "GetProcAddress" || ref.Symbol == "LoadLibraryA" {
			found++
		}
		r := img.Resolve(va)
		if r.Kind != ResolvedImport {
			t.Fatalf("Resolve(%x) = %+v, want Import", va, r)
		}
	}
	if found != 2 {
		t.Fatalf("expected both import names to resolve, found %d", found)
	}
}

func TestOrdinalImportSymbol(t *testing.T) {
	raw := testpe.Build(testpe.Spec{
		Text: []byte{0xC3},
		Imports: []testpe.Import{
			{DLL: "ws2_32.dll", Ordinal: 42},
		},
	})
	img, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var got string
	for _, ref := range img.ImportMap {
		got = ref.Symbol
	}
	if got != "#42" {
		t.Fatalf("expected ordinal symbol #42, got %q", got)
	}
}

func TestExportsResolve(t *testing.T) {
	raw := testpe.Build(testpe.Spec{
		Text:    []byte{0xC3, 0x90, 0x90, 0xC3},
		Exports: []testpe.Export{{Name: "DoThing", Offset: 2}},
	})
	img, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(img.ExportMap) != 1 {
		t.Fatalf("expected 1 export, got %d", len(img.ExportMap))
	}
	va := img.VA(img.Sections[0].VAddr + 2)
	r := img.Resolve(va)
	if r.Kind != ResolvedExport || r.ExportName != "DoThing" {
		t.Fatalf("Resolve(export) = %+v", r)
	}
}

func TestResolveIATSlotTotality(t *testing.T) {
	raw := testpe.Build(testpe.Spec{
		Text: []byte{0xC3},
		Imports: []testpe.Import{
			{DLL: "kernel32.dll", Name: "GetProcAddress"},
			{DLL: "kernel32.dll", Name: "LoadLibraryA"},
			{DLL: "kernel32.dll", Name: "ExitProcess"},
		},
	})
	img, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// Testable property 7: every VA in the IAT range resolves to Import or
	// IatSlot, never Unknown.
	lo, hi := img.IATRange[0], img.IATRange[1]
	for va := lo; va < hi; va++ {
		r := img.Resolve(va)
		if r.Kind != ResolvedImport && r.Kind != ResolvedIatSlot {
			t.Fatalf("Resolve(%x) = %+v, want Import or IatSlot", va, r)
		}
	}
}

func TestResolveStringFallback(t *testing.T) {
	raw := testpe.Build(testpe.Spec{
		Text:      []byte{0xC3},
		ExtraData: append([]byte("Hello, world"), 0),
	})
	img, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	dataSection := img.SectionByName(".data")
	if dataSection == nil {
		t.Fatal("expected .data section")
	}
	r := img.Resolve(img.VA(dataSection.VAddr))
	if r.Kind != ResolvedString || r.StringValue != "Hello, world" {
		t.Fatalf("Resolve(string) = %+v", r)
	}
}

func TestSectionOverlapRejected(t *testing.T) {
	raw := testpe.Build(testpe.Spec{Text: []byte{0xC3}})
	// A one-section image has nothing to overlap with, so a second image
	// with an export (and so an .rdata section) is built instead, and its
	// second section header is pointed at .text's file range.
	_ = raw
	raw2 := testpe.Build(testpe.Spec{
		Text:    []byte{0xC3},
		Exports: []testpe.Export{{Name: "X", Offset: 0}},
	})
	img, err := Parse(raw2, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(img.Sections) < 2 {
		t.Skip("need at least two sections to meaningfully corrupt")
	}

	lfanew := uint32(raw2[0x3C]) | uint32(raw2[0x3D])<<8 | uint32(raw2[0x3E])<<16 | uint32(raw2[0x3F])<<24
	second := lfanew + 4 + 20 + 240 + 40 // PE sig, COFF, PE32+ optional header, first section header
	foff := img.Sections[0].FOff
	raw2[second+20] = byte(foff)
	raw2[second+21] = byte(foff >> 8)
	raw2[second+22] = byte(foff >> 16)
	raw2[second+23] = byte(foff >> 24)

	_, err = Parse(raw2, false)
	pe, ok := err.(*PeError)
	if !ok || pe.Kind != OverlappingSections {
		t.Fatalf("expected OverlappingSections, got %v", err)
	}
}

func TestSuspiciousEntryForceBypass(t *testing.T) {
	raw := testpe.Build(testpe.Spec{Text: []byte{0xC3}})
	// Zero out the entry point RVA in the optional header.
	lfanew := uint32(raw[0x3C]) | uint32(raw[0x3D])<<8 | uint32(raw[0x3E])<<16 | uint32(raw[0x3F])<<24
	entryOff := lfanew + 4 + 20 + 16
	raw[entryOff] = 0
	raw[entryOff+1] = 0
	raw[entryOff+2] = 0
	raw[entryOff+3] = 0

	if _, err := Parse(raw, false); err == nil {
		t.Fatal("expected SuspiciousEntry without force")
	}
	img, err := Parse(raw, true)
	if err != nil {
		t.Fatalf("force-parse should succeed: %v", err)
	}
	if img.EntryPointRVA != 0 {
		t.Fatalf("expected zeroed entry, got %x", img.EntryPointRVA)
	}
}

func TestDumpInfoContainsCoreFields(t *testing.T) {
	raw := testpe.Build(testpe.Spec{
		Text: []byte{0xC3},
		Imports: []testpe.Import{
			{DLL: "kernel32.dll", Name: "ExitProcess"},
		},
	})
	img, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	dump := img.DumpInfo()
	for _, want := range []string{"Image Base:", "Entry Point:", "kernel32.dll", "ExitProcess"} {
		if !contains(dump, want) {
			t.Fatalf("dump missing %q:\n%s", want, dump)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
