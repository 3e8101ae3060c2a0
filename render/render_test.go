package render

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/xyproto/pe67/analyze"
	"github.com/xyproto/pe67/internal/testpe"
	"github.com/xyproto/pe67/peimage"
)

// loopProgram builds:
//
//	mov ecx, 5
//	L1: cmp ecx, 0
//	    je exit
//	    dec ecx
//	    jmp L1
//	exit: ret
func loopProgram(t *testing.T) *analyze.AnalyzedProgram {
	t.Helper()
	text := []byte{
		0xB9, 0x05, 0x00, 0x00, 0x00, // mov ecx, 5
		0x83, 0xF9, 0x00, // cmp ecx, 0
		0x74, 0x04, // je +4  -> exit
		0xFF, 0xC9, // dec ecx
		0xEB, 0xF7, // jmp -9 -> L1
		0xC3, // ret
	}
	raw := testpe.Build(testpe.Spec{Text: text})
	img, err := peimage.Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return analyze.AnalyzeProgram(img)
}

// callProgram builds a single function that calls an imported function
// then returns, to exercise the call-site renderer and the by-function
// output mode.
func callProgram(t *testing.T) *analyze.AnalyzedProgram {
	t.Helper()
	text := []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0xC3} // call rel32(+0) ; ret
	raw := testpe.Build(testpe.Spec{
		Text:    text,
		Imports: []testpe.Import{{DLL: "kernel32.dll", Name: "ExitProcess"}},
	})
	img, err := peimage.Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var importVA uint64
	for va := range img.ImportMap {
		importVA = va
	}
	if importVA == 0 {
		t.Fatalf("no import registered: %+v", img.ImportMap)
	}
	callVA := img.VA(img.EntryPointRVA)
	rel32 := int32(int64(importVA) - int64(callVA+5))
	off, ok := img.RVAToFileOffset(img.EntryPointRVA + 1)
	if !ok {
		t.Fatalf("could not locate call operand in file")
	}
	binary.LittleEndian.PutUint32(raw[off:off+4], uint32(rel32))

	img2, err := peimage.Parse(raw, false)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	return analyze.AnalyzeProgram(img2)
}

func TestRenderDeterministic(t *testing.T) {
	prog := loopProgram(t)
	f1, err := Render(prog, Options{Language: LangPseudo, Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	f2, err := Render(prog, Options{Language: LangPseudo, Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(f1) != len(f2) {
		t.Fatalf("file count differs: %d vs %d", len(f1), len(f2))
	}
	for i := range f1 {
		if !bytes.Equal(f1[i].Data, f2[i].Data) {
			t.Errorf("file %d not byte-identical across renders", i)
		}
	}
}

func TestRenderPseudoStructuresLoop(t *testing.T) {
	prog := loopProgram(t)
	files, err := Render(prog, Options{Language: LangPseudo, Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := string(files[0].Data)
	if !strings.Contains(out, "while (") && !strings.Contains(out, "for (") {
		t.Errorf("expected a structured while/for loop, got:\n%s", out)
	}
	if !strings.Contains(out, "ecx") {
		t.Errorf("expected ecx to appear in rendered condition, got:\n%s", out)
	}
	if strings.Contains(out, "L_140001005:") { // header is at .text+5, image base 0x140000000
		t.Errorf("loop header should not print a dangling label when structured:\n%s", out)
	}
}

func TestRenderCCallSite(t *testing.T) {
	prog := callProgram(t)
	files, err := Render(prog, Options{Language: LangC, Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := string(files[0].Data)
	if !strings.Contains(out, "ExitProcess();") {
		t.Errorf("expected a rendered call to ExitProcess, got:\n%s", out)
	}
	if !strings.Contains(out, "kernel32.dll!ExitProcess") {
		t.Errorf("expected the DLL!Symbol annotation, got:\n%s", out)
	}
}

func TestRenderCValidates(t *testing.T) {
	prog := loopProgram(t)
	files, err := Render(prog, Options{Language: LangC, Mode: ModeSingle, ValidateC: true})
	if err != nil {
		t.Fatalf("Render with ValidateC: %v", err)
	}
	if err := ValidateC(files[0].Data); err != nil {
		t.Errorf("ValidateC: %v", err)
	}
}

func TestRenderRustSingle(t *testing.T) {
	prog := loopProgram(t)
	files, err := Render(prog, Options{Language: LangRust, Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := string(files[0].Data)
	if !strings.Contains(out, "unsafe fn") {
		t.Errorf("expected an unsafe fn signature, got:\n%s", out)
	}
}

func TestRenderByTypeProducesGlobalsAndStrings(t *testing.T) {
	prog := loopProgram(t)
	files, err := Render(prog, Options{Language: LangC, Mode: ModeByType})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	names := map[string]bool{}
	for _, f := range files {
		names[f.Name] = true
	}
	for _, want := range []string{"types.h", "globals.c", "strings.c", "functions.c", "main.c"} {
		if !names[want] {
			t.Errorf("missing by-type output file %q", want)
		}
	}
}

func TestRenderRustByTypeProducesAllFiles(t *testing.T) {
	prog := loopProgram(t)
	files, err := Render(prog, Options{Language: LangRust, Mode: ModeByType})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	names := map[string]bool{}
	for _, f := range files {
		names[f.Name] = true
	}
	for _, want := range []string{"types.rs", "globals.rs", "strings.rs", "functions.rs", "main.rs"} {
		if !names[want] {
			t.Errorf("missing by-type output file %q", want)
		}
	}
}

func TestRenderByFunctionOneFilePerFunction(t *testing.T) {
	prog := callProgram(t)
	files, err := Render(prog, Options{Language: LangC, Mode: ModeByFunction})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(files) != len(prog.Functions)+1 {
		t.Fatalf("want %d files (one per function + index), got %d", len(prog.Functions)+1, len(files))
	}
}
