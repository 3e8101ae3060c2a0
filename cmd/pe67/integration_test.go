package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xyproto/pe67/internal/testpe"
)

func fixturePath(t *testing.T) string {
	t.Helper()
	raw := testpe.Build(testpe.Spec{
		// push rbp; mov rbp,rsp; xor eax,eax; pop rbp; ret
		Text:    []byte{0x55, 0x48, 0x89, 0xE5, 0x31, 0xC0, 0x5D, 0xC3},
		Imports: []testpe.Import{{DLL: "kernel32.dll", Name: "ExitProcess"}},
	})
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.exe")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

// TestRunAnalyzeWritesExpectedFiles exercises the full analyze pipeline
// (C1 parse through C7 render, plus the raw listing and pe-info dump) and
// checks every output file spec.md §6's table names actually lands on
// disk under the requested output directory.
func TestRunAnalyzeWritesExpectedFiles(t *testing.T) {
	path := fixturePath(t)
	outDir := filepath.Join(filepath.Dir(path), "out")

	if err := runAnalyze(path, "pseudo", "single", false, false, outDir); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}

	want := []string{
		"sample_decompiled.pseudo",
		"sample_full.asm",
		"sample_pe_info.txt",
		"README.md",
	}
	for _, name := range want {
		p := filepath.Join(outDir, name)
		data, err := os.ReadFile(p)
		if err != nil {
			t.Errorf("expected output file %s: %v", name, err)
			continue
		}
		if len(data) == 0 {
			t.Errorf("output file %s is empty", name)
		}
	}
}

// TestRunAnalyzeDeterministic checks that analyzing the same input twice
// into two different output directories produces byte-identical listings,
// matching spec.md §8's determinism property.
func TestRunAnalyzeDeterministic(t *testing.T) {
	path := fixturePath(t)
	outA := filepath.Join(filepath.Dir(path), "out-a")
	outB := filepath.Join(filepath.Dir(path), "out-b")

	if err := runAnalyze(path, "c", "single", false, false, outA); err != nil {
		t.Fatalf("runAnalyze (a): %v", err)
	}
	if err := runAnalyze(path, "c", "single", false, false, outB); err != nil {
		t.Fatalf("runAnalyze (b): %v", err)
	}

	a, err := os.ReadFile(filepath.Join(outA, "sample_full.asm"))
	if err != nil {
		t.Fatalf("reading listing a: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(outB, "sample_full.asm"))
	if err != nil {
		t.Fatalf("reading listing b: %v", err)
	}
	if string(a) != string(b) {
		t.Error("listings for identical input diverged across runs")
	}
}

// TestRunAnalyzeRejectsBadLang checks the unrecognized --lang case is
// classified as a user-facing error rather than an internal one.
func TestRunAnalyzeRejectsBadLang(t *testing.T) {
	path := fixturePath(t)
	err := runAnalyze(path, "cobol", "single", false, false, filepath.Join(filepath.Dir(path), "out"))
	if err == nil {
		t.Fatal("expected an error for an unrecognized --lang value")
	}
	if exitCode(err) != 1 {
		t.Errorf("exitCode(%v) = %d, want 1 (user-facing)", err, exitCode(err))
	}
}

// TestRunAnalyzeMissingFile checks a missing source path is also
// classified as user-facing, not internal.
func TestRunAnalyzeMissingFile(t *testing.T) {
	err := runAnalyze("/nonexistent/does-not-exist.exe", "pseudo", "single", false, false, t.TempDir())
	if err == nil {
		t.Fatal("expected an error for a missing source file")
	}
	if exitCode(err) != 1 {
		t.Errorf("exitCode(%v) = %d, want 1 (user-facing)", err, exitCode(err))
	}
}

// TestAsmReassembleRoundTrip runs analyze on the fixture and checks its
// listing mentions ret, then assembles a hand-written copy of the fixture's
// instructions (plain mnemonics, no symbolic labels, so C9 is not involved)
// with runAsm and splices the bytes into the fixture's .text with
// runReassemble, checking that the assembled bytes and the rebuilt PE are
// both non-empty.
func TestAsmReassembleRoundTrip(t *testing.T) {
	path := fixturePath(t)
	outDir := filepath.Join(filepath.Dir(path), "out")
	if err := runAnalyze(path, "pseudo", "single", false, false, outDir); err != nil {
		t.Fatalf("runAnalyze: %v", err)
	}

	listing, err := os.ReadFile(filepath.Join(outDir, "sample_full.asm"))
	if err != nil {
		t.Fatalf("reading listing: %v", err)
	}
	if !strings.Contains(string(listing), "ret") {
		t.Error("listing for a function ending in ret should contain a ret mnemonic")
	}

	src := filepath.Join(outDir, "rebuilt.asm")
	asmSrc := "push rbp\nmov rbp, rsp\nxor eax, eax\npop rbp\nret\n"
	if err := os.WriteFile(src, []byte(asmSrc), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	binOut := filepath.Join(outDir, "rebuilt.bin")
	if err := runAsm(src, binOut, "0", "", false); err != nil {
		t.Fatalf("runAsm: %v", err)
	}
	assembled, err := os.ReadFile(binOut)
	if err != nil {
		t.Fatalf("reading assembled bytes: %v", err)
	}
	if len(assembled) == 0 {
		t.Fatal("assembled output is empty")
	}

	peOut := filepath.Join(outDir, "rebuilt.exe")
	if err := runReassemble(path, binOut, peOut, false); err != nil {
		t.Fatalf("runReassemble: %v", err)
	}
	if fi, err := os.Stat(peOut); err != nil || fi.Size() == 0 {
		t.Fatalf("reassembled PE missing or empty: %v", err)
	}
}

// TestPeInfoCommandReadsImage makes sure the pe-info subcommand's
// underlying load path works against the same fixture the other tests use.
func TestPeInfoCommandReadsImage(t *testing.T) {
	path := fixturePath(t)
	img, _, err := loadImage(path, false)
	if err != nil {
		t.Fatalf("loadImage: %v", err)
	}
	info := img.DumpInfo()
	if !strings.Contains(info, "kernel32.dll") {
		t.Error("DumpInfo output should mention the imported DLL")
	}
}
