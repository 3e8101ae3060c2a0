package cfg

import (
	"testing"

	"github.com/xyproto/pe67/internal/testpe"
	"github.com/xyproto/pe67/peimage"
)

func mustParse(t *testing.T, raw []byte) *peimage.Image {
	t.Helper()
	img, err := peimage.Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return img
}

func TestDiscoverSingleRetFunction(t *testing.T) {
	raw := testpe.Build(testpe.Spec{Text: []byte{0xC3}})
	img := mustParse(t, raw)
	p := NewProgram(img)
	fns := DiscoverFunctions(p)

	if len(fns) != 1 {
		t.Fatalf("want 1 function, got %d", len(fns))
	}
	fn := fns[0]
	if fn.EntryVA != img.VA(img.EntryPointRVA) {
		t.Fatalf("entry VA mismatch: got 0x%x want 0x%x", fn.EntryVA, img.VA(img.EntryPointRVA))
	}
	if len(fn.Blocks) != 1 {
		t.Fatalf("want 1 block, got %d", len(fn.Blocks))
	}
	b := fn.Blocks[fn.EntryVA]
	if b.Terminal != TermReturn {
		t.Fatalf("want TermReturn, got %v", b.Terminal)
	}
}

func TestDiscoverCallSplitsIntoTwoFunctions(t *testing.T) {
	// call rel32(+1) ; ret ; ret
	text := []byte{0xE8, 0x01, 0x00, 0x00, 0x00, 0xC3, 0xC3}
	raw := testpe.Build(testpe.Spec{Text: text})
	img := mustParse(t, raw)
	p := NewProgram(img)
	fns := DiscoverFunctions(p)

	if len(fns) != 2 {
		t.Fatalf("want 2 functions, got %d", len(fns))
	}
	entryA := img.VA(img.EntryPointRVA)
	entryB := entryA + 6
	var foundA, foundB bool
	for _, fn := range fns {
		if fn.EntryVA == entryA {
			foundA = true
		}
		if fn.EntryVA == entryB {
			foundB = true
		}
	}
	if !foundA || !foundB {
		t.Fatalf("expected functions at 0x%x and 0x%x, got %+v", entryA, entryB, fns)
	}
}

func TestDiscoverMultiEntryViaExportIntoBody(t *testing.T) {
	// nop ; ret, with an export pointing at the ret (offset 1).
	text := []byte{0x90, 0xC3}
	raw := testpe.Build(testpe.Spec{
		Text:    text,
		Exports: []testpe.Export{{Name: "MidEntry", Offset: 1}},
	})
	img := mustParse(t, raw)
	p := NewProgram(img)
	fns := DiscoverFunctions(p)

	entryA := img.VA(img.EntryPointRVA)
	var fn *Function
	for _, f := range fns {
		if f.EntryVA == entryA {
			fn = f
		}
	}
	if fn == nil {
		t.Fatalf("function at entry not found among %+v", fns)
	}
	if !fn.MultiEntry {
		t.Fatalf("expected MultiEntry, got false; functions: %+v", fns)
	}
	if len(fn.AlternateEntries) != 1 || fn.AlternateEntries[0] != entryA+1 {
		t.Fatalf("expected alternate entry at 0x%x, got %+v", entryA+1, fn.AlternateEntries)
	}
}

func TestBuildBlocksDiamondSoundness(t *testing.T) {
	// cmp eax,0 ; je false ; mov eax,1 ; jmp merge ; false: mov eax,2 ; merge: ret
	text := []byte{
		0x83, 0xF8, 0x00, // 0: cmp eax,0
		0x74, 0x07, // 3: je +7 -> 12
		0xB8, 0x01, 0x00, 0x00, 0x00, // 5: mov eax,1
		0xEB, 0x05, // 10: jmp +5 -> 17
		0xB8, 0x02, 0x00, 0x00, 0x00, // 12: mov eax,2
		0xC3, // 17: ret
	}
	raw := testpe.Build(testpe.Spec{Text: text})
	img := mustParse(t, raw)
	p := NewProgram(img)
	fns := DiscoverFunctions(p)
	if len(fns) != 1 {
		t.Fatalf("want 1 function, got %d", len(fns))
	}
	fn := fns[0]
	base := fn.EntryVA

	wantLeaders := []uint64{base, base + 5, base + 12, base + 17}
	if len(fn.Blocks) != len(wantLeaders) {
		t.Fatalf("want %d blocks, got %d: %+v", len(wantLeaders), len(fn.Blocks), fn.Order)
	}
	for _, l := range wantLeaders {
		if _, ok := fn.Blocks[l]; !ok {
			t.Errorf("missing expected leader at 0x%x", l)
		}
	}

	// Soundness: every instruction belongs to exactly one block, and every
	// intra-function branch target resolves to a block leader.
	seen := make(map[uint64]bool)
	for va, b := range fn.Blocks {
		if va != b.StartVA {
			t.Errorf("block keyed 0x%x has StartVA 0x%x", va, b.StartVA)
		}
		for _, in := range b.Instructions {
			if seen[in.VA] {
				t.Errorf("instruction 0x%x claimed by more than one block", in.VA)
			}
			seen[in.VA] = true
		}
		for _, s := range b.Successors {
			if _, ok := fn.Blocks[s]; !ok && b.Terminal != TermCall && b.Terminal != TermIndirectCall {
				t.Errorf("block 0x%x successor 0x%x is not a block leader", va, s)
			}
		}
	}

	ComputeDominators(fn)
	merge := base + 17
	if fn.Dominators[merge] != base {
		t.Errorf("merge block idom = 0x%x, want entry 0x%x", fn.Dominators[merge], base)
	}
	if fn.Dominators[base+5] != base || fn.Dominators[base+12] != base {
		t.Errorf("true/false branch idoms should both be the entry block")
	}
}

func TestLoopDetectionClassifiesFor(t *testing.T) {
	// xor eax,eax
	// loop: cmp eax,3 ; jge exit ; inc eax ; jmp loop
	// exit: ret
	text := []byte{
		0x31, 0xC0, // 0: xor eax,eax
		0x83, 0xF8, 0x03, // 2: cmp eax,3
		0x7D, 0x04, // 5: jge +4 -> 11
		0xFF, 0xC0, // 7: inc eax
		0xEB, 0xF7, // 9: jmp -9 -> 2
		0xC3, // 11: ret
	}
	raw := testpe.Build(testpe.Spec{Text: text})
	img := mustParse(t, raw)
	p := NewProgram(img)
	fns := DiscoverFunctions(p)
	if len(fns) != 1 {
		t.Fatalf("want 1 function, got %d", len(fns))
	}
	fn := fns[0]
	base := fn.EntryVA

	ComputeDominators(fn)
	loops := FindLoops(fn)
	if len(loops) != 1 {
		t.Fatalf("want 1 loop, got %d: %+v", len(loops), loops)
	}
	loop := loops[0]
	if loop.HeaderVA != base+2 {
		t.Errorf("loop header = 0x%x, want 0x%x", loop.HeaderVA, base+2)
	}
	if loop.LatchVA != base+7 {
		t.Errorf("loop latch = 0x%x, want 0x%x", loop.LatchVA, base+7)
	}
	if !loop.Body[base+2] || !loop.Body[base+7] {
		t.Errorf("loop body missing header/latch: %+v", loop.Body)
	}
	if loop.Kind != LoopFor {
		t.Errorf("loop kind = %v, want for", loop.Kind)
	}
}

func TestCollapseEmptyBlocksRedirectsPredecessors(t *testing.T) {
	// cmp eax,0 ; je trampoline ; mov eax,1 ; merge: ret ; nop ; trampoline: jmp merge
	text := []byte{
		0x83, 0xF8, 0x00, // 0: cmp eax,0
		0x74, 0x07, // 3: je +7 -> 12
		0xB8, 0x01, 0x00, 0x00, 0x00, // 5: mov eax,1
		0xC3,       // 10: ret (merge)
		0x90,       // 11: nop filler
		0xEB, 0xFC, // 12: jmp -4 -> 10
	}
	raw := testpe.Build(testpe.Spec{Text: text})
	img := mustParse(t, raw)
	p := NewProgram(img)
	fns := DiscoverFunctions(p)
	if len(fns) != 1 {
		t.Fatalf("want 1 function, got %d", len(fns))
	}
	fn := fns[0]
	base := fn.EntryVA

	if _, ok := fn.Blocks[base+12]; ok {
		t.Errorf("trampoline block at 0x%x should have been collapsed", base+12)
	}
	entryBlock, ok := fn.Blocks[base]
	if !ok {
		t.Fatalf("missing entry block")
	}
	foundRedirect := false
	for _, s := range entryBlock.Successors {
		if s == base+10 {
			foundRedirect = true
		}
		if s == base+12 {
			t.Errorf("entry block successor still points at collapsed trampoline 0x%x", base+12)
		}
	}
	if !foundRedirect {
		t.Errorf("entry block successors %v do not include merge block 0x%x", entryBlock.Successors, base+10)
	}
}

func TestAnalyzeProgramPopulatesDominatorsAndLoops(t *testing.T) {
	raw := testpe.Build(testpe.Spec{Text: []byte{0xC3}})
	img := mustParse(t, raw)
	p := NewProgram(img)
	fns := AnalyzeProgram(p)
	if len(fns) != 1 {
		t.Fatalf("want 1 function, got %d", len(fns))
	}
	if fns[0].Dominators == nil {
		t.Errorf("expected Dominators to be populated by AnalyzeProgram")
	}
}
