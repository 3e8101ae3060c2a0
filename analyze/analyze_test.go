package analyze

import (
	"encoding/binary"
	"testing"

	"github.com/xyproto/pe67/cfg"
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

func singleFunction(t *testing.T, text []byte) (*peimage.Image, *cfg.Function) {
	t.Helper()
	raw := testpe.Build(testpe.Spec{Text: text})
	img := mustParse(t, raw)
	p := cfg.NewProgram(img)
	fns := cfg.DiscoverFunctions(p)
	if len(fns) != 1 {
		t.Fatalf("want 1 function, got %d", len(fns))
	}
	return img, fns[0]
}

func TestRecoverVarsLocalAndParam(t *testing.T) {
	text := []byte{
		0x8B, 0x45, 0xFC, // mov eax, [rbp-4]   (local)
		0x8B, 0x4D, 0x10, // mov ecx, [rbp+16]  (param)
		0xC3,
	}
	_, fn := singleFunction(t, text)
	vars := RecoverVars(fn)

	local, ok := vars[VarKey{BaseReg: "rbp", Offset: -4}]
	if !ok {
		t.Fatalf("missing local at rbp-4: %+v", vars)
	}
	if local.Kind != VarLocal || local.Name != "local_4" {
		t.Errorf("local = %+v, want Kind=VarLocal Name=local_4", local)
	}

	param, ok := vars[VarKey{BaseReg: "rbp", Offset: 16}]
	if !ok {
		t.Fatalf("missing param at rbp+16: %+v", vars)
	}
	if param.Kind != VarParam || param.Name != "param_1" {
		t.Errorf("param = %+v, want Kind=VarParam Name=param_1", param)
	}
}

func TestInferTypesSignedFromJg(t *testing.T) {
	text := []byte{
		0x83, 0x7D, 0xFC, 0x00, // cmp dword [rbp-4], 0
		0x7F, 0x01, // jg +1 -> 7
		0xC3, // 6: ret (false)
		0xC3, // 7: ret (true)
	}
	_, fn := singleFunction(t, text)
	vars := RecoverVars(fn)
	InferTypes(fn, vars)

	v, ok := vars[VarKey{BaseReg: "rbp", Offset: -4}]
	if !ok {
		t.Fatalf("missing var at rbp-4")
	}
	if v.Type != TypeSigned {
		t.Errorf("type = %v, want signed", v.Type)
	}
}

func TestDetectConventionStdcall(t *testing.T) {
	text := []byte{0xC2, 0x04, 0x00} // ret 4
	_, fn := singleFunction(t, text)
	if got := DetectConvention(fn); got != ConventionStdcall {
		t.Errorf("convention = %v, want stdcall", got)
	}
}

func TestDetectConventionWin64(t *testing.T) {
	text := []byte{0x48, 0x89, 0xC8, 0xC3} // mov rax, rcx ; ret
	_, fn := singleFunction(t, text)
	if got := DetectConvention(fn); got != ConventionWin64 {
		t.Errorf("convention = %v, want win64", got)
	}
}

func TestDetectConventionSysV(t *testing.T) {
	text := []byte{0x48, 0x89, 0xF8, 0xC3} // mov rax, rdi ; ret
	_, fn := singleFunction(t, text)
	if got := DetectConvention(fn); got != ConventionSysV {
		t.Errorf("convention = %v, want sysv", got)
	}
}

func TestFindAPICallsResolvesImport(t *testing.T) {
	// call rel32(+0) ; ret -- the rel32 is patched below, after parsing once
	// to learn the import's resolved VA, to actually reach it.
	text := []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0xC3}
	raw := testpe.Build(testpe.Spec{
		Text:    text,
		Imports: []testpe.Import{{DLL: "kernel32.dll", Name: "GetProcAddress"}},
	})
	img := mustParse(t, raw)

	var importVA uint64
	for va := range img.ImportMap {
		importVA = va
	}
	if importVA == 0 {
		t.Fatalf("no import registered: %+v", img.ImportMap)
	}

	callVA := img.VA(img.EntryPointRVA)
	nextVA := callVA + 5
	rel32 := int32(int64(importVA) - int64(nextVA))

	rel32Off, ok := img.RVAToFileOffset(img.EntryPointRVA + 1)
	if !ok {
		t.Fatalf("could not locate call operand in file")
	}
	binary.LittleEndian.PutUint32(raw[rel32Off:rel32Off+4], uint32(rel32))

	img2 := mustParse(t, raw)
	p := cfg.NewProgram(img2)
	fns := cfg.DiscoverFunctions(p)

	var entryFn *cfg.Function
	entryVA := img2.VA(img2.EntryPointRVA)
	for _, fn := range fns {
		if fn.EntryVA == entryVA {
			entryFn = fn
		}
	}
	if entryFn == nil {
		t.Fatalf("entry function not found among %+v", fns)
	}

	calls := FindAPICalls(img2, entryFn)
	if len(calls) != 1 {
		t.Fatalf("want 1 api call, got %d: %+v", len(calls), calls)
	}
	c := calls[0]
	if c.DLL != "kernel32.dll" || c.Symbol != "GetProcAddress" {
		t.Errorf("api call = %+v, want kernel32.dll!GetProcAddress", c)
	}
	if c.ParamHint == nil {
		t.Error("expected ParamHint populated from the curated catalog")
	}
}

func TestClusterStructsGroupsTightOffsets(t *testing.T) {
	vars := map[VarKey]*Var{
		{BaseReg: "rbp", Offset: -24}: {Kind: VarLocal, BaseReg: "rbp", Offset: -24, Name: "local_18"},
		{BaseReg: "rbp", Offset: -16}: {Kind: VarLocal, BaseReg: "rbp", Offset: -16, Name: "local_10"},
		{BaseReg: "rbp", Offset: -8}:  {Kind: VarLocal, BaseReg: "rbp", Offset: -8, Name: "local_8"},
		{BaseReg: "rbp", Offset: 64}:  {Kind: VarLocal, BaseReg: "rbp", Offset: 64, Name: "local_40"}, // too far from the run above
	}
	structs := clusterStructs(vars)
	if len(structs) != 1 {
		t.Fatalf("want 1 struct cluster, got %d: %+v", len(structs), structs)
	}
	if got := len(structs[0].Fields); got != 3 {
		t.Errorf("cluster has %d fields, want 3", got)
	}
	if structs[0].BaseReg != "rbp" {
		t.Errorf("cluster base = %q, want rbp", structs[0].BaseReg)
	}
	for _, v := range vars {
		if v.Offset != 64 && v.Type != TypeStruct {
			t.Errorf("var %+v not tagged TypeStruct by its own cluster", v)
		}
	}
	if vars[VarKey{BaseReg: "rbp", Offset: 64}].Type == TypeStruct {
		t.Error("lone outlier var should not be swept into the cluster")
	}
}

func TestAnalyzeProgramCollectsCallXref(t *testing.T) {
	// call rel32(+0) ; ret -- patched below to actually reach the import.
	text := []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0xC3}
	raw := testpe.Build(testpe.Spec{
		Text:    text,
		Imports: []testpe.Import{{DLL: "kernel32.dll", Name: "ExitProcess"}},
	})
	img := mustParse(t, raw)

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

	img2 := mustParse(t, raw)
	prog := AnalyzeProgram(img2)

	found := false
	for _, x := range prog.Xrefs {
		if x.Kind == XrefCall && x.FromVA == callVA && x.ToVA == importVA {
			found = true
		}
	}
	if !found {
		t.Errorf("missing call xref %x -> %x in %+v", callVA, importVA, prog.Xrefs)
	}
}

func TestAnalyzeProgramCollectsJumpXref(t *testing.T) {
	text := []byte{
		0xB9, 0x05, 0x00, 0x00, 0x00, // mov ecx, 5
		0x83, 0xF9, 0x00, // cmp ecx, 0
		0x74, 0x04, // je +4  -> exit
		0xFF, 0xC9, // dec ecx
		0xEB, 0xF7, // jmp -9 -> L1
		0xC3, // ret
	}
	raw := testpe.Build(testpe.Spec{Text: text})
	img := mustParse(t, raw)
	prog := AnalyzeProgram(img)

	var gotJump bool
	for _, x := range prog.Xrefs {
		if x.Kind == XrefJump {
			gotJump = true
		}
	}
	if !gotJump {
		t.Errorf("missing jump xref in %+v", prog.Xrefs)
	}
}
