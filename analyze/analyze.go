package analyze

// AnalyzeFunction runs C6's full per-function pipeline over an already
// CFG-built cfg.Function: stack recovery, type hints, calling convention,
// and API-call recognition.
import (
	"github.com/xyproto/pe67/cfg"
	"github.com/xyproto/pe67/peimage"
)

func AnalyzeFunction(img *peimage.Image, fn *cfg.Function) *AnalyzedFunction {
	vars := RecoverVars(fn)
	structs := InferTypes(fn, vars)
	af := &AnalyzedFunction{
		Function:   fn,
		Vars:       vars,
		Convention: DetectConvention(fn),
		ApiCalls:   FindAPICalls(img, fn),
		Structs:    structs,
	}
	if fn.MultiEntry {
		af.Warnings = append(af.Warnings, "function has multiple entry points (thunk or overlapping call targets)")
	}
	if fn.IndirectTail {
		af.Warnings = append(af.Warnings, "function ends in an indirect jump with no statically known successor")
	}
	return af
}

// AnalyzeProgram runs C4/C5 discovery via cfg.AnalyzeProgram, then C6 over
// every discovered function, producing the AnalyzedProgram C7 renders from
// and the library surface spec.md §2's external TUI/scripting host queries
// directly: recovered globals, recognized strings, struct clusters, and
// the call/jump/data cross-reference table.
func AnalyzeProgram(img *peimage.Image) *AnalyzedProgram {
	p := cfg.NewProgram(img)
	functions := cfg.AnalyzeProgram(p)

	out := &AnalyzedProgram{Img: img}
	for _, fn := range functions {
		af := AnalyzeFunction(img, fn)
		out.Functions = append(out.Functions, af)
		out.Structs = append(out.Structs, af.Structs...)
	}
	out.Globals, out.Strings, out.Xrefs = collectProgramData(img, out.Functions)
	return out
}
