package render

import (
	"fmt"
	"strings"

	"github.com/xyproto/pe67/analyze"
)

// headerBlock builds the per-file comment banner spec.md §4.7 requires:
// image base, entry point, counts of functions/imports/exports/sections,
// and the renderer version tag. Every renderer uses "//" line comments --
// valid in C, Rust and the pseudo-language alike.
func headerBlock(prog *analyze.AnalyzedProgram, title string) string {
	img := prog.Img
	var imports, apiCalls int
	seen := map[string]bool{}
	for va := range img.ImportMap {
		_ = va
		imports++
	}
	for _, fn := range prog.Functions {
		for _, c := range fn.ApiCalls {
			key := fmt.Sprintf("%s!%s@%x", c.DLL, c.Symbol, c.CallSiteVA)
			if !seen[key] {
				seen[key] = true
				apiCalls++
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// ============================================================\n")
	fmt.Fprintf(&b, "// %s\n", title)
	fmt.Fprintf(&b, "// generated by %s\n", rendererVersion)
	fmt.Fprintf(&b, "// image base:   0x%x\n", img.ImageBase)
	fmt.Fprintf(&b, "// entry point:  0x%x\n", img.VA(img.EntryPointRVA))
	fmt.Fprintf(&b, "// functions:    %d\n", len(prog.Functions))
	fmt.Fprintf(&b, "// imports:      %d\n", imports)
	fmt.Fprintf(&b, "// exports:      %d\n", len(img.ExportMap))
	fmt.Fprintf(&b, "// sections:     %d\n", len(img.Sections))
	fmt.Fprintf(&b, "// api calls:    %d\n", apiCalls)
	fmt.Fprintf(&b, "// ============================================================\n")
	return b.String()
}
