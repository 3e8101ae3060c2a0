// Package render implements C7: turning an analyze.AnalyzedProgram into
// decompiled source text in one of three output languages (pseudo-code, C,
// Rust) and one of three layouts (single file, by-type, by-function).
package render

import (
	"fmt"

	"github.com/xyproto/pe67/analyze"
)

// Render produces the decompiled output files for prog according to opts.
// Output is deterministic: rendering the same AnalyzedProgram twice with the
// same Options always produces byte-identical Files, since every map the
// renderer touches (Vars, globals, strings) is sorted before being printed.
func Render(prog *analyze.AnalyzedProgram, opts Options) ([]File, error) {
	if prog == nil {
		return nil, fmt.Errorf("render: nil program")
	}
	ctx := &renderCtx{prog: prog, opts: opts}

	var files []File
	switch opts.Language {
	case LangC:
		files = renderC(ctx)
	case LangRust:
		files = renderRust(ctx)
	default:
		files = renderPseudo(ctx)
	}

	if opts.ValidateC && opts.Language == LangC {
		for _, f := range files {
			if err := ValidateC(f.Data); err != nil {
				return files, fmt.Errorf("render: %s failed C validation: %w", f.Name, err)
			}
		}
	}
	return files, nil
}
