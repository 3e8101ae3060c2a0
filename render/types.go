// Package render implements the code renderer (C7): turning an
// analyze.AnalyzedProgram into Pseudo, C or Rust source text, in single-file
// or multi-file layouts, with deterministic naming so identical input bytes
// always produce identical output bytes.
package render

import "github.com/xyproto/pe67/analyze"

// Language selects the target textual rendering.
type Language int

const (
	LangPseudo Language = iota
	LangC
	LangRust
)

func (l Language) String() string {
	switch l {
	case LangC:
		return "c"
	case LangRust:
		return "rust"
	default:
		return "pseudo"
	}
}

// OutputMode selects how the rendered functions are split across files.
type OutputMode int

const (
	ModeSingle OutputMode = iota
	ModeByType
	ModeByFunction
)

// Options configures a render.
type Options struct {
	Language Language
	Mode     OutputMode
	// ValidateC runs the rendered C output back through modernc.org/cc/v4
	// before returning, failing the render on the first syntax error.
	ValidateC bool
}

// File is one emitted output file: a relative path and its exact bytes.
type File struct {
	Name string
	Data []byte
}

// rendererVersion is stamped into every file's header block. Bumped only
// when the output format itself changes, not on every internal refactor.
const rendererVersion = "pe67-render/1"

func extensionFor(lang Language) string {
	switch lang {
	case LangC:
		return ".c"
	case LangRust:
		return ".rs"
	default:
		return ".pseudo"
	}
}

type renderCtx struct {
	prog *analyze.AnalyzedProgram
	opts Options
}
