package render

import (
	"fmt"
	"sort"

	"github.com/xyproto/pe67/analyze"
)

// orderedVars returns a function's recovered variables in a deterministic
// order (params first by index, then locals by offset) regardless of Go's
// randomized map iteration.
func orderedVars(fn *analyze.AnalyzedFunction) []*analyze.Var {
	vars := make([]*analyze.Var, 0, len(fn.Vars))
	for _, v := range fn.Vars {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool {
		a, b := vars[i], vars[j]
		if a.Kind != b.Kind {
			return a.Kind == analyze.VarParam
		}
		return a.Offset < b.Offset
	})
	return vars
}

func cType(v *analyze.Var) string {
	width := v.SizeBits
	if width == 0 {
		width = 32
	}
	switch v.Type {
	case analyze.TypePointer:
		return "void*"
	case analyze.TypeFloat:
		if width == 64 {
			return "double"
		}
		return "float"
	case analyze.TypeUnsigned:
		return fmt.Sprintf("uint%d_t", width)
	case analyze.TypeStruct:
		return fmt.Sprintf("uint8_t /* struct */")
	default:
		return fmt.Sprintf("int%d_t", width)
	}
}

func rustType(v *analyze.Var) string {
	width := v.SizeBits
	if width == 0 {
		width = 32
	}
	switch v.Type {
	case analyze.TypePointer:
		return "*mut u8"
	case analyze.TypeFloat:
		if width == 64 {
			return "f64"
		}
		return "f32"
	case analyze.TypeUnsigned:
		return fmt.Sprintf("u%d", width)
	case analyze.TypeStruct:
		return "u8" // struct layout recovery stops at byte-granularity clustering
	default:
		return fmt.Sprintf("i%d", width)
	}
}

// paramDecls renders a function's parameter list. fmtParam receives each
// param's name and type string in that order so callers can pick "type
// name" (C) or "name: type" (Rust) ordering.
func paramDecls(fn *analyze.AnalyzedFunction, typeOf func(*analyze.Var) string, fmtParam func(name, typ string) string, emptyParams string) string {
	var params []string
	for _, v := range orderedVars(fn) {
		if v.Kind == analyze.VarParam {
			params = append(params, fmtParam(v.Name, typeOf(v)))
		}
	}
	if len(params) == 0 {
		return emptyParams
	}
	s := params[0]
	for _, p := range params[1:] {
		s += ", " + p
	}
	return s
}

// localDecls renders one declaration line per local variable, indented.
func localDecls(fn *analyze.AnalyzedFunction, typeOf func(*analyze.Var) string, ind string) []string {
	var lines []string
	for _, v := range orderedVars(fn) {
		if v.Kind != analyze.VarLocal {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s%s %s;", ind, typeOf(v), v.Name))
	}
	return lines
}
