package render

import (
	"fmt"

	"github.com/xyproto/pe67/analyze"
	"github.com/xyproto/pe67/peimage"
)

// funcName names a function after the export at its entry VA, if any, and
// sub_<hex_va> otherwise; import names are not consulted.
func funcName(img *peimage.Image, fn *analyze.AnalyzedFunction) string {
	if name, ok := img.ExportMap[fn.EntryVA]; ok && name != "" {
		return sanitizeIdent(name)
	}
	return fmt.Sprintf("sub_%x", fn.EntryVA)
}

func globalName(va uint64) string {
	return fmt.Sprintf("g_%x", va)
}

func stringName(va uint64) string {
	return fmt.Sprintf("str_%x", va)
}

func labelName(va uint64) string {
	return fmt.Sprintf("L_%x", va)
}

// sanitizeIdent replaces characters an export/import name might legally
// contain (e.g. "@12" stdcall decoration) but a C/Rust identifier can't.
func sanitizeIdent(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "unnamed"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = append([]byte{'_'}, out...)
	}
	return string(out)
}

// varExpr resolves a recovered Var to the identifier the renderer should
// print for it.
func varExpr(v *analyze.Var) string {
	return v.Name
}
