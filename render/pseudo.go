package render

import (
	"fmt"
	"strings"

	"github.com/xyproto/pe67/analyze"
)

func renderPseudoFunction(ctx *renderCtx, fn *analyze.AnalyzedFunction) string {
	var b strings.Builder
	name := funcName(ctx.prog.Img, fn)
	fmt.Fprintf(&b, "// 0x%x  convention=%s\n", fn.EntryVA, fn.Convention)
	for _, w := range fn.Warnings {
		fmt.Fprintf(&b, "// warning: %s\n", w)
	}
	params := paramDecls(fn, cType, func(n, t string) string { return n }, "")
	fmt.Fprintf(&b, "function %s(%s) {\n", name, params)
	for _, l := range localDecls(fn, cType, "    ") {
		b.WriteString(l + "\n")
	}
	for _, l := range renderFunctionBody(ctx.prog.Img, fn) {
		b.WriteString(l + "\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func renderPseudo(ctx *renderCtx) []File {
	var b strings.Builder
	b.WriteString(headerBlock(ctx.prog, "pseudo-code rendering"))
	b.WriteString("\n")
	for _, fn := range ctx.prog.Functions {
		b.WriteString(renderPseudoFunction(ctx, fn))
		b.WriteString("\n")
	}
	return []File{{Name: "decompiled.pseudo", Data: []byte(b.String())}}
}
