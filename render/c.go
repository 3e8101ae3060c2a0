package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xyproto/pe67/analyze"
)

const cTypedefs = "" +
	"typedef unsigned char uint8_t;\n" +
	"typedef unsigned short uint16_t;\n" +
	"typedef unsigned int uint32_t;\n" +
	"typedef unsigned long long uint64_t;\n" +
	"typedef signed char int8_t;\n" +
	"typedef short int16_t;\n" +
	"typedef int int32_t;\n" +
	"typedef long long int64_t;\n"

func cParamDecls(fn *analyze.AnalyzedFunction) string {
	return paramDecls(fn, cType, func(n, t string) string { return t + " " + n }, "void")
}

func cSignature(fn *analyze.AnalyzedFunction, name string) string {
	return fmt.Sprintf("void %s(%s)", name, cParamDecls(fn))
}

func renderCFunction(ctx *renderCtx, fn *analyze.AnalyzedFunction) string {
	var b strings.Builder
	name := funcName(ctx.prog.Img, fn)
	fmt.Fprintf(&b, "// 0x%x  convention=%s\n", fn.EntryVA, fn.Convention)
	for _, w := range fn.Warnings {
		fmt.Fprintf(&b, "// warning: %s\n", w)
	}
	fmt.Fprintf(&b, "%s {\n", cSignature(fn, name))
	for _, l := range localDecls(fn, cType, "    ") {
		b.WriteString(l + "\n")
	}
	for _, l := range cRegisterDecls(fn, "    ") {
		b.WriteString(l + "\n")
	}
	for _, l := range renderFunctionBody(ctx.prog.Img, fn) {
		b.WriteString(l + "\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func cForwardDecl(ctx *renderCtx, fn *analyze.AnalyzedFunction) string {
	return cSignature(fn, funcName(ctx.prog.Img, fn)) + ";"
}

func cEscapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString("\\n")
		case '\t':
			b.WriteString("\\t")
		default:
			if r < 0x20 || r > 0x7e {
				b.WriteString(fmt.Sprintf("\\x%02x", r))
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func renderCSingle(ctx *renderCtx) []File {
	var b strings.Builder
	b.WriteString(headerBlock(ctx.prog, "decompiled C source"))
	b.WriteString(cTypedefs)
	b.WriteString("\n")
	for _, fn := range ctx.prog.Functions {
		b.WriteString(cForwardDecl(ctx, fn))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for _, fn := range ctx.prog.Functions {
		b.WriteString(renderCFunction(ctx, fn))
		b.WriteString("\n")
	}
	return []File{{Name: "decompiled.c", Data: []byte(b.String())}}
}

func renderCByType(ctx *renderCtx) []File {
	globals, strs := collectGlobalsAndStrings(ctx)

	var types strings.Builder
	types.WriteString(headerBlock(ctx.prog, "recovered types"))
	types.WriteString(cTypedefs)

	var globalsSrc strings.Builder
	globalsSrc.WriteString(headerBlock(ctx.prog, "recovered globals"))
	globalsSrc.WriteString("#include \"types.h\"\n\n")
	for _, va := range globals {
		fmt.Fprintf(&globalsSrc, "uint8_t %s; // 0x%x\n", globalName(va), va)
	}

	var stringsSrc strings.Builder
	stringsSrc.WriteString(headerBlock(ctx.prog, "recovered string literals"))
	var svas []uint64
	for va := range strs {
		svas = append(svas, va)
	}
	sortU64(svas)
	for _, va := range svas {
		fmt.Fprintf(&stringsSrc, "static const char *%s = \"%s\"; // 0x%x\n", stringName(va), cEscapeString(strs[va]), va)
	}

	var functionsSrc strings.Builder
	functionsSrc.WriteString(headerBlock(ctx.prog, "decompiled functions"))
	functionsSrc.WriteString("#include \"types.h\"\n\n")
	for _, fn := range ctx.prog.Functions {
		functionsSrc.WriteString(renderCFunction(ctx, fn))
		functionsSrc.WriteString("\n")
	}

	var mainSrc strings.Builder
	mainSrc.WriteString(headerBlock(ctx.prog, "entry point"))
	mainSrc.WriteString("#include \"types.h\"\n\n")
	entryName := "sub_" + strconv.FormatUint(ctx.prog.Img.VA(ctx.prog.Img.EntryPointRVA), 16)
	for _, fn := range ctx.prog.Functions {
		if fn.EntryVA == ctx.prog.Img.VA(ctx.prog.Img.EntryPointRVA) {
			entryName = funcName(ctx.prog.Img, fn)
		}
	}
	fmt.Fprintf(&mainSrc, "int main(void) {\n    %s();\n    return 0;\n}\n", entryName)

	return []File{
		{Name: "types.h", Data: []byte(types.String())},
		{Name: "globals.c", Data: []byte(globalsSrc.String())},
		{Name: "strings.c", Data: []byte(stringsSrc.String())},
		{Name: "functions.c", Data: []byte(functionsSrc.String())},
		{Name: "main.c", Data: []byte(mainSrc.String())},
	}
}

func renderCByFunction(ctx *renderCtx) []File {
	var files []File
	var index strings.Builder
	index.WriteString(headerBlock(ctx.prog, "function index"))
	for _, fn := range ctx.prog.Functions {
		name := funcName(ctx.prog.Img, fn)
		var b strings.Builder
		b.WriteString(headerBlock(ctx.prog, "function "+name))
		b.WriteString(cTypedefs)
		b.WriteString("\n")
		b.WriteString(renderCFunction(ctx, fn))
		files = append(files, File{Name: name + ".c", Data: []byte(b.String())})
		fmt.Fprintf(&index, "// %s  0x%x\n", name, fn.EntryVA)
	}
	files = append(files, File{Name: "index.c", Data: []byte(index.String())})
	return files
}

func renderC(ctx *renderCtx) []File {
	switch ctx.opts.Mode {
	case ModeByType:
		return renderCByType(ctx)
	case ModeByFunction:
		return renderCByFunction(ctx)
	default:
		return renderCSingle(ctx)
	}
}

func sortU64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
