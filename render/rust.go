package render

import (
	"fmt"
	"strings"

	"github.com/xyproto/pe67/analyze"
)

// rustTypedefs documents the byte-granularity ceiling struct recovery stops
// at (rustType's TypeStruct case always resolves to u8) rather than
// declaring anything Rust's built-in integer types don't already cover.
const rustTypedefs = "// Every recovered scalar kind maps directly onto a Rust primitive\n" +
	"// (u8/u16/u32/u64, i8/i16/i32/i64, f32/f64); see rustType in decls.go.\n" +
	"// A recovered struct's fields aren't individually typed, only its\n" +
	"// overall byte span, so it's represented as a byte array below.\n" +
	"pub type RecoveredStruct = [u8; 0];\n"

func rustParamDecls(fn *analyze.AnalyzedFunction) string {
	return paramDecls(fn, rustType, func(n, t string) string { return n + ": " + t }, "")
}

func rustSignature(fn *analyze.AnalyzedFunction, name string) string {
	return fmt.Sprintf("unsafe fn %s(%s)", name, rustParamDecls(fn))
}

func rustLocalDecls(fn *analyze.AnalyzedFunction, ind string) []string {
	var lines []string
	for _, v := range orderedVars(fn) {
		if v.Kind != analyze.VarLocal {
			continue
		}
		lines = append(lines, fmt.Sprintf("%slet mut %s: %s = core::mem::zeroed();", ind, v.Name, rustType(v)))
	}
	return lines
}

func renderRustFunction(ctx *renderCtx, fn *analyze.AnalyzedFunction) string {
	var b strings.Builder
	name := funcName(ctx.prog.Img, fn)
	fmt.Fprintf(&b, "// 0x%x  convention=%s\n", fn.EntryVA, fn.Convention)
	for _, w := range fn.Warnings {
		fmt.Fprintf(&b, "// warning: %s\n", w)
	}
	fmt.Fprintf(&b, "%s {\n", rustSignature(fn, name))
	for _, l := range rustLocalDecls(fn, "    ") {
		b.WriteString(l + "\n")
	}
	for _, l := range rustRegisterDecls(fn, "    ") {
		b.WriteString(l + "\n")
	}
	for _, l := range renderFunctionBody(ctx.prog.Img, fn) {
		b.WriteString(l + "\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func renderRustSingle(ctx *renderCtx) []File {
	var b strings.Builder
	b.WriteString(headerBlock(ctx.prog, "decompiled Rust source"))
	b.WriteString("#![allow(non_snake_case, non_upper_case_globals, unused_labels, unused_assignments, dead_code)]\n\n")
	for _, fn := range ctx.prog.Functions {
		b.WriteString(renderRustFunction(ctx, fn))
		b.WriteString("\n")
	}
	return []File{{Name: "decompiled.rs", Data: []byte(b.String())}}
}

func renderRustByFunction(ctx *renderCtx) []File {
	var files []File
	var mod strings.Builder
	mod.WriteString(headerBlock(ctx.prog, "module index"))
	for _, fn := range ctx.prog.Functions {
		name := funcName(ctx.prog.Img, fn)
		var b strings.Builder
		b.WriteString(headerBlock(ctx.prog, "function "+name))
		b.WriteString("#![allow(non_snake_case, unused_assignments, dead_code)]\n\n")
		b.WriteString(renderRustFunction(ctx, fn))
		files = append(files, File{Name: name + ".rs", Data: []byte(b.String())})
		fmt.Fprintf(&mod, "pub mod %s;\n", name)
	}
	files = append(files, File{Name: "mod.rs", Data: []byte(mod.String())})
	return files
}

func renderRustByType(ctx *renderCtx) []File {
	globals, strs := collectGlobalsAndStrings(ctx)

	var typesSrc strings.Builder
	typesSrc.WriteString(headerBlock(ctx.prog, "recovered types"))
	typesSrc.WriteString(rustTypedefs)

	var globalsSrc strings.Builder
	globalsSrc.WriteString(headerBlock(ctx.prog, "recovered globals"))
	for _, va := range globals {
		fmt.Fprintf(&globalsSrc, "pub static mut %s: u8 = 0; // 0x%x\n", globalName(va), va)
	}

	var stringsSrc strings.Builder
	stringsSrc.WriteString(headerBlock(ctx.prog, "recovered string literals"))
	var svas []uint64
	for va := range strs {
		svas = append(svas, va)
	}
	sortU64(svas)
	for _, va := range svas {
		fmt.Fprintf(&stringsSrc, "pub static %s: &str = \"%s\"; // 0x%x\n", stringName(va), cEscapeString(strs[va]), va)
	}

	var functionsSrc strings.Builder
	functionsSrc.WriteString(headerBlock(ctx.prog, "decompiled functions"))
	functionsSrc.WriteString("#![allow(non_snake_case, unused_assignments, dead_code)]\n\n")
	for _, fn := range ctx.prog.Functions {
		functionsSrc.WriteString(renderRustFunction(ctx, fn))
		functionsSrc.WriteString("\n")
	}

	var mainSrc strings.Builder
	mainSrc.WriteString(headerBlock(ctx.prog, "entry point"))
	entryName := fmt.Sprintf("sub_%x", ctx.prog.Img.VA(ctx.prog.Img.EntryPointRVA))
	for _, fn := range ctx.prog.Functions {
		if fn.EntryVA == ctx.prog.Img.VA(ctx.prog.Img.EntryPointRVA) {
			entryName = funcName(ctx.prog.Img, fn)
		}
	}
	fmt.Fprintf(&mainSrc, "fn main() {\n    unsafe { %s(); }\n}\n", entryName)

	return []File{
		{Name: "types.rs", Data: []byte(typesSrc.String())},
		{Name: "globals.rs", Data: []byte(globalsSrc.String())},
		{Name: "strings.rs", Data: []byte(stringsSrc.String())},
		{Name: "functions.rs", Data: []byte(functionsSrc.String())},
		{Name: "main.rs", Data: []byte(mainSrc.String())},
	}
}

func renderRust(ctx *renderCtx) []File {
	switch ctx.opts.Mode {
	case ModeByType:
		return renderRustByType(ctx)
	case ModeByFunction:
		return renderRustByFunction(ctx)
	default:
		return renderRustSingle(ctx)
	}
}
