package render

// collectGlobalsAndStrings adapts analyze.AnalyzedProgram's program-wide
// Globals/Strings tables (built once by collectProgramData during C6) into
// the shapes the by-type renderer's globals.* and strings.* files want.
func collectGlobalsAndStrings(ctx *renderCtx) (globals []uint64, strs map[uint64]string) {
	strs = make(map[uint64]string)
	for _, v := range ctx.prog.Globals {
		globals = append(globals, v.VA)
	}
	for _, s := range ctx.prog.Strings {
		strs[s.VA] = s.Value
	}
	return globals, strs
}
