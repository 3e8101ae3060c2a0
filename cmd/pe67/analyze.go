package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xyproto/pe67/analyze"
	"github.com/xyproto/pe67/internal/atomicfile"
	"github.com/xyproto/pe67/internal/engine"
	"github.com/xyproto/pe67/render"
)

var analyzeFlags struct {
	lang      string
	mode      string
	validateC bool
	force     bool
	out       string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path-to-exe>",
	Short: "parse, disassemble, and render a Windows PE executable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(args[0], analyzeFlags.lang, analyzeFlags.mode, analyzeFlags.validateC, analyzeFlags.force, analyzeFlags.out)
	},
}

// analyzeCmd's flags (--lang, --mode, --validate-c, --force, --out) are
// registered once on rootCmd in main.go, bound to the same analyzeFlags
// struct, and inherited here since analyzeCmd is one of rootCmd's children.

func parseLang(s string) (render.Language, error) {
	switch strings.ToLower(s) {
	case "pseudo", "":
		return render.LangPseudo, nil
	case "c":
		return render.LangC, nil
	case "rust", "rs":
		return render.LangRust, nil
	default:
		return 0, userErrf("unrecognized --lang %q: want pseudo, c, or rust", s)
	}
}

func parseMode(s string) (render.OutputMode, error) {
	switch strings.ToLower(s) {
	case "single", "":
		return render.ModeSingle, nil
	case "bytype", "by-type":
		return render.ModeByType, nil
	case "byfunction", "by-function":
		return render.ModeByFunction, nil
	default:
		return 0, userErrf("unrecognized --mode %q: want single, bytype, or byfunction", s)
	}
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// runAnalyze drives the full pipeline spec.md §6 describes for the bare
// CLI form: parse, disassemble/discover/analyze, render, plus the raw
// `_full.asm` listing and a pe-info dump, writing every output file into
// the resolved project directory.
func runAnalyze(path, langFlag, modeFlag string, validateC, force bool, outOverride string) error {
	lang, err := parseLang(langFlag)
	if err != nil {
		return err
	}
	mode, err := parseMode(modeFlag)
	if err != nil {
		return err
	}

	img, _, err := loadImage(path, force)
	if err != nil {
		return err
	}

	prog := analyze.AnalyzeProgram(img)

	files, err := render.Render(prog, render.Options{Language: lang, Mode: mode, ValidateC: validateC})
	if err != nil {
		return wrapUser(fmt.Errorf("rendering: %w", err))
	}

	outDir := outOverride
	if outDir == "" {
		outDir, err = engine.ResolveOutputDir(path)
		if err != nil {
			return err
		}
	}
	if err := engine.EnsureOutputDir(outDir); err != nil {
		return err
	}

	name := baseName(path)
	var written []string

	for _, f := range files {
		rel := name + "_" + f.Name
		full := filepath.Join(outDir, rel)
		if err := atomicfile.Write(full, f.Data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}
		written = append(written, rel)
	}

	listing := render.FormatListing(prog)
	listingName := name + "_full.asm"
	if err := atomicfile.Write(filepath.Join(outDir, listingName), []byte(listing), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", listingName, err)
	}
	written = append(written, listingName)

	info := img.DumpInfo()
	infoName := name + "_pe_info.txt"
	if err := atomicfile.Write(filepath.Join(outDir, infoName), []byte(info), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", infoName, err)
	}
	written = append(written, infoName)

	readme := buildReadme(name, path, lang, mode, prog, written)
	if err := atomicfile.Write(filepath.Join(outDir, "README.md"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("writing README.md: %w", err)
	}
	written = append(written, "README.md")

	fmt.Printf("analyzed %s: %d functions, wrote %d files to %s\n", path, len(prog.Functions), len(written), outDir)
	return nil
}

func buildReadme(name, srcPath string, lang render.Language, mode render.OutputMode, prog *analyze.AnalyzedProgram, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	fmt.Fprintf(&b, "Reverse-engineering output for `%s`.\n\n", srcPath)
	fmt.Fprintf(&b, "- Functions discovered: %d\n", len(prog.Functions))
	fmt.Fprintf(&b, "- Decompiled language: %s\n", lang)
	fmt.Fprintf(&b, "- Output layout: %d\n\n", int(mode))
	b.WriteString("## Files\n\n")
	for _, f := range files {
		if f == "README.md" {
			continue
		}
		fmt.Fprintf(&b, "- `%s`\n", f)
	}
	b.WriteString("\n`" + name + "_full.asm` lists every decoded instruction with its address. " +
		"Memory references that resolve against the source image are named data_<hex>, " +
		"import_<hex>, or string_<hex> -- the same convention `pe67 asm` and the relocator " +
		"expect, so a hand-edited listing can be reassembled without renaming anything.\n")
	return b.String()
}
