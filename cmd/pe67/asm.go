package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xyproto/pe67/asmx64"
	"github.com/xyproto/pe67/internal/atomicfile"
	"github.com/xyproto/pe67/reloc"
)

var asmFlags struct {
	out     string
	origin  string
	against string
	verbose bool
}

var asmCmd = &cobra.Command{
	Use:   "asm <source.asm>",
	Short: "assemble an Intel-syntax source file into raw machine code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsm(args[0], asmFlags.out, asmFlags.origin, asmFlags.against, asmFlags.verbose)
	},
}

func init() {
	asmCmd.PersistentFlags().StringVarP(&asmFlags.out, "out", "o", "", "output file for the assembled bytes (default: <source>.bin)")
	asmCmd.PersistentFlags().StringVar(&asmFlags.origin, "origin", "0", "load address assumed for the first output byte (read as hex; the 0x prefix is optional)")
	asmCmd.PersistentFlags().StringVar(&asmFlags.against, "against", "", "resolve data_<hex>/import_<hex>/string_<hex> labels against this PE image")
	asmCmd.PersistentFlags().BoolVarP(&asmFlags.verbose, "verbose", "v", false, "echo each encoded instruction as it's assembled")
}

func parseOrigin(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, userErrf("unrecognized --origin %q: %v", s, err)
	}
	return v, nil
}

// runAsm drives C8 (and, when --against is given, C9's relocation ahead of
// it): read source text, optionally resolve its symbolic memory labels
// against a preserved image, assemble, and write the resulting bytes.
func runAsm(srcPath, outPath, originFlag, against string, verbose bool) error {
	origin, err := parseOrigin(originFlag)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return wrapUser(fmt.Errorf("reading %s: %w", srcPath, err))
	}
	source := string(data)

	opts := asmx64.Options{Origin: origin, Verbose: verbose}
	if verbose {
		opts.Log = func(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
	}

	if against != "" {
		img, _, err := loadImage(against, false)
		if err != nil {
			return err
		}
		res, err := reloc.Relocate(img, source, reloc.PolicyReport, 0)
		if err != nil {
			return err
		}
		if len(res.Unresolved) > 0 {
			var b strings.Builder
			for _, u := range res.Unresolved {
				fmt.Fprintf(&b, "  line %d: %s does not resolve against %s\n", u.Line, u.Label, against)
			}
			return userErrf("unresolved symbolic references:\n%s", b.String())
		}
		opts.ExternalLabels = res.Resolver
	}

	result, err := asmx64.Assemble(source, opts)
	if err != nil {
		var ae *asmx64.AsmError
		if errors.As(err, &ae) {
			return wrapUser(fmt.Errorf("%s: %w", srcPath, ae))
		}
		return err
	}

	out := outPath
	if out == "" {
		out = srcPath + ".bin"
	}
	if err := atomicfile.Write(out, result.Bytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	fmt.Printf("assembled %s: %d bytes, %d labels -> %s\n", srcPath, len(result.Bytes), len(result.Labels), out)
	return nil
}
