// Command pe67 is the x86-64 Windows PE reverse-engineering toolchain:
// parse (C1), disassemble and filter junk (C2/C3), discover functions and
// build control-flow graphs (C4/C5), infer variables and types (C6),
// render pseudocode/C/Rust (C7), assemble (C8), relocate symbolic
// references (C9), and reassemble a patched PE (C10).
//
// With no subcommand, pe67 behaves like `pe67 analyze`: given a path, it
// runs the full pipeline and writes the output-file set spec.md §6
// describes. Exit codes: 0 success, 1 user-facing error, 2 internal error.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pe67 [path-to-exe]",
	Short: "reverse-engineer an x86-64 Windows PE executable",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runAnalyze(args[0], analyzeFlags.lang, analyzeFlags.mode, analyzeFlags.validateC, analyzeFlags.force, analyzeFlags.out)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&analyzeFlags.lang, "lang", "l", "pseudo", "decompiled output language: pseudo, c, rust")
	rootCmd.PersistentFlags().StringVarP(&analyzeFlags.mode, "mode", "m", "single", "output layout: single, bytype, byfunction")
	rootCmd.PersistentFlags().BoolVar(&analyzeFlags.validateC, "validate-c", false, "reject C output that doesn't parse under modernc.org/cc/v4")
	rootCmd.PersistentFlags().BoolVar(&analyzeFlags.force, "force", false, "keep going past non-fatal PE parsing warnings")
	rootCmd.PersistentFlags().StringVarP(&analyzeFlags.out, "out", "o", "", "output directory (default: spec.md project folder rule)")

	rootCmd.AddCommand(analyzeCmd, peInfoCmd, asmCmd, reassembleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
