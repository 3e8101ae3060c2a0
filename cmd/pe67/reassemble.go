package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xyproto/pe67/internal/atomicfile"
	"github.com/xyproto/pe67/reassemble"
)

var reassembleFlags struct {
	out               string
	recomputeChecksum bool
}

var reassembleCmd = &cobra.Command{
	Use:   "reassemble <preserved.exe> <new-text.bin>",
	Short: "splice freshly assembled .text bytes back into a preserved PE image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReassemble(args[0], args[1], reassembleFlags.out, reassembleFlags.recomputeChecksum)
	},
}

func init() {
	reassembleCmd.PersistentFlags().StringVarP(&reassembleFlags.out, "out", "o", "", "output PE file (default: <preserved>.out.exe)")
	reassembleCmd.PersistentFlags().BoolVar(&reassembleFlags.recomputeChecksum, "recompute-checksum", false, "rewrite the Optional Header CheckSum field")
}

func runReassemble(pePath, textPath, outPath string, recomputeChecksum bool) error {
	preserved, err := os.ReadFile(pePath)
	if err != nil {
		return wrapUser(fmt.Errorf("reading %s: %w", pePath, err))
	}
	newText, err := os.ReadFile(textPath)
	if err != nil {
		return wrapUser(fmt.Errorf("reading %s: %w", textPath, err))
	}

	out, err := reassemble.Reassemble(preserved, newText, reassemble.Options{RecomputeChecksum: recomputeChecksum})
	if err != nil {
		var re *reassemble.ReasmError
		if errors.As(err, &re) {
			return wrapUser(err)
		}
		return err
	}

	outFile := outPath
	if outFile == "" {
		outFile = pePath + ".out.exe"
	}
	if err := atomicfile.Write(outFile, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outFile, err)
	}

	fmt.Printf("reassembled %s + %s -> %s (%d bytes)\n", pePath, textPath, outFile, len(out))
	return nil
}
