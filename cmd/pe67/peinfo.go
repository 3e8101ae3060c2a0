package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var peInfoForce bool

var peInfoCmd = &cobra.Command{
	Use:   "pe-info <path-to-exe>",
	Short: "parse a PE image and print its header, section, import, and export summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, _, err := loadImage(args[0], peInfoForce)
		if err != nil {
			return err
		}
		fmt.Print(img.DumpInfo())
		return nil
	},
}

func init() {
	peInfoCmd.PersistentFlags().BoolVar(&peInfoForce, "force", false, "keep going past non-fatal PE parsing warnings")
}
