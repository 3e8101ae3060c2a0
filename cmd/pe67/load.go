package main

import (
	"fmt"
	"os"

	"github.com/xyproto/pe67/peimage"
)

// loadImage reads path and parses it as a PE image. A missing or unreadable
// file and a failed parse are both user-facing; force is forwarded to
// peimage.Parse, where it skips the SuspiciousEntry entry-point check.
func loadImage(path string, force bool) (*peimage.Image, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, wrapUser(fmt.Errorf("reading %s: %w", path, err))
	}
	img, err := peimage.Parse(data, force)
	if err != nil {
		return nil, nil, wrapUser(fmt.Errorf("parsing %s: %w", path, err))
	}
	return img, data, nil
}
