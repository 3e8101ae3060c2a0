// Package reloc implements C9: mapping the symbolic data_<hex>/import_<hex>/
// string_<hex> references a rendered-then-hand-edited function body uses
// for non-stack memory back to concrete addresses in the preserved image.
//
// The redesign flag in spec.md §9 calls out the original implementation's
// bug directly: it rewrote `[rip+...]` displacements by running strstr/
// sscanf over assembly text, which makes "where does this reference live"
// implicit and easy to get wrong. This package never computes a
// displacement itself. It only resolves each symbolic label's target VA
// against the preserved image and hands the result to asmx64 as an
// Options.ExternalLabels callback -- the assembler's own address-aware
// two-pass encoder (which already knows every instruction's exact address
// and length) does the actual `[rip+label]`/`disp32` arithmetic.
package reloc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xyproto/pe67/peimage"
)

// Policy controls what happens to a label this image can't resolve to a
// plausible target.
type Policy int

const (
	// PolicyReport leaves the unresolved label's text untouched (so the
	// assembler will itself fail with "undefined label" if the caller
	// goes on to assemble it) and records an UnresolvedRef.
	PolicyReport Policy = iota
	// PolicyPlaceholder substitutes a caller-supplied placeholder address
	// for every unresolved label, letting assembly proceed.
	PolicyPlaceholder
)

// UnresolvedRef names one symbolic reference this image couldn't back up
// with a real address, and the source line it appeared on.
type UnresolvedRef struct {
	Label string
	Line  int
}

// Result is what Relocate hands back: a resolver ready to plug into
// asmx64.Options.ExternalLabels, plus whatever references that resolver
// can't actually satisfy (only non-empty under PolicyReport).
type Result struct {
	Resolver    func(name string) (uint64, bool)
	Unresolved  []UnresolvedRef
	ResolvedVAs map[string]uint64
}

var labelPattern = regexp.MustCompile(`\b(data|import|string)_([0-9a-fA-F]+)\b`)

// Relocate scans source for data_<hex>/import_<hex>/string_<hex> tokens,
// resolves each one's hex suffix as a VA against img via C1's Resolve, and
// rejects any whose resolved kind doesn't match the label's own prefix
// (catches a hand-edited label pointing at the wrong kind of location).
// placeholder is only consulted under PolicyPlaceholder.
func Relocate(img *peimage.Image, source string, policy Policy, placeholder uint64) (*Result, error) {
	lines := strings.Split(source, "\n")
	resolved := map[string]uint64{}
	seen := map[string]bool{}
	var unresolved []UnresolvedRef

	for i, line := range lines {
		for _, m := range labelPattern.FindAllStringSubmatch(line, -1) {
			label := m[1] + "_" + m[2]
			if seen[label] {
				continue
			}
			seen[label] = true

			va, err := strconv.ParseUint(m[2], 16, 64)
			if err != nil {
				return nil, fmt.Errorf("reloc: malformed address in label %s: %w", label, err)
			}

			if kindMatches(m[1], img.Resolve(va)) {
				resolved[label] = va
				continue
			}

			switch policy {
			case PolicyPlaceholder:
				resolved[label] = placeholder
			default:
				unresolved = append(unresolved, UnresolvedRef{Label: label, Line: i + 1})
			}
		}
	}

	return &Result{
		Resolver: func(name string) (uint64, bool) {
			va, ok := resolved[name]
			return va, ok
		},
		Unresolved:  unresolved,
		ResolvedVAs: resolved,
	}, nil
}

// kindMatches reports whether resolving a label's embedded VA landed on
// the kind of thing its prefix promised.
func kindMatches(prefix string, r peimage.Resolved) bool {
	switch prefix {
	case "import":
		return r.Kind == peimage.ResolvedImport || r.Kind == peimage.ResolvedIatSlot
	case "string":
		return r.Kind == peimage.ResolvedString
	case "data":
		return r.Kind == peimage.ResolvedSection || r.Kind == peimage.ResolvedExport ||
			r.Kind == peimage.ResolvedString || r.Kind == peimage.ResolvedIatSlot
	default:
		return false
	}
}
