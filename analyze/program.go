package analyze

import (
	"fmt"
	"sort"

	"github.com/xyproto/pe67/peimage"
)

// collectProgramData walks every instruction in every discovered function
// once to build the program-wide tables spec.md §3's AnalyzedProgram names
// alongside its per-function Vars: recovered globals, recognized string
// literals, and cross-references from call/jump/data-touching instructions
// to whatever they resolve to.
func collectProgramData(img *peimage.Image, functions []*AnalyzedFunction) (globals []*Var, strs []StringLit, xrefs []Xref) {
	seenData := make(map[uint64]bool)

	for _, fn := range functions {
		for _, va := range fn.Order {
			b := fn.Blocks[va]
			for _, in := range b.Instructions {
				if in.RipRel != nil {
					target := in.RipRel.TargetVA
					r := img.Resolve(target)
					switch r.Kind {
					case peimage.ResolvedImport, peimage.ResolvedExport:
						// already named by the call/reference site itself
					case peimage.ResolvedString:
						if !seenData[target] {
							seenData[target] = true
							strs = append(strs, StringLit{VA: target, Encoding: r.StringEncoding, Value: r.StringValue})
						}
					case peimage.ResolvedSection:
						if !seenData[target] {
							seenData[target] = true
							globals = append(globals, &Var{Kind: VarGlobal, Name: fmt.Sprintf("global_%x", target), VA: target, SizeBits: 8, Type: TypeUnknown})
						}
					}
					if r.Kind != peimage.ResolvedUnknown {
						xrefs = append(xrefs, Xref{FromVA: in.VA, ToVA: target, Kind: XrefData})
					}
				}

				if in.IsCall() {
					if target, ok := in.DirectTarget(); ok {
						if img.Resolve(target).Kind != peimage.ResolvedUnknown || isKnownFunctionEntry(functions, target) {
							xrefs = append(xrefs, Xref{FromVA: in.VA, ToVA: target, Kind: XrefCall})
						}
					}
				} else if in.IsUnconditionalJump() || in.IsConditionalBranch() {
					if target, ok := in.DirectTarget(); ok && img.Resolve(target).Kind != peimage.ResolvedUnknown {
						xrefs = append(xrefs, Xref{FromVA: in.VA, ToVA: target, Kind: XrefJump})
					}
				}
			}
		}
	}

	sort.Slice(globals, func(i, j int) bool { return globals[i].VA < globals[j].VA })
	sort.Slice(strs, func(i, j int) bool { return strs[i].VA < strs[j].VA })
	sort.Slice(xrefs, func(i, j int) bool {
		if xrefs[i].FromVA != xrefs[j].FromVA {
			return xrefs[i].FromVA < xrefs[j].FromVA
		}
		return xrefs[i].ToVA < xrefs[j].ToVA
	})
	return globals, strs, xrefs
}

func isKnownFunctionEntry(functions []*AnalyzedFunction, va uint64) bool {
	for _, fn := range functions {
		if fn.EntryVA == va {
			return true
		}
	}
	return false
}
