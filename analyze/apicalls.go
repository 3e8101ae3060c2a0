package analyze

import (
	"github.com/xyproto/pe67/cfg"
	"github.com/xyproto/pe67/peimage"
)

// FindAPICalls implements spec.md §4.6's API-call recognition: every call
// instruction whose direct target resolves (via C1) to an Import gains an
// edge labeled "dll!symbol", optionally enriched with a catalog signature.
func FindAPICalls(img *peimage.Image, fn *cfg.Function) []ApiCall {
	var calls []ApiCall
	for _, va := range fn.Order {
		b := fn.Blocks[va]
		for _, in := range b.Instructions {
			if !in.IsCall() {
				continue
			}
			target, ok := in.DirectTarget()
			if !ok {
				continue
			}
			resolved := img.Resolve(target)
			if resolved.Kind != peimage.ResolvedImport {
				continue
			}
			call := ApiCall{CallSiteVA: in.VA, DLL: resolved.DLL, Symbol: resolved.Symbol}
			if sig, ok := LookupSignature(resolved.DLL, resolved.Symbol); ok {
				s := sig
				call.ParamHint = &s
			}
			calls = append(calls, call)
		}
	}
	return calls
}
