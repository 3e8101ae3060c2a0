package cfg

import (
	"fmt"
	"sort"

	"github.com/xyproto/pe67/disasm"
)

// prologuePattern recognizes the byte shapes spec.md §4.4 lists as function
// starts in unvisited regions: `push rbp; mov rbp, rsp`, `sub rsp, imm8/32`,
// and the Win64 `sub rsp, imm; mov [rsp+..], rcx/rdx/r8/r9` shadow-store idiom.
func prologuePattern(p *Program, va uint64) bool {
	in, ok := p.InstructionAt(va)
	if !ok {
		return false
	}
	if in.Mnemonic == "push" && len(in.Operands) == 1 && in.Operands[0].Reg == "rbp" {
		next, ok := p.InstructionAt(va + uint64(in.Length))
		return ok && next.Mnemonic == "mov" && len(next.Operands) == 2 &&
			next.Operands[0].Reg == "rbp" && next.Operands[1].Reg == "rsp"
	}
	if in.Mnemonic == "sub" && len(in.Operands) == 2 &&
		in.Operands[0].Reg == "rsp" && in.Operands[1].Kind == disasm.OperandImm {
		return true
	}
	return false
}

// DiscoverFunctions implements C4: seeding from the entry point, every
// exported VA, call targets discovered while walking already-found
// functions, and a second pass over unclaimed executable bytes looking for
// prologue patterns.
func DiscoverFunctions(p *Program) []*Function {
	claimed := make(map[uint64]bool) // VA -> belongs to some function's reachable set
	ownerOf := make(map[uint64]*Function)

	var functions []*Function
	var pendingCalls []uint64

	seeds := collectInitialSeeds(p)

	seen := make(map[uint64]bool)
	enqueue := func(q *[]uint64, va uint64) {
		if !seen[va] {
			seen[va] = true
			*q = append(*q, va)
		}
	}

	var queue []uint64
	for _, s := range seeds {
		enqueue(&queue, s)
	}

	for len(queue) > 0 {
		va := queue[0]
		queue = queue[1:]

		if owner, ok := ownerOf[va]; ok && owner.EntryVA == va {
			continue // already a known function entry
		}
		if claimed[va] {
			// Lands inside another function's body: multi-entry/thunk,
			// per spec.md §4.4, not a fresh independent function.
			if owner := blockOwnerAt(functions, va); owner != nil {
				owner.MultiEntry = true
				owner.AlternateEntries = append(owner.AlternateEntries, va)
			}
			continue
		}

		fn := walkFunction(p, va, claimed, &pendingCalls)
		if fn == nil {
			continue
		}
		functions = append(functions, fn)
		ownerOf[va] = fn
		for _, bva := range fn.Order {
			ownerOf[bva] = fn
		}

		for _, c := range pendingCalls {
			enqueue(&queue, c)
		}
		pendingCalls = pendingCalls[:0]
	}

	// Second pass: prologue scan over unclaimed executable bytes.
	for _, va := range p.sectionVAs() {
		if claimed[va] || seen[va] {
			continue
		}
		if !prologuePattern(p, va) {
			continue
		}
		fn := walkFunction(p, va, claimed, &pendingCalls)
		if fn == nil {
			continue
		}
		functions = append(functions, fn)
		for _, c := range pendingCalls {
			if !claimed[c] && !seen[c] {
				seen[c] = true
				if f := walkFunction(p, c, claimed, &pendingCalls); f != nil {
					functions = append(functions, f)
				}
			}
		}
		pendingCalls = pendingCalls[:0]
	}

	sort.Slice(functions, func(i, j int) bool { return functions[i].EntryVA < functions[j].EntryVA })
	for _, fn := range functions {
		if fn.Name == "" {
			fn.Name = fmt.Sprintf("sub_%x", fn.EntryVA)
		}
	}
	return functions
}

func blockOwnerAt(functions []*Function, va uint64) *Function {
	for _, fn := range functions {
		if _, ok := fn.Blocks[va]; ok {
			return fn
		}
		for _, b := range fn.Blocks {
			if va > b.StartVA && va < b.EndVA() {
				return fn
			}
		}
	}
	return nil
}

func collectInitialSeeds(p *Program) []uint64 {
	var seeds []uint64
	seeds = append(seeds, p.Img.VA(p.Img.EntryPointRVA))
	var exportVAs []uint64
	for va := range p.Img.ExportMap {
		exportVAs = append(exportVAs, va)
	}
	sort.Slice(exportVAs, func(i, j int) bool { return exportVAs[i] < exportVAs[j] })
	seeds = append(seeds, exportVAs...)
	return seeds
}

// walkFunction performs the recursive-descent body of C4 for one seed: it
// follows fall-through and direct branches, stops at ret / an
// already-claimed tail-call target / a revisit, and collects call targets
// into *pendingCalls for the caller to seed as new functions.
func walkFunction(p *Program, entry uint64, claimed map[uint64]bool, pendingCalls *[]uint64) *Function {
	if _, ok := p.InstructionAt(entry); !ok {
		return nil
	}

	reachable := make(map[uint64]bool)
	var order []uint64
	var stack []uint64
	stack = append(stack, entry)

	for len(stack) > 0 {
		va := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[va] {
			continue
		}
		in, ok := p.InstructionAt(va)
		if !ok {
			continue
		}
		reachable[va] = true
		order = append(order, va)
		next := va + uint64(in.Length)

		switch {
		case in.IsRet():
			// terminal
		case in.IsCall():
			if target, ok := in.DirectTarget(); ok {
				*pendingCalls = append(*pendingCalls, target)
			}
			if !reachable[next] {
				stack = append(stack, next)
			}
		case in.IsUnconditionalJump():
			if target, ok := in.DirectTarget(); ok {
				if claimed[target] && !reachable[target] {
					// tail call into an already-discovered function: stop.
					continue
				}
				if !reachable[target] {
					stack = append(stack, target)
				}
			}
			// indirect jmp: terminal, no static successor.
		case in.IsConditionalBranch():
			if target, ok := in.DirectTarget(); ok && !reachable[target] {
				stack = append(stack, target)
			}
			if !reachable[next] {
				stack = append(stack, next)
			}
		default:
			if !reachable[next] {
				stack = append(stack, next)
			}
		}
	}

	for va := range reachable {
		claimed[va] = true
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	fn := &Function{EntryVA: entry}
	buildBlocks(p, fn, order)
	return fn
}
