package cfg

import (
	"sort"

	"github.com/xyproto/pe67/disasm"
)

// FindLoops extracts natural loops from back-edges (n -> h where h
// dominates n) and classifies each, per spec.md §4.5. Requires
// fn.Dominators to already be populated.
func FindLoops(fn *Function) []*Loop {
	if fn.Dominators == nil {
		return nil
	}
	var loops []*Loop
	for _, va := range fn.Order {
		b := fn.Blocks[va]
		for _, s := range b.Successors {
			if _, ok := fn.Blocks[s]; !ok {
				continue
			}
			if dominates(fn, s, va) {
				loop := &Loop{HeaderVA: s, LatchVA: va, Body: loopBody(fn, s, va)}
				loop.Kind = classifyLoop(fn, loop)
				loops = append(loops, loop)
			}
		}
	}
	sort.Slice(loops, func(i, j int) bool {
		if loops[i].HeaderVA != loops[j].HeaderVA {
			return loops[i].HeaderVA < loops[j].HeaderVA
		}
		return loops[i].LatchVA < loops[j].LatchVA
	})
	fn.Loops = loops
	return loops
}

func dominates(fn *Function, a, b uint64) bool {
	for cur := b; ; {
		if cur == a {
			return true
		}
		parent, ok := fn.Dominators[cur]
		if !ok || parent == cur {
			return cur == a
		}
		cur = parent
	}
}

// loopBody computes the natural loop's node set: header, latch, and every
// node that can reach latch via predecessors without passing through header.
func loopBody(fn *Function, header, latch uint64) map[uint64]bool {
	body := map[uint64]bool{header: true, latch: true}
	preds := predecessorMap(fn)

	stack := []uint64{latch}
	for len(stack) > 0 {
		va := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range preds[va] {
			if body[p] {
				continue
			}
			body[p] = true
			if p != header {
				stack = append(stack, p)
			}
		}
	}
	return body
}

// classifyLoop implements spec.md §4.5's {While, DoWhile, For-ish, Infinite}
// classification: whether the header tests before or after the body, and
// whether a counter pattern is present near the back edge.
func classifyLoop(fn *Function, loop *Loop) LoopKind {
	header := fn.Blocks[loop.HeaderVA]
	latch := fn.Blocks[loop.LatchVA]
	if header == nil || latch == nil {
		return LoopUnknown
	}

	if loop.HeaderVA == loop.LatchVA {
		return LoopDoWhile
	}

	headerTestsFirst := header.Terminal == TermCondJump && headerHasExit(fn, loop)

	if latch.Terminal != TermCondJump {
		// Unconditional back edge: either a genuine infinite loop, or a
		// for-shaped loop whose exit test lives in the header.
		if headerTestsFirst && hasCounterPattern(latch) {
			return LoopFor
		}
		if headerTestsFirst {
			return LoopWhile
		}
		return LoopInfinite
	}

	if headerTestsFirst {
		if hasCounterPattern(latch) {
			return LoopFor
		}
		return LoopWhile
	}
	return LoopDoWhile
}

// headerHasExit reports whether the header has a successor outside the
// loop body, i.e. the header's own test can exit the loop (while/for
// shape) rather than only the latch doing so (do-while shape).
func headerHasExit(fn *Function, loop *Loop) bool {
	header := fn.Blocks[loop.HeaderVA]
	for _, s := range header.Successors {
		if !loop.Body[s] {
			return true
		}
	}
	return false
}

// hasCounterPattern reports whether b contains an inc/dec/add/sub against a
// register destination, the signature of an explicit loop counter update.
func hasCounterPattern(b *Block) bool {
	for _, in := range b.Instructions {
		switch in.Mnemonic {
		case "inc", "dec", "add", "sub":
			if len(in.Operands) > 0 && in.Operands[0].Kind == disasm.OperandReg {
				return true
			}
		}
	}
	return false
}
