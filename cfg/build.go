package cfg

import (
	"sort"

	"github.com/xyproto/pe67/disasm"
)

// buildBlocks implements C5's leader computation and block splitting for
// one function's reachable instruction set (order, already VA-sorted).
func buildBlocks(p *Program, fn *Function, order []uint64) {
	reachable := make(map[uint64]bool, len(order))
	for _, va := range order {
		reachable[va] = true
	}
	insns := make(map[uint64]disasm.Instruction, len(order))
	for _, va := range order {
		if in, ok := p.InstructionAt(va); ok {
			insns[va] = in
		}
	}

	leaders := map[uint64]bool{fn.EntryVA: true}
	for _, va := range order {
		in := insns[va]
		next := va + uint64(in.Length)
		if in.IsBranch() {
			if target, ok := in.DirectTarget(); ok && reachable[target] {
				leaders[target] = true
			}
			if reachable[next] {
				leaders[next] = true
			}
		}
	}

	var leaderList []uint64
	for va := range leaders {
		if reachable[va] {
			leaderList = append(leaderList, va)
		}
	}
	sort.Slice(leaderList, func(i, j int) bool { return leaderList[i] < leaderList[j] })

	fn.Blocks = make(map[uint64]*Block, len(leaderList))
	fn.Order = leaderList

	for i, start := range leaderList {
		var end uint64
		if i+1 < len(leaderList) {
			end = leaderList[i+1]
		} else {
			end = ^uint64(0)
		}
		block := &Block{StartVA: start}
		va := start
		for va < end && reachable[va] {
			in, ok := insns[va]
			if !ok {
				break
			}
			block.Instructions = append(block.Instructions, in)
			va += uint64(in.Length)
			if leaders[va] && va != start {
				break
			}
		}
		// Terminal/successor classification looks at the block's real last
		// instruction and real VAs, so it runs before C3's filter -- Filter
		// never drops a ret/call/jmp/jcc (only nop and inc/dec, push/pop
		// pairs), so the block's terminal instruction always survives it.
		classifyTerminal(p, block, reachable)
		block.Instructions = disasm.Filter(block.Instructions)
		fn.Blocks[start] = block
	}

	if last := fn.Blocks[leaderList[len(leaderList)-1]]; last != nil &&
		(last.Terminal == TermIndirectJump || last.Terminal == TermIndirectCall) {
		fn.IndirectTail = true
	}

	collapseEmptyBlocks(fn)
}

func classifyTerminal(p *Program, b *Block, reachable map[uint64]bool) {
	if len(b.Instructions) == 0 {
		b.Terminal = TermUnknown
		return
	}
	last := b.Instructions[len(b.Instructions)-1]
	next := last.VA + uint64(last.Length)

	switch {
	case last.IsRet():
		b.Terminal = TermReturn

	case last.IsCall():
		if last.IsIndirect() {
			b.Terminal = TermIndirectCall
		} else {
			b.Terminal = TermCall
		}
		b.Successors = append(b.Successors, next)

	case last.IsUnconditionalJump():
		if last.IsIndirect() {
			if tableVA, succs, ok := detectSwitch(p, b); ok {
				b.Terminal = TermSwitch
				b.SwitchTableVA = tableVA
				b.Successors = succs
				return
			}
			b.Terminal = TermIndirectJump
			return
		}
		b.Terminal = TermJump
		if target, ok := last.DirectTarget(); ok {
			b.Successors = append(b.Successors, target)
		}

	case last.IsConditionalBranch():
		b.Terminal = TermCondJump
		if target, ok := last.DirectTarget(); ok {
			b.Successors = append(b.Successors, target)
		}
		b.Successors = append(b.Successors, next)

	default:
		b.Terminal = TermFallthrough
		if reachable[next] {
			b.Successors = append(b.Successors, next)
		}
	}
}

// collapseEmptyBlocks implements the dead-code-elimination pass of C5:
// blocks consisting solely of an unconditional jump are collapsed into
// their successor by redirecting every predecessor edge. Reachable blocks
// are never reordered.
func collapseEmptyBlocks(fn *Function) {
	redirect := make(map[uint64]uint64)
	for va, b := range fn.Blocks {
		if b.Terminal == TermJump && len(b.Instructions) == 1 && len(b.Successors) == 1 {
			redirect[va] = b.Successors[0]
		}
	}
	if len(redirect) == 0 {
		return
	}
	resolve := func(va uint64) uint64 {
		for {
			target, ok := redirect[va]
			if !ok || target == va {
				return va
			}
			va = target
		}
	}
	for va, b := range fn.Blocks {
		if _, collapsed := redirect[va]; collapsed && va != fn.EntryVA {
			continue
		}
		for i, s := range b.Successors {
			b.Successors[i] = resolve(s)
		}
	}
	for va := range redirect {
		if va == fn.EntryVA {
			continue
		}
		delete(fn.Blocks, va)
	}
	var order []uint64
	for va := range fn.Blocks {
		order = append(order, va)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	fn.Order = order
}
