package cfg

import "sort"

// ComputeDominators fills fn.Dominators using the iterative algorithm of
// Cooper, Harvey & Kennedy: process blocks in reverse postorder, each step
// intersecting the dominator sets of already-processed predecessors, until a
// fixed point. Reverse postorder places the entry at index 0 and guarantees
// every dominator has a smaller index than the node it dominates.
func ComputeDominators(fn *Function) {
	order := reversePostorder(fn)
	if len(order) == 0 {
		return
	}
	index := make(map[uint64]int, len(order))
	for i, va := range order {
		index[va] = i
	}
	preds := predecessorMap(fn)

	idom := make([]int, len(order))
	for i := range idom {
		idom[i] = -1
	}
	idom[0] = 0 // entry dominates itself

	changed := true
	for changed {
		changed = false
		for i := 1; i < len(order); i++ {
			va := order[i]
			newIdom := -1
			for _, pva := range preds[va] {
				pi, ok := index[pva]
				if !ok || idom[pi] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = pi
					continue
				}
				newIdom = intersectDoms(idom, newIdom, pi)
			}
			if newIdom != -1 && idom[i] != newIdom {
				idom[i] = newIdom
				changed = true
			}
		}
	}

	fn.Dominators = make(map[uint64]uint64, len(order))
	for i, va := range order {
		if idom[i] >= 0 {
			fn.Dominators[va] = order[idom[i]]
		}
	}
}

func intersectDoms(idom []int, a, b int) int {
	for a != b {
		for a > b {
			a = idom[a]
		}
		for b > a {
			b = idom[b]
		}
	}
	return a
}

func reversePostorder(fn *Function) []uint64 {
	visited := make(map[uint64]bool)
	var post []uint64
	var visit func(va uint64)
	visit = func(va uint64) {
		if visited[va] {
			return
		}
		visited[va] = true
		if b, ok := fn.Blocks[va]; ok {
			for _, s := range b.Successors {
				if _, ok := fn.Blocks[s]; ok {
					visit(s)
				}
			}
		}
		post = append(post, va)
	}
	visit(fn.EntryVA)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func predecessorMap(fn *Function) map[uint64][]uint64 {
	preds := make(map[uint64][]uint64)
	var order []uint64
	for va := range fn.Blocks {
		order = append(order, va)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, va := range order {
		b := fn.Blocks[va]
		for _, s := range b.Successors {
			if _, ok := fn.Blocks[s]; ok {
				preds[s] = append(preds[s], va)
			}
		}
	}
	return preds
}
