package render

import (
	"fmt"

	"github.com/xyproto/pe67/analyze"
	"github.com/xyproto/pe67/cfg"
	"github.com/xyproto/pe67/peimage"
)

// openLoop is a loop currently being structured while walking fn.Order; it
// closes when the walk reaches LatchVA.
type openLoop struct {
	loop   *cfg.Loop
	indent int
}

// renderFunctionBody walks a function's blocks in ascending VA order,
// emitting a flat, valid statement stream: every block except a structured
// loop header gets a label (used by goto/if-goto fallthrough for anything
// the loop pass below doesn't structure), and recognized natural loops fold
// their header's test into a while/for/do-while construct. Loops whose [header, latch] interval isn't
// properly nested with any loop already open are left unstructured (their
// header keeps its bare if-goto) rather than risk emitting mismatched
// braces -- §4.7 explicitly allows unrecovered control flow to fall back to
// labeled gotos.
func renderFunctionBody(img *peimage.Image, fn *analyze.AnalyzedFunction) []string {
	headerOf := map[uint64]*cfg.Loop{}
	latchOf := map[uint64]*cfg.Loop{}
	for _, lp := range fn.Loops {
		headerOf[lp.HeaderVA] = lp
		latchOf[lp.LatchVA] = lp
	}

	var lines []string
	var stack []openLoop
	structured := map[*cfg.Loop]bool{}

	indent := func() string {
		s := ""
		for i := 0; i < len(stack)+1; i++ {
			s += "    "
		}
		return s
	}

	for _, va := range fn.Order {
		b := fn.Blocks[va]

		if lp, ok := headerOf[va]; ok && canNest(stack, lp) {
			structured[lp] = true
			lines = append(lines, loopOpenLines(img, fn, b, lp, indent())...)
			stack = append(stack, openLoop{loop: lp})
		} else {
			lines = append(lines, fmt.Sprintf("%s%s: // 0x%x", indent(), labelName(va), va))
		}

		skipTrailingCondPair := false
		if lp, ok := headerOf[va]; ok && structured[lp] && lp.Kind != cfg.LoopDoWhile {
			if _, _, found := condPair(b); found {
				skipTrailingCondPair = true
			}
		}
		lines = append(lines, blockStatements(img, fn, b, skipTrailingCondPair, indent())...)

		if lp, ok := latchOf[va]; ok && structured[lp] && lp.Kind == cfg.LoopDoWhile {
			// loopCloseLines renders "} while (cond);" in place of this
			// block's own terminal Jcc/jmp back to the header.
		} else {
			loopBackTarget := uint64(0)
			if lp, ok := latchOf[va]; ok && structured[lp] {
				loopBackTarget = lp.HeaderVA
			}
			lines = append(lines, terminalLines(img, fn, b, headerOf[va] != nil && structured[headerOf[va]], loopBackTarget, indent())...)
		}

		if lp, ok := latchOf[va]; ok && structured[lp] {
			stack = stack[:len(stack)-1]
			lines = append(lines, loopCloseLines(img, fn, b, lp, indent())...)
		}
	}
	return lines
}

// canNest reports whether a candidate loop can be opened given the loops
// already on the structuring stack: its latch must occur no later than
// every currently-open loop's latch, so closes happen in proper LIFO order.
func canNest(stack []openLoop, lp *cfg.Loop) bool {
	for _, o := range stack {
		if lp.LatchVA > o.loop.LatchVA {
			return false
		}
	}
	return true
}

func blockStatements(img *peimage.Image, fn *analyze.AnalyzedFunction, b *cfg.Block, skipTrailingCondPair bool, ind string) []string {
	var lines []string
	n := len(b.Instructions)
	for i, in := range b.Instructions {
		if skipTrailingCondPair && i >= n-2 {
			continue
		}
		if in.IsBranch() && !in.IsCall() {
			continue
		}
		text := instrLine(img, fn, in)
		if text == "" {
			continue
		}
		lines = append(lines, ind+text)
	}
	return lines
}

// terminalLines renders a block's control transfer. structuredHeader
// suppresses the header's own if-goto when a while/for construct already
// consumed it. loopBackTarget, when non-zero, names the header of a
// structured while/for loop this block is the latch of: a plain jump to it
// needs no text (the loop's closing brace already re-enters at the top) and
// a conditional jump to it becomes "continue;" rather than a dangling goto
// to a label that, for a structured header, is never printed.
func terminalLines(img *peimage.Image, fn *analyze.AnalyzedFunction, b *cfg.Block, structuredHeader bool, loopBackTarget uint64, ind string) []string {
	switch b.Terminal {
	case cfg.TermReturn:
		return []string{ind + "return;"}
	case cfg.TermJump:
		if len(b.Successors) != 1 {
			return nil
		}
		if loopBackTarget != 0 && b.Successors[0] == loopBackTarget {
			return nil
		}
		return []string{ind + fmt.Sprintf("goto %s;", labelName(b.Successors[0]))}
	case cfg.TermCondJump:
		if structuredHeader || len(b.Successors) != 2 {
			return nil
		}
		cond := condText(img, fn, b)
		if loopBackTarget != 0 && b.Successors[0] == loopBackTarget {
			return []string{ind + fmt.Sprintf("if (%s) continue;", cond)}
		}
		return []string{ind + fmt.Sprintf("if (%s) goto %s;", cond, labelName(b.Successors[0]))}
	case cfg.TermSwitch:
		return switchLines(b, ind)
	case cfg.TermIndirectJump:
		return []string{ind + "goto *indirect_target;"}
	default:
		return nil
	}
}

func switchLines(b *cfg.Block, ind string) []string {
	reg := "switch_index"
	if len(b.Instructions) > 0 {
		last := b.Instructions[len(b.Instructions)-1]
		if len(last.Operands) == 1 && last.Operands[0].Mem.IndexReg != "" {
			reg = last.Operands[0].Mem.IndexReg
		}
	}
	lines := []string{ind + fmt.Sprintf("switch (%s) {", reg)}
	for i, succ := range b.Successors {
		lines = append(lines, ind+fmt.Sprintf("    case %d: goto %s;", i, labelName(succ)))
	}
	lines = append(lines, ind+"}")
	return lines
}

func loopOpenLines(img *peimage.Image, fn *analyze.AnalyzedFunction, header *cfg.Block, lp *cfg.Loop, ind string) []string {
	switch lp.Kind {
	case cfg.LoopInfinite:
		return []string{ind + "while (1) {"}
	case cfg.LoopDoWhile:
		return []string{ind + "do {"}
	case cfg.LoopFor:
		cond := loopHeaderCond(img, fn, header, lp)
		return []string{ind + fmt.Sprintf("for (; %s; ) {", cond)}
	default: // LoopWhile, LoopUnknown
		cond := loopHeaderCond(img, fn, header, lp)
		return []string{ind + fmt.Sprintf("while (%s) {", cond)}
	}
}

// loopHeaderCond builds the while/for continuation condition from the
// header's terminal Jcc, inverting it when the taken branch is the one
// that exits the loop rather than the one that continues it.
func loopHeaderCond(img *peimage.Image, fn *analyze.AnalyzedFunction, header *cfg.Block, lp *cfg.Loop) string {
	raw := condText(img, fn, header)
	if len(header.Successors) == 2 && lp.Body[header.Successors[0]] {
		return raw
	}
	return negateCond(raw)
}

func negateCond(cond string) string {
	return fmt.Sprintf("!(%s)", cond)
}

func loopCloseLines(img *peimage.Image, fn *analyze.AnalyzedFunction, latch *cfg.Block, lp *cfg.Loop, ind string) []string {
	if lp.Kind == cfg.LoopDoWhile {
		cond := "1"
		if latch.Terminal == cfg.TermCondJump {
			raw := condText(img, fn, latch)
			if len(latch.Successors) == 2 && latch.Successors[0] == lp.HeaderVA {
				cond = raw
			} else {
				cond = negateCond(raw)
			}
		}
		return []string{ind + fmt.Sprintf("} while (%s);", cond)}
	}
	return []string{ind + "}"}
}
