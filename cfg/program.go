// Package cfg implements function discovery (C4) and control-flow graph
// construction (C5): turning a disassembled instruction stream into a set of
// functions, each with its own basic blocks, dominator tree and natural
// loops.
package cfg

import (
	"sort"

	"github.com/xyproto/pe67/disasm"
	"github.com/xyproto/pe67/peimage"
)

// Program bundles a parsed image with its per-section instruction streams,
// the shared lookup surface function discovery and CFG construction run
// against.
type Program struct {
	Img     *peimage.Image
	Streams map[string][]disasm.Instruction
}

// NewProgram disassembles every executable section of img.
func NewProgram(img *peimage.Image) *Program {
	return &Program{Img: img, Streams: disasm.DisassembleAll(img)}
}

// InstructionAt resolves va to its decoded instruction, searching whichever
// executable section contains it.
func (p *Program) InstructionAt(va uint64) (disasm.Instruction, bool) {
	rva, ok := p.Img.RVA(va)
	if !ok {
		return disasm.Instruction{}, false
	}
	sec := p.Img.SectionContainingRVA(rva)
	if sec == nil || !sec.IsCode {
		return disasm.Instruction{}, false
	}
	stream, ok := p.Streams[sec.Name]
	if !ok {
		return disasm.Instruction{}, false
	}
	return disasm.InstructionAt(stream, va)
}

// sectionVAs returns the sorted instruction start VAs of every executable
// section, used by the prologue-scanning second pass of function discovery.
func (p *Program) sectionVAs() []uint64 {
	var vas []uint64
	for _, s := range p.Img.Sections {
		if !s.IsCode {
			continue
		}
		for _, in := range p.Streams[s.Name] {
			vas = append(vas, in.VA)
		}
	}
	sort.Slice(vas, func(i, j int) bool { return vas[i] < vas[j] })
	return vas
}
