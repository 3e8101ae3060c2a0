package disasm

import "github.com/xyproto/pe67/peimage"

// Disassemble linearly sweeps an executable section's bytes into a typed
// instruction stream, per spec.md §4.2: one pass, each step either decodes a
// real instruction or emits a 1-byte Undecoded placeholder and advances.
// disassemble(image, section) is a pure function of the section's bytes:
// same bytes at the same VA always produce the same stream.
func Disassemble(img *peimage.Image, section peimage.Section) []Instruction {
	data, ok := img.BytesAtRVA(section.VAddr, int(section.VSize))
	if !ok {
		data, _ = img.BytesAtRVA(section.VAddr, int(section.FSize))
	}
	baseVA := img.VA(section.VAddr)

	var stream []Instruction
	off := 0
	for off < len(data) {
		va := baseVA + uint64(off)
		in := decodeOne(data, off, va)
		stream = append(stream, in)
		off += in.Length
	}
	return stream
}

// ExecutableSections returns every section in img flagged executable, the
// set C2 runs over.
func ExecutableSections(img *peimage.Image) []peimage.Section {
	var out []peimage.Section
	for _, s := range img.Sections {
		if s.IsCode {
			out = append(out, s)
		}
	}
	return out
}

// DisassembleAll runs Disassemble over every executable section and returns
// the per-section streams keyed by section name.
func DisassembleAll(img *peimage.Image) map[string][]Instruction {
	out := make(map[string][]Instruction)
	for _, s := range ExecutableSections(img) {
		out[s.Name] = Disassemble(img, s)
	}
	return out
}

// InstructionAt finds the instruction in stream whose VA equals va, if any.
// Streams are sorted by construction (linear sweep), so this is a binary
// search over monotonically increasing VAs.
func InstructionAt(stream []Instruction, va uint64) (Instruction, bool) {
	lo, hi := 0, len(stream)
	for lo < hi {
		mid := (lo + hi) / 2
		if stream[mid].VA < va {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(stream) && stream[lo].VA == va {
		return stream[lo], true
	}
	return Instruction{}, false
}
