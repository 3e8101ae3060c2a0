// Package testpe builds minimal, byte-valid PE32+ images for tests across
// the whole module: peimage's parser, disasm's decoder, reassemble's
// round-trip property, and the CLI's end-to-end scenarios all need a real
// (if tiny) PE file to exercise. The header byte-layout constants below
// (dosHeaderSize, fileAlign, sectionAlign, the characteristics flags)
// are taken directly from xyproto-vibe67/pe.go's WritePEHeaderWithImports,
// which builds this exact header shape for freshly-generated executables;
// this package builds the same shape but also wires in an export directory
// and named/ordinal imports, which the teacher's writer never needed to
// produce (it only ever wrote import tables, never exports).
package testpe

import (
	"encoding/binary"
)

const (
	dosHeaderSize      = 64
	dosStubSize        = 128
	peSignatureSize    = 4
	coffHeaderSize     = 20
	optionalHeaderSize = 240 // PE32+
	sectionHeaderSize  = 40

	imageBase      = 0x1_4000_0000
	sectionAlign   = 0x1000
	fileAlign      = 0x200
	numDataDirs    = 16
	dataDirExport  = 0
	dataDirImport  = 1
	ptrSize        = 8 // PE32+
	charCode       = 0x0000_0020
	charInitData   = 0x0000_0040
	charMemExecute = 0x2000_0000
	charMemRead    = 0x4000_0000
	charMemWrite   = 0x8000_0000
)

func alignUp(v, align uint32) uint32 {
	if v%align == 0 {
		return v
	}
	return v + (align - v%align)
}

// Import names one imported function; Ordinal, if non-zero, makes this an
// ordinal-only import (Name is then ignored by the builder).
type Import struct {
	DLL     string
	Name    string
	Ordinal uint16
}

// Export names one exported function at a text-relative byte offset.
type Export struct {
	Name   string
	Offset uint32 // relative to the start of .text
}

// Spec describes the image to build.
type Spec struct {
	Text      []byte
	EntryOff  uint32 // offset into Text
	Imports   []Import
	Exports   []Export
	ExtraData []byte // appended to .data, for string/global discovery tests
}

type section struct {
	name                      string
	vaddr, vsize, foff, fsize uint32
	characteristics           uint32
	data                      []byte
}

// Build renders Spec into a complete PE32+ byte image.
func Build(spec Spec) []byte {
	textRVA := sectionAlign
	textSize := alignUp(uint32(len(spec.Text)), sectionAlign)

	rdata, importDirRVA, importDirSize, exportDirRVA, exportDirSize := buildRdata(spec, uint32(textRVA)+textSize)
	rdataRVA := uint32(textRVA) + textSize
	rdataSize := alignUp(uint32(len(rdata)), sectionAlign)

	var sections []section
	sections = append(sections, section{
		name: ".text", vaddr: uint32(textRVA), vsize: uint32(len(spec.Text)),
		characteristics: charCode | charMemExecute | charMemRead,
		data:            spec.Text,
	})
	if len(rdata) > 0 {
		sections = append(sections, section{
			name: ".rdata", vaddr: rdataRVA, vsize: uint32(len(rdata)),
			characteristics: charInitData | charMemRead,
			data:            rdata,
		})
	}
	dataRVA := rdataRVA + rdataSize
	if len(spec.ExtraData) > 0 {
		sections = append(sections, section{
			name: ".data", vaddr: dataRVA, vsize: uint32(len(spec.ExtraData)),
			characteristics: charInitData | charMemRead | charMemWrite,
			data:            spec.ExtraData,
		})
	}

	headersSize := alignUp(dosHeaderSize+dosStubSize+peSignatureSize+coffHeaderSize+
		optionalHeaderSize+uint32(len(sections))*sectionHeaderSize, fileAlign)

	foff := headersSize
	for i := range sections {
		sections[i].foff = foff
		sections[i].fsize = alignUp(uint32(len(sections[i].data)), fileAlign)
		foff += sections[i].fsize
	}

	imageSize := alignUp(sections[len(sections)-1].vaddr+alignUp(sections[len(sections)-1].vsize, sectionAlign), sectionAlign)

	buf := make([]byte, foff)

	// DOS header
	binary.LittleEndian.PutUint16(buf[0:2], 0x5A4D)
	lfanew := uint32(dosHeaderSize + dosStubSize)
	binary.LittleEndian.PutUint32(buf[0x3C:0x40], lfanew)
	copy(buf[dosHeaderSize:], []byte("This program requires Windows.\r\n$"))

	o := lfanew
	binary.LittleEndian.PutUint32(buf[o:o+4], 0x0000_4550) // "PE\0\0"
	o += 4

	// COFF header
	binary.LittleEndian.PutUint16(buf[o:o+2], 0x8664)
	binary.LittleEndian.PutUint16(buf[o+2:o+4], uint16(len(sections)))
	binary.LittleEndian.PutUint32(buf[o+4:o+8], 0)
	binary.LittleEndian.PutUint32(buf[o+8:o+12], 0)
	binary.LittleEndian.PutUint32(buf[o+12:o+16], 0)
	binary.LittleEndian.PutUint16(buf[o+16:o+18], optionalHeaderSize)
	binary.LittleEndian.PutUint16(buf[o+18:o+20], 0x0022)
	o += coffHeaderSize

	// Optional header (PE32+)
	optOff := o
	binary.LittleEndian.PutUint16(buf[o:o+2], 0x020B)
	buf[o+2] = 1
	buf[o+3] = 0
	binary.LittleEndian.PutUint32(buf[o+4:o+8], textSize)
	binary.LittleEndian.PutUint32(buf[o+8:o+12], uint32(len(rdata))+uint32(len(spec.ExtraData)))
	binary.LittleEndian.PutUint32(buf[o+12:o+16], 0)
	binary.LittleEndian.PutUint32(buf[o+16:o+20], uint32(textRVA)+spec.EntryOff)
	binary.LittleEndian.PutUint32(buf[o+20:o+24], uint32(textRVA))
	binary.LittleEndian.PutUint64(buf[o+24:o+32], imageBase)
	binary.LittleEndian.PutUint32(buf[o+32:o+36], sectionAlign)
	binary.LittleEndian.PutUint32(buf[o+36:o+40], fileAlign)
	binary.LittleEndian.PutUint16(buf[o+40:o+42], 6)
	binary.LittleEndian.PutUint32(buf[o+56:o+60], imageSize)
	binary.LittleEndian.PutUint32(buf[o+60:o+64], headersSize)
	binary.LittleEndian.PutUint32(buf[o+64:o+68], 0) // checksum
	binary.LittleEndian.PutUint16(buf[o+68:o+70], 3) // subsystem CUI
	binary.LittleEndian.PutUint16(buf[o+70:o+72], 0x8120)
	binary.LittleEndian.PutUint64(buf[o+72:o+80], 0x100000)
	binary.LittleEndian.PutUint64(buf[o+80:o+88], 0x1000)
	binary.LittleEndian.PutUint64(buf[o+88:o+96], 0x100000)
	binary.LittleEndian.PutUint64(buf[o+96:o+104], 0x1000)
	binary.LittleEndian.PutUint32(buf[o+104:o+108], 0)
	binary.LittleEndian.PutUint32(buf[o+108:o+112], numDataDirs)

	dataDirBase := o + 112
	if exportDirSize > 0 {
		binary.LittleEndian.PutUint32(buf[dataDirBase:dataDirBase+4], exportDirRVA)
		binary.LittleEndian.PutUint32(buf[dataDirBase+4:dataDirBase+8], exportDirSize)
	}
	if importDirSize > 0 {
		imp := dataDirBase + dataDirImport*8
		binary.LittleEndian.PutUint32(buf[imp:imp+4], importDirRVA)
		binary.LittleEndian.PutUint32(buf[imp+4:imp+8], importDirSize)
	}
	_ = optOff
	o += optionalHeaderSize

	// Section headers
	for _, s := range sections {
		nameBytes := make([]byte, 8)
		copy(nameBytes, s.name)
		copy(buf[o:o+8], nameBytes)
		binary.LittleEndian.PutUint32(buf[o+8:o+12], s.vsize)
		binary.LittleEndian.PutUint32(buf[o+12:o+16], s.vaddr)
		binary.LittleEndian.PutUint32(buf[o+16:o+20], s.fsize)
		binary.LittleEndian.PutUint32(buf[o+20:o+24], s.foff)
		binary.LittleEndian.PutUint32(buf[o+36:o+40], s.characteristics)
		o += sectionHeaderSize
	}

	for _, s := range sections {
		copy(buf[s.foff:s.foff+uint32(len(s.data))], s.data)
	}

	return buf
}

// buildRdata lays out the import directory (descriptors, ILT, IAT, hint/name
// table, dll name strings) and the export directory, all within one
// .rdata-equivalent blob starting at rdataRVA. Returns the blob plus the
// import/export directory RVA+size pairs for the data directories.
func buildRdata(spec Spec, rdataRVA uint32) (blob []byte, importRVA, importSize, exportRVA, exportSize uint32) {
	var b []byte
	appendAt := func(data []byte) uint32 {
		rva := rdataRVA + uint32(len(b))
		b = append(b, data...)
		return rva
	}
	align8 := func() {
		for len(b)%8 != 0 {
			b = append(b, 0)
		}
	}

	// Group imports by DLL, preserving first-seen order.
	type dllGroup struct {
		dll     string
		imports []Import
	}
	var groups []*dllGroup
	index := map[string]*dllGroup{}
	for _, im := range spec.Imports {
		g, ok := index[im.DLL]
		if !ok {
			g = &dllGroup{dll: im.DLL}
			index[im.DLL] = g
			groups = append(groups, g)
		}
		g.imports = append(g.imports, im)
	}

	if len(groups) == 0 && len(spec.Exports) == 0 {
		return nil, 0, 0, 0, 0
	}

	type groupLayout struct {
		nameRVA             uint32
		iltRVA, iatRVA      uint32
		hintNameRVAs        []uint32
		ordinals            []uint16
	}
	layouts := make([]groupLayout, len(groups))

	// 1. DLL name strings.
	for i, g := range groups {
		layouts[i].nameRVA = appendAt(append([]byte(g.dll), 0))
	}
	align8()

	// 2. Hint/Name entries for named imports.
	for i, g := range groups {
		layouts[i].hintNameRVAs = make([]uint32, len(g.imports))
		layouts[i].ordinals = make([]uint16, len(g.imports))
		for j, im := range g.imports {
			layouts[i].ordinals[j] = im.Ordinal
			if im.Ordinal == 0 {
				align8()
				entry := make([]byte, 2)
				entry = append(entry, append([]byte(im.Name), 0)...)
				layouts[i].hintNameRVAs[j] = appendAt(entry)
			}
		}
	}
	align8()

	// 3. ILT (original first thunk) + IAT (first thunk), one array each per DLL.
	for i, g := range groups {
		layouts[i].iltRVA = uint32(len(b)) + rdataRVA
		for j := range g.imports {
			var entry uint64
			if layouts[i].ordinals[j] != 0 {
				entry = (uint64(1) << 63) | uint64(layouts[i].ordinals[j])
			} else {
				entry = uint64(layouts[i].hintNameRVAs[j])
			}
			var w [8]byte
			binary.LittleEndian.PutUint64(w[:], entry)
			b = append(b, w[:]...)
		}
		b = append(b, make([]byte, 8)...) // null terminator
	}
	for i, g := range groups {
		layouts[i].iatRVA = uint32(len(b)) + rdataRVA
		for j := range g.imports {
			var entry uint64
			if layouts[i].ordinals[j] != 0 {
				entry = (uint64(1) << 63) | uint64(layouts[i].ordinals[j])
			} else {
				entry = uint64(layouts[i].hintNameRVAs[j])
			}
			var w [8]byte
			binary.LittleEndian.PutUint64(w[:], entry)
			b = append(b, w[:]...)
		}
		b = append(b, make([]byte, 8)...)
	}

	// 4. Import descriptors, one per DLL plus a null terminator.
	importRVA = uint32(len(b)) + rdataRVA
	for i, g := range groups {
		_ = g
		var d [20]byte
		binary.LittleEndian.PutUint32(d[0:4], layouts[i].iltRVA)
		binary.LittleEndian.PutUint32(d[4:8], 0)
		binary.LittleEndian.PutUint32(d[8:12], 0)
		binary.LittleEndian.PutUint32(d[12:16], layouts[i].nameRVA)
		binary.LittleEndian.PutUint32(d[16:20], layouts[i].iatRVA)
		b = append(b, d[:]...)
	}
	b = append(b, make([]byte, 20)...) // null descriptor
	importSize = uint32(len(groups)+1) * 20

	// 5. Export directory, if any exports were requested.
	if len(spec.Exports) > 0 {
		align8()
		funcRVAs := make([]uint32, len(spec.Exports))
		nameRVAs := make([]uint32, len(spec.Exports))
		// Export RVAs point into .text, whose RVA is always sectionAlign here.
		for i, e := range spec.Exports {
			funcRVAs[i] = uint32(sectionAlign) + e.Offset
		}
		dllNameRVA := appendAt(append([]byte("test.dll"), 0))
		for i, e := range spec.Exports {
			nameRVAs[i] = appendAt(append([]byte(e.Name), 0))
		}
		align8()
		funcArrayRVA := uint32(len(b)) + rdataRVA
		for _, r := range funcRVAs {
			var w [4]byte
			binary.LittleEndian.PutUint32(w[:], r)
			b = append(b, w[:]...)
		}
		nameArrayRVA := uint32(len(b)) + rdataRVA
		for _, r := range nameRVAs {
			var w [4]byte
			binary.LittleEndian.PutUint32(w[:], r)
			b = append(b, w[:]...)
		}
		ordArrayRVA := uint32(len(b)) + rdataRVA
		for i := range spec.Exports {
			var w [2]byte
			binary.LittleEndian.PutUint16(w[:], uint16(i))
			b = append(b, w[:]...)
		}
		align8()
		exportRVA = uint32(len(b)) + rdataRVA
		var ed [40]byte
		binary.LittleEndian.PutUint32(ed[20:24], uint32(len(spec.Exports)))
		binary.LittleEndian.PutUint32(ed[24:28], uint32(len(spec.Exports)))
		binary.LittleEndian.PutUint32(ed[28:32], funcArrayRVA)
		binary.LittleEndian.PutUint32(ed[32:36], nameArrayRVA)
		binary.LittleEndian.PutUint32(ed[36:40], ordArrayRVA)
		binary.LittleEndian.PutUint32(ed[16:20], dllNameRVA)
		b = append(b, ed[:]...)
		exportSize = 40
	}

	return b, importRVA, importSize, exportRVA, exportSize
}
