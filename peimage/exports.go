package peimage

import "encoding/binary"

// exportDirectory mirrors IMAGE_EXPORT_DIRECTORY. The field-by-field
// layout and the "read the function/name/ordinal arrays, then zip them
// together" approach is carried over directly from xyproto-vibe67/
// pe_reader.go's GetExports, which parses this exact table to discover a
// DLL's exported symbols; this version reads from an in-memory Image
// instead of seeking a live *os.File, and also records forwarded exports
// (the teacher's reader never had to, since it always looked up concrete
// addresses in system DLLs it was about to call into).
type exportDirectory struct {
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// parseExports walks the Export Directory (spec.md §4.1). Forwarded
// exports (a function RVA that actually points inside the export
// directory's own range, meaning "see DLL.Symbol instead") are recorded
// in ImportMap as a pseudo-import of the forward target.
func (img *Image) parseExports() error {
	dir := img.dataDirectory(dataDirExport)
	if dir.Size == 0 {
		return nil
	}

	off, ok := img.RVAToFileOffset(dir.VirtualAddress)
	if !ok || uint64(off)+40 > uint64(len(img.raw)) {
		img.MalformedImportDescriptors++
		return nil
	}
	raw := img.raw[off : off+40]
	ed := exportDirectory{
		NumberOfFunctions:     binary.LittleEndian.Uint32(raw[20:24]),
		NumberOfNames:         binary.LittleEndian.Uint32(raw[24:28]),
		AddressOfFunctions:    binary.LittleEndian.Uint32(raw[28:32]),
		AddressOfNames:        binary.LittleEndian.Uint32(raw[32:36]),
		AddressOfNameOrdinals: binary.LittleEndian.Uint32(raw[36:40]),
	}

	funcAddrs := make([]uint32, ed.NumberOfFunctions)
	for i := range funcAddrs {
		v, ok := img.readU32AtRVA(ed.AddressOfFunctions + uint32(i)*4)
		if !ok {
			continue
		}
		funcAddrs[i] = v
	}

	nameRVAs := make([]uint32, ed.NumberOfNames)
	for i := range nameRVAs {
		v, ok := img.readU32AtRVA(ed.AddressOfNames + uint32(i)*4)
		if !ok {
			continue
		}
		nameRVAs[i] = v
	}

	nameOrdinals := make([]uint16, ed.NumberOfNames)
	for i := range nameOrdinals {
		data, ok := img.BytesAtRVA(ed.AddressOfNameOrdinals+uint32(i)*2, 2)
		if !ok {
			continue
		}
		nameOrdinals[i] = binary.LittleEndian.Uint16(data)
	}

	exportLo, exportHi := dir.VirtualAddress, dir.VirtualAddress+dir.Size

	for i := uint32(0); i < ed.NumberOfNames; i++ {
		name, ok := img.readCString(nameRVAs[i])
		if !ok {
			continue
		}
		ordinal := nameOrdinals[i]
		if uint32(ordinal) >= ed.NumberOfFunctions {
			continue
		}
		rva := funcAddrs[ordinal]

		if rva >= exportLo && rva < exportHi {
			img.recordForwardedExport(name, rva, map[uint32]bool{})
			continue
		}

		img.ExportMap[img.VA(rva)] = name
	}

	return nil
}

// recordForwardedExport splits one "DLL.Symbol" forward string and records
// it in ImportMap at the forward string's VA; an unreadable or dot-less
// string, or an RVA already present in visited, counts as a Malformed
// entry instead. The forward target is not followed into the other DLL,
// so forward-to-forward chains are not resolved.
func (img *Image) recordForwardedExport(name string, forwardRVA uint32, visited map[uint32]bool) {
	if visited[forwardRVA] {
		img.MalformedImportDescriptors++
		return
	}
	visited[forwardRVA] = true

	forwardStr, ok := img.readCString(forwardRVA)
	if !ok {
		img.MalformedImportDescriptors++
		return
	}
	dll, symbol, ok := splitForwardString(forwardStr)
	if !ok {
		img.MalformedImportDescriptors++
		return
	}
	img.ImportMap[img.VA(forwardRVA)] = ImportRef{DLL: dll, Symbol: symbol}
	_ = name
}

// splitForwardString splits "KERNEL32.HeapAlloc" into ("KERNEL32.dll",
// "HeapAlloc").
func splitForwardString(s string) (dll, symbol string, ok bool) {
	idx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", "", false
	}
	return s[:idx] + ".dll", s[idx+1:], true
}

func (img *Image) readU32AtRVA(rva uint32) (uint32, bool) {
	data, ok := img.BytesAtRVA(rva, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data), true
}
