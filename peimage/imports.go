package peimage

import (
	"encoding/binary"
)

// importDescriptor mirrors the 20-byte IMAGE_IMPORT_DESCRIPTOR layout.
type importDescriptor struct {
	OriginalFirstThunk uint32 // ILT RVA
	TimeDateStamp      uint32
	ForwarderChain     uint32
	NameRVA            uint32
	FirstThunk         uint32 // IAT RVA
}

const ordinalFlagPE32Plus = uint64(1) << 63
const ordinalFlagPE32 = uint32(1) << 31

// parseImports walks the Import Directory (spec.md §4.1): each descriptor
// yields a DLL name and a pair of (IAT, ILT) arrays; named imports produce
// slot_va -> (dll, name), ordinal imports produce slot_va -> (dll, "#ord").
// Malformed descriptors are skipped and counted rather than aborting the
// whole walk, matching spec.md's "a count is reported" policy and the
// teacher's habit (pe_reader.go's GetExports) of warning and continuing
// rather than failing the entire parse over one bad entry.
func (img *Image) parseImports() error {
	dir := img.dataDirectory(dataDirImport)
	if dir.Size == 0 {
		return nil
	}

	var minSlot, maxSlot uint64
	haveRange := false
	ptrSize := uint32(4)
	if img.IsPE32Plus {
		ptrSize = 8
	}

	off, ok := img.RVAToFileOffset(dir.VirtualAddress)
	if !ok {
		img.MalformedImportDescriptors++
		return nil
	}

	for i := 0; ; i++ {
		descOff := off + uint32(i)*20
		if uint64(descOff)+20 > uint64(len(img.raw)) {
			img.MalformedImportDescriptors++
			break
		}
		raw := img.raw[descOff : descOff+20]
		desc := importDescriptor{
			OriginalFirstThunk: binary.LittleEndian.Uint32(raw[0:4]),
			TimeDateStamp:      binary.LittleEndian.Uint32(raw[4:8]),
			ForwarderChain:     binary.LittleEndian.Uint32(raw[8:12]),
			NameRVA:            binary.LittleEndian.Uint32(raw[12:16]),
			FirstThunk:         binary.LittleEndian.Uint32(raw[16:20]),
		}
		if desc.NameRVA == 0 && desc.FirstThunk == 0 && desc.OriginalFirstThunk == 0 {
			break // null terminator descriptor
		}

		dllName, ok := img.readCString(desc.NameRVA)
		if !ok {
			img.MalformedImportDescriptors++
			continue
		}

		thunkRVA := desc.OriginalFirstThunk
		if thunkRVA == 0 {
			thunkRVA = desc.FirstThunk // no ILT; walk the IAT directly
		}

		slotRVA := desc.FirstThunk
		for j := 0; ; j++ {
			entryRVA := thunkRVA + uint32(j)*ptrSize
			slotVA := img.VA(slotRVA + uint32(j)*ptrSize)

			var entry uint64
			var ordinalFlag bool
			if img.IsPE32Plus {
				data, ok := img.BytesAtRVA(entryRVA, 8)
				if !ok {
					img.MalformedImportDescriptors++
					break
				}
				entry = binary.LittleEndian.Uint64(data)
				if entry == 0 {
					break
				}
				ordinalFlag = entry&ordinalFlagPE32Plus != 0
			} else {
				data, ok := img.BytesAtRVA(entryRVA, 4)
				if !ok {
					img.MalformedImportDescriptors++
					break
				}
				v := binary.LittleEndian.Uint32(data)
				if v == 0 {
					break
				}
				entry = uint64(v)
				ordinalFlag = v&ordinalFlagPE32 != 0
			}

			var symbol string
			if ordinalFlag {
				ordinal := entry & 0xFFFF
				symbol = ordinalSymbol(ordinal)
			} else {
				hintNameRVA := uint32(entry)
				name, ok := img.readHintName(hintNameRVA)
				if !ok {
					img.MalformedImportDescriptors++
					continue
				}
				symbol = name
			}

			img.ImportMap[slotVA] = ImportRef{DLL: dllName, Symbol: symbol}

			if !haveRange {
				minSlot, maxSlot = slotVA, slotVA+uint64(ptrSize)
				haveRange = true
			} else {
				if slotVA < minSlot {
					minSlot = slotVA
				}
				if slotVA+uint64(ptrSize) > maxSlot {
					maxSlot = slotVA + uint64(ptrSize)
				}
			}
		}
	}

	if haveRange {
		img.IATRange = [2]uint64{minSlot, maxSlot}
	}
	return nil
}

func ordinalSymbol(ordinal uint64) string {
	return "#" + uintToString(ordinal)
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// readCString reads a nul-terminated ASCII string at rva.
func (img *Image) readCString(rva uint32) (string, bool) {
	off, ok := img.RVAToFileOffset(rva)
	if !ok {
		return "", false
	}
	end := off
	for end < uint32(len(img.raw)) && img.raw[end] != 0 {
		end++
	}
	if end >= uint32(len(img.raw)) {
		return "", false
	}
	return string(img.raw[off:end]), true
}

// readHintName reads an IMAGE_IMPORT_BY_NAME (a 2-byte hint followed by a
// nul-terminated name) at rva.
func (img *Image) readHintName(rva uint32) (string, bool) {
	off, ok := img.RVAToFileOffset(rva)
	if !ok || uint64(off)+2 > uint64(len(img.raw)) {
		return "", false
	}
	return img.readCString(rva + 2)
}
