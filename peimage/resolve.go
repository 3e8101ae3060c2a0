package peimage

import "golang.org/x/text/encoding/unicode"

// ResolvedKind enumerates spec.md §4.1's Resolved sum type.
type ResolvedKind int

const (
	ResolvedUnknown ResolvedKind = iota
	ResolvedImport
	ResolvedExport
	ResolvedIatSlot
	ResolvedSection
	ResolvedString
)

// StringEncoding identifies how a resolved string run was encoded in the
// image.
type StringEncoding int

const (
	EncodingASCII StringEncoding = iota
	EncodingUTF16LE
)

// Resolved is the result of resolving a VA against an Image, per spec.md
// §4.1's `resolve(va) -> Resolved` contract.
type Resolved struct {
	Kind ResolvedKind

	// ResolvedImport
	DLL    string
	Symbol string

	// ResolvedExport
	ExportName string

	// ResolvedSection
	SectionName   string
	SectionOffset uint32

	// ResolvedString
	StringValue    string
	StringEncoding StringEncoding
}

// Resolve tries, in order: import slot, exact export, IAT-range-but-unknown,
// then for a VA inside a section a plausible string run first and the plain
// section match otherwise, else Unknown.
func (img *Image) Resolve(va uint64) Resolved {
	if ref, ok := img.ImportMap[va]; ok {
		return Resolved{Kind: ResolvedImport, DLL: ref.DLL, Symbol: ref.Symbol}
	}
	if name, ok := img.ExportMap[va]; ok {
		return Resolved{Kind: ResolvedExport, ExportName: name}
	}
	if img.IATRange[1] > img.IATRange[0] && va >= img.IATRange[0] && va < img.IATRange[1] {
		return Resolved{Kind: ResolvedIatSlot}
	}
	rva, ok := img.RVA(va)
	if !ok {
		return Resolved{Kind: ResolvedUnknown}
	}
	if s := img.SectionContainingRVA(rva); s != nil {
		if value, enc, ok := img.scanStringAt(rva); ok {
			return Resolved{Kind: ResolvedString, StringValue: value, StringEncoding: enc}
		}
		return Resolved{Kind: ResolvedSection, SectionName: s.Name, SectionOffset: rva - s.VAddr}
	}
	return Resolved{Kind: ResolvedUnknown}
}

// scanStringAt looks for a plausible nul-terminated ASCII or UTF-16LE run
// starting at rva: length >= 4, every code point printable. Only consulted
// for .rdata/.data-like sections per spec.md §4.1.
func (img *Image) scanStringAt(rva uint32) (value string, enc StringEncoding, ok bool) {
	s := img.SectionContainingRVA(rva)
	if s == nil || (!s.IsData && s.IsCode) {
		return "", 0, false
	}

	off, ok := img.RVAToFileOffset(rva)
	if !ok {
		return "", 0, false
	}
	raw := img.raw

	if v, ok := tryASCIIRun(raw, off); ok {
		return v, EncodingASCII, true
	}
	if v, ok := tryUTF16LERun(raw, off); ok {
		return v, EncodingUTF16LE, true
	}
	return "", 0, false
}

func isPrintableASCII(b byte) bool { return b >= 0x20 && b < 0x7F }

func tryASCIIRun(raw []byte, off uint32) (string, bool) {
	end := off
	for end < uint32(len(raw)) && raw[end] != 0 {
		if !isPrintableASCII(raw[end]) {
			return "", false
		}
		end++
	}
	if end == off || end-off < 4 || end >= uint32(len(raw)) {
		return "", false
	}
	return string(raw[off:end]), true
}

// tryUTF16LERun decodes a little-endian UTF-16 run terminated by a 0x0000
// code unit, using x/text/encoding/unicode's transcoder rather than hand-
// rolling UTF-16 surrogate handling.
func tryUTF16LERun(raw []byte, off uint32) (string, bool) {
	i := off
	for {
		if uint64(i)+2 > uint64(len(raw)) {
			return "", false
		}
		if raw[i] == 0 && raw[i+1] == 0 {
			break
		}
		i += 2
	}
	if i == off || (i-off)/2 < 4 {
		return "", false
	}

	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	decoded, err := dec.Bytes(raw[off:i])
	if err != nil {
		return "", false
	}

	value := string(decoded)
	for _, r := range value {
		if r < 0x20 || r == 0x7F {
			return "", false
		}
	}
	return value, true
}
