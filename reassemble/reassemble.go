// Package reassemble implements C10: replacing a preserved PE image's
// `.text` bytes with freshly assembled machine code while leaving every
// other byte -- headers, import/export tables, resources, relocations,
// other sections -- untouched.
//
// Byte layout (DOS/COFF/Optional header field offsets, `.text`'s file
// range) is grounded on xyproto-vibe67/pe.go's WritePEHeaderWithImports,
// which already writes this exact PE32+ shape for freshly built images;
// this package reads the same fields back out of an existing image
// instead of writing them fresh.
package reassemble

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/pe67/peimage"
)

// ErrorKind enumerates spec.md §4.10's ReasmError variants.
type ErrorKind int

const (
	// TextTooLarge: the new .text bytes don't fit in the preserved
	// section's file-size allotment.
	TextTooLarge ErrorKind = iota
	// NoTextSection: the preserved image has no section named .text.
	NoTextSection
	// MalformedSourcePe: the preserved bytes aren't a parseable PE image.
	MalformedSourcePe
)

// ReasmError carries which way reassembly failed, plus the old/new sizes
// for TextTooLarge.
type ReasmError struct {
	Kind    ErrorKind
	OldSize uint32
	NewSize int
	Detail  string
}

func (e *ReasmError) Error() string {
	switch e.Kind {
	case TextTooLarge:
		return fmt.Sprintf("reassemble: new .text (%d bytes) exceeds preserved .text capacity (%d bytes)", e.NewSize, e.OldSize)
	case NoTextSection:
		return "reassemble: preserved image has no .text section"
	case MalformedSourcePe:
		return fmt.Sprintf("reassemble: preserved bytes aren't a valid PE image: %s", e.Detail)
	default:
		return "reassemble: unknown error"
	}
}

// Options configures a Reassemble call.
type Options struct {
	// RecomputeChecksum, when set, rewrites the Optional Header's
	// CheckSum field using the standard PE checksum algorithm. Off by
	// default, matching most loaders (including Windows' own loader for
	// non-driver, non-DLL executables) not validating it at load time.
	RecomputeChecksum bool
}

// Reassemble clones preserved and overwrites its .text section's file
// bytes with newText, padding any leftover space up to the section's
// original file size with 0x90 (NOP) rather than shrinking the section.
// Every other byte of the image -- including the section header itself --
// is left exactly as it was in preserved.
func Reassemble(preserved []byte, newText []byte, opts Options) ([]byte, error) {
	img, err := peimage.Parse(preserved, true)
	if err != nil {
		return nil, &ReasmError{Kind: MalformedSourcePe, Detail: err.Error()}
	}

	text := img.SectionByName(".text")
	if text == nil {
		return nil, &ReasmError{Kind: NoTextSection}
	}

	if uint32(len(newText)) > text.FSize {
		return nil, &ReasmError{Kind: TextTooLarge, OldSize: text.FSize, NewSize: len(newText)}
	}

	out := make([]byte, len(preserved))
	copy(out, preserved)

	start := text.FOff
	copy(out[start:start+uint32(len(newText))], newText)
	for i := uint32(len(newText)); i < text.FSize; i++ {
		out[start+i] = 0x90
	}

	if opts.RecomputeChecksum {
		if err := patchChecksum(out); err != nil {
			return nil, &ReasmError{Kind: MalformedSourcePe, Detail: err.Error()}
		}
	}

	return out, nil
}

// checksumFieldOffset locates the Optional Header's CheckSum field: PE
// signature is at e_lfanew, the COFF header (20 bytes) follows, and
// CheckSum sits at offset 64 into the Optional Header in both PE32 and
// PE32+ layouts.
func checksumFieldOffset(raw []byte) (uint32, error) {
	if len(raw) < 0x40 {
		return 0, fmt.Errorf("image too small to carry a PE header")
	}
	lfanew := binary.LittleEndian.Uint32(raw[0x3C:0x40])
	off := lfanew + 4 + 20 + 64
	if uint64(off)+4 > uint64(len(raw)) {
		return 0, fmt.Errorf("checksum field falls outside the image")
	}
	return off, nil
}

func patchChecksum(raw []byte) error {
	off, err := checksumFieldOffset(raw)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(raw[off:off+4], 0)
	sum := peChecksum(raw)
	binary.LittleEndian.PutUint32(raw[off:off+4], sum)
	return nil
}
