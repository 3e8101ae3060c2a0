package peimage

import (
	"fmt"
	"sort"
	"strings"
)

// DumpInfo renders the plain-text `<name>_pe_info.txt` dump of spec.md §6:
// image base, entry, machine, subsystem, section table, import list, export
// list.
func (img *Image) DumpInfo() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Image Base:    0x%X\n", img.ImageBase)
	fmt.Fprintf(&b, "Entry Point:   0x%X (RVA 0x%X)\n", img.VA(img.EntryPointRVA), img.EntryPointRVA)
	fmt.Fprintf(&b, "Machine:       %s\n", machineName(img.Machine))
	fmt.Fprintf(&b, "Format:        %s\n", formatName(img.IsPE32Plus))
	fmt.Fprintf(&b, "Subsystem:     %s\n", subsystemName(img.Subsystem))
	fmt.Fprintf(&b, "Sections:      %d\n\n", len(img.Sections))

	fmt.Fprintln(&b, "Section Table:")
	for _, s := range img.Sections {
		fmt.Fprintf(&b, "  %-8s vaddr=0x%08X vsize=0x%08X foff=0x%08X fsize=0x%08X code=%v data=%v\n",
			s.Name, s.VAddr, s.VSize, s.FOff, s.FSize, s.IsCode, s.IsData)
	}

	fmt.Fprintf(&b, "\nImports (%d):\n", len(img.ImportMap))
	slots := make([]uint64, 0, len(img.ImportMap))
	for va := range img.ImportMap {
		slots = append(slots, va)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	for _, va := range slots {
		ref := img.ImportMap[va]
		fmt.Fprintf(&b, "  0x%X  %s!%s\n", va, ref.DLL, ref.Symbol)
	}

	fmt.Fprintf(&b, "\nExports (%d):\n", len(img.ExportMap))
	exportVAs := make([]uint64, 0, len(img.ExportMap))
	for va := range img.ExportMap {
		exportVAs = append(exportVAs, va)
	}
	sort.Slice(exportVAs, func(i, j int) bool { return exportVAs[i] < exportVAs[j] })
	for _, va := range exportVAs {
		fmt.Fprintf(&b, "  0x%X  %s\n", va, img.ExportMap[va])
	}

	if img.MalformedImportDescriptors > 0 {
		fmt.Fprintf(&b, "\nWarnings: %d malformed import/export table entries skipped\n", img.MalformedImportDescriptors)
	}

	return b.String()
}

func machineName(m uint16) string {
	switch m {
	case machineAMD64:
		return "x86-64 (0x8664)"
	case machineI386:
		return "i386 (0x014C)"
	default:
		return fmt.Sprintf("unknown (0x%04X)", m)
	}
}

func formatName(isPlus bool) string {
	if isPlus {
		return "PE32+"
	}
	return "PE32"
}

func subsystemName(s uint16) string {
	switch s {
	case 1:
		return "Native"
	case 2:
		return "Windows GUI"
	case 3:
		return "Windows CUI"
	default:
		return fmt.Sprintf("unknown (%d)", s)
	}
}
