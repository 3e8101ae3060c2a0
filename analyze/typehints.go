package analyze

import (
	"sort"

	"github.com/xyproto/pe67/cfg"
	"github.com/xyproto/pe67/disasm"
)

var unsignedJcc = map[string]bool{"ja": true, "jae": true, "jb": true, "jbe": true}
var signedJcc = map[string]bool{"jg": true, "jge": true, "jl": true, "jle": true}

// InferTypes refines each recovered Var's TypeHint per spec.md §4.6:
// signed/unsigned from the comparison predicate guarding it, pointer from a
// load-then-dereference dataflow pattern, float from xmm operand use, and
// struct/array from clustered same-base accesses. Applied after
// RecoverVars; vars with no signal stay TypeUnknown. Returns the StructDefs
// the clustering pass found, for AnalyzedProgram.Structs.
func InferTypes(fn *cfg.Function, vars map[VarKey]*Var) []StructDef {
	for _, va := range fn.Order {
		b := fn.Blocks[va]
		inferSignedness(b, vars)
		inferPointerDeref(b, vars)
		inferFloat(b, vars)
	}
	return clusterStructs(vars)
}

// inferSignedness looks at the block's terminal Jcc (its comparison
// predicate) and tags every Var referenced by an earlier cmp/test in the
// same block accordingly.
func inferSignedness(b *cfg.Block, vars map[VarKey]*Var) {
	if len(b.Instructions) == 0 {
		return
	}
	last := b.Instructions[len(b.Instructions)-1]
	var unsigned, signed bool
	if unsignedJcc[last.Mnemonic] {
		unsigned = true
	} else if signedJcc[last.Mnemonic] {
		signed = true
	}
	if !unsigned && !signed {
		return
	}
	for _, in := range b.Instructions {
		if in.Mnemonic != "cmp" && in.Mnemonic != "test" {
			continue
		}
		for _, op := range in.Operands {
			key, ok := memKey(op)
			if !ok {
				continue
			}
			v, ok := vars[key]
			if !ok || v.Type != TypeUnknown {
				continue
			}
			if unsigned {
				v.Type = TypeUnsigned
			} else if signed {
				v.Type = TypeSigned
			}
		}
	}
}

// inferPointerDeref tracks, within one block, which registers currently
// hold a value freshly loaded from a recovered Var; if that register is
// later used as a memory operand's base (a dereference), the source Var is
// tagged TypePointer.
func inferPointerDeref(b *cfg.Block, vars map[VarKey]*Var) {
	regHolds := make(map[string]VarKey)
	for _, in := range b.Instructions {
		if in.Mnemonic == "mov" && len(in.Operands) == 2 &&
			in.Operands[0].Kind == disasm.OperandReg {
			if key, ok := memKey(in.Operands[1]); ok {
				regHolds[in.Operands[0].Reg] = key
			} else {
				delete(regHolds, in.Operands[0].Reg)
			}
		}
		for _, op := range in.Operands {
			if op.Kind != disasm.OperandMem || op.Mem.BaseReg == "" {
				continue
			}
			if key, ok := regHolds[op.Mem.BaseReg]; ok {
				if v, ok := vars[key]; ok {
					v.Type = TypePointer
				}
			}
		}
	}
}

func inferFloat(b *cfg.Block, vars map[VarKey]*Var) {
	for _, in := range b.Instructions {
		hasXMM := false
		for _, op := range in.Operands {
			if op.Kind == disasm.OperandReg && len(op.Reg) >= 3 && op.Reg[:3] == "xmm" {
				hasXMM = true
			}
		}
		if !hasXMM {
			continue
		}
		for _, op := range in.Operands {
			if key, ok := memKey(op); ok {
				if v, ok := vars[key]; ok && v.Type == TypeUnknown {
					v.Type = TypeFloat
				}
			}
		}
	}
}

func memKey(op disasm.Operand) (VarKey, bool) {
	if op.Kind != disasm.OperandMem || op.Mem.RipRelative || op.Mem.IndexReg != "" {
		return VarKey{}, false
	}
	if !frameBases[op.Mem.BaseReg] && !stackBases[op.Mem.BaseReg] {
		return VarKey{}, false
	}
	return VarKey{BaseReg: op.Mem.BaseReg, Offset: op.Mem.Disp}, true
}

// clusterStructs marks groups of 3+ still-untyped vars sharing a base
// register with tightly packed offsets (<=8 bytes apart) as struct members,
// per spec.md §4.6's "struct/array from clustered accesses" rule, and
// returns one StructDef per qualifying run.
func clusterStructs(vars map[VarKey]*Var) []StructDef {
	byBase := make(map[string][]*Var)
	for k, v := range vars {
		if v.Type != TypeUnknown {
			continue
		}
		byBase[k.BaseReg] = append(byBase[k.BaseReg], v)
	}
	var structs []StructDef
	var bases []string
	for base := range byBase {
		bases = append(bases, base)
	}
	sort.Strings(bases)
	for _, base := range bases {
		group := byBase[base]
		sort.Slice(group, func(i, j int) bool { return group[i].Offset < group[j].Offset })
		run := 1
		for i := 1; i < len(group); i++ {
			if group[i].Offset-group[i-1].Offset <= 8 {
				run++
			} else {
				if run >= 3 {
					structs = append(structs, tagStruct(group[i-run:i]))
				}
				run = 1
			}
		}
		if run >= 3 {
			structs = append(structs, tagStruct(group[len(group)-run:]))
		}
	}
	return structs
}

func tagStruct(vs []*Var) StructDef {
	def := StructDef{BaseReg: vs[0].BaseReg}
	for _, v := range vs {
		v.Type = TypeStruct
		def.Fields = append(def.Fields, StructField{Offset: v.Offset, SizeBits: v.SizeBits, Type: TypeStruct})
	}
	return def
}
