package analyze

import (
	"sort"

	"github.com/samber/lo"
	"github.com/xyproto/pe67/cfg"
	"github.com/xyproto/pe67/disasm"
)

var frameBases = map[string]bool{"rbp": true, "ebp": true}
var stackBases = map[string]bool{"rsp": true, "esp": true}

// RecoverVars walks every instruction of fn and classifies each distinct
// `rbp`/`rsp`-relative memory operand into a local or parameter, per spec.md
// §4.6. Offsets are accumulated the way ajroetker-goat's parser walks a
// prologue building an `lo.Tuple2[int, Parameter]` stack: here the stack
// holds (offset, VarKey) pairs, sorted by offset, which also gives
// deterministic param numbering.
func RecoverVars(fn *cfg.Function) map[VarKey]*Var {
	vars := make(map[VarKey]*Var)
	var order []lo.Tuple2[int32, VarKey]

	for _, va := range fn.Order {
		b := fn.Blocks[va]
		for _, in := range b.Instructions {
			for _, op := range in.Operands {
				if op.Kind != disasm.OperandMem || op.Mem.RipRelative {
					continue
				}
				key, kind, ok := classifyMem(op.Mem)
				if !ok {
					continue
				}
				if _, exists := vars[key]; exists {
					continue
				}
				width := op.Mem.WidthBits
				if width == 0 {
					width = 32
				}
				v := &Var{Kind: kind, BaseReg: key.BaseReg, Offset: key.Offset, SizeBits: width}
				vars[key] = v
				order = append(order, lo.Tuple2[int32, VarKey]{A: key.Offset, B: key})
			}
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].A < order[j].A })
	paramIndex := 0
	for _, entry := range order {
		v := vars[entry.B]
		if v.Kind == VarParam {
			paramIndex++
			v.Name = varName(VarParam, v.Offset, paramIndex)
		} else {
			v.Name = varName(VarLocal, v.Offset, 0)
		}
	}
	return vars
}

// classifyMem decides whether a memory operand names a recoverable stack
// slot and, if so, whether it is a local or a parameter.
func classifyMem(m disasm.MemOperand) (VarKey, VarKind, bool) {
	if m.IndexReg != "" {
		return VarKey{}, 0, false // indexed stack access isn't a single named slot
	}
	if frameBases[m.BaseReg] {
		key := VarKey{BaseReg: m.BaseReg, Offset: m.Disp}
		if m.Disp >= 16 {
			return key, VarParam, true
		}
		return key, VarLocal, true
	}
	if stackBases[m.BaseReg] {
		if m.Disp < 0 {
			return VarKey{}, 0, false
		}
		return VarKey{BaseReg: m.BaseReg, Offset: m.Disp}, VarLocal, true
	}
	return VarKey{}, 0, false
}
