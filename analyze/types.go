// Package analyze implements variable/type inference, calling-convention
// detection and API-call recognition (C6): turning a cfg.Function into an
// AnalyzedFunction ready for rendering.
package analyze

import (
	"fmt"

	"github.com/xyproto/pe67/cfg"
	"github.com/xyproto/pe67/peimage"
)

// VarKind distinguishes a recovered stack local from a recovered parameter.
type VarKind int

const (
	VarLocal VarKind = iota
	VarParam
	// VarGlobal marks a Var recovered from a program-wide data reference
	// rather than a stack frame slot; only VA is meaningful, BaseReg/Offset
	// stay zero.
	VarGlobal
)

// TypeHint is the best guess at a Var's or value's type, never a hard
// requirement — renderers fall back to a generic sized integer when it's
// Unknown.
type TypeHint int

const (
	TypeUnknown TypeHint = iota
	TypeSigned
	TypeUnsigned
	TypePointer
	TypeFloat
	TypeString
	TypeStruct
)

func (t TypeHint) String() string {
	switch t {
	case TypeSigned:
		return "signed"
	case TypeUnsigned:
		return "unsigned"
	case TypePointer:
		return "pointer"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Var is one recovered stack-frame slot, keyed by its (base register,
// displacement) pair per spec.md §4.6, or -- when Kind is VarGlobal -- a
// program-wide datum keyed by its absolute VA instead.
type Var struct {
	Kind     VarKind
	Name     string
	BaseReg  string
	Offset   int32
	VA       uint64
	SizeBits int
	Type     TypeHint
}

// VarKey identifies a Var's storage location uniquely within a function.
type VarKey struct {
	BaseReg string
	Offset  int32
}

// CallingConvention is the detected argument-passing/stack-cleanup scheme.
type CallingConvention int

const (
	ConventionUnknown CallingConvention = iota
	ConventionCdecl
	ConventionStdcall
	ConventionWin64
	ConventionSysV
)

func (c CallingConvention) String() string {
	switch c {
	case ConventionCdecl:
		return "cdecl"
	case ConventionStdcall:
		return "stdcall"
	case ConventionWin64:
		return "win64"
	case ConventionSysV:
		return "sysv"
	default:
		return "unknown"
	}
}

// ApiCall records a call instruction whose target resolved to an import.
type ApiCall struct {
	CallSiteVA uint64
	DLL        string
	Symbol     string
	ParamHint  *Signature // nil if the catalog has no entry
}

// AnalyzedFunction wraps a cfg.Function with everything C6 recovers about
// it.
type AnalyzedFunction struct {
	*cfg.Function
	Vars       map[VarKey]*Var
	Convention CallingConvention
	ApiCalls   []ApiCall
	Warnings   []string
	Structs    []StructDef
}

// varName renders the canonical local_<hex>/param_<n> name for a recovered
// Var, per spec.md §4.6.
func varName(kind VarKind, offset int32, paramIndex int) string {
	if kind == VarParam {
		return fmt.Sprintf("param_%d", paramIndex)
	}
	if offset < 0 {
		return fmt.Sprintf("local_%x", uint32(-offset))
	}
	return fmt.Sprintf("local_%x", uint32(offset))
}

// StringLit is one recognized string literal referenced somewhere in the
// program, per spec.md §3's `strings:[{va, encoding, value}]`.
type StringLit struct {
	VA       uint64
	Encoding peimage.StringEncoding
	Value    string
}

// StructField is one member of a recovered struct cluster, named by its
// offset from the cluster's base.
type StructField struct {
	Offset   int32
	SizeBits int
	Type     TypeHint
}

// StructDef is a run of 3+ tightly packed same-base-register accesses
// clusterStructs groups together, per spec.md §4.6's "struct/array from
// clustered accesses" rule. BaseReg together with the first field's Offset
// identifies where the struct starts; a global struct instead carries a VA
// and an empty BaseReg.
type StructDef struct {
	BaseReg string
	VA      uint64
	Fields  []StructField
}

// XrefKind classifies one entry of AnalyzedProgram.Xrefs.
type XrefKind int

const (
	XrefData XrefKind = iota
	XrefCall
	XrefJump
)

func (k XrefKind) String() string {
	switch k {
	case XrefCall:
		return "call"
	case XrefJump:
		return "jump"
	default:
		return "data"
	}
}

// Xref is one cross-reference from an instruction's VA to the address it
// touches, per spec.md §3's `xrefs:[{from_va,to_va,kind}]`. Invariant:
// FromVA always lies inside some AnalyzedProgram.Functions entry's blocks;
// ToVA always resolves via peimage.Image.Resolve to something other than
// ResolvedUnknown.
type Xref struct {
	FromVA uint64
	ToVA   uint64
	Kind   XrefKind
}

// AnalyzedProgram is the final assembled representation C7 renders from,
// and the library surface an external TUI or scripting host (spec.md §2)
// queries directly rather than re-deriving from Functions.
type AnalyzedProgram struct {
	Img       *peimage.Image
	Functions []*AnalyzedFunction
	Globals   []*Var
	Strings   []StringLit
	Structs   []StructDef
	Xrefs     []Xref
}
