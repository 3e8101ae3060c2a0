// Package asmx64 implements the built-in assembler (C8): a two-pass
// Intel-syntax x86-64 assembler producing the machine code C7's rendered
// assembly (after C9 relocation) is turned back into for C10's reassembly.
package asmx64

import "fmt"

// AsmError carries a line/column-located syntax or semantic failure, per
// spec.md §4.8.
type AsmError struct {
	Line    int
	Col     int
	Message string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Message)
}

// Options configures an assemble run.
type Options struct {
	// Origin is the VA the first byte of output is assumed to load at;
	// label/rip-relative math is all relative to it.
	Origin uint64
	// Verbose mirrors the teacher's VerboseMode switch: when set, each
	// encoded instruction is echoed to the caller-supplied Log function.
	Verbose bool
	Log     func(format string, args ...any)
	// ExternalLabels resolves a name this source never defines locally --
	// C9's relocator wires its data_<hex>/import_<hex>/string_<hex>
	// resolution through here, so a forward reference to the preserved
	// image resolves with the same address-aware math as a local label.
	ExternalLabels func(name string) (uint64, bool)
}

// Result is the assembled output plus the resolved label table, needed by
// callers (C9) that must patch symbolic references against known VAs.
type Result struct {
	Bytes  []byte
	Labels map[string]uint64
}

func (o Options) log(format string, args ...any) {
	if o.Verbose && o.Log != nil {
		o.Log(format, args...)
	}
}
