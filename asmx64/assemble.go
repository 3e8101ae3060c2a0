package asmx64

import (
	"strings"
)

var directiveMnemonics = map[string]bool{
	"db": true, "dw": true, "dd": true, "dq": true,
	"times": true, "align": true, "section": true,
}

var branchMnemonics = map[string]bool{
	"jmp": true, "je": true, "jne": true, "jg": true, "jge": true,
	"jl": true, "jle": true, "ja": true, "jae": true, "jb": true, "jbe": true,
}

// node is one assembled unit: a label definition, a directive, or an
// instruction. Only one of directive/ops is populated, matching which
// kind this is.
type node struct {
	stmt      statement
	isDirect  bool
	mnemonic  string
	ops       []operand
	dirValues []directiveValue
	dirCount  int64 // times count, or align boundary
	subNode   *node // the repeated body of a `times N ...` directive

	branchRel int // 1 or 4, only meaningful when this is a branch instruction
	size      int
	addr      uint64
}

type directiveValue struct {
	isString bool
	str      string
	isLabel  bool
	label    string
	imm      int64
}

// Assemble runs the two-pass Intel-syntax assembler over source: pass one
// settles label addresses and minimal branch-displacement widths by
// iterating size computation to a fixed point, pass two emits the final
// byte stream using the settled label table.
func Assemble(source string, opts Options) (*Result, error) {
	stmts, err := splitLines(source)
	if err != nil {
		return nil, err
	}

	// withCol fills in the statement's column on an AsmError raised without one.
	withCol := func(err error, col int) error {
		if ae, ok := err.(*AsmError); ok && ae.Col == 0 {
			ae.Col = col
		}
		return err
	}

	nodes := make([]*node, 0, len(stmts))
	for _, st := range stmts {
		n, err := buildNode(st)
		if err != nil {
			return nil, withCol(err, st.col)
		}
		nodes = append(nodes, n)
	}

	labels := map[string]uint64{}
	for i, n := range nodes {
		if n.stmt.label != "" {
			if _, dup := labels[n.stmt.label]; dup {
				return nil, &AsmError{Line: n.stmt.line, Col: n.stmt.col, Message: "duplicate label " + n.stmt.label}
			}
			labels[n.stmt.label] = 0 // placeholder, filled in below
		}
		if branchMnemonics[n.mnemonic] {
			nodes[i].branchRel = 1 // start optimistic: try the short form first
		}
	}

	// Fixed-point iteration: compute addresses assuming current branchRel
	// choices, then check whether any short-form branch's real
	// displacement no longer fits in a signed byte; if so widen it and
	// recompute. Each widened branch only ever grows, so this terminates
	// within len(nodes) iterations at worst.
	for iter := 0; ; iter++ {
		addr := opts.Origin
		for _, n := range nodes {
			n.addr = addr
			if n.stmt.label != "" {
				labels[n.stmt.label] = addr
			}
			sz, err := nodeSize(n, encCtx{addr: addr, labels: labels, sizeOnly: true, line: n.stmt.line, branchRel: n.branchRel, external: opts.ExternalLabels})
			if err != nil {
				return nil, withCol(err, n.stmt.col)
			}
			n.size = sz
			addr += uint64(sz)
		}

		changed := false
		for _, n := range nodes {
			if n.branchRel != 1 {
				continue
			}
			target, ok := labels[branchTargetLabel(n)]
			if !ok {
				continue
			}
			rel := int64(target) - int64(n.addr+2)
			if !fitsInt8(rel) {
				n.branchRel = 4
				changed = true
			}
		}
		if !changed {
			break
		}
		if iter > len(nodes)+4 {
			return nil, &AsmError{Message: "branch width resolution did not converge"}
		}
	}

	var out []byte
	for _, n := range nodes {
		b, err := nodeBytes(n, encCtx{addr: n.addr, labels: labels, line: n.stmt.line, branchRel: n.branchRel, external: opts.ExternalLabels})
		if err != nil {
			return nil, withCol(err, n.stmt.col)
		}
		opts.log("%04x: %s %v\n", n.addr, n.mnemonic, b)
		out = append(out, b...)
	}

	return &Result{Bytes: out, Labels: labels}, nil
}

func branchTargetLabel(n *node) string {
	if len(n.ops) == 0 || n.ops[0].kind != opLabelRef {
		return ""
	}
	return n.ops[0].label
}

func buildNode(st statement) (*node, error) {
	n := &node{stmt: st}
	if st.mnemonic == "" {
		return n, nil
	}
	if directiveMnemonics[st.mnemonic] {
		n.isDirect = true
		n.mnemonic = st.mnemonic
		return parseDirective(n, st)
	}
	n.mnemonic = st.mnemonic
	args := splitArgs(st.argsText)
	ops := make([]operand, 0, len(args))
	for _, a := range args {
		op, err := parseOperand(a, st.line)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	n.ops = ops
	return n, nil
}

func parseDirective(n *node, st statement) (*node, error) {
	switch st.mnemonic {
	case "db", "dw", "dd", "dq":
		vals, err := parseDirectiveValues(st.argsText, st.line)
		if err != nil {
			return nil, err
		}
		n.dirValues = vals
		return n, nil
	case "align":
		v, ok := parseImm(strings.TrimSpace(st.argsText))
		if !ok || v <= 0 {
			return nil, &AsmError{Line: st.line, Message: "align requires a positive constant"}
		}
		n.dirCount = v
		return n, nil
	case "section":
		return n, nil // accepted, flat-image layout means no actual section split
	case "times":
		fields := strings.SplitN(strings.TrimSpace(st.argsText), " ", 2)
		if len(fields) != 2 {
			return nil, &AsmError{Line: st.line, Message: "times requires a count and a directive"}
		}
		count, ok := parseImm(strings.TrimSpace(fields[0]))
		if !ok || count < 0 {
			return nil, &AsmError{Line: st.line, Message: "times requires a non-negative constant count"}
		}
		subMnemonic, subArgs := splitMnemonic(strings.TrimSpace(fields[1]))
		subMnemonic = strings.ToLower(subMnemonic)
		if !directiveMnemonics[subMnemonic] || subMnemonic == "times" {
			return nil, &AsmError{Line: st.line, Message: "times body must be a db/dw/dd/dq/align directive"}
		}
		sub, err := parseDirective(&node{stmt: statement{line: st.line, mnemonic: subMnemonic, argsText: subArgs}}, statement{line: st.line, mnemonic: subMnemonic, argsText: subArgs})
		if err != nil {
			return nil, err
		}
		sub.isDirect = true
		sub.mnemonic = subMnemonic
		n.dirCount = count
		n.subNode = sub
		return n, nil
	}
	return n, nil
}

func parseDirectiveValues(argsText string, line int) ([]directiveValue, error) {
	parts := splitArgs(argsText)
	vals := make([]directiveValue, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "\"") && strings.HasSuffix(p, "\"") && len(p) >= 2 {
			vals = append(vals, directiveValue{isString: true, str: unescapeString(p[1 : len(p)-1])})
			continue
		}
		if v, ok := parseImm(p); ok {
			vals = append(vals, directiveValue{imm: v})
			continue
		}
		if p == "" {
			return nil, &AsmError{Line: line, Message: "empty value in data directive"}
		}
		vals = append(vals, directiveValue{isLabel: true, label: p})
	}
	return vals, nil
}

func unescapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '0':
				b.WriteByte(0)
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func directiveWidth(mnemonic string) int {
	switch mnemonic {
	case "dw":
		return 2
	case "dd":
		return 4
	case "dq":
		return 8
	default:
		return 1
	}
}

func directiveSize(n *node) int {
	switch n.mnemonic {
	case "align":
		return 0 // depends on current address, computed in nodeSize
	case "section":
		return 0
	case "times":
		return int(n.dirCount) * directiveSize(n.subNode)
	default:
		width := directiveWidth(n.mnemonic)
		total := 0
		for _, v := range n.dirValues {
			if v.isString && width == 1 {
				total += len(v.str)
			} else {
				total += width
			}
		}
		return total
	}
}

func nodeSize(n *node, ctx encCtx) (int, error) {
	if n.mnemonic == "" {
		return 0, nil
	}
	if n.isDirect {
		if n.mnemonic == "align" {
			boundary := uint64(n.dirCount)
			if boundary == 0 {
				return 0, nil
			}
			rem := ctx.addr % boundary
			if rem == 0 {
				return 0, nil
			}
			return int(boundary - rem), nil
		}
		return directiveSize(n), nil
	}
	b, err := encodeInstruction(n.mnemonic, n.ops, ctx)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func nodeBytes(n *node, ctx encCtx) ([]byte, error) {
	if n.mnemonic == "" {
		return nil, nil
	}
	if n.isDirect {
		return directiveBytes(n, ctx)
	}
	return encodeInstruction(n.mnemonic, n.ops, ctx)
}

func directiveBytes(n *node, ctx encCtx) ([]byte, error) {
	switch n.mnemonic {
	case "align":
		pad := n.size
		return make([]byte, pad), nil
	case "section":
		return nil, nil
	case "times":
		var out []byte
		for i := int64(0); i < n.dirCount; i++ {
			b, err := directiveBytes(n.subNode, ctx)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil
	default:
		width := directiveWidth(n.mnemonic)
		var out []byte
		for _, v := range n.dirValues {
			switch {
			case v.isString && width == 1:
				out = append(out, []byte(v.str)...)
			case v.isLabel:
				target, err := ctx.resolveLabel(v.label)
				if err != nil {
					return nil, err
				}
				out = append(out, immBytes(int64(target), width)...)
			default:
				out = append(out, immBytes(v.imm, width)...)
			}
		}
		return out, nil
	}
}
