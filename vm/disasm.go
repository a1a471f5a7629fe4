package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program and every
// function reachable from its constants.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	seen := map[*Code]bool{}
	disassembleClause(&sb, "program", p.Root)
	disassembleNested(&sb, p.Root.Constants, seen)
	return sb.String()
}

// Disassemble returns a listing of every clause of the code.
func (c *Code) Disassemble() string {
	var sb strings.Builder
	for i, cl := range c.Clauses {
		disassembleClause(&sb, fmt.Sprintf("%s/%d", nameOr(c.Name), i), cl)
	}
	return sb.String()
}

func disassembleNested(sb *strings.Builder, constants []Value, seen map[*Code]bool) {
	for _, k := range constants {
		f := k.Function()
		if f == nil || f.code == nil || seen[f.code] {
			continue
		}
		seen[f.code] = true
		for i, cl := range f.code.Clauses {
			sb.WriteString("\n")
			disassembleClause(sb, fmt.Sprintf("%s/%d", nameOr(f.code.Name), i), cl)
		}
		for _, cl := range f.code.Clauses {
			disassembleNested(sb, cl.Constants, seen)
		}
	}
}

func nameOr(name string) string {
	if name == "" {
		return "anonymous"
	}
	return name
}

func disassembleClause(sb *strings.Builder, name string, cl *Clause) {
	fmt.Fprintf(sb, "; === %s ===\n", name)
	fmt.Fprintf(sb, "; Arity: %s  Frame: %d registers\n", cl.Arity, cl.FrameSize)

	if len(cl.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range cl.Constants {
			display := k.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			display = strings.ReplaceAll(display, "\n", "\\n")
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, display)
		}
	}

	depth := 0
	for ip, in := range cl.Instructions {
		switch in.Op {
		case OpElse, OpEndIf:
			if depth > 0 {
				depth--
			}
		}
		fmt.Fprintf(sb, "%04d  %s%s\n", ip, strings.Repeat("  ", depth), in)
		switch in.Op {
		case OpIf, OpElse:
			depth++
		}
	}
}
