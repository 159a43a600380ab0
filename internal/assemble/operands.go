package assemble

import (
	"fmt"
	"strings"

	"github.com/csx64/csx64-go/internal/cpu"
	"github.com/csx64/csx64-go/internal/expr"
)

type operandKind int

const (
	opReg operandKind = iota
	opMem
	opImm
)

// operand is a single parsed instruction argument. Memory operands are
// always a flat absolute address expression - CSX64's simplified addressing
// model; see DESIGN.md for why base+index*scale+disp addressing was not
// carried over from the spec's illustrative encoding tables.
type operand struct {
	kind operandKind
	reg  regRef
	size cpu.Sizecode // explicit or inferred width; meaningful for mem/imm too
	expr *expr.Expr   // address expression (mem) or value expression (imm)
}

var sizeKeywords = map[string]cpu.Sizecode{
	"byte": cpu.Size8, "word": cpu.Size16, "dword": cpu.Size32, "qword": cpu.Size64,
}

// parseOperand parses a single comma-split argument. sizeHint supplies a
// fallback width (from a sibling register operand) when the text carries no
// explicit size keyword; pass -1 when no hint is available.
func (a *Assembler) parseOperand(text string, sizeHint int) (operand, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return operand{}, fmt.Errorf("empty operand")
	}

	lower := strings.ToLower(text)
	if r, ok := lookupRegister(lower); ok {
		return operand{kind: opReg, reg: r, size: r.size}, nil
	}

	size := cpu.Sizecode(0)
	haveSize := false
	rest := text
	for kw, sz := range sizeKeywords {
		if strings.HasPrefix(lower, kw) {
			trimmed := strings.TrimSpace(text[len(kw):])
			if strings.HasPrefix(trimmed, "[") {
				size = sz
				haveSize = true
				rest = trimmed
				break
			}
		}
	}

	if strings.HasPrefix(rest, "[") {
		if !strings.HasSuffix(rest, "]") {
			return operand{}, fmt.Errorf("unterminated memory operand: %q", text)
		}
		inner := rest[1 : len(rest)-1]
		e, err := a.parseExpr(inner)
		if err != nil {
			return operand{}, fmt.Errorf("memory operand %q: %w", text, err)
		}
		if !haveSize {
			if sizeHint < 0 {
				return operand{}, fmt.Errorf("memory operand %q needs an explicit size (byte/word/dword/qword)", text)
			}
			size = cpu.Sizecode(sizeHint)
		}
		return operand{kind: opMem, size: size, expr: e}, nil
	}

	e, err := a.parseExpr(text)
	if err != nil {
		return operand{}, fmt.Errorf("operand %q: %w", text, err)
	}
	return operand{kind: opImm, expr: e}, nil
}

// splitArgs splits a comma-separated argument list, ignoring commas nested
// inside [...] / (...) or quoted literals.
func splitArgs(s string) []string {
	var args []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote && (i == 0 || s[i-1] != '\\') {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == ',' && depth == 0:
			args = append(args, s[start:i])
			start = i + 1
		}
	}
	if start <= len(s) {
		tail := strings.TrimSpace(s[start:])
		if tail != "" || len(args) > 0 {
			args = append(args, s[start:])
		}
	}
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	return args
}
