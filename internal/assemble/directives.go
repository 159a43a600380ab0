package assemble

import (
	"fmt"
	"os"
	"strings"

	"github.com/csx64/csx64-go/internal/expr"
	"github.com/csx64/csx64-go/internal/objfile"
)

type directiveFunc func(a *Assembler, args string) error

var directiveTable = map[string]directiveFunc{
	"GLOBAL":        (*Assembler).dirGlobal,
	"EXTERN":        (*Assembler).dirExtern,
	"SEGMENT":       (*Assembler).dirSegment,
	"SECTION":       (*Assembler).dirSegment,
	"ALIGN":         (*Assembler).dirAlign,
	"STATIC_ASSERT": (*Assembler).dirStaticAssert,
	"INCBIN":        (*Assembler).dirIncbin,
}

// elemSizes maps the B/W/D/Q/X/Y/Z suffix family (shared by DB.../RESB...
// and ALIGNB...) to its width in bytes.
var elemSizes = map[byte]int{'B': 1, 'W': 2, 'D': 4, 'Q': 8, 'X': 16, 'Y': 32, 'Z': 64}

func init() {
	for suffix, size := range elemSizes {
		sz := size
		directiveTable["D"+string(suffix)] = func(a *Assembler, args string) error { return a.dirData(args, sz) }
		directiveTable["RES"+string(suffix)] = func(a *Assembler, args string) error { return a.dirReserve(args, sz) }
		directiveTable["ALIGN"+string(suffix)] = func(a *Assembler, args string) error { return a.dirAlignTo(sz) }
	}
}

func (a *Assembler) dirGlobal(args string) error {
	for _, name := range splitArgs(args) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if a.obj.Externs[name] {
			return fmt.Errorf("GLOBAL %q: already declared EXTERN", name)
		}
		a.obj.Globals[name] = true
	}
	return nil
}

func (a *Assembler) dirExtern(args string) error {
	for _, name := range splitArgs(args) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if a.obj.Globals[name] {
			return fmt.Errorf("EXTERN %q: already declared GLOBAL", name)
		}
		if _, ok := a.obj.Symbols[name]; ok {
			return fmt.Errorf("EXTERN %q: already defined locally", name)
		}
		a.obj.Externs[name] = true
	}
	return nil
}

func (a *Assembler) dirSegment(args string) error {
	name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(args), ".")))
	var idx int
	var isBSS bool
	switch name {
	case "text":
		idx = int(objfile.Text)
	case "rodata":
		idx = int(objfile.Rodata)
	case "data":
		idx = int(objfile.Data)
	case "bss":
		idx, isBSS = 3, true
	default:
		return fmt.Errorf("unknown segment %q", args)
	}
	if a.declared[idx] {
		return fmt.Errorf("segment %q already declared", name)
	}
	a.declared[idx] = true
	a.inBSS = isBSS
	if !isBSS {
		a.seg = objfile.Segment(idx)
	}
	return nil
}

func (a *Assembler) dirAlign(args string) error {
	n, err := a.parseIntLiteral(args)
	if err != nil {
		return fmt.Errorf("ALIGN: %w", err)
	}
	return a.dirAlignTo(int(n))
}

func (a *Assembler) dirAlignTo(n int) error {
	if n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("alignment %d is not a power of two", n)
	}
	if a.inBSS {
		if rem := a.obj.BssLen % uint64(n); rem != 0 {
			a.obj.BssLen += uint64(n) - rem
		}
		if uint32(n) > a.obj.Align[3] {
			a.obj.Align[3] = uint32(n)
		}
		return nil
	}
	pos := len(a.obj.Segments[a.seg])
	if rem := pos % n; rem != 0 {
		a.obj.Segments[a.seg] = append(a.obj.Segments[a.seg], make([]byte, n-rem)...)
	}
	if uint32(n) > a.obj.Align[a.seg] {
		a.obj.Align[a.seg] = uint32(n)
	}
	return nil
}

// dirData implements DB/DW/DD/DQ/DX/DY/DZ: a comma-separated list of string
// literals (written per-byte, zero-padded to elemSize) or expressions
// (written as an elemSize-byte value, deferred as a Hole if not yet
// computable). Widths beyond 8 bytes cannot carry an expression operand -
// Expr only represents a 64-bit int or a float64 - so only string/raw
// literals are accepted there; see DESIGN.md.
func (a *Assembler) dirData(args string, elemSize int) error {
	for _, raw := range splitArgs(args) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if isStringLiteral(raw) {
			str, err := unescapeStringLiteral(raw)
			if err != nil {
				return err
			}
			for _, c := range []byte(str) {
				if err := a.emitValue(expr.NewInt(uint64(c)), 1); err != nil {
					return err
				}
				for i := 1; i < elemSize; i++ {
					if err := a.emitValue(expr.NewInt(0), 1); err != nil {
						return err
					}
				}
			}
			continue
		}
		if elemSize > 8 {
			return fmt.Errorf("data directive with element size %d requires a string literal operand", elemSize)
		}
		e, err := a.parseExpr(raw)
		if err != nil {
			return err
		}
		if err := a.emitValue(e, elemSize); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) dirReserve(args string, elemSize int) error {
	n, err := a.parseIntLiteral(args)
	if err != nil {
		return err
	}
	a.reserveBSS(n * uint64(elemSize))
	return nil
}

func (a *Assembler) dirStaticAssert(args string) error {
	v, err := a.evalCritical(args)
	if err != nil {
		return fmt.Errorf("STATIC_ASSERT: %w", err)
	}
	if v == 0 {
		return fmt.Errorf("STATIC_ASSERT failed: %s", args)
	}
	return nil
}

// dirIncbin implements INCBIN "file"[, offset[, length]].
func (a *Assembler) dirIncbin(args string) error {
	parts := splitArgs(args)
	if len(parts) == 0 {
		return fmt.Errorf("INCBIN requires a file path")
	}
	path, err := unescapeStringLiteral(strings.TrimSpace(parts[0]))
	if err != nil {
		return fmt.Errorf("INCBIN: %w", err)
	}
	data, err := os.ReadFile(a.resolvePath(path))
	if err != nil {
		return fmt.Errorf("INCBIN %q: %w", path, err)
	}

	off := uint64(0)
	if len(parts) >= 2 {
		off, err = a.parseIntLiteral(parts[1])
		if err != nil {
			return err
		}
	}
	length := uint64(len(data)) - off
	if len(parts) >= 3 {
		length, err = a.parseIntLiteral(parts[2])
		if err != nil {
			return err
		}
	}
	if off > uint64(len(data)) || off+length > uint64(len(data)) {
		return fmt.Errorf("INCBIN %q: offset/length out of range", path)
	}
	return a.emitBytes(data[off : off+length])
}

func isStringLiteral(s string) bool {
	return len(s) >= 2 && (s[0] == '"' || s[0] == '\'' || s[0] == '`') && s[len(s)-1] == s[0]
}

// unescapeStringLiteral strips the surrounding quotes and resolves C-style
// backslash escapes (\n \t \r \0 \\ \" \' and \xHH).
func unescapeStringLiteral(tok string) (string, error) {
	if len(tok) < 2 {
		return "", fmt.Errorf("ill-formed string literal: %q", tok)
	}
	quote := tok[0]
	if tok[len(tok)-1] != quote {
		return "", fmt.Errorf("ill-formed string literal: %q", tok)
	}
	body := tok[1 : len(tok)-1]

	var out strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			out.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case '0':
			out.WriteByte(0)
		case '\\':
			out.WriteByte('\\')
		case '"':
			out.WriteByte('"')
		case '\'':
			out.WriteByte('\'')
		case '`':
			out.WriteByte('`')
		case 'x':
			if i+2 >= len(body) {
				return "", fmt.Errorf("truncated \\x escape in %q", tok)
			}
			var v byte
			if _, err := fmt.Sscanf(body[i+1:i+3], "%02x", &v); err != nil {
				return "", fmt.Errorf("bad \\x escape in %q", tok)
			}
			out.WriteByte(v)
			i += 2
		default:
			out.WriteByte(body[i])
		}
	}
	return out.String(), nil
}
