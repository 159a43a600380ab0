package assemble

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/csx64/csx64-go/internal/expr"
)

// parseExpr parses a CSX64 expression from text, honoring `$` (current
// address), `$$` (segment origin), and `$I` (current TIMES index) as
// special tokens resolved against the assembler's cursor state, plus
// `$str(...)`/`$bin(...)` literal constructors that intern into the
// object's BinaryLiteralCollection.
func (a *Assembler) parseExpr(text string) (*expr.Expr, error) {
	p := &exprParser{a: a, toks: tokenizeExpr(text)}
	e, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected trailing input: %q", p.toks[p.pos])
	}
	return e, nil
}

type exprParser struct {
	a    *Assembler
	toks []string
	pos  int
}

func (p *exprParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *exprParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *exprParser) expect(tok string) error {
	if p.peek() != tok {
		return fmt.Errorf("expected %q, got %q", tok, p.peek())
	}
	p.pos++
	return nil
}

// Precedence climbing, loosely C-like: ternary > || > && > | > ^ > & > ==/!=
// > relational > shift > additive > multiplicative > unary > primary.
func (p *exprParser) parseTernary() (*expr.Expr, error) {
	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if p.peek() == "?" {
		p.next()
		t, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		f, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return expr.NewTernary(cond, t, f), nil
	}
	return cond, nil
}

var precedence = []map[string]expr.Op{
	{"||": expr.LogOr},
	{"&&": expr.LogAnd},
	{"|": expr.BitOr},
	{"^": expr.BitXor},
	{"&": expr.BitAnd},
	{"==": expr.Eq, "!=": expr.Neq},
	{"<": expr.SLess, "<=": expr.SLessE, ">": expr.SGreat, ">=": expr.SGreatE,
		"</": expr.ULess, "<=/": expr.ULessE, ">/": expr.UGreat, ">=/": expr.UGreatE},
	{"<<": expr.Shl, ">>": expr.Shr, ">>/": expr.Sar},
	{"+": expr.Add, "-": expr.Sub},
	{"*": expr.Mul, "/": expr.SDiv, "+/": expr.UDiv, "%": expr.SMod, "%/": expr.UMod},
}

func (p *exprParser) parseBinary(level int) (*expr.Expr, error) {
	if level >= len(precedence) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		op, found := precedence[level][p.peek()]
		if !found {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = expr.NewBinary(op, left, right)
	}
}

func (p *exprParser) parseUnary() (*expr.Expr, error) {
	switch p.peek() {
	case "-":
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return expr.NewUnary(expr.Neg, v), nil
	case "~":
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return expr.NewUnary(expr.BitNot, v), nil
	case "!":
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return expr.NewUnary(expr.LogNot, v), nil
	case "+":
		p.next()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (*expr.Expr, error) {
	tok := p.peek()
	switch {
	case tok == "":
		return nil, fmt.Errorf("unexpected end of expression")
	case tok == "(":
		p.next()
		e, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return e, nil
	case tok == "$$":
		p.next()
		return expr.NewToken(p.a.currentSegmentOriginSymbol()), nil
	case tok == "$I":
		p.next()
		return expr.NewInt(uint64(p.a.timesIndex)), nil
	case tok == "$":
		p.next()
		return p.a.currentAddressExpr(), nil
	case strings.HasPrefix(tok, "$str(") || strings.HasPrefix(tok, "$bin("):
		return p.parseLiteralCall(tok)
	default:
		p.next()
		return expr.NewToken(tok), nil
	}
}

// parseLiteralCall handles a single pre-joined `$str("...")`/`$bin(...)`
// token emitted by the tokenizer as one unit (parens and quotes are not
// split further during tokenization; see tokenizeExpr).
func (p *exprParser) parseLiteralCall(tok string) (*expr.Expr, error) {
	p.next()
	isBin := strings.HasPrefix(tok, "$bin(")
	inner := tok[len("$str(") : len(tok)-1]
	if isBin {
		inner = tok[len("$bin(") : len(tok)-1]
	}

	var data []byte
	if isBin {
		vals := strings.Split(inner, ",")
		for _, v := range vals {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			n, err := parseByteLiteral(v)
			if err != nil {
				return nil, err
			}
			data = append(data, n)
		}
	} else {
		s, err := unescapeStringLiteral(inner)
		if err != nil {
			return nil, err
		}
		data = []byte(s)
	}

	idx := p.a.obj.Literals.Add(data)
	return expr.NewToken(fmt.Sprintf("__bin_lit_%x", idx)), nil
}

func parseByteLiteral(tok string) (byte, error) {
	e := expr.NewToken(tok)
	kind, msg := e.Evaluate(nil)
	if kind != expr.Evaluated {
		return 0, fmt.Errorf("ill-formed byte literal %q: %s", tok, msg)
	}
	v, _ := e.Value()
	return byte(v), nil
}

// tokenizeExpr splits text into operator/identifier/literal tokens,
// honoring parenthesis nesting inside `$str(...)`/`$bin(...)` calls (kept
// as one token) and quoted character/string literals (kept intact).
func tokenizeExpr(text string) []string {
	var toks []string
	i := 0
	n := len(text)
	for i < n {
		c := text[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.HasPrefix(text[i:], "$str(") || strings.HasPrefix(text[i:], "$bin("):
			start := i
			i += 5
			depth := 1
			for i < n && depth > 0 {
				if text[i] == '(' {
					depth++
				} else if text[i] == ')' {
					depth--
				}
				i++
			}
			toks = append(toks, text[start:i])
		case c == '$':
			if i+1 < n && text[i+1] == '$' {
				toks = append(toks, "$$")
				i += 2
			} else if i+1 < n && (text[i+1] == 'I' || text[i+1] == 'i') {
				toks = append(toks, "$I")
				i += 2
			} else {
				toks = append(toks, "$")
				i++
			}
		case c == '"' || c == '\'' || c == '`':
			start := i
			i++
			for i < n && text[i] != c {
				if text[i] == '\\' && i+1 < n {
					i++
				}
				i++
			}
			i++ // consume closing quote
			toks = append(toks, text[start:i])
		case isIdentStart(c) || isDigit(c):
			start := i
			for i < n && (isIdentPart(text[i])) {
				i++
			}
			toks = append(toks, text[start:i])
		case strings.HasPrefix(text[i:], "<=/"):
			toks = append(toks, "<=/")
			i += 3
		case strings.HasPrefix(text[i:], ">=/"):
			toks = append(toks, ">=/")
			i += 3
		case strings.HasPrefix(text[i:], ">>/"):
			toks = append(toks, ">>/")
			i += 3
		case strings.HasPrefix(text[i:], "</"):
			toks = append(toks, "</")
			i += 2
		case strings.HasPrefix(text[i:], ">/"):
			toks = append(toks, ">/")
			i += 2
		case strings.HasPrefix(text[i:], "+/"):
			toks = append(toks, "+/")
			i += 2
		case strings.HasPrefix(text[i:], "%/"):
			toks = append(toks, "%/")
			i += 2
		case strings.HasPrefix(text[i:], "<<"):
			toks = append(toks, "<<")
			i += 2
		case strings.HasPrefix(text[i:], ">>"):
			toks = append(toks, ">>")
			i += 2
		case strings.HasPrefix(text[i:], "<="):
			toks = append(toks, "<=")
			i += 2
		case strings.HasPrefix(text[i:], ">="):
			toks = append(toks, ">=")
			i += 2
		case strings.HasPrefix(text[i:], "=="):
			toks = append(toks, "==")
			i += 2
		case strings.HasPrefix(text[i:], "!="):
			toks = append(toks, "!=")
			i += 2
		case strings.HasPrefix(text[i:], "&&"):
			toks = append(toks, "&&")
			i += 2
		case strings.HasPrefix(text[i:], "||"):
			toks = append(toks, "||")
			i += 2
		default:
			toks = append(toks, string(c))
			i++
		}
	}
	return toks
}

func isIdentStart(c byte) bool {
	return unicode.IsLetter(rune(c)) || c == '_' || c == '.' || c == '#'
}
func isIdentPart(c byte) bool {
	return unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) || c == '_' || c == '.' || c == '#'
}
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
