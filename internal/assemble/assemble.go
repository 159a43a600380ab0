// Package assemble implements the CSX64 single-pass assembler: it turns a
// source listing into an objfile.ObjectFile, deferring anything it cannot
// compute immediately - a forward-referenced label, an extern, a
// segment-relative address - into a Hole for the linker to patch later.
//
// Unlike the teacher's IE64 assembler (which needs two literal passes to
// know label addresses before encoding fixed-width branch immediates),
// CSX64's Expr/Hole model makes every position knowable the instant it is
// reached: a label always resolves to "segment origin token + current
// offset", whether or not that origin is known yet. So this assembler walks
// the source exactly once.
package assemble

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/csx64/csx64-go/internal/csxerr"
	"github.com/csx64/csx64-go/internal/expr"
	"github.com/csx64/csx64-go/internal/objfile"
)

// reservedNames may never be used as a user-defined symbol: the linker
// injects them into every object's local scope.
var reservedNames = map[string]bool{
	"#t": true, "#r": true, "#d": true, "#b": true,
	"#T": true, "#R": true, "#D": true, "#B": true,
	"__heap__": true,
}

// Assembler holds the cursor state the spec calls for: active segment,
// position within it, the set of segments already declared, the most recent
// non-local label (for local-label mangling), current source line, and the
// active TIMES iteration index.
type Assembler struct {
	obj *objfile.ObjectFile

	seg       objfile.Segment
	inBSS     bool
	declared  [4]bool // text, rodata, data, bss
	lastLabel string
	line      int

	timesIndex int
	rootDir    string // base directory for INCBIN/include-relative paths

	// Log receives Debugw-level progress events. Left nil by New; callers
	// that want tracing set it directly, e.g. cmd/csx64 wiring in its
	// *zap.SugaredLogger.
	Log *zap.SugaredLogger
}

// New returns an Assembler ready to assemble into a fresh ObjectFile.
// rootDir resolves relative INCBIN paths; pass "" to resolve against the
// process's working directory.
func New(rootDir string) *Assembler {
	return &Assembler{obj: objfile.New(), rootDir: rootDir}
}

// Assemble reads a full source listing from r and returns the resulting
// ObjectFile, or the first error encountered (reported as "line N: ...").
func Assemble(r io.Reader, rootDir string) (*objfile.ObjectFile, error) {
	return AssembleWithLogger(r, rootDir, nil)
}

// AssembleWithLogger is Assemble with an optional progress logger.
func AssembleWithLogger(r io.Reader, rootDir string, log *zap.SugaredLogger) (*objfile.ObjectFile, error) {
	a := New(rootDir)
	a.Log = log
	if err := a.run(r); err != nil {
		return nil, err
	}
	if a.Log != nil {
		a.Log.Debugw("assembled object", "textBytes", len(a.obj.Segments[objfile.Text]),
			"rodataBytes", len(a.obj.Segments[objfile.Rodata]), "dataBytes", len(a.obj.Segments[objfile.Data]),
			"bssBytes", a.obj.BssLen, "symbols", len(a.obj.Symbols))
	}
	return a.obj, nil
}

func (a *Assembler) run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	a.line = 0
	for scanner.Scan() {
		a.line++
		raw := scanner.Text()
		if a.line == 1 && strings.HasPrefix(raw, "#!") {
			continue
		}
		if err := a.processLine(raw); err != nil {
			return csxerr.WrapAsm(csxerr.Failure, a.line, err, "%s", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return csxerr.NewAsm(csxerr.Failure, a.line, "%s", err)
	}
	if err := a.postPass(); err != nil {
		return csxerr.WrapAsm(csxerr.Failure, a.line, err, "%s", err)
	}
	return nil
}

// processLine implements the per-line pipeline: strip comments, extract an
// optional label, consume an optional TIMES/IF prefix, then dispatch the
// remaining directive or instruction.
func (a *Assembler) processLine(raw string) error {
	line := stripComment(raw)
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	label, rest, ok := splitLabel(trimmed)
	if !ok {
		// "NAME equ value" needs no colon after the name.
		if fields := strings.Fields(trimmed); len(fields) >= 2 && strings.EqualFold(fields[1], "EQU") {
			label, rest, ok = fields[0], strings.TrimSpace(trimmed[len(fields[0]):]), true
		}
	}
	if ok {
		isEqu := false
		if fields := strings.Fields(rest); len(fields) >= 1 && strings.EqualFold(fields[0], "EQU") {
			isEqu = true
		}
		if err := a.defineLabel(label, rest); err != nil {
			return err
		}
		if isEqu {
			return nil
		}
		trimmed = strings.TrimSpace(rest)
		if trimmed == "" {
			return nil
		}
	}

	return a.processStatement(trimmed)
}

// processStatement consumes an optional TIMES/IF prefix, then dispatches the
// remaining opcode/argument text.
func (a *Assembler) processStatement(trimmed string) error {
	upperFields := strings.Fields(trimmed)
	if len(upperFields) == 0 {
		return nil
	}
	kw := strings.ToUpper(upperFields[0])

	switch kw {
	case "TIMES":
		rest := strings.TrimSpace(trimmed[len(upperFields[0]):])
		countExpr, body, err := splitLeadingExpr(rest)
		if err != nil {
			return fmt.Errorf("TIMES: %w", err)
		}
		n, err := a.evalCritical(countExpr)
		if err != nil {
			return fmt.Errorf("TIMES: %w", err)
		}
		for i := uint64(0); i < n; i++ {
			a.timesIndex = int(i)
			if err := a.processStatement(body); err != nil {
				return err
			}
		}
		a.timesIndex = 0
		return nil

	case "IF":
		rest := strings.TrimSpace(trimmed[len(upperFields[0]):])
		condExpr, body, err := splitLeadingExpr(rest)
		if err != nil {
			return fmt.Errorf("IF: %w", err)
		}
		n, err := a.evalCritical(condExpr)
		if err != nil {
			return fmt.Errorf("IF: %w", err)
		}
		if n != 0 {
			return a.processStatement(body)
		}
		return nil

	case "REP", "REPE", "REPZ", "REPNE", "REPNZ":
		// The CPU's string-op loop only checks RCX, never ZF, so REPE/REPNE
		// are accepted as plain syntactic aliases of REP; see DESIGN.md.
		body := strings.TrimSpace(trimmed[len(upperFields[0]):])
		bodyFields := strings.Fields(body)
		if len(bodyFields) == 0 {
			return fmt.Errorf("%s: missing string instruction", kw)
		}
		def, ok := stringOpTable[strings.ToLower(bodyFields[0])]
		if !ok {
			return fmt.Errorf("%s: %q is not a string instruction", kw, bodyFields[0])
		}
		rest := strings.TrimSpace(body[len(bodyFields[0]):])
		if rest != "" {
			return fmt.Errorf("%s %s takes no operands", kw, bodyFields[0])
		}
		return a.encodeStringOp(def, true)

	case "LOCK":
		// LOCK has no additional runtime semantics (single-threaded CPU), but
		// it must still parse and validate against the memory-RMW allow-list.
		body := strings.TrimSpace(trimmed[len(upperFields[0]):])
		bodyFields := strings.Fields(body)
		if len(bodyFields) == 0 {
			return fmt.Errorf("LOCK: missing instruction")
		}
		mnemonic := strings.ToLower(bodyFields[0])
		if !lockableInstructions[mnemonic] {
			return fmt.Errorf("LOCK: %q is not a lockable memory-RMW instruction", bodyFields[0])
		}
		rest := strings.TrimSpace(body[len(bodyFields[0]):])
		args := splitArgs(rest)
		if len(args) == 0 {
			return fmt.Errorf("LOCK %s: missing destination operand", mnemonic)
		}
		dst, err := a.resolveDestOperand(args[0])
		if err != nil {
			return fmt.Errorf("LOCK %s: %w", mnemonic, err)
		}
		if dst.kind != opMem {
			return fmt.Errorf("LOCK %s: destination operand must be memory", mnemonic)
		}
		enc, ok := instructionTable[mnemonic]
		if !ok {
			return fmt.Errorf("LOCK: %q is not a known instruction", bodyFields[0])
		}
		return enc(a, args)
	}

	opcode := kw
	argText := strings.TrimSpace(trimmed[len(upperFields[0]):])

	if handler, ok := directiveTable[opcode]; ok {
		return handler(a, argText)
	}
	if enc, ok := instructionTable[strings.ToLower(opcode)]; ok {
		args := splitArgs(argText)
		return enc(a, args)
	}
	return fmt.Errorf("unknown opcode/directive %q", opcode)
}

// splitLeadingExpr separates a TIMES/IF prefix's expression from the
// statement it governs: it splits at the first space character outside
// brackets, parentheses and quotes that has non-empty text before it. The
// count or condition expression therefore cannot contain top-level spaces;
// no keyword lookahead or retry with a longer prefix is done.
func splitLeadingExpr(s string) (exprText, rest string, err error) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ' ' && depth == 0:
			candidate := strings.TrimSpace(s[:i])
			if candidate != "" {
				return candidate, strings.TrimSpace(s[i+1:]), nil
			}
		}
	}
	return strings.TrimSpace(s), "", nil
}

func (a *Assembler) evalCritical(text string) (uint64, error) {
	e, err := a.parseExpr(text)
	if err != nil {
		return 0, err
	}
	kind, msg := e.Evaluate(a.obj.Symbols)
	if kind != expr.Evaluated {
		if msg != "" {
			return 0, fmt.Errorf("%s", msg)
		}
		return 0, fmt.Errorf("expression %q must be immediately computable", text)
	}
	v, floating := e.Value()
	if floating {
		return 0, fmt.Errorf("expression %q must be an integer", text)
	}
	return v, nil
}

// splitLabel extracts a leading "name:" label definition, returning the
// remainder of the line. Local labels start with '.'.
func splitLabel(trimmed string) (label, rest string, ok bool) {
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", "", false
	}
	first := fields[0]
	if !strings.HasSuffix(first, ":") {
		return "", "", false
	}
	name := strings.TrimSuffix(first, ":")
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(trimmed[len(first):]), true
}

func (a *Assembler) defineLabel(name string, rest string) error {
	full := name
	if strings.HasPrefix(name, ".") {
		if a.lastLabel == "" {
			return fmt.Errorf("local label %q before any global label", name)
		}
		full = a.lastLabel + name
	} else {
		a.lastLabel = name
	}

	// EQU binds the name directly to an expression instead of to the
	// current position; skip the automatic address bind entirely.
	restFields := strings.Fields(rest)
	if len(restFields) >= 1 && strings.EqualFold(restFields[0], "EQU") {
		exprText := strings.TrimSpace(rest[len(restFields[0]):])
		e, err := a.parseExpr(exprText)
		if err != nil {
			return fmt.Errorf("EQU %q: %w", full, err)
		}
		if err := a.checkNewSymbol(full); err != nil {
			return err
		}
		a.obj.Symbols[full] = e
		return nil
	}

	if err := a.checkNewSymbol(full); err != nil {
		return err
	}
	a.obj.Symbols[full] = a.currentAddressExpr()
	return nil
}

func (a *Assembler) checkNewSymbol(name string) error {
	if reservedNames[name] {
		return fmt.Errorf("symbol %q is reserved", name)
	}
	if _, ok := a.obj.Symbols[name]; ok {
		return fmt.Errorf("symbol %q redefined", name)
	}
	if a.obj.Externs[name] {
		return fmt.Errorf("symbol %q already declared extern", name)
	}
	return nil
}

// currentSegmentOriginSymbol names the per-object segment-base macro ($$
// resolves to this) for the active segment.
func (a *Assembler) currentSegmentOriginSymbol() string {
	if a.inBSS {
		return "#b"
	}
	switch a.seg {
	case objfile.Rodata:
		return "#r"
	case objfile.Data:
		return "#d"
	default:
		return "#t"
	}
}

// currentAddressExpr builds the Expr ($  resolves to this) naming the
// current write position: segment origin plus offset.
func (a *Assembler) currentAddressExpr() *expr.Expr {
	return expr.NewBinary(expr.Add, expr.NewToken(a.currentSegmentOriginSymbol()), expr.NewInt(a.currentPos()))
}

func (a *Assembler) currentPos() uint64 {
	if a.inBSS {
		return a.obj.BssLen
	}
	return uint64(len(a.obj.Segments[a.seg]))
}

// emitBytes appends already-known bytes to the active initialized segment.
// It is an error to call this while SEGMENT BSS is active.
func (a *Assembler) emitBytes(b []byte) error {
	if a.inBSS {
		return fmt.Errorf("cannot emit initialized bytes in the bss segment")
	}
	a.obj.Segments[a.seg] = append(a.obj.Segments[a.seg], b...)
	return nil
}

// reserveBSS advances the bss counter by n zero bytes.
func (a *Assembler) reserveBSS(n uint64) { a.obj.BssLen += n }

// emitValue writes an n-byte (or IEEE-float, for n=4/8) value described by e
// into the active segment: immediately if e is already evaluated, else as a
// Hole for later patching.
func (a *Assembler) emitValue(e *expr.Expr, n int) error {
	if a.inBSS {
		return fmt.Errorf("cannot emit initialized data in the bss segment")
	}
	addr := uint64(len(a.obj.Segments[a.seg]))
	a.obj.Segments[a.seg] = append(a.obj.Segments[a.seg], make([]byte, n)...)

	kind, msg := e.Evaluate(a.obj.Symbols)
	if kind == expr.Evaluated {
		ok, patchMsg := (&objfile.Hole{Address: addr, Size: uint8(n), Line: uint32(a.line), Value: e}).
			Patch(a.obj.Segments[a.seg], a.obj.Symbols)
		if ok {
			return nil
		}
		if patchMsg != "" {
			return fmt.Errorf("%s", patchMsg)
		}
	}
	if kind == expr.Invalid {
		return fmt.Errorf("%s", msg)
	}

	a.obj.Holes[a.seg] = append(a.obj.Holes[a.seg], objfile.Hole{
		Address: addr, Size: uint8(n), Line: uint32(a.line), Value: e,
	})
	return nil
}

// emitImmediate writes a fixed-width little-endian integer directly (used
// for opcode/operand-byte bookkeeping where the value is always known at
// assemble time, never a Hole candidate).
func (a *Assembler) emitImmediate(v uint64, n int) error {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return a.emitBytes(buf)
}

// postPass implements the spec's cleanup sequence: re-evaluate every symbol
// to collapse internal references, patch any holes now computable, and
// leave everything else for the linker. Renaming non-exported symbols to
// short identifiers and dropping already-evaluated internal-only symbols
// (steps 3-4 of the spec's cleanup) are size optimizations with no
// behavioral effect, and are deliberately not implemented - see DESIGN.md.
func (a *Assembler) postPass() error {
	for name, e := range a.obj.Symbols {
		if kind, msg := e.Evaluate(a.obj.Symbols); kind == expr.Invalid {
			return fmt.Errorf("symbol %q: %s", name, msg)
		}
	}

	for s := objfile.Text; int(s) < len(a.obj.Holes); s++ {
		kept := a.obj.Holes[s][:0]
		for _, h := range a.obj.Holes[s] {
			ok, msg := h.Patch(a.obj.Segments[s], a.obj.Symbols)
			if !ok {
				if msg != "" {
					return fmt.Errorf("line %d: %s", h.Line, msg)
				}
				kept = append(kept, h)
				continue
			}
		}
		a.obj.Holes[s] = kept
	}
	return nil
}

func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == ';':
			return line[:i]
		}
	}
	return line
}

// resolvePath resolves an INCBIN path against the assembler's root
// directory.
func (a *Assembler) resolvePath(path string) string {
	if filepath.IsAbs(path) || a.rootDir == "" {
		return path
	}
	return filepath.Join(a.rootDir, path)
}

// parseIntLiteral parses a bare integer literal (used by ALIGN/RESB/etc.
// size arguments that must be instant).
func (a *Assembler) parseIntLiteral(text string) (uint64, error) {
	text = strings.TrimSpace(text)
	v, err := strconv.ParseUint(text, 0, 64)
	if err == nil {
		return v, nil
	}
	return a.evalCritical(text)
}
