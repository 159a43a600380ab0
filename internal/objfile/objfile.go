// Package objfile implements the CSX64 per-translation-unit artifact: the
// ObjectFile produced by the assembler and consumed by the linker, its
// deferred-write Holes, and the wire format both tools read and write.
package objfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/csx64/csx64-go/internal/expr"
)

// Segment names one of the three initialized segments an ObjectFile carries
// bytes for. bss has no bytes of its own, only a length.
type Segment int

const (
	Text Segment = iota
	Rodata
	Data
	numSegments
)

func (s Segment) String() string {
	switch s {
	case Text:
		return "text"
	case Rodata:
		return "rodata"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// Hole is a deferred write: once Value evaluates, its result (truncated to
// Size bytes, or the IEEE bit pattern of a float when Size is 4 or 8 and the
// expression evaluates to floating) is patched into the owning segment at
// Address.
type Hole struct {
	Address uint64
	Size    uint8
	Line    uint32
	Value   *expr.Expr
}

// Patch attempts to evaluate h.Value against symbols and, on success, writes
// its result into seg at h.Address. Returns true if the hole was resolved.
func (h *Hole) Patch(seg []byte, symbols expr.SymbolTable) (bool, string) {
	kind, msg := h.Value.Evaluate(symbols)
	if kind == expr.Invalid {
		return false, msg
	}
	if kind != expr.Evaluated {
		return false, ""
	}

	val, floating := h.Value.Value()
	if floating && h.Size != 4 && h.Size != 8 {
		return false, fmt.Sprintf("cannot store a floating-point value in a %d-byte hole", h.Size)
	}

	var bits uint64
	switch {
	case floating && h.Size == 4:
		bits = uint64(math.Float32bits(float32(h.Value.Float())))
	default:
		bits = val
	}

	for i := 0; i < int(h.Size); i++ {
		seg[int(h.Address)+i] = byte(bits >> (8 * uint(i)))
	}
	return true, ""
}

// ObjectFile is the assembler's output and the linker's input.
type ObjectFile struct {
	Globals map[string]bool
	Externs map[string]bool
	Symbols expr.SymbolTable

	Segments [numSegments][]byte
	BssLen   uint64
	Align    [numSegments + 1]uint32 // text, rodata, data, bss

	Holes [numSegments][]Hole

	Literals BinaryLiteralCollection

	// Dirty files must not be serialized or linked: set once the file has
	// been folded into a linker's working set or had symbols renamed.
	Dirty bool
}

// New returns an empty, clean ObjectFile with default (1-byte, i.e.
// unaligned) segment alignments.
func New() *ObjectFile {
	return &ObjectFile{
		Globals: map[string]bool{},
		Externs: map[string]bool{},
		Symbols: expr.SymbolTable{},
		Align:   [numSegments + 1]uint32{1, 1, 1, 1},
	}
}

const (
	objMagic    = "CSX64obj"
	objVersion  = uint64(1)
	maxStrLen   = 0xFFFF
	maxBlobSize = 1 << 34 // sanity bound against corrupt length prefixes
)

// Serialize writes the object file in the wire format described in the
// toolchain's external-interfaces documentation. It refuses to serialize a
// dirty file.
func (o *ObjectFile) Serialize(w io.Writer) error {
	if o.Dirty {
		return fmt.Errorf("refusing to serialize a dirty object file")
	}

	if _, err := io.WriteString(w, objMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, objVersion); err != nil {
		return err
	}

	if err := writeStringSet(w, o.Globals); err != nil {
		return err
	}
	if err := writeStringSet(w, o.Externs); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(o.Symbols))); err != nil {
		return err
	}
	for name, e := range o.Symbols {
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := e.WriteTo(w); err != nil {
			return err
		}
	}

	for _, a := range o.Align {
		if err := binary.Write(w, binary.LittleEndian, a); err != nil {
			return err
		}
	}

	for s := Text; s < numSegments; s++ {
		holes := o.Holes[s]
		if err := binary.Write(w, binary.LittleEndian, uint64(len(holes))); err != nil {
			return err
		}
		for _, h := range holes {
			if err := binary.Write(w, binary.LittleEndian, h.Address); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, h.Size); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, h.Line); err != nil {
				return err
			}
			if err := h.Value.WriteTo(w); err != nil {
				return err
			}
		}
	}

	for s := Text; s < numSegments; s++ {
		seg := o.Segments[s]
		if err := binary.Write(w, binary.LittleEndian, uint64(len(seg))); err != nil {
			return err
		}
		if _, err := w.Write(seg); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, o.BssLen); err != nil {
		return err
	}

	return o.Literals.writeTo(w)
}

// Deserialize reads an object file previously written by Serialize.
func Deserialize(r io.Reader) (*ObjectFile, error) {
	magic := make([]byte, len(objMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if string(magic) != objMagic {
		return nil, fmt.Errorf("not a CSX64 object file (bad magic)")
	}

	var version uint64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != objVersion {
		return nil, fmt.Errorf("unsupported object file version %d", version)
	}

	o := New()

	globals, err := readStringSlice(r)
	if err != nil {
		return nil, err
	}
	for _, g := range globals {
		o.Globals[g] = true
	}

	externs, err := readStringSlice(r)
	if err != nil {
		return nil, err
	}
	for _, e := range externs {
		o.Externs[e] = true
	}

	var nsym uint64
	if err := binary.Read(r, binary.LittleEndian, &nsym); err != nil {
		return nil, err
	}
	for i := uint64(0); i < nsym; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		e, err := expr.ReadExpr(r)
		if err != nil {
			return nil, err
		}
		o.Symbols[name] = e
	}

	for i := range o.Align {
		if err := binary.Read(r, binary.LittleEndian, &o.Align[i]); err != nil {
			return nil, err
		}
		if o.Align[i] == 0 || o.Align[i]&(o.Align[i]-1) != 0 {
			return nil, fmt.Errorf("segment alignment %d is not a power of two", o.Align[i])
		}
	}

	for s := Text; s < numSegments; s++ {
		var nholes uint64
		if err := binary.Read(r, binary.LittleEndian, &nholes); err != nil {
			return nil, err
		}
		holes := make([]Hole, nholes)
		for i := range holes {
			if err := binary.Read(r, binary.LittleEndian, &holes[i].Address); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &holes[i].Size); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &holes[i].Line); err != nil {
				return nil, err
			}
			e, err := expr.ReadExpr(r)
			if err != nil {
				return nil, err
			}
			holes[i].Value = e
		}
		o.Holes[s] = holes
	}

	for s := Text; s < numSegments; s++ {
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if n > maxBlobSize {
			return nil, fmt.Errorf("segment length %d exceeds sane bound", n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		o.Segments[s] = buf
	}

	if err := binary.Read(r, binary.LittleEndian, &o.BssLen); err != nil {
		return nil, err
	}

	lits, err := readLiterals(r)
	if err != nil {
		return nil, err
	}
	o.Literals = *lits

	return o, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > maxStrLen {
		return fmt.Errorf("string too long to serialize: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeStringSet(w io.Writer, set map[string]bool) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(set))); err != nil {
		return err
	}
	for s := range set {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStringSlice(r io.Reader) ([]string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (c *BinaryLiteralCollection) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(c.TopLevel))); err != nil {
		return err
	}
	for _, top := range c.TopLevel {
		if err := binary.Write(w, binary.LittleEndian, uint64(len(top))); err != nil {
			return err
		}
		if _, err := w.Write(top); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(c.Refs))); err != nil {
		return err
	}
	for _, ref := range c.Refs {
		if err := binary.Write(w, binary.LittleEndian, uint64(ref.TopLevelIndex)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(ref.Start)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(ref.Length)); err != nil {
			return err
		}
	}
	return nil
}

func readLiterals(r io.Reader) (*BinaryLiteralCollection, error) {
	c := &BinaryLiteralCollection{}

	var ntop uint64
	if err := binary.Read(r, binary.LittleEndian, &ntop); err != nil {
		return nil, err
	}
	c.TopLevel = make([][]byte, ntop)
	for i := range c.TopLevel {
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if n > maxBlobSize {
			return nil, fmt.Errorf("literal length %d exceeds sane bound", n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		c.TopLevel[i] = buf
	}

	var nrefs uint64
	if err := binary.Read(r, binary.LittleEndian, &nrefs); err != nil {
		return nil, err
	}
	c.Refs = make([]LiteralRef, nrefs)
	for i := range c.Refs {
		var a, b, d uint64
		if err := binary.Read(r, binary.LittleEndian, &a); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return nil, err
		}
		if int(a) >= len(c.TopLevel) || int(b+d) > len(c.TopLevel[a]) {
			return nil, fmt.Errorf("literal ref out of range")
		}
		c.Refs[i] = LiteralRef{TopLevelIndex: int(a), Start: int(b), Length: int(d)}
	}
	return c, nil
}

