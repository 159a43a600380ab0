package objfile

import (
	"bytes"
	"testing"

	"github.com/csx64/csx64-go/internal/expr"
)

func TestObjectFileRoundTrip(t *testing.T) {
	o := New()
	o.Globals["main"] = true
	o.Externs["printf"] = true
	o.Symbols["main"] = expr.NewInt(0x1000)
	o.Segments[Text] = []byte{0x90, 0x90, 0xC3}
	o.Segments[Rodata] = []byte("hello\x00")
	o.BssLen = 64
	o.Align = [numSegments + 1]uint32{16, 8, 8, 8}
	o.Holes[Text] = []Hole{{Address: 1, Size: 4, Line: 10, Value: expr.NewToken("undefined")}}
	o.Literals.Add([]byte("hello"))

	var buf bytes.Buffer
	if err := o.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	got, err := Deserialize(&buf)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if !got.Globals["main"] || !got.Externs["printf"] {
		t.Fatalf("globals/externs mismatch")
	}
	if !bytes.Equal(got.Segments[Text], o.Segments[Text]) {
		t.Fatalf("text segment mismatch")
	}
	if !bytes.Equal(got.Segments[Rodata], o.Segments[Rodata]) {
		t.Fatalf("rodata segment mismatch")
	}
	if got.BssLen != 64 {
		t.Fatalf("bss length mismatch: %d", got.BssLen)
	}
	if got.Align != o.Align {
		t.Fatalf("alignment mismatch: %v", got.Align)
	}
	if len(got.Holes[Text]) != 1 || got.Holes[Text][0].Line != 10 {
		t.Fatalf("hole mismatch: %+v", got.Holes[Text])
	}
	if len(got.Literals.TopLevel) != 1 {
		t.Fatalf("expected one top-level literal, got %d", len(got.Literals.TopLevel))
	}

	v, found := got.Symbols["main"]
	if !found {
		t.Fatalf("expected symbol main")
	}
	kind, _ := v.Evaluate(nil)
	if kind != expr.Evaluated {
		t.Fatalf("expected evaluated symbol")
	}
	val, _ := v.Value()
	if val != 0x1000 {
		t.Fatalf("got %x", val)
	}
}

func TestObjectFileRefusesDirtySerialize(t *testing.T) {
	o := New()
	o.Dirty = true
	var buf bytes.Buffer
	if err := o.Serialize(&buf); err == nil {
		t.Fatalf("expected error serializing a dirty object file")
	}
}

func TestHolePatch(t *testing.T) {
	seg := make([]byte, 8)
	h := Hole{Address: 0, Size: 4, Value: expr.NewInt(0xDEADBEEF)}
	ok, msg := h.Patch(seg, nil)
	if !ok {
		t.Fatalf("expected patch to succeed: %s", msg)
	}
	want := []byte{0xEF, 0xBE, 0xAD, 0xDE, 0, 0, 0, 0}
	if !bytes.Equal(seg, want) {
		t.Fatalf("got %x want %x", seg, want)
	}
}

func TestHolePatchIncomplete(t *testing.T) {
	seg := make([]byte, 4)
	h := Hole{Address: 0, Size: 4, Value: expr.NewToken("undefined")}
	ok, msg := h.Patch(seg, expr.SymbolTable{})
	if ok || msg != "" {
		t.Fatalf("expected incomplete patch with no error message, got ok=%v msg=%s", ok, msg)
	}
}
