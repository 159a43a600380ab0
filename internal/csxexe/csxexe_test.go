package csxexe

import (
	"bytes"
	"testing"
)

func TestExecutableRoundTrip(t *testing.T) {
	e := New([]byte{0x90, 0xC3}, []byte("data"), []byte{1, 2, 3}, 128)

	var buf bytes.Buffer
	if err := e.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got.TotalSize() != e.TotalSize() {
		t.Fatalf("total size mismatch: got %d want %d", got.TotalSize(), e.TotalSize())
	}
	if got.ContentSize() != got.TextLen+got.RodataLen+got.DataLen {
		t.Fatalf("content size invariant violated")
	}
	if !bytes.Equal(got.Text(), []byte{0x90, 0xC3}) {
		t.Fatalf("text mismatch: %v", got.Text())
	}
	if !bytes.Equal(got.Rodata(), []byte("data")) {
		t.Fatalf("rodata mismatch: %v", got.Rodata())
	}
	if !bytes.Equal(got.Data(), []byte{1, 2, 3}) {
		t.Fatalf("data mismatch: %v", got.Data())
	}
	if got.BssLen != 128 {
		t.Fatalf("bss mismatch: %d", got.BssLen)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not-an-exe-file-at-all-long-enough")))
	if err == nil {
		t.Fatalf("expected error for bad magic")
	}
}
