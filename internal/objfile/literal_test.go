package objfile

import (
	"bytes"
	"testing"
)

func TestLiteralCollectionReuse(t *testing.T) {
	var c BinaryLiteralCollection
	i1 := c.Add([]byte("hello world"))
	i2 := c.Add([]byte("hello"))

	if len(c.TopLevel) != 1 {
		t.Fatalf("expected a single top-level, got %d", len(c.TopLevel))
	}
	if !bytes.Equal(c.Bytes(i1), []byte("hello world")) {
		t.Fatalf("got %q", c.Bytes(i1))
	}
	if !bytes.Equal(c.Bytes(i2), []byte("hello")) {
		t.Fatalf("got %q", c.Bytes(i2))
	}
}

func TestLiteralCollectionReplaceAndRepoint(t *testing.T) {
	var c BinaryLiteralCollection
	small := c.Add([]byte("world"))
	big := c.Add([]byte("hello world!"))

	if len(c.TopLevel) != 1 {
		t.Fatalf("expected absorption into a single top-level, got %d", len(c.TopLevel))
	}
	if !bytes.Equal(c.Bytes(small), []byte("world")) {
		t.Fatalf("got %q", c.Bytes(small))
	}
	if !bytes.Equal(c.Bytes(big), []byte("hello world!")) {
		t.Fatalf("got %q", c.Bytes(big))
	}
}

func TestLiteralCollectionDuplicateRefsCollapse(t *testing.T) {
	var c BinaryLiteralCollection
	i1 := c.Add([]byte("same"))
	i2 := c.Add([]byte("same"))
	if i1 != i2 {
		t.Fatalf("expected identical refs to collapse, got %d and %d", i1, i2)
	}
}

func TestLiteralCollectionMerge(t *testing.T) {
	var a, b BinaryLiteralCollection
	ia := a.Add([]byte("shared"))
	ib := b.Add([]byte("shared"))
	_ = ia

	remap := a.Merge(&b)
	if !bytes.Equal(a.Bytes(remap[ib]), []byte("shared")) {
		t.Fatalf("merge did not preserve bytes")
	}
	if len(a.TopLevel) != 1 {
		t.Fatalf("expected merge to dedup identical literal, got %d top-levels", len(a.TopLevel))
	}
}
