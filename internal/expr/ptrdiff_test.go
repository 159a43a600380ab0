package expr

import "testing"

func TestReduceSegmentPtrDiffAtSegmentStart(t *testing.T) {
	origins := map[string]bool{"__text_origin__": true}

	// ($ - $$)  ==  (origin + offsetA) - (origin + offsetB), offsetA == offsetB == 0
	addr := NewBinary(Add, NewToken("__text_origin__"), NewInt(0))
	base := NewBinary(Add, NewToken("__text_origin__"), NewInt(0))
	diff := NewBinary(Sub, addr, base)

	reduced := ReduceSegmentPtrDiff(diff, origins)
	kind, msg := reduced.Evaluate(SymbolTable{})
	if kind != Evaluated {
		t.Fatalf("expected Evaluated after ptrdiff reduction, got %v (%s)", kind, msg)
	}
	v, _ := reduced.Value()
	if v != 0 {
		t.Fatalf("expected 0 at segment start, got %d", v)
	}
}

func TestReduceSegmentPtrDiffNonZeroOffset(t *testing.T) {
	origins := map[string]bool{"__text_origin__": true}

	addr := NewBinary(Add, NewToken("__text_origin__"), NewInt(10))
	base := NewToken("__text_origin__")
	diff := NewBinary(Sub, addr, base)

	reduced := ReduceSegmentPtrDiff(diff, origins)
	kind, msg := reduced.Evaluate(SymbolTable{})
	if kind != Evaluated {
		t.Fatalf("expected Evaluated, got %v (%s)", kind, msg)
	}
	v, _ := reduced.Value()
	if v != 10 {
		t.Fatalf("expected 10, got %d", v)
	}
}

func TestReduceSegmentPtrDiffNoMatchLeavesUnchanged(t *testing.T) {
	terms := []term{{e: NewInt(1)}, {e: NewInt(2), neg: true}}
	e := chainAddition(terms)
	origins := map[string]bool{"__text_origin__": true}
	reduced := ReduceSegmentPtrDiff(e, origins)
	kind, _ := reduced.Evaluate(nil)
	if kind != Evaluated {
		t.Fatalf("expected Evaluated")
	}
	v, _ := reduced.Value()
	if v != uint64(int64(-1)) {
		t.Fatalf("got %d", int64(v))
	}
}

func TestFindPath(t *testing.T) {
	e := NewBinary(Add, NewToken("foo"), NewInt(3))
	path, found := FindPath(e, "foo")
	if !found || len(path) != 2 {
		t.Fatalf("expected path of length 2, got %v found=%v", path, found)
	}
	_, found = FindPath(e, "bar")
	if found {
		t.Fatalf("expected not found")
	}
}
