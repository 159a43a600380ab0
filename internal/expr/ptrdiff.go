package expr

// This file implements the segment-origin "ptrdiff" reduction: address
// arithmetic of the form `segment_base + offset_a - (segment_base + offset_b)`
// can be resolved before the linker has chosen final segment origins,
// because the unknown bases cancel.

// term pairs an Expr with the sign (positive/negative) it contributes under
// addition.
type term struct {
	e   *Expr
	neg bool
}

// populateAddSub flattens e through nested Add/Sub/Neg nodes into a flat
// list of signed terms, stopping at the first node that is not itself
// Add/Sub/Neg. Mirrors the original recursive two-accumulator flattening:
// Add recurses both children with the same sign, Sub recurses its right
// child with the sign flipped, Neg recurses its one child with the sign
// flipped.
func populateAddSub(e *Expr, neg bool, out *[]term) {
	switch e.op {
	case Add:
		populateAddSub(e.left, neg, out)
		populateAddSub(e.right, neg, out)
	case Sub:
		populateAddSub(e.left, neg, out)
		populateAddSub(e.right, !neg, out)
	case Neg:
		populateAddSub(e.left, !neg, out)
	default:
		*out = append(*out, term{e: e, neg: neg})
	}
}

// chainAddition rebuilds a left-associative Add/Sub tree from a list of
// signed terms. An empty list yields a zero leaf.
func chainAddition(terms []term) *Expr {
	if len(terms) == 0 {
		return NewInt(0)
	}
	var result *Expr
	if terms[0].neg {
		result = NewUnary(Neg, terms[0].e)
	} else {
		result = terms[0].e
	}
	for _, t := range terms[1:] {
		if t.neg {
			result = NewBinary(Sub, result, t.e)
		} else {
			result = NewBinary(Add, result, t.e)
		}
	}
	return result
}

// isSegmentOriginLeaf reports whether e is an unresolved leaf naming one of
// the given segment-origin symbols.
func isSegmentOriginLeaf(e *Expr, segmentOrigins map[string]bool) bool {
	return e.op == OpNone && e.token != "" && segmentOrigins[e.token]
}

// ReduceSegmentPtrDiff cancels one matching pair of segment-origin terms
// that appear on both sides of a subtraction (e.g. `$ - $$`).
// segmentOrigins names the symbols considered segment bases. Returns a
// newly built expression over the remaining terms (e itself is not
// modified); if no pair cancels, returns e unchanged.
func ReduceSegmentPtrDiff(e *Expr, segmentOrigins map[string]bool) *Expr {
	var terms []term
	populateAddSub(e, false, &terms)

	adds := make([]term, 0, len(terms))
	subs := make([]term, 0, len(terms))
	for _, t := range terms {
		if t.neg {
			subs = append(subs, t)
		} else {
			adds = append(adds, t)
		}
	}

	cancelled := false
	for i := 0; i < len(adds); i++ {
		if !isSegmentOriginLeaf(adds[i].e, segmentOrigins) {
			continue
		}
		for j := 0; j < len(subs); j++ {
			if isSegmentOriginLeaf(subs[j].e, segmentOrigins) && subs[j].e.token == adds[i].e.token {
				adds = append(adds[:i], adds[i+1:]...)
				subs = append(subs[:j], subs[j+1:]...)
				i--
				cancelled = true
				break
			}
		}
		if cancelled {
			break
		}
	}

	if !cancelled {
		return e
	}

	merged := make([]term, 0, len(adds)+len(subs))
	merged = append(merged, adds...)
	for _, s := range subs {
		merged = append(merged, term{e: s.e, neg: true})
	}
	return chainAddition(merged)
}

// FindPath returns the chain of nodes from e down to the first leaf whose
// token equals name, inclusive of both ends, or (nil, false) if name does
// not appear in the tree, i.e. whether an expression still depends on a
// given symbol.
func FindPath(e *Expr, name string) ([]*Expr, bool) {
	if e.op == OpNone {
		if e.token == name {
			return []*Expr{e}, true
		}
		return nil, false
	}
	if e.left != nil {
		if path, found := FindPath(e.left, name); found {
			return append([]*Expr{e}, path...), true
		}
	}
	if e.right != nil {
		if path, found := FindPath(e.right, name); found {
			return append([]*Expr{e}, path...), true
		}
	}
	return nil, false
}
