package objfile

import "bytes"

// LiteralRef is a handle into a BinaryLiteralCollection: the bytes it names
// are top_level[TopLevelIndex][Start : Start+Length].
type LiteralRef struct {
	TopLevelIndex int
	Start         int
	Length        int
}

// BinaryLiteralCollection interns string/binary literals (from `$str(...)`
// and `$bin(...)`) with substring-level deduplication: a newly-added literal
// is stored as a reference into an existing top-level buffer whenever one
// already contains it, or absorbs an existing smaller top-level, rather than
// always appending a fresh copy.
type BinaryLiteralCollection struct {
	TopLevel [][]byte
	Refs     []LiteralRef
}

// Add interns bytes and returns its global index into Refs. Matches an
// existing entry before creating a new ref; see the insert policy on
// BinaryLiteralCollection.
func (c *BinaryLiteralCollection) Add(data []byte) int {
	buf := append([]byte(nil), data...)

	// (i) reuse: some top_level already contains buf as a contiguous
	// subregion.
	for i, top := range c.TopLevel {
		if idx := bytes.Index(top, buf); idx >= 0 {
			return c.addRef(LiteralRef{TopLevelIndex: i, Start: idx, Length: len(buf)})
		}
	}

	// (ii) replace-and-repoint: some existing top_level is itself a
	// subregion of buf - absorb it.
	for i, top := range c.TopLevel {
		if idx := bytes.Index(buf, top); idx >= 0 {
			c.replaceTopLevel(i, buf, idx)
			return c.addRef(LiteralRef{TopLevelIndex: i, Start: idx, Length: len(buf)})
		}
	}

	// (iii) append as a new top-level.
	idx := len(c.TopLevel)
	c.TopLevel = append(c.TopLevel, buf)
	return c.addRef(LiteralRef{TopLevelIndex: idx, Start: 0, Length: len(buf)})
}

// replaceTopLevel swaps top_level[i] for the larger buf (which contains the
// old entry at shift), repoints every existing ref into i by shift, then
// collapses any other top-level now contained in the replacement.
func (c *BinaryLiteralCollection) replaceTopLevel(i int, buf []byte, shift int) {
	c.TopLevel[i] = buf
	for r := range c.Refs {
		if c.Refs[r].TopLevelIndex == i {
			c.Refs[r].Start += shift
		}
	}

	for j := 0; j < len(c.TopLevel); j++ {
		if j == i {
			continue
		}
		other := c.TopLevel[j]
		idx := bytes.Index(buf, other)
		if idx < 0 {
			continue
		}
		for r := range c.Refs {
			if c.Refs[r].TopLevelIndex == j {
				c.Refs[r].TopLevelIndex = i
				c.Refs[r].Start += idx
			}
		}
		last := len(c.TopLevel) - 1
		c.TopLevel[j] = c.TopLevel[last]
		c.TopLevel = c.TopLevel[:last]
		for r := range c.Refs {
			if c.Refs[r].TopLevelIndex == last {
				c.Refs[r].TopLevelIndex = j
			}
		}
		j--
	}
}

// addRef appends ref unless an identical one already exists, returning its
// index either way.
func (c *BinaryLiteralCollection) addRef(ref LiteralRef) int {
	for i, r := range c.Refs {
		if r == ref {
			return i
		}
	}
	c.Refs = append(c.Refs, ref)
	return len(c.Refs) - 1
}

// Bytes returns the byte slice named by the literal at the given global
// index.
func (c *BinaryLiteralCollection) Bytes(index int) []byte {
	r := c.Refs[index]
	return c.TopLevel[r.TopLevelIndex][r.Start : r.Start+r.Length]
}

// Merge appends all of other's top-levels and refs (re-running the same
// dedup policy against this collection) and returns a map from other's
// local ref index to this collection's global ref index. Used by the linker
// when folding an object's literals into the merged image.
func (c *BinaryLiteralCollection) Merge(other *BinaryLiteralCollection) map[int]int {
	remap := make(map[int]int, len(other.Refs))
	for i, ref := range other.Refs {
		data := other.TopLevel[ref.TopLevelIndex][ref.Start : ref.Start+ref.Length]
		remap[i] = c.Add(data)
	}
	return remap
}
