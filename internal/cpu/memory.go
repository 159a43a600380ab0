package cpu

import (
	"encoding/binary"

	"github.com/csx64/csx64-go/internal/csxerr"
)

// Memory is the CPU's flat address space plus the three monotonically
// increasing barriers that stand in for paging: bytes at or beyond
// ExecBarrier cannot be fetched as instructions, writes below
// ReadOnlyBarrier are rejected, and the stack may never retreat past
// StackBarrier. Go's allocator does not expose alignment control, so Bytes
// is a plain slice of exactly the requested size with no alignment
// guarantee beyond the allocator's own.
type Memory struct {
	Bytes           []byte
	ExecBarrier     uint64
	ReadOnlyBarrier uint64
	StackBarrier    uint64
}

func (m *Memory) Size() uint64 { return uint64(len(m.Bytes)) }

// checkRange verifies pos+size does not run past the end of memory.
func (m *Memory) checkRange(pos, size uint64) bool {
	return pos+size >= pos && pos+size <= m.Size()
}

// Read copies size bytes starting at pos. err is OutOfBounds if the range
// falls outside memory.
func (m *Memory) Read(pos, size uint64) (val uint64, err csxerr.RuntimeError) {
	if !m.checkRange(pos, size) {
		return 0, csxerr.OutOfBounds
	}
	buf := make([]byte, 8)
	copy(buf, m.Bytes[pos:pos+size])
	return binary.LittleEndian.Uint64(buf), csxerr.None
}

// Write stores the low size bytes of val at pos. Rejects writes into the
// read-only region or out of bounds.
func (m *Memory) Write(pos, size, val uint64) csxerr.RuntimeError {
	if !m.checkRange(pos, size) {
		return csxerr.OutOfBounds
	}
	if pos < m.ReadOnlyBarrier {
		return csxerr.AccessViolation
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, val)
	copy(m.Bytes[pos:pos+size], buf[:size])
	return csxerr.None
}

// FetchByte reads a single instruction byte, enforcing the executable
// barrier.
func (m *Memory) FetchByte(pos uint64) (byte, csxerr.RuntimeError) {
	if pos >= m.ExecBarrier || pos >= m.Size() {
		return 0, csxerr.AccessViolation
	}
	return m.Bytes[pos], csxerr.None
}

// Grow reallocates the buffer to newSize, zero-extending or truncating as
// needed. Used by the brk syscall.
func (m *Memory) Grow(newSize uint64) {
	if newSize <= m.Size() {
		m.Bytes = m.Bytes[:newSize]
		return
	}
	grown := make([]byte, newSize)
	copy(grown, m.Bytes)
	m.Bytes = grown
}
