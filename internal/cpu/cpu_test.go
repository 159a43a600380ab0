package cpu

import (
	"testing"

	"github.com/csx64/csx64-go/internal/csxerr"
	"github.com/csx64/csx64-go/internal/csxexe"
)

func newTestState(t *testing.T, text []byte) *State {
	t.Helper()
	exe := csxexe.New(text, nil, nil, 0)
	s := New(1)
	s.Initialize(exe, nil, 4096)
	return s
}

func operandByteBits(mem, imm bool, size Sizecode, reg int) byte {
	var b byte
	if mem {
		b |= 0x80
	}
	if imm {
		b |= 0x40
	}
	b |= byte(size) << 4
	b |= byte(reg)
	return b
}

func appendU64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}

func TestMovRegImmediate(t *testing.T) {
	text := []byte{OpMov, operandByteBits(false, true, Size64, RAX)}
	text = appendU64(text, 5)
	text = append(text, OpHlt)

	s := newTestState(t, text)
	s.Tick(100)

	if s.GP.Get(RAX, Size64) != 5 {
		t.Fatalf("got RAX=%d", s.GP.Get(RAX, Size64))
	}
	if s.ErrorCode() != csxerr.Abort {
		t.Fatalf("expected Abort from HLT, got %v", s.ErrorCode())
	}
}

func TestSyscallExit(t *testing.T) {
	text := []byte{OpMov, operandByteBits(false, true, Size64, RAX)}
	text = appendU64(text, 0)
	text = append(text, OpMov, operandByteBits(false, true, Size64, RBX))
	text = appendU64(text, 42)
	text = append(text, OpSyscall)

	s := newTestState(t, text)
	s.Tick(100)

	if s.Running() {
		t.Fatalf("expected machine to have exited")
	}
	if s.ReturnCode() != 42 {
		t.Fatalf("got return code %d", s.ReturnCode())
	}
	if s.ErrorCode() != csxerr.None {
		t.Fatalf("expected no error, got %v", s.ErrorCode())
	}
}

func TestAddUpdatesFlags(t *testing.T) {
	text := []byte{OpMov, operandByteBits(false, true, Size64, RAX)}
	text = appendU64(text, 0xFFFFFFFFFFFFFFFF)
	text = append(text, OpAdd, operandByteBits(false, true, Size64, RAX))
	text = appendU64(text, 1)
	text = append(text, OpHlt)

	s := newTestState(t, text)
	s.Tick(100)

	if s.GP.Get(RAX, Size64) != 0 {
		t.Fatalf("expected wraparound to 0, got %x", s.GP.Get(RAX, Size64))
	}
	if !s.Flags.CF() {
		t.Fatalf("expected carry flag set on overflow")
	}
	if !s.Flags.ZF() {
		t.Fatalf("expected zero flag set")
	}
}

func TestPushPopPreservesValueAndRSP(t *testing.T) {
	s := newTestState(t, []byte{OpHlt})
	rspBefore := s.GP.Get(RSP, Size64)

	if !checkedPush(s, 0xDEADBEEF, Size64) {
		t.Fatalf("push failed")
	}
	if s.GP.Get(RSP, Size64) != rspBefore-8 {
		t.Fatalf("RSP not decremented correctly")
	}
	v, ok := checkedPop(s, Size64)
	if !ok || v != 0xDEADBEEF {
		t.Fatalf("pop mismatch: v=%x ok=%v", v, ok)
	}
	if s.GP.Get(RSP, Size64) != rspBefore {
		t.Fatalf("RSP not restored after pop")
	}
}

func TestPushBelowStackBarrierOverflows(t *testing.T) {
	s := newTestState(t, []byte{OpHlt})
	s.GP.Set(RSP, Size64, s.Mem.StackBarrier)
	if checkedPush(s, 1, Size8) {
		t.Fatalf("expected stack overflow pushing below the stack barrier")
	}
	if s.ErrorCode() != csxerr.StackOverflow {
		t.Fatalf("got %v", s.ErrorCode())
	}
}

func TestTruncateAndSignExtend(t *testing.T) {
	for _, size := range []Sizecode{Size8, Size16, Size32, Size64} {
		v := uint64(0xFEDCBA9876543210)
		want := v & ((uint64(1) << uint(size.Bits())) - 1)
		if size == Size64 {
			want = v
		}
		if got := Truncate(v, size); got != want {
			t.Fatalf("Truncate(%d): got %x want %x", size, got, want)
		}
	}

	se := SignExtend(0xFF, Size8)
	if int64(se) != -1 {
		t.Fatalf("expected -1, got %d", int64(se))
	}
}

func TestFPUPushPopStack(t *testing.T) {
	var f FPU
	f.Init()
	if !f.Push(1.5) {
		t.Fatalf("push failed")
	}
	if !f.Push(2.5) {
		t.Fatalf("push failed")
	}
	top, ok := f.ST(0)
	if !ok || top != 2.5 {
		t.Fatalf("got %v ok=%v", top, ok)
	}
	v, ok := f.Pop()
	if !ok || v != 2.5 {
		t.Fatalf("pop mismatch")
	}
	v, ok = f.Pop()
	if !ok || v != 1.5 {
		t.Fatalf("pop mismatch")
	}
	if _, ok := f.Pop(); ok {
		t.Fatalf("expected underflow on empty stack")
	}
}

func TestFPUOverflow(t *testing.T) {
	var f FPU
	f.Init()
	for i := 0; i < 8; i++ {
		if !f.Push(float64(i)) {
			t.Fatalf("unexpected overflow at %d", i)
		}
	}
	if f.Push(99) {
		t.Fatalf("expected overflow on a full stack")
	}
}

func TestMulWidensIntoRdxRax(t *testing.T) {
	text := []byte{OpMov, operandByteBits(false, true, Size64, RAX)}
	text = appendU64(text, 0xFFFFFFFFFFFFFFFF)
	text = append(text, OpMov, operandByteBits(false, true, Size64, RBX))
	text = appendU64(text, 2)
	text = append(text, OpMul, operandByteBits(false, false, Size64, RBX))
	text = append(text, OpHlt)

	s := newTestState(t, text)
	s.Tick(100)

	if s.GP.Get(RAX, Size64) != 0xFFFFFFFFFFFFFFFE {
		t.Fatalf("RAX = %#x", s.GP.Get(RAX, Size64))
	}
	if s.GP.Get(RDX, Size64) != 1 {
		t.Fatalf("RDX = %#x, want 1", s.GP.Get(RDX, Size64))
	}
	if !s.Flags.CF() {
		t.Fatalf("expected CF set when the high half is nonzero")
	}
}

func TestDivByZeroTerminatesWithArithmeticError(t *testing.T) {
	text := []byte{OpMov, operandByteBits(false, true, Size64, RBX)}
	text = appendU64(text, 0)
	text = append(text, OpDiv, operandByteBits(false, false, Size64, RBX))
	text = append(text, OpHlt)

	s := newTestState(t, text)
	s.Tick(100)

	if s.ErrorCode() != csxerr.ArithmeticError {
		t.Fatalf("got %v, want ArithmeticError", s.ErrorCode())
	}
}

func TestDivProducesQuotientAndRemainder(t *testing.T) {
	text := []byte{OpMov, operandByteBits(false, true, Size64, RAX)}
	text = appendU64(text, 17)
	text = append(text, OpMov, operandByteBits(false, true, Size64, RDX))
	text = appendU64(text, 0)
	text = append(text, OpMov, operandByteBits(false, true, Size64, RBX))
	text = appendU64(text, 5)
	text = append(text, OpDiv, operandByteBits(false, false, Size64, RBX))
	text = append(text, OpHlt)

	s := newTestState(t, text)
	s.Tick(100)

	if s.GP.Get(RAX, Size64) != 3 {
		t.Fatalf("quotient = %d, want 3", s.GP.Get(RAX, Size64))
	}
	if s.GP.Get(RDX, Size64) != 2 {
		t.Fatalf("remainder = %d, want 2", s.GP.Get(RDX, Size64))
	}
}

func TestRclRotatesThroughCarry(t *testing.T) {
	s := newTestState(t, []byte{OpHlt})
	s.GP.Set(RAX, Size8, 0x80)
	s.Flags.SetCF(false)
	result := opRcl(s, 0x80, 1, Size8)
	if result != 0 {
		t.Fatalf("got %#x, want 0", result)
	}
	if !s.Flags.CF() {
		t.Fatalf("expected CF to receive the rotated-out high bit")
	}
}

func TestRcrRotatesThroughCarry(t *testing.T) {
	s := newTestState(t, []byte{OpHlt})
	s.Flags.SetCF(true)
	result := opRcr(s, 0, 1, Size8)
	if result != 0x80 {
		t.Fatalf("got %#x, want 0x80 (incoming CF rotated into the top bit)", result)
	}
	if s.Flags.CF() {
		t.Fatalf("expected CF to receive the rotated-out low bit (0)")
	}
}

func TestLoopccStopsWhenConditionFails(t *testing.T) {
	text := []byte{OpMov, operandByteBits(false, true, Size64, RCX)}
	text = appendU64(text, 5)
	loopAt := len(text)
	text = append(text, OpLoopcc, byte(CondZ))
	text = appendU64(text, uint64(loopAt))
	text = append(text, OpHlt)

	s := newTestState(t, text)
	s.Flags.SetZF(false)
	s.Tick(100)

	if s.GP.Get(RCX, Size64) != 4 {
		t.Fatalf("RCX = %d, want 4 (decremented once, loop not taken since ZF is clear)", s.GP.Get(RCX, Size64))
	}
}

func TestSetccWritesZeroOrOne(t *testing.T) {
	text := []byte{OpSetcc, byte(CondZ), operandByteBits(false, false, Size8, RAX)}
	text = append(text, OpHlt)

	s := newTestState(t, text)
	s.Flags.SetZF(true)
	s.Tick(100)

	if s.GP.Get(RAX, Size8) != 1 {
		t.Fatalf("RAX = %d, want 1 when ZF is set", s.GP.Get(RAX, Size8))
	}
}

func TestCmovccOnlyCopiesWhenConditionHolds(t *testing.T) {
	text := []byte{OpMov, operandByteBits(false, true, Size64, RAX)}
	text = appendU64(text, 0)
	text = append(text, OpMov, operandByteBits(false, true, Size64, RBX))
	text = appendU64(text, 99)
	text = append(text, OpCmovcc, byte(CondZ), operandByteBits(false, false, Size64, RAX))
	text = append(text, byte(RBX))
	text = append(text, OpHlt)

	s := newTestState(t, text)
	s.Flags.SetZF(false)
	s.Tick(100)

	if s.GP.Get(RAX, Size64) != 0 {
		t.Fatalf("RAX = %d, want unchanged 0 since ZF is clear", s.GP.Get(RAX, Size64))
	}
}

func TestFsubCombinesStackTopIntoNewTop(t *testing.T) {
	var f FPU
	f.Init()
	f.Push(10)
	f.Push(3)
	s := newTestState(t, []byte{OpHlt})
	s.FPU = f
	if !execFsub(s) {
		t.Fatalf("execFsub failed")
	}
	top, ok := s.FPU.ST(0)
	if !ok || top != 7 {
		t.Fatalf("got %v ok=%v, want 7 (10-3)", top, ok)
	}
}

func TestFcomSetsZFOnEqual(t *testing.T) {
	var f FPU
	f.Init()
	f.Push(4)
	f.Push(4)
	s := newTestState(t, []byte{OpHlt})
	s.FPU = f
	if !execFcom(s) {
		t.Fatalf("execFcom failed")
	}
	if !s.Flags.ZF() {
		t.Fatalf("expected ZF set when ST(0) == ST(1)")
	}
}

func TestVsubpsSubtractsLanes(t *testing.T) {
	text := []byte{OpVsubps, 0, 0, 1, 2, OpHlt}
	s := newTestState(t, text)
	s.VPU.SetLaneF32(1, 0, 5)
	s.VPU.SetLaneF32(2, 0, 2)
	s.Tick(100)
	if got := s.VPU.LaneF32(0, 0); got != 3 {
		t.Fatalf("lane 0 = %v, want 3", got)
	}
}

func TestVcmpeqpsProducesAllOnesMaskOnEqualLanes(t *testing.T) {
	text := []byte{OpVcmpeqps, 0, 0, 1, 2, OpHlt}
	s := newTestState(t, text)
	s.VPU.SetLaneF32(1, 0, 9)
	s.VPU.SetLaneF32(2, 0, 9)
	s.Tick(100)
	if got := s.VPU.LaneU(0, 0, 4); got != 0xFFFFFFFF {
		t.Fatalf("lane mask = %#x, want 0xFFFFFFFF", got)
	}
}
