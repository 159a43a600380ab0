package cpu

import (
	"math/rand"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/csx64/csx64-go/internal/csxerr"
	"github.com/csx64/csx64-go/internal/csxexe"
	"github.com/csx64/csx64-go/internal/sys"
)

const defaultFDCount = 16
const minMemSize = 4 * 1024
const maxMemSize = 1 << 34

// State is one CSX64 virtual machine instance. It exclusively owns its
// memory buffer, register file, and file-descriptor table for its
// lifetime; running/suspended-read are atomics so a host embedding this in
// a server can poll liveness from another goroutine without locking the
// whole struct, even though tick() itself is single-threaded per spec.
type State struct {
	GP    Registers
	Flags Flags
	FPU   FPU
	VPU   VPU
	RIP   uint64

	Mem Memory

	fds [defaultFDCount]sys.FD

	running       atomic.Bool
	suspendedRead atomic.Bool

	errCode    csxerr.RuntimeError
	returnCode int64

	rng *rand.Rand

	// Log receives Debugw-level lifecycle events (Initialize, Terminate,
	// Exit). Left nil by New; a caller that wants tracing sets it directly,
	// e.g. cmd/csx64 wiring in its *zap.SugaredLogger.
	Log *zap.SugaredLogger
}

// New constructs an uninitialized CPU state. Call Initialize before Tick.
func New(seed int64) *State {
	return &State{rng: rand.New(rand.NewSource(seed))}
}

// Running reports whether the machine has not yet terminated or exited.
func (s *State) Running() bool { return s.running.Load() }

// SuspendedRead reports whether the machine is blocked on an interactive
// read with no data yet available.
func (s *State) SuspendedRead() bool { return s.suspendedRead.Load() }

// ResumeSuspendedRead clears the suspended-read flag so the next Tick
// retries the syscall whose RIP was rewound.
func (s *State) ResumeSuspendedRead() { s.suspendedRead.Store(false) }

// ErrorCode returns the runtime error code set by Terminate, or None if the
// machine has not terminated abnormally.
func (s *State) ErrorCode() csxerr.RuntimeError { return s.errCode }

// ReturnCode returns the value set by Exit.
func (s *State) ReturnCode() int64 { return s.returnCode }

// Initialize allocates memory sized exe.TotalSize()+stackSize, copies
// text/rodata/data, zeroes bss, sets the three barriers, randomizes
// general-purpose and vector register bytes (to surface code that
// depends on uninitialized state), runs FINIT, sets RFLAGS=2, and lays out
// argv on the stack per the dual-ABI convention (both RDI/RSI and a final
// push of argv/argc satisfy either calling convention).
func (s *State) Initialize(exe *csxexe.Executable, argv []string, stackSize uint64) {
	total := exe.TotalSize() + stackSize
	s.Mem = Memory{Bytes: make([]byte, total)}
	copy(s.Mem.Bytes, exe.Content)

	s.Mem.ExecBarrier = exe.TextLen
	s.Mem.ReadOnlyBarrier = exe.TextLen + exe.RodataLen
	s.Mem.StackBarrier = exe.TotalSize()

	for i := range s.GP.R {
		s.GP.R[i] = s.rng.Uint64()
	}
	for r := range s.VPU.Regs {
		s.rng.Read(s.VPU.Regs[r][:])
	}

	s.FPU.Init()
	s.Flags.SetRaw(2)
	s.RIP = 0

	sp := total
	argPtrs := make([]uint64, 0, len(argv))
	for _, a := range argv {
		bytes := append([]byte(a), 0)
		sp -= uint64(len(bytes))
		copy(s.Mem.Bytes[sp:], bytes)
		argPtrs = append(argPtrs, sp)
	}

	sp &^= 7 // keep the pointer table 8-byte aligned
	sp -= 8  // null terminator for argv[]
	for i := len(argPtrs) - 1; i >= 0; i-- {
		sp -= 8
		putU64(s.Mem.Bytes[sp:], argPtrs[i])
	}
	argvPtr := sp

	s.GP.Set(RDI, Size64, uint64(len(argv)))
	s.GP.Set(RSI, Size64, argvPtr)
	s.GP.Set(RSP, Size64, argvPtr)

	s.pushRaw(argvPtr)
	s.pushRaw(uint64(len(argv)))

	s.running.Store(true)
	s.suspendedRead.Store(false)
	s.errCode = csxerr.None

	if s.Log != nil {
		s.Log.Debugw("cpu initialized", "memSize", len(s.Mem.Bytes), "argc", len(argv))
	}
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// pushRaw pushes a raw 64-bit value during Initialize, bypassing the
// normal checked Push (the stack pointer computed above is always valid by
// construction).
func (s *State) pushRaw(v uint64) {
	sp := s.GP.Get(RSP, Size64) - 8
	s.GP.Set(RSP, Size64, sp)
	putU64(s.Mem.Bytes[sp:], v)
}

// Terminate is idempotent: sets the error code, stops the machine, and
// closes every open file descriptor.
func (s *State) Terminate(code csxerr.RuntimeError) {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.errCode = code
	s.closeFDs()
	if s.Log != nil {
		s.Log.Debugw("cpu terminated", "error", code.String(), "rip", s.RIP)
	}
}

// Exit is idempotent: sets the return value, stops the machine, and closes
// every open file descriptor.
func (s *State) Exit(ret int64) {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.returnCode = ret
	s.closeFDs()
	if s.Log != nil {
		s.Log.Debugw("guest exited", "code", ret)
	}
}

func (s *State) closeFDs() {
	for i, fd := range s.fds {
		if fd != nil {
			fd.Close()
			s.fds[i] = nil
		}
	}
}

// RandomBits returns n pseudorandom bits for XOR-ing into flag positions a
// real CPU leaves undefined, per the toolchain's intentional
// undefined-flag nondeterminism.
func (s *State) RandomBits(n uint) uint64 {
	return s.rng.Uint64() & ((uint64(1) << n) - 1)
}

// Tick dispatches up to n instructions, stopping early if the machine
// stops running, suspends on read, or hits the executable barrier.
// Returns the number of instructions actually dispatched.
func (s *State) Tick(n int) int {
	dispatched := 0
	for i := 0; i < n; i++ {
		if !s.Running() || s.SuspendedRead() {
			break
		}
		if s.RIP >= s.Mem.ExecBarrier {
			s.Terminate(csxerr.AccessViolation)
			break
		}
		op, errCode := s.Mem.FetchByte(s.RIP)
		if errCode != csxerr.None {
			s.Terminate(errCode)
			break
		}
		s.RIP++

		handler := dispatchTable[op]
		if handler == nil {
			s.Terminate(csxerr.RuntimeUnknownOp)
			break
		}
		if !handler(s) {
			break
		}
		dispatched++
	}
	return dispatched
}
