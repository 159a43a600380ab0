package cpu

import (
	"github.com/csx64/csx64-go/internal/csxerr"
	"github.com/csx64/csx64-go/internal/sys"
)

// Guest syscall numbers, per the external syscall ABI.
const (
	SysExit = iota
	SysRead
	SysWrite
	SysOpen
	SysClose
	SysLseek
	SysBrk
	SysRename
	SysUnlink
	SysMkdir
	SysRmdir
)

const sysFailure = ^uint64(0)

// SetFD installs fd at guest descriptor index i, closing whatever was
// there first. Used by the host driver to wire stdin/stdout/stderr after
// Initialize.
func (s *State) SetFD(i int, fd sys.FD) {
	if s.fds[i] != nil {
		s.fds[i].Close()
	}
	s.fds[i] = fd
}

func (s *State) allocFD() (int, bool) {
	for i, fd := range s.fds {
		if fd == nil {
			return i, true
		}
	}
	return 0, false
}

func execSyscall(s *State) bool {
	switch s.GP.Get(RAX, Size64) {
	case SysExit:
		s.Exit(int64(s.GP.Get(RBX, Size64)))
		return false
	case SysRead:
		return sysRead(s)
	case SysWrite:
		return sysWrite(s)
	case SysOpen:
		return sysOpen(s)
	case SysClose:
		return sysClose(s)
	case SysLseek:
		return sysLseek(s)
	case SysBrk:
		return sysBrk(s)
	case SysRename:
		return sysFsOp(s, sysRenameFunc)
	case SysUnlink:
		return sysFsOp(s, sysUnlinkFunc)
	case SysMkdir:
		return sysFsOp(s, sysMkdirFunc)
	case SysRmdir:
		return sysFsOp(s, sysRmdirFunc)
	default:
		s.Terminate(csxerr.UnhandledSyscall)
		return false
	}
}

func (s *State) fdOrFail(index uint64) (sys.FD, bool) {
	if index >= uint64(len(s.fds)) || s.fds[index] == nil {
		s.GP.Set(RAX, Size64, sysFailure)
		return nil, false
	}
	return s.fds[index], true
}

func sysRead(s *State) bool {
	fd, ok := s.fdOrFail(s.GP.Get(RBX, Size64))
	if !ok {
		return true
	}
	addr := s.GP.Get(RCX, Size64)
	n := s.GP.Get(RDX, Size64)
	if addr+n > s.Mem.Size() {
		s.Terminate(csxerr.OutOfBounds)
		return false
	}

	got, err := fd.Read(s.Mem.Bytes[addr : addr+n])
	if got == 0 && err == nil && fd.IsInteractive() {
		// No data yet on an interactive descriptor: suspend and rewind RIP
		// by 1 (the SYSCALL opcode byte) so the syscall retries on resume.
		s.suspendedRead.Store(true)
		s.RIP--
		return true
	}
	if err != nil && got == 0 {
		s.GP.Set(RAX, Size64, sysFailure)
		return true
	}
	s.GP.Set(RAX, Size64, uint64(got))
	return true
}

func sysWrite(s *State) bool {
	fd, ok := s.fdOrFail(s.GP.Get(RBX, Size64))
	if !ok {
		return true
	}
	addr := s.GP.Get(RCX, Size64)
	n := s.GP.Get(RDX, Size64)
	if addr+n > s.Mem.Size() {
		s.Terminate(csxerr.OutOfBounds)
		return false
	}
	written, err := fd.Write(s.Mem.Bytes[addr : addr+n])
	if err != nil {
		s.GP.Set(RAX, Size64, sysFailure)
		return true
	}
	s.GP.Set(RAX, Size64, uint64(written))
	return true
}

func sysOpen(s *State) bool {
	if !s.Flags.FSF() {
		s.Terminate(csxerr.FSDisabled)
		return false
	}
	path := s.readCString(s.GP.Get(RBX, Size64))
	flags := int(s.GP.Get(RCX, Size64))

	idx, ok := s.allocFD()
	if !ok {
		s.GP.Set(RAX, Size64, sysFailure)
		return true
	}
	fd, err := sys.Open(path, flags, 0o644)
	if err != nil {
		s.GP.Set(RAX, Size64, sysFailure)
		return true
	}
	s.fds[idx] = fd
	s.GP.Set(RAX, Size64, uint64(idx))
	return true
}

func sysClose(s *State) bool {
	idx := s.GP.Get(RBX, Size64)
	if idx >= uint64(len(s.fds)) || s.fds[idx] == nil {
		s.GP.Set(RAX, Size64, sysFailure)
		return true
	}
	s.fds[idx].Close()
	s.fds[idx] = nil
	s.GP.Set(RAX, Size64, 0)
	return true
}

func sysLseek(s *State) bool {
	fd, ok := s.fdOrFail(s.GP.Get(RBX, Size64))
	if !ok {
		return true
	}
	off := int64(s.GP.Get(RCX, Size64))
	origin := sys.SeekOrigin(s.GP.Get(RDX, Size64))
	pos, err := fd.Seek(off, origin)
	if err != nil {
		s.GP.Set(RAX, Size64, sysFailure)
		return true
	}
	s.GP.Set(RAX, Size64, uint64(pos))
	return true
}

// sysBrk implements brk(0) (query current size) and brk(n) (resize to n
// bytes; a request outside [minMemSize, maxMemSize] fails with RAX = -1
// and leaves memory unchanged).
func sysBrk(s *State) bool {
	req := s.GP.Get(RBX, Size64)
	if req == 0 {
		s.GP.Set(RAX, Size64, s.Mem.Size())
		return true
	}
	if req < minMemSize || req > maxMemSize {
		s.GP.Set(RAX, Size64, sysFailure)
		return true
	}
	s.Mem.Grow(req)
	if s.Mem.StackBarrier > s.Mem.Size() {
		s.Mem.StackBarrier = s.Mem.Size()
	}
	s.GP.Set(RAX, Size64, 0)
	return true
}

func sysFsOp(s *State, fn func(a, b string) error) bool {
	if !s.Flags.FSF() {
		s.Terminate(csxerr.FSDisabled)
		return false
	}
	a := s.readCString(s.GP.Get(RBX, Size64))
	b := s.readCString(s.GP.Get(RCX, Size64))
	if err := fn(a, b); err != nil {
		s.GP.Set(RAX, Size64, sysFailure)
		return true
	}
	s.GP.Set(RAX, Size64, 0)
	return true
}

// readCString reads a NUL-terminated string out of guest memory starting
// at addr.
func (s *State) readCString(addr uint64) string {
	end := addr
	for end < s.Mem.Size() && s.Mem.Bytes[end] != 0 {
		end++
	}
	return string(s.Mem.Bytes[addr:end])
}
