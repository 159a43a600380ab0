// Package sys defines the file-descriptor wrapper contract the CPU's
// syscall layer translates guest read/write/open/close/lseek calls through,
// and the two concrete adapters (terminal, regular file) it ships with.
package sys

import (
	"errors"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrUnsupported is returned by an FD operation a given wrapper does not
// support (e.g. Seek on a terminal); the CPU's syscall layer reports it to
// the guest as a failed call (RAX = -1).
var ErrUnsupported = errors.New("operation not supported by this file descriptor")

// SeekOrigin mirrors the guest lseek ABI's origin argument.
type SeekOrigin int

const (
	SeekSet SeekOrigin = 0
	SeekCur SeekOrigin = 1
	SeekEnd SeekOrigin = 2
)

// FD is the wrapper contract every file descriptor implementation exposes
// to the syscall layer. Violating a declared capability (e.g. calling
// Write on a read-only FD) is the wrapper's responsibility to reject with
// ErrUnsupported.
type FD interface {
	IsInteractive() bool
	CanRead() bool
	CanWrite() bool
	CanSeek() bool

	Read(buf []byte) (n int, err error)
	Write(buf []byte) (n int, err error)
	Seek(offset int64, origin SeekOrigin) (newPos int64, err error)

	Close() error
}

// TermFD adapts the process's standard input/output streams to the FD
// contract: read-or-write depending on construction, never seekable.
// IsInteractive reports the stream's actual raw-terminal status (via
// golang.org/x/term) when it wraps an *os.File; any other reader or writer
// is treated as interactive.
type TermFD struct {
	r        io.Reader
	w        io.Writer
	readable bool
	writable bool
	tty      bool
}

// NewTermIn wraps r as a readable, non-writable descriptor.
func NewTermIn(r io.Reader) *TermFD {
	return &TermFD{r: r, readable: true, tty: isTerminal(r)}
}

// NewTermOut wraps w as a writable, non-readable descriptor.
func NewTermOut(w io.Writer) *TermFD {
	return &TermFD{w: w, writable: true, tty: isTerminal(w)}
}

// isTerminal reports whether v should be treated as an interactive stream.
// Anything other than an *os.File (e.g. a test buffer, or a pipe the caller
// has already classified) is assumed interactive, matching guest programs'
// expectation that stdin/stdout behave like a console unless proven
// otherwise; an *os.File defers to the real raw-terminal check.
func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}

func (t *TermFD) IsInteractive() bool { return t.tty }
func (t *TermFD) CanRead() bool       { return t.readable }
func (t *TermFD) CanWrite() bool      { return t.writable }
func (t *TermFD) CanSeek() bool       { return false }

func (t *TermFD) Read(buf []byte) (int, error) {
	if !t.readable {
		return 0, ErrUnsupported
	}
	return t.r.Read(buf)
}

func (t *TermFD) Write(buf []byte) (int, error) {
	if !t.writable {
		return 0, ErrUnsupported
	}
	return t.w.Write(buf)
}

func (t *TermFD) Seek(int64, SeekOrigin) (int64, error) { return 0, ErrUnsupported }
func (t *TermFD) Close() error                           { return nil }

// FileFD adapts an *os.File to the FD contract: never interactive, fully
// seekable, read/write according to how it was opened.
type FileFD struct {
	f        *os.File
	readable bool
	writable bool
}

// NewFileFD wraps an already-open file. readable/writable should mirror
// the flags it was opened with.
func NewFileFD(f *os.File, readable, writable bool) *FileFD {
	return &FileFD{f: f, readable: readable, writable: writable}
}

func (f *FileFD) IsInteractive() bool { return false }
func (f *FileFD) CanRead() bool       { return f.readable }
func (f *FileFD) CanWrite() bool      { return f.writable }
func (f *FileFD) CanSeek() bool       { return true }

func (f *FileFD) Read(buf []byte) (int, error) {
	if !f.readable {
		return 0, ErrUnsupported
	}
	return f.f.Read(buf)
}

func (f *FileFD) Write(buf []byte) (int, error) {
	if !f.writable {
		return 0, ErrUnsupported
	}
	return f.f.Write(buf)
}

func (f *FileFD) Seek(offset int64, origin SeekOrigin) (int64, error) {
	var whence int
	switch origin {
	case SeekSet:
		whence = io.SeekStart
	case SeekCur:
		whence = io.SeekCurrent
	case SeekEnd:
		whence = io.SeekEnd
	default:
		return 0, ErrUnsupported
	}
	return f.f.Seek(offset, whence)
}

func (f *FileFD) Close() error { return f.f.Close() }

// OpenFlags bits, per the guest syscall ABI.
const (
	OpenRead   = 1
	OpenWrite  = 2
	OpenCreate = 4
	OpenTemp   = 8
	OpenTrunc  = 16
	OpenAppend = 32
)

// Open translates guest open() flags into an os.OpenFile call and wraps the
// result as a FileFD.
func Open(path string, flags int, perm os.FileMode) (*FileFD, error) {
	var osFlags int
	readable := flags&OpenRead != 0
	writable := flags&OpenWrite != 0
	switch {
	case readable && writable:
		osFlags = os.O_RDWR
	case writable:
		osFlags = os.O_WRONLY
	default:
		osFlags = os.O_RDONLY
		readable = true
	}
	if flags&OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&OpenTrunc != 0 {
		osFlags |= os.O_TRUNC
	}
	if flags&OpenAppend != 0 {
		osFlags |= os.O_APPEND
	}

	f, err := os.OpenFile(path, osFlags, perm)
	if err != nil {
		return nil, err
	}
	if flags&OpenTemp != 0 {
		os.Remove(path)
	}
	return NewFileFD(f, readable, writable), nil
}
