package sys

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestTermFDCapabilities(t *testing.T) {
	in := NewTermIn(bytes.NewBufferString("hi"))
	if !in.CanRead() || in.CanWrite() || !in.IsInteractive() {
		t.Fatalf("unexpected capabilities on term-in")
	}
	if _, err := in.Write([]byte("x")); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported writing to a read-only term, got %v", err)
	}
	if _, err := in.Seek(0, SeekSet); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported seeking a terminal")
	}
}

func TestFileFDReadWriteSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	fd, err := Open(path, OpenRead|OpenWrite|OpenCreate, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fd.Close()

	if _, err := fd.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := fd.Seek(0, SeekSet); err != nil {
		t.Fatalf("seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := fd.Read(buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("got %q n=%d err=%v", buf[:n], n, err)
	}
}

func TestOpenTempRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tmp.txt")
	fd, err := Open(path, OpenRead|OpenWrite|OpenCreate|OpenTemp, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fd.Close()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be unlinked from the directory")
	}
}
