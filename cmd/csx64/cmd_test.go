package main

import (
	"os"
	"path/filepath"
	"testing"
)

const exitProgram = `
global _start
segment .text
_start:
mov rax, 0
mov rbx, 42
syscall
`

func resetFlags(t *testing.T) {
	t.Helper()
	flagOutput = ""
	flagEntry = "main"
	flagRoot = ""
	flagFS = false
	flagTime = false
	flagVerbose = false
}

func TestRunAssemblesAndRunsSource(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "exit.asm")
	if err := os.WriteFile(src, []byte(exitProgram), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	if err := runRun([]string{src}, nil); err != nil {
		t.Fatalf("runRun: %v", err)
	}
	if lastExitCode != 42 {
		t.Fatalf("lastExitCode = %d, want 42", lastExitCode)
	}
}

func TestAsmThenLinkThenRun(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "exit.asm")
	if err := os.WriteFile(src, []byte(exitProgram), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	objPath := filepath.Join(dir, "exit.o")
	flagOutput = objPath
	if err := runAsm(src); err != nil {
		t.Fatalf("runAsm: %v", err)
	}

	exePath := filepath.Join(dir, "exit.csx")
	flagOutput = exePath
	if err := runLink([]string{objPath}); err != nil {
		t.Fatalf("runLink: %v", err)
	}

	flagOutput = ""
	if err := runRun([]string{exePath}, nil); err != nil {
		t.Fatalf("runRun on linked executable: %v", err)
	}
	if lastExitCode != 42 {
		t.Fatalf("lastExitCode = %d, want 42", lastExitCode)
	}
}

func TestRunAsmSyntaxErrorMapsToAsmExitCode(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.asm")
	if err := os.WriteFile(src, []byte("segment .text\nnotarealmnemonic\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	err := runRun([]string{src}, nil)
	if err == nil {
		t.Fatalf("expected an assemble error")
	}
	if code := exitCodeFor(err); code != exitAsmError {
		t.Fatalf("exitCodeFor = %d, want %d", code, exitAsmError)
	}
}

func TestHasExeMagicDistinguishesSourceFromExecutable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.asm")
	if err := os.WriteFile(src, []byte(exitProgram), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	isExe, err := hasExeMagic(src)
	if err != nil {
		t.Fatalf("hasExeMagic: %v", err)
	}
	if isExe {
		t.Fatalf("source file misdetected as executable")
	}

	exe := filepath.Join(dir, "b.csx")
	if err := os.WriteFile(exe, append([]byte(exeMagic), 0, 0, 0, 0), 0o644); err != nil {
		t.Fatalf("write fake executable: %v", err)
	}
	isExe, err = hasExeMagic(exe)
	if err != nil {
		t.Fatalf("hasExeMagic: %v", err)
	}
	if !isExe {
		t.Fatalf("executable not detected via magic bytes")
	}
}

func TestExitCodeForUsageError(t *testing.T) {
	err := newUsageError("run requires at least one source, object, or executable path")
	if code := exitCodeFor(err); code != exitUsageError {
		t.Fatalf("exitCodeFor = %d, want %d", code, exitUsageError)
	}
}
