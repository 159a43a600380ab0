package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/csx64/csx64-go/internal/assemble"
	"github.com/csx64/csx64-go/internal/cpu"
	"github.com/csx64/csx64-go/internal/csxerr"
	"github.com/csx64/csx64-go/internal/csxexe"
	"github.com/csx64/csx64-go/internal/link"
	"github.com/csx64/csx64-go/internal/sys"
)

const (
	runStackSize = 1 << 20
	tickBatch    = 1 << 16
	exeMagic     = "CSX64exe"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <src-or-exe...> [-- guest-args...]",
		Short: "Run one or more assembly sources, or one linked executable, on the virtual CPU",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dash := cmd.ArgsLenAtDash()
			progArgs, guestArgs := args, []string(nil)
			if dash >= 0 {
				progArgs, guestArgs = args[:dash], args[dash:]
			}
			if len(progArgs) == 0 {
				return newUsageError("run requires at least one source or executable path")
			}
			return runRun(progArgs, guestArgs)
		},
	}
}

func runRun(progArgs, guestArgs []string) error {
	log := newLogger()
	defer log.Sync()

	start := time.Now()
	exe, err := loadOrBuild(progArgs, log)
	if err != nil {
		return err
	}

	s := cpu.New(time.Now().UnixNano())
	s.Log = log
	s.Flags.SetFSF(flagFS)
	s.Initialize(exe, guestArgs, runStackSize)
	s.SetFD(0, sys.NewTermIn(os.Stdin))
	s.SetFD(1, sys.NewTermOut(os.Stdout))
	s.SetFD(2, sys.NewTermOut(os.Stderr))

	for s.Running() {
		if s.SuspendedRead() {
			s.ResumeSuspendedRead()
		}
		s.Tick(tickBatch)
	}

	if flagTime {
		fmt.Fprintf(os.Stderr, "elapsed: %s\n", time.Since(start))
	}

	if code := s.ErrorCode(); code != csxerr.None {
		fmt.Fprintln(os.Stderr, "runtime error:", code)
		lastExitCode = -1
		return nil
	}
	lastExitCode = int(s.ReturnCode())
	return nil
}

// loadOrBuild accepts exactly one already-linked executable, or one or more
// assembly sources to assemble and link in memory, per the run subcommand's
// auto-detection (spec.md §6 "script / multi-script / bare-executable").
func loadOrBuild(paths []string, log *zap.SugaredLogger) (*csxexe.Executable, error) {
	if len(paths) == 1 {
		isExe, err := hasExeMagic(paths[0])
		if err != nil {
			return nil, err
		}
		if isExe {
			f, err := os.Open(paths[0])
			if err != nil {
				return nil, errors.Wrapf(err, "opening %q", paths[0])
			}
			defer f.Close()
			exe, err := csxexe.Load(f)
			if err != nil {
				return nil, errors.Wrapf(err, "loading executable %q", paths[0])
			}
			return exe, nil
		}
	}

	inputs := make([]link.Input, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %q", p)
		}
		root := flagRoot
		if root == "" {
			root = rootDirFor(p)
		}
		obj, err := assemble.AssembleWithLogger(f, root, log)
		f.Close()
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, link.Input{Name: p, Object: obj})
	}

	return link.LinkWithLogger(inputs, flagEntry, log)
}

// hasExeMagic peeks the first bytes of path without consuming the file
// further, matching them against the csxexe wire-format magic.
func hasExeMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()

	buf := make([]byte, len(exeMagic))
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, errors.Wrapf(err, "reading %q", path)
	}
	return n == len(exeMagic) && string(buf) == exeMagic, nil
}
