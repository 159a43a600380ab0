package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/csx64/csx64-go/internal/csxerr"
)

// Exit codes per SPEC_FULL.md §7.
const (
	exitAsmError   = 100
	exitLinkError  = 101
	exitHostError  = 102
	exitUsageError = 103
)

// lastExitCode carries the guest's own exit status (or -1 on a CPU runtime
// error) out of the run subcommand, since a successful RunE can't return a
// number through cobra's plain error-or-nil contract.
var lastExitCode int

// global flags shared by every subcommand.
var (
	flagOutput  string
	flagEntry   string
	flagRoot    string
	flagFS      bool
	flagTime    bool
	flagVerbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "csx64",
		Short:         "Assemble, link, and run CSX64 programs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagOutput, "output", "o", "", "output file path")
	root.PersistentFlags().StringVar(&flagEntry, "entry", "main", "linker entry point symbol")
	root.PersistentFlags().StringVar(&flagRoot, "root", "", "base directory for INCBIN and relative source paths")
	root.PersistentFlags().BoolVar(&flagFS, "fs", false, "enable the guest filesystem syscalls (open/rename/unlink/mkdir/rmdir)")
	root.PersistentFlags().BoolVar(&flagTime, "time", false, "report elapsed wall-clock time on exit")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable development-mode (debug level) logging")

	root.AddCommand(newAsmCmd(), newLinkCmd(), newRunCmd())
	return root
}

// newLogger builds the process's *zap.SugaredLogger: development config
// (debug level, human-readable) under -v, production config otherwise.
func newLogger() *zap.SugaredLogger {
	var cfg zap.Config
	if flagVerbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		// The logger itself failed to construct; fall back to a no-op
		// rather than aborting the whole CLI over a logging failure.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// exitCodeFor maps an error returned by a subcommand's RunE to the
// process exit code per SPEC_FULL.md §7.
func exitCodeFor(err error) int {
	var asmErr *csxerr.AsmError
	var linkErr *csxerr.LinkError
	var usageErr *usageError
	switch {
	case errors.As(err, &asmErr):
		fmt.Fprintln(os.Stderr, "asm error:", err)
		return exitAsmError
	case errors.As(err, &linkErr):
		fmt.Fprintln(os.Stderr, "link error:", err)
		return exitLinkError
	case errors.As(err, &usageErr):
		fmt.Fprintln(os.Stderr, "usage error:", err)
		return exitUsageError
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitHostError
	}
}

// usageError marks a CLI-surface mistake (wrong argument count, conflicting
// flags) rather than a toolchain or host failure.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func newUsageError(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}
