package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/csx64/csx64-go/internal/assemble"
)

func newAsmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "asm <source.asm>",
		Short: "Assemble a source file into an object file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsm(args[0])
		},
	}
}

func runAsm(srcPath string) error {
	log := newLogger()
	defer log.Sync()

	f, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "opening %q", srcPath)
	}
	defer f.Close()

	root := flagRoot
	if root == "" {
		root = rootDirFor(srcPath)
	}

	obj, err := assemble.AssembleWithLogger(f, root, log)
	if err != nil {
		return err
	}

	out := flagOutput
	if out == "" {
		out = strings.TrimSuffix(srcPath, ".asm") + ".o"
	}
	outFile, err := os.Create(out)
	if err != nil {
		return errors.Wrapf(err, "creating %q", out)
	}
	defer outFile.Close()

	if err := obj.Serialize(outFile); err != nil {
		return errors.Wrapf(err, "writing %q", out)
	}
	log.Infow("assembled", "src", srcPath, "out", out)
	return nil
}
