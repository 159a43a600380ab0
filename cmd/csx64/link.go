package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/csx64/csx64-go/internal/link"
	"github.com/csx64/csx64-go/internal/objfile"
)

func newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <obj...>",
		Short: "Link one or more object files into an executable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(args)
		},
	}
}

func runLink(objPaths []string) error {
	log := newLogger()
	defer log.Sync()

	inputs, err := loadObjects(objPaths)
	if err != nil {
		return err
	}

	exe, err := link.LinkWithLogger(inputs, flagEntry, log)
	if err != nil {
		return err
	}

	out := flagOutput
	if out == "" {
		out = "a.out.csx"
	}
	outFile, err := os.Create(out)
	if err != nil {
		return errors.Wrapf(err, "creating %q", out)
	}
	defer outFile.Close()

	if err := exe.Save(outFile); err != nil {
		return errors.Wrapf(err, "writing %q", out)
	}
	log.Infow("linked", "objects", objPaths, "out", out, "entry", flagEntry)
	return nil
}

// loadObjects deserializes every path in order into a link.Input set, named
// by their path as the linker's diagnostics convention expects.
func loadObjects(paths []string) ([]link.Input, error) {
	inputs := make([]link.Input, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %q", p)
		}
		obj, err := objfile.Deserialize(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading object %q", p)
		}
		inputs = append(inputs, link.Input{Name: p, Object: obj})
	}
	return inputs, nil
}
