package main

import (
	"os"

	"github.com/dc0d/onexit"
	"github.com/spf13/cobra"

	"nanojit/internal/prof"
)

var profiler *prof.Profiler

// startProfiling enables the profilers requested on the command line. They
// are stopped after the command, or by the exit hook when it fails.
func startProfiling(cmd *cobra.Command) error {
	flags := cmd.Root().PersistentFlags()
	var paths prof.Paths
	var err error
	if paths.CPU, err = flags.GetString("cpu-profile"); err != nil {
		return err
	}
	if paths.Heap, err = flags.GetString("mem-profile"); err != nil {
		return err
	}
	if paths.Trace, err = flags.GetString("runtime-trace"); err != nil {
		return err
	}
	if paths == (prof.Paths{}) {
		return nil
	}
	p, err := prof.Start(paths)
	if err != nil {
		return err
	}
	profiler = p
	onexit.Register(func() {
		if err := p.Stop(); err != nil {
			printError(os.Stderr, err)
		}
	})
	return nil
}

func stopProfiling() error {
	if profiler == nil {
		return nil
	}
	return profiler.Stop()
}
