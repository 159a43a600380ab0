// Command csx64 is the CSX64 toolchain driver: assemble, link, and run
// programs against the bundled virtual CPU.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run builds and executes the root command, returning the process exit
// code per SPEC_FULL.md's mapping (guest return value on success; -1 on a
// CPU runtime error; 100-103 for toolchain/host/usage failures).
func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return lastExitCode
}
