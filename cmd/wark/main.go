// Command wark runs a metered WebAssembly sandbox, either directly from the
// command line or as an HTTP service exposing /run and /judge.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint: it never touches package-level state that
// a test can't control, taking args and both output streams explicitly.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: wark <run|serve> [OPTIONS]")
		return 2
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "serve":
		return runServeCmd(args[2:], stdout, stderr)
	default:
		slog.Error("unknown subcommand", "subcommand", args[1])
		_, _ = fmt.Fprintln(stderr, "Usage: wark <run|serve> [OPTIONS]")
		return 2
	}
}
