package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wark-project/wark/internal/config"
	"github.com/wark-project/wark/internal/sandbox"
)

const (
	defaultMemoryMB = 512
	defaultCost     = 1_000_000_000
)

func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		memory        int
		costLimit     int64
		input         string
		stderrOut     string
		noReport      bool
		costTablePath string
	)

	cmd.IntVar(&memory, "m", defaultMemoryMB, "Memory ceiling in MB")
	cmd.IntVar(&memory, "memory", defaultMemoryMB, "Memory ceiling in MB")
	cmd.Int64Var(&costLimit, "c", defaultCost, "Cost limit")
	cmd.Int64Var(&costLimit, "cost", defaultCost, "Cost limit")
	cmd.StringVar(&input, "i", "-", "Input path, or - for stdin")
	cmd.StringVar(&input, "input", "-", "Input path, or - for stdin")
	cmd.StringVar(&stderrOut, "stderr", "", "Redirect captured module stderr to this file")
	cmd.BoolVar(&noReport, "n", false, "Suppress the human-readable report")
	cmd.BoolVar(&noReport, "no-report", false, "Suppress the human-readable report")
	cmd.StringVar(&costTablePath, "cost-table", os.Getenv("WARK_COST_TABLE_FILE"), "Path to a YAML cost-table override file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if cmd.NArg() < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: wark run [OPTIONS] <module-path>")
		return 2
	}
	modulePath := cmd.Arg(0)

	moduleBytes, err := os.ReadFile(modulePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to read module %s: %v\n", modulePath, err)
		return 1
	}

	stdinBytes, err := readInput(input)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to read input: %v\n", err)
		return 1
	}

	table, err := config.LoadCostTable(costTablePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to load cost table: %v\n", err)
		return 1
	}

	runner := sandbox.NewRunner(table)
	outcome, err := runner.Run(context.Background(), moduleBytes, stdinBytes, sandbox.Config{
		CostLimit:     uint64(costLimit),
		MemoryLimitMB: uint32(memory),
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: run failed: %v\n", err)
		return 1
	}

	_, _ = stdout.Write(outcome.Stdout)

	if err := writeCapturedStderr(stderrOut, outcome.Stderr, stderr); err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to write --stderr output: %v\n", err)
	}

	if !noReport {
		_, _ = fmt.Fprintf(stderr, "consumed_cost=%d peak_memory_pages=%d %s\n",
			outcome.ConsumedCost, outcome.PeakMemoryPages, outcome.Message)
	}

	if outcome.Termination.Kind == sandbox.TerminationExit && outcome.Termination.ExitCode == 0 {
		return 0
	}
	if outcome.Termination.Kind == sandbox.TerminationExit {
		return outcome.Termination.ExitCode
	}
	return 1
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(bufio.NewReader(os.Stdin))
	}
	return os.ReadFile(path)
}

func writeCapturedStderr(path string, data []byte, fallback io.Writer) error {
	if path == "" {
		_, err := fallback.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
