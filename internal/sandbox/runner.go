// Package sandbox instantiates a metered WebAssembly module inside wazero
// with a capped linear-memory ceiling and captured stdio, deny-by-default on
// every other host surface: no filesystem preopens, no network, no
// ambient environment.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wark-project/wark/internal/cost"
	"github.com/wark-project/wark/internal/meter"
)

// OutputMaxBytes bounds the combined size of captured stdout+stderr. The
// spec leaves this implementation-defined; 8 MiB is chosen generously larger
// than the teacher's 1 MiB default because judge-pipeline inputs here can
// legitimately be sizable program output.
const OutputMaxBytes = 8 * 1024 * 1024

// Config carries the per-run resource limits the Run request specifies.
type Config struct {
	CostLimit     uint64
	MemoryLimitMB uint32
	// Timeout is an optional, non-authoritative wall-clock watchdog. Cost
	// exhaustion remains the primary, deterministic bound; Timeout exists
	// only to bound runs that consume cost too slowly to be caught by the
	// instruction-level metering (e.g. a host call that blocks).
	Timeout time.Duration
}

// PageCap converts MemoryLimitMB into a 64 KiB page count, per the spec's
// "ceil(limit*1024/64)" rule.
func (c Config) PageCap() uint32 {
	pages := (uint64(c.MemoryLimitMB)*1024 + 63) / 64
	if pages == 0 {
		pages = 1
	}
	return uint32(pages)
}

// Outcome is the structured result of one sandboxed run.
type Outcome struct {
	Success         bool
	ConsumedCost    uint64
	PeakMemoryPages uint32
	Stdout          []byte
	Stderr          []byte
	Termination     Termination
	Message         string
}

// Runner executes metered WASI modules. It holds no per-run state; Run may
// be called concurrently by multiple goroutines, each run getting its own
// wazero runtime and module instance.
type Runner struct {
	Table *cost.Table
}

// NewRunner constructs a Runner backed by table. If table is nil, the
// built-in base table is used.
func NewRunner(table *cost.Table) *Runner {
	if table == nil {
		table = cost.New()
	}
	return &Runner{Table: table}
}

// Run meters moduleBytes against cfg.CostLimit, instantiates it under a
// memory ceiling of cfg.PageCap() pages, binds stdin to stdinBytes, captures
// stdout/stderr, and returns the structured outcome. Run never returns a Go
// error for conditions the spec models as part of the outcome (cost/memory
// exhaustion, traps, non-zero exit); it reserves the error return for
// caller-side context cancellation, which callers are expected not to see
// under normal operation.
func (r *Runner) Run(ctx context.Context, moduleBytes, stdinBytes []byte, cfg Config) (Outcome, error) {
	// The table is shared across runs; clear its penalty-warning dedup set so
	// each run warns once per unpriced opcode name.
	r.Table.ResetWarnings()
	rewritten, handle, err := meter.Meter(moduleBytes, cfg.CostLimit, r.Table)
	if err != nil {
		return Outcome{
			Termination: Termination{Kind: TerminationInstantiationError, Reason: err.Error()},
			Message:     fmt.Sprintf("instantiation error: %s", err.Error()),
		}, nil
	}

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rtCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.PageCap()).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(runCtx, rtCfg)
	defer func() { _ = rt.Close(context.Background()) }()

	if _, err := wasi_snapshot_preview1.Instantiate(runCtx, rt); err != nil {
		return Outcome{
			Termination: Termination{Kind: TerminationInstantiationError, Reason: "WASI instantiation failed: " + err.Error()},
			Message:     "instantiation error: WASI instantiation failed",
		}, nil
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName("wark-run").
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(stdinBytes)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	// Deny-by-default: no WithFSConfig, no WithRandSource, no WithSysWalltime
	// override, no WithEnv — the module gets exactly stdio and the WASI
	// clock/random surface wazero wires in by default.

	compiled, err := rt.CompileModule(runCtx, rewritten)
	if err != nil {
		return Outcome{
			Termination: Termination{Kind: TerminationInstantiationError, Reason: "compile failed: " + err.Error()},
			Message:     "instantiation error: compile failed",
		}, nil
	}
	defer func() { _ = compiled.Close(context.Background()) }()

	mod, runErr := rt.InstantiateModule(runCtx, compiled, modCfg)
	if mod != nil {
		defer func() { _ = mod.Close(context.Background()) }()
	}

	if runErr == nil {
		return r.finish(stdout.Bytes(), stderr.Bytes(), Termination{Kind: TerminationExit, ExitCode: 0}, mod, handle), nil
	}

	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	if runCtx.Err() != nil && cfg.Timeout > 0 {
		return r.finish(stdout.Bytes(), stderr.Bytes(), Termination{Kind: TerminationTimeout}, mod, handle), nil
	}

	var exitErr *sys.ExitError
	if errors.As(runErr, &exitErr) {
		code := int(exitErr.ExitCode())
		return r.finish(stdout.Bytes(), stderr.Bytes(), Termination{Kind: TerminationExit, ExitCode: code}, mod, handle), nil
	}

	if mod == nil {
		return Outcome{
			Termination: Termination{Kind: TerminationInstantiationError, Reason: runErr.Error()},
			Message:     "instantiation error: " + runErr.Error(),
		}, nil
	}

	// A trap occurred with a live module instance. Distinguish our injected
	// cost-exhaustion trap from an ordinary module trap by reading the
	// budget global: only our prologue's "unreachable" can drive it negative.
	remaining := readRemaining(mod, handle)
	if remaining < 0 {
		return r.finish(stdout.Bytes(), stderr.Bytes(), Termination{Kind: TerminationCostExhausted}, mod, handle), nil
	}
	if isMemoryTrap(runErr) {
		return r.finish(stdout.Bytes(), stderr.Bytes(), Termination{Kind: TerminationMemoryExhausted}, mod, handle), nil
	}
	return r.finish(stdout.Bytes(), stderr.Bytes(), Termination{Kind: TerminationTrap, Reason: runErr.Error()}, mod, handle), nil
}

// finish assembles the final Outcome, applying the output-size ceiling and
// computing consumed cost / peak memory from the live module instance.
func (r *Runner) finish(stdout, stderr []byte, term Termination, mod api.Module, handle *meter.Handle) Outcome {
	if len(stdout)+len(stderr) > OutputMaxBytes {
		term = Termination{Kind: TerminationTrap, Reason: "output too large"}
	}

	remaining := readRemaining(mod, handle)
	if remaining < 0 {
		remaining = 0
	}
	consumed := handle.Initial
	if uint64(remaining) <= handle.Initial {
		consumed = handle.Initial - uint64(remaining)
	}

	var peakPages uint32
	if mod != nil {
		if memory := mod.Memory(); memory != nil {
			peakPages = memory.Size() / (64 * 1024)
		}
	}

	return Outcome{
		Success:         term.Success(),
		ConsumedCost:    consumed,
		PeakMemoryPages: peakPages,
		Stdout:          stdout,
		Stderr:          stderr,
		Termination:     term,
		Message:         term.Message(),
	}
}

// readRemaining reads the exported budget global and interprets its raw bits
// as a signed i64, returning 0 if the module instance is absent (an
// instantiation failure with no live globals to read).
func readRemaining(mod api.Module, handle *meter.Handle) int64 {
	if mod == nil || handle == nil {
		return 0
	}
	g := mod.ExportedGlobal(handle.ExportName)
	if g == nil {
		return 0
	}
	return int64(g.Get())
}

// isMemoryTrap applies the same string heuristic the teacher's codebase uses
// to recognize a wazero memory.grow failure surfacing as an instantiation
// trap, since wazero does not expose a typed error for this case.
func isMemoryTrap(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAll(msg, "memory") && containsAny(msg, "limit", "grow", "exceeded", "out of bounds")
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if contains(s, sub) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	return len(substr) == 0 || indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}
