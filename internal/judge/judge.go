// Package judge composes the Sandbox Runner with a fingerprinted output
// comparator and the HTTP input cache to score a module against a batch of
// test specifications.
package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/wark-project/wark/internal/httpcache"
	"github.com/wark-project/wark/internal/sandbox"
)

// Judger names a verdict function. IOFast is the only variant WARK ships;
// the tag is kept open for future variants (e.g. a line-diff judger) rather
// than collapsing to a bool, matching how the pipeline is meant to grow.
type Judger string

const JudgerIOFast Judger = "IOFast"

// Spec is one test case: exactly one of Input or InputURL must be set.
type Spec struct {
	Judger        Judger
	Input         []byte
	InputURL      string
	ExpectedHash  string
	CostLimit     uint64
	MemoryLimitMB uint32
}

// Exception tags a non-fatal per-case failure.
type Exception struct {
	Type   string // Output | Runtime | Fetch | Decode
	Reason string
}

// Result is the per-spec verdict.
type Result struct {
	Success         bool
	ConsumedCost    uint64
	PeakMemoryPages uint32
	Message         string
	Exception       *Exception
}

// defaultConcurrentCases bounds how many specs within one batch run in
// parallel when the caller doesn't specify a concurrency, matching
// config.Load's own default for WARK_JUDGE_CONCURRENCY. Chosen as a fixed,
// modest worker pool rather than one goroutine per spec, since a judge batch
// can be arbitrarily large and each case already spins up its own wazero
// runtime.
const defaultConcurrentCases = 8

// Pipeline evaluates judge batches.
type Pipeline struct {
	Runner      *sandbox.Runner
	Fetcher     *httpcache.Fetcher
	Concurrency int
}

// NewPipeline builds a Pipeline from its two collaborators. concurrency
// bounds how many specs within one batch run in parallel; a value <= 0 falls
// back to defaultConcurrentCases.
func NewPipeline(runner *sandbox.Runner, fetcher *httpcache.Fetcher, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = defaultConcurrentCases
	}
	return &Pipeline{Runner: runner, Fetcher: fetcher, Concurrency: concurrency}
}

// RunBatch evaluates every spec against moduleBytes independently: one
// failing case never aborts its peers. Results are returned in the same
// order as specs regardless of completion order.
func (p *Pipeline) RunBatch(ctx context.Context, moduleBytes []byte, specs []Spec) []Result {
	results := make([]Result, len(specs))

	sem := make(chan struct{}, p.Concurrency)
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec Spec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.runOne(ctx, moduleBytes, spec)
		}(i, spec)
	}
	wg.Wait()

	return results
}

// runOne evaluates a single spec end to end: resolve input, run, compare.
func (p *Pipeline) runOne(ctx context.Context, moduleBytes []byte, spec Spec) Result {
	input, err := p.resolveInput(ctx, spec)
	if err != nil {
		return Result{
			Success:   false,
			Exception: &Exception{Type: "Fetch", Reason: err.Error()},
		}
	}

	outcome, err := p.Runner.Run(ctx, moduleBytes, input, sandbox.Config{
		CostLimit:     spec.CostLimit,
		MemoryLimitMB: spec.MemoryLimitMB,
	})
	if err != nil {
		// Only caller-side cancellation reaches here; the Runner folds
		// everything else into Outcome.Termination.
		return Result{
			Success:   false,
			Exception: &Exception{Type: "Runtime", Reason: err.Error()},
		}
	}

	if outcome.Termination.Kind != sandbox.TerminationExit || outcome.Termination.ExitCode != 0 {
		return Result{
			Success:         false,
			ConsumedCost:    outcome.ConsumedCost,
			PeakMemoryPages: outcome.PeakMemoryPages,
			Message:         outcome.Message,
			Exception:       &Exception{Type: "Runtime", Reason: outcome.Message},
		}
	}

	trimmed := strings.TrimSpace(string(outcome.Stdout))
	sum := sha256.Sum256([]byte(trimmed))
	actual := hex.EncodeToString(sum[:])

	if !strings.EqualFold(actual, spec.ExpectedHash) {
		return Result{
			Success:         false,
			ConsumedCost:    outcome.ConsumedCost,
			PeakMemoryPages: outcome.PeakMemoryPages,
			Exception: &Exception{
				Type:   "Output",
				Reason: fmt.Sprintf("Output hash mismatch. Expected %s, got %s", spec.ExpectedHash, actual),
			},
		}
	}

	return Result{
		Success:         true,
		ConsumedCost:    outcome.ConsumedCost,
		PeakMemoryPages: outcome.PeakMemoryPages,
	}
}

// resolveInput returns the literal input bytes, or fetches InputURL through
// the cache.
func (p *Pipeline) resolveInput(ctx context.Context, spec Spec) ([]byte, error) {
	if spec.InputURL == "" {
		return spec.Input, nil
	}
	if p.Fetcher == nil {
		return nil, fmt.Errorf("judge: no cache fetcher configured for input_url %q", spec.InputURL)
	}
	return p.Fetcher.Fetch(ctx, spec.InputURL)
}
