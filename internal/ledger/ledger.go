// Package ledger persists an optional audit trail of sandbox runs and judge
// batches, backed by SQLite in Lite Mode (no DATABASE_URL configured) or
// Postgres when one is.
package ledger

import (
	"context"
	"time"
)

// Kind distinguishes a run-endpoint record from a judge-endpoint record.
type Kind string

const (
	KindRun   Kind = "run"
	KindJudge Kind = "judge"
)

// Record is one audited invocation of the sandbox.
type Record struct {
	ID              string
	Kind            Kind
	Success         bool
	ConsumedCost    uint64
	PeakMemoryPages uint32
	Message         string
	CreatedAt       time.Time
}

// Ledger is the durable interface run and judge handlers append to. A nil
// Ledger is never passed around; callers that don't want persistence use
// NoopLedger instead so call sites don't need nil checks.
type Ledger interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// NoopLedger discards every record. apiserver.New substitutes it for a nil
// Ledger; Open never returns it (with no DATABASE_URL it falls back to a
// SQLite file).
type NoopLedger struct{}

func (NoopLedger) Append(context.Context, Record) error { return nil }
func (NoopLedger) List(context.Context, int) ([]Record, error) {
	return nil, nil
}
