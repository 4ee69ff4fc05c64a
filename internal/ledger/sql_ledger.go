package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLLedger implements Ledger over database/sql, working unmodified against
// either the modernc.org/sqlite driver (Lite Mode) or the lib/pq driver
// (DATABASE_URL configured), since both accept the $N-style placeholders
// used in the queries here.
type SQLLedger struct {
	db *sql.DB
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS run_ledger (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	consumed_cost BIGINT NOT NULL,
	peak_memory_pages INTEGER NOT NULL,
	message TEXT,
	created_at TIMESTAMP NOT NULL
)`

// Init creates the ledger table if it does not already exist.
func (l *SQLLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("ledger: init schema: %w", err)
	}
	return nil
}

func (l *SQLLedger) Append(ctx context.Context, rec Record) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_ledger (id, kind, success, consumed_cost, peak_memory_pages, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, string(rec.Kind), rec.Success, rec.ConsumedCost, rec.PeakMemoryPages, rec.Message, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

func (l *SQLLedger) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, kind, success, consumed_cost, peak_memory_pages, message, created_at
		 FROM run_ledger ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var kind string
		var createdAt time.Time
		if err := rows.Scan(&rec.ID, &kind, &rec.Success, &rec.ConsumedCost, &rec.PeakMemoryPages, &rec.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		rec.Kind = Kind(kind)
		rec.CreatedAt = createdAt
		out = append(out, rec)
	}
	return out, rows.Err()
}
