package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open returns a SQLLedger backed by Postgres when databaseURL is non-empty,
// or by a SQLite file under dataDir otherwise (Lite Mode).
func Open(ctx context.Context, databaseURL, dataDir string) (*SQLLedger, error) {
	var db *sql.DB
	var err error

	if databaseURL != "" {
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("ledger: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ledger: ping postgres: %w", err)
		}
	} else {
		if dataDir == "" {
			dataDir = "data"
		}
		if err := os.MkdirAll(dataDir, 0o750); err != nil {
			return nil, fmt.Errorf("ledger: create data dir: %w", err)
		}
		db, err = sql.Open("sqlite", filepath.Join(dataDir, "wark.db"))
		if err != nil {
			return nil, fmt.Errorf("ledger: open sqlite: %w", err)
		}
	}

	l := NewSQLLedger(db)
	if err := l.Init(ctx); err != nil {
		return nil, err
	}
	return l, nil
}
