package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLLedgerAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db)
	ctx := context.Background()
	now := time.Now()

	rec := Record{
		ID:              "run-1",
		Kind:            KindRun,
		Success:         true,
		ConsumedCost:    42,
		PeakMemoryPages: 16,
		Message:         "exit(0)",
		CreatedAt:       now,
	}

	mock.ExpectExec("INSERT INTO run_ledger").
		WithArgs(rec.ID, string(rec.Kind), rec.Success, rec.ConsumedCost, rec.PeakMemoryPages, rec.Message, rec.CreatedAt.UTC()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := l.Append(ctx, rec); err != nil {
		t.Errorf("unexpected error appending record: %s", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestSQLLedgerInit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS run_ledger").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := l.Init(context.Background()); err != nil {
		t.Errorf("unexpected error initializing schema: %s", err)
	}
}

func TestSQLLedgerList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "kind", "success", "consumed_cost", "peak_memory_pages", "message", "created_at"}).
		AddRow("run-1", "run", true, int64(42), int64(16), "exit(0)", now)
	mock.ExpectQuery("SELECT id, kind, success, consumed_cost, peak_memory_pages, message, created_at").
		WithArgs(10).
		WillReturnRows(rows)

	recs, err := l.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error listing: %s", err)
	}
	if len(recs) != 1 || recs[0].ID != "run-1" || recs[0].Kind != KindRun {
		t.Fatalf("unexpected records: %+v", recs)
	}
}
