package storage

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

type recordedExec struct {
	query string
	args  []any
}

type recordingExecer struct {
	execs []recordedExec
}

func (e *recordingExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	e.execs = append(e.execs, recordedExec{query: query, args: args})
	return nil, nil
}

func TestBulkInsertFlushesAtBulkSize(t *testing.T) {
	ctx := context.Background()
	execer := &recordingExecer{}
	bulk := NewBulkInsert(execer, DialectSQLite, "genre", []string{"name"}, 2, discardLogger())

	for _, name := range []string{"Comedy", "Documentary", "Drama", "Short", "Western"} {
		if err := bulk.Add(ctx, []any{name}); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	if len(execer.execs) != 2 {
		t.Fatalf("got %d batches before Close, want 2", len(execer.execs))
	}
	if err := bulk.Close(ctx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if len(execer.execs) != 3 {
		t.Fatalf("got %d batches after Close, want 3", len(execer.execs))
	}
	if got := len(execer.execs[2].args); got != 1 {
		t.Errorf("residual batch has %d args, want 1", got)
	}
	if bulk.Count() != 5 {
		t.Errorf("Count() = %d", bulk.Count())
	}
}

func TestBulkInsertAbandonedWriterNeverFlushes(t *testing.T) {
	ctx := context.Background()
	execer := &recordingExecer{}
	bulk := NewBulkInsert(execer, DialectSQLite, "genre", []string{"name"}, 16, discardLogger())
	if err := bulk.Add(ctx, []any{"Comedy"}); err != nil {
		t.Fatal(err)
	}
	// No Close: the buffered row must stay unsent.
	if len(execer.execs) != 0 {
		t.Errorf("got %d batches, want 0", len(execer.execs))
	}
}

func TestBulkInsertRejectsValueCountMismatch(t *testing.T) {
	bulk := NewBulkInsert(&recordingExecer{}, DialectSQLite, "participation",
		[]string{"title_id", "ordering"}, 16, discardLogger())
	err := bulk.Add(context.Background(), []any{1})
	if err == nil {
		t.Fatal("Add() should reject a short row")
	}
	if !strings.Contains(err.Error(), "must have 2 values but has 1") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBulkInsertSQLPlaceholders(t *testing.T) {
	ctx := context.Background()

	sqlite := &recordingExecer{}
	bulk := NewBulkInsert(sqlite, DialectSQLite, "title_to_genre",
		[]string{"title_id", "ordering", "genre_id"}, 2, discardLogger())
	for i := 0; i < 2; i++ {
		if err := bulk.Add(ctx, []any{1, i + 1, 1}); err != nil {
			t.Fatal(err)
		}
	}
	wantSQLite := `INSERT INTO "title_to_genre" ("title_id", "ordering", "genre_id") VALUES (?, ?, ?), (?, ?, ?)`
	if sqlite.execs[0].query != wantSQLite {
		t.Errorf("sqlite query = %s", sqlite.execs[0].query)
	}

	postgres := &recordingExecer{}
	bulk = NewBulkInsert(postgres, DialectPostgres, "title_to_genre",
		[]string{"title_id", "ordering", "genre_id"}, 2, discardLogger())
	for i := 0; i < 2; i++ {
		if err := bulk.Add(ctx, []any{1, i + 1, 1}); err != nil {
			t.Fatal(err)
		}
	}
	wantPostgres := `INSERT INTO "title_to_genre" ("title_id", "ordering", "genre_id") VALUES ($1, $2, $3), ($4, $5, $6)`
	if postgres.execs[0].query != wantPostgres {
		t.Errorf("postgres query = %s", postgres.execs[0].query)
	}
}

func TestBulkInsertAgainstDatabase(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	bulk := NewBulkInsert(tx, db.Dialect, TableGenre, []string{"name"}, 2, discardLogger())
	for _, name := range []string{"Comedy", "Documentary", "Drama"} {
		if err := bulk.Add(ctx, []any{name}); err != nil {
			t.Fatal(err)
		}
	}
	if err := bulk.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := queryInt(t, db, `SELECT COUNT(1) FROM "genre"`); got != 3 {
		t.Errorf("got %d rows, want 3", got)
	}
}
