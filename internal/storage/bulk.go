package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultBulkSize is the default number of rows collected in memory before
// they are sent to the database in one multi-row insert.
const DefaultBulkSize = 1024

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BulkInsert accumulates typed rows and flushes them to a target table in
// batches. It has two exit paths the caller must keep distinct:
//
//   - Close flushes the residual buffer and logs a summary. Call it only on
//     success.
//   - On error, abandon the writer without calling Close; the residual rows
//     are dropped and the surrounding transaction is expected to roll back.
type BulkInsert struct {
	execer    execer
	dialect   Dialect
	tableName string
	columns   []string
	bulkSize  int
	logger    *slog.Logger

	buffer       [][]any
	count        int
	start        time.Time
	fullBatchSQL string
}

// NewBulkInsert creates a writer inserting into the named columns of
// tableName through execer (usually a *sql.Tx).
func NewBulkInsert(execer execer, dialect Dialect, tableName string, columns []string, bulkSize int, logger *slog.Logger) *BulkInsert {
	if bulkSize < 1 {
		bulkSize = DefaultBulkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkInsert{
		execer:    execer,
		dialect:   dialect,
		tableName: tableName,
		columns:   columns,
		bulkSize:  bulkSize,
		logger:    logger,
		buffer:    make([][]any, 0, bulkSize),
		start:     time.Now(),
	}
}

// Add buffers one row and flushes when the buffer reaches the bulk size.
func (b *BulkInsert) Add(ctx context.Context, values []any) error {
	if len(values) != len(b.columns) {
		return fmt.Errorf("row for %q must have %d values but has %d", b.tableName, len(b.columns), len(values))
	}
	b.buffer = append(b.buffer, values)
	b.count++
	if len(b.buffer) >= b.bulkSize {
		return b.flush(ctx)
	}
	return nil
}

// Count is the number of rows added so far, flushed or not.
func (b *BulkInsert) Count() int {
	return b.count
}

// Close flushes the residual buffer and logs the row count and throughput.
func (b *BulkInsert) Close(ctx context.Context) error {
	if len(b.buffer) > 0 {
		if err := b.flush(ctx); err != nil {
			return err
		}
	}
	elapsed := time.Since(b.start)
	rowsPerSecond := 0.0
	if elapsed > 0 {
		rowsPerSecond = float64(b.count) / elapsed.Seconds()
	}
	b.logger.Info("added rows", "table", b.tableName, "rows", b.count,
		"duration", elapsed.Round(time.Millisecond).String(), "rows_per_second", int(rowsPerSecond))
	return nil
}

func (b *BulkInsert) flush(ctx context.Context) error {
	rowCount := len(b.buffer)
	b.logger.Debug("inserting batch", "table", b.tableName, "rows", rowCount)

	query := b.insertSQL(rowCount)
	args := make([]any, 0, rowCount*len(b.columns))
	for _, row := range b.buffer {
		args = append(args, row...)
	}
	if _, err := b.execer.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting %d rows into %q: %w", rowCount, b.tableName, err)
	}
	b.buffer = b.buffer[:0]
	return nil
}

func (b *BulkInsert) insertSQL(rowCount int) string {
	if rowCount == b.bulkSize && b.fullBatchSQL != "" {
		return b.fullBatchSQL
	}
	quoted := make([]string, len(b.columns))
	for i, column := range b.columns {
		quoted[i] = quoteIdent(column)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", quoteIdent(b.tableName), strings.Join(quoted, ", "))
	placeholder := 1
	for row := 0; row < rowCount; row++ {
		if row > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for col := range b.columns {
			if col > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.dialect.Placeholder(placeholder))
			placeholder++
		}
		sb.WriteByte(')')
	}
	query := sb.String()
	if rowCount == b.bulkSize {
		b.fullBatchSQL = query
	}
	return query
}
