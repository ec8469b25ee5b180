package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/untoldecay/imdbmart/internal/dataset"
)

// Loader streams the gzip TSV dumps into their staging tables. Each dataset
// file is loaded inside a single transaction: the staging table is cleared,
// rows are coerced and bulk-inserted, then the transaction commits. A
// failure mid-file rolls everything back so partially-ingested data is
// never visible.
type Loader struct {
	DB       *DB
	BulkSize int
	// Progress is invoked every ProgressInterval rows with processed and
	// duplicate counts. Optional.
	Progress         dataset.ProgressFunc
	ProgressInterval int
	Logger           *slog.Logger

	// Coercer is shared across files so the null-warning count covers the
	// whole run.
	Coercer Coercer
}

// LoadAll loads the given datasets from folder in order.
func (l *Loader) LoadAll(ctx context.Context, folder string, names []dataset.Name) error {
	for _, name := range names {
		if err := l.Load(ctx, folder, name); err != nil {
			return err
		}
	}
	return nil
}

// Load ingests one dataset file into its staging table.
func (l *Loader) Load(ctx context.Context, folder string, name dataset.Name) error {
	logger := l.logger()
	table := StagingTables()[name]
	path := filepath.Join(folder, name.Filename())
	logger.Info("transferring dataset", "dataset", string(name), "path", path, "table", table.Name)

	reader, err := dataset.NewTSVReader(path, table.PrimaryKeyColumns(), l.Progress, l.ProgressInterval)
	if err != nil {
		return err
	}
	defer reader.Close()

	l.Coercer.Logger = logger

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %q: %w", table.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table.Name)); err != nil {
		return fmt.Errorf("clearing table %q: %w", table.Name, err)
	}

	columns := table.DataColumns()
	columnNames := make([]string, len(columns))
	for i, column := range columns {
		columnNames[i] = column.Name
	}
	bulk := NewBulkInsert(tx, l.DB.Dialect, table.Name, columnNames, l.BulkSize, logger)

	for {
		raw, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		values, err := l.Coercer.RowValues(table, raw)
		if err != nil {
			return fmt.Errorf("%s (%d): cannot process row: %w", path, reader.RowNumber(), err)
		}
		if err := bulk.Add(ctx, values); err != nil {
			return err
		}
	}

	// Close flushes the residual buffer; skipped on the error paths above
	// because the transaction is rolling back anyway.
	if err := bulk.Close(ctx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %q: %w", table.Name, err)
	}
	committed = true

	if duplicates := reader.DuplicateCount(); duplicates > 0 {
		logger.Info("dropped duplicate rows", "dataset", string(name), "duplicates", duplicates)
	}
	return nil
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
