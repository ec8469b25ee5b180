package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Builder constructs the normalized report schema from the staging tables.
// Builds run sequentially in the fixed dependency order of BuildAll; each
// build runs in its own transaction, so a crash between builds leaves the
// earlier ones committed and a rerun rebuilds from scratch.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	db       *DB
	bulkSize int
	logger   *slog.Logger

	// nconstToNameID is built once and reused by the crew builds.
	nconstToNameID map[string]int64

	// Memoized greedy alias-type matching state.
	aliasTypeCache    map[string][]string
	unknownAliasTypes map[string]bool
}

// NewBuilder creates a report builder over db.
func NewBuilder(db *DB, bulkSize int, logger *slog.Logger) *Builder {
	if bulkSize < 1 {
		bulkSize = DefaultBulkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		db:                db,
		bulkSize:          bulkSize,
		logger:            logger,
		aliasTypeCache:    make(map[string][]string),
		unknownAliasTypes: make(map[string]bool),
	}
}

// BuildAll builds every report table in dependency order.
func (b *Builder) BuildAll(ctx context.Context) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{TableTitleType, b.BuildTitleTypeTable},
		{TableGenre, b.BuildGenreTable},
		{TableProfession, b.BuildProfessionTable},
		{TableTitleAliasType, b.BuildTitleAliasTypeTable},
		{TableName, b.BuildNameTable},
		{TableTitle, b.BuildTitleTable},
		{TableTitleToGenre, b.BuildTitleToGenreTable},
		{TableTitleToDirector, b.BuildTitleToDirectorTable},
		{TableTitleToWriter, b.BuildTitleToWriterTable},
		{TableNameToKnownForTitle, b.BuildNameToKnownForTitleTable},
		{TableTitleAlias, b.BuildTitleAliasTable},
		{TableTitleAliasToTitleAliasType, b.BuildTitleAliasToTitleAliasTypeTable},
		{TableCharactersToCharacter, b.BuildCharactersToCharacterAndCharacterTables},
		{TableParticipation, b.BuildParticipationTable},
		{TableParticipationToCharacter, b.BuildParticipationToCharacterTable},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("building %q: %w", step.name, err)
		}
	}
	return nil
}

// tableCount returns the row count of tableName.
func (b *Builder) tableCount(ctx context.Context, tableName string) (int, error) {
	var count int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+quoteIdent(tableName)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rows of %q: %w", tableName, err)
	}
	return count, nil
}

// checkTableCount warns when the target table row count differs from the
// source table's. IMDb rows sometimes reference missing entities, so a
// mismatch is expected upstream noise, never fatal.
func (b *Builder) checkTableCount(ctx context.Context, sourceTable, targetTable string, logCount bool) error {
	sourceCount, err := b.tableCount(ctx, sourceTable)
	if err != nil {
		return err
	}
	targetCount, err := b.tableCount(ctx, targetTable)
	if err != nil {
		return err
	}
	if logCount {
		b.logger.Info("added rows", "table", targetTable, "rows", targetCount)
	}
	if targetCount != sourceCount {
		b.logger.Warn("target table row count differs from source table",
			"target", targetTable, "target_rows", targetCount,
			"source", sourceTable, "source_rows", sourceCount,
			"dropped", sourceCount-targetCount)
	}
	return nil
}

// checkTableHasData warns when the target table is unexpectedly empty.
func (b *Builder) checkTableHasData(ctx context.Context, targetTable string, logCount bool) error {
	targetCount, err := b.tableCount(ctx, targetTable)
	if err != nil {
		return err
	}
	if logCount {
		b.logger.Info("added rows", "table", targetTable, "rows", targetCount)
	}
	if targetCount == 0 {
		b.logger.Warn("target table should contain rows but is empty", "table", targetTable)
	}
	return nil
}

// naturalKeyToIDMap materializes the mapping from a natural key column to
// the surrogate id of an already-built report table. Used whenever a build
// must translate natural keys row by row because the translation can fail.
func (b *Builder) naturalKeyToIDMap(ctx context.Context, tableName, naturalKeyColumn string) (map[string]int64, error) {
	b.logger.Info("building natural key mapping", "table", tableName, "column", naturalKeyColumn)
	query := fmt.Sprintf("SELECT %s, %s FROM %s",
		quoteIdent(naturalKeyColumn), quoteIdent("id"), quoteIdent(tableName))
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", tableName, err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		result[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.logger.Info("built natural key mapping", "table", tableName, "entries", len(result))
	return result, nil
}

func (b *Builder) nconstToNameIDMap(ctx context.Context) (map[string]int64, error) {
	if b.nconstToNameID == nil {
		m, err := b.naturalKeyToIDMap(ctx, TableName, "nconst")
		if err != nil {
			return nil, err
		}
		b.nconstToNameID = m
	}
	return b.nconstToNameID, nil
}

// readChunkSize is the number of source rows a row-oriented build keeps
// resident at a time. Variable so tests can shrink it.
var readChunkSize = 10000

// readChunk runs one page of a keyset-paginated source query. The query
// must filter on a strictly increasing key with the first placeholder,
// order by that key and limit by the second placeholder; the caller feeds
// the last row's key back in for the next page. Paging keeps the resident
// row window bounded and never holds a read cursor open across the bulk
// writes of the surrounding transaction.
func readChunk[T any](ctx context.Context, db *DB, query string, lastKey any, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, lastKey, readChunkSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []T
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// inTransaction clears the target table and runs fn inside one transaction.
func (b *Builder) inTransaction(ctx context.Context, targetTable string, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %q: %w", targetTable, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(targetTable)); err != nil {
		return fmt.Errorf("clearing table %q: %w", targetTable, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %q: %w", targetTable, err)
	}
	committed = true
	return nil
}
