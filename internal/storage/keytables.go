package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SplitJSON selects JSON-array splitting in BuildKeyTableFromQuery instead
// of a literal delimiter.
const SplitJSON = "json"

// BuildKeyTableFromQuery rebuilds a key table from a query yielding one
// string column. The delimiter selects how each raw value contributes to
// the key set: "" adds the value itself, SplitJSON decodes it as a JSON
// array of strings, anything else splits on the literal delimiter.
//
// Malformed JSON on a JSON-typed column indicates silent data corruption
// and is fatal; NULL values are skipped.
func (b *Builder) BuildKeyTableFromQuery(ctx context.Context, tableName, query, delimiter string) error {
	b.logger.Info("building key table (from query)", "table", tableName)
	b.logger.Debug("querying key values", "query", query)

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying key values for %q: %w", tableName, err)
	}
	defer rows.Close()

	values := make(map[string]bool)
	for rows.Next() {
		var rawValue sql.NullString
		if err := rows.Scan(&rawValue); err != nil {
			return err
		}
		if !rawValue.Valid {
			continue
		}
		switch delimiter {
		case "":
			values[rawValue.String] = true
		case SplitJSON:
			var items []string
			if err := json.Unmarshal([]byte(rawValue.String), &items); err != nil {
				return fmt.Errorf("cannot extract JSON array of strings from %q: %w", rawValue.String, err)
			}
			for _, item := range items {
				values[item] = true
			}
		default:
			for _, item := range splitList(rawValue.String, delimiter) {
				values[item] = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	sorted := make([]string, 0, len(values))
	for value := range values {
		sorted = append(sorted, value)
	}
	sort.Strings(sorted)
	return b.buildKeyTableFromValues(ctx, tableName, sorted)
}

// BuildKeyTableFromValues rebuilds a key table from a fixed value list.
func (b *Builder) BuildKeyTableFromValues(ctx context.Context, tableName string, values []string) error {
	b.logger.Info("building key table (from values)", "table", tableName)
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return b.buildKeyTableFromValues(ctx, tableName, sorted)
}

// buildKeyTableFromValues inserts the already-sorted values one row per
// member. Ids are assigned by the database in insertion order, so identical
// inputs produce identical name→id mappings.
func (b *Builder) buildKeyTableFromValues(ctx context.Context, tableName string, sorted []string) error {
	err := b.inTransaction(ctx, tableName, func(tx *sql.Tx) error {
		bulk := NewBulkInsert(tx, b.db.Dialect, tableName, []string{"name"}, b.bulkSize, b.logger)
		for _, value := range sorted {
			if err := bulk.Add(ctx, []any{value}); err != nil {
				return err
			}
		}
		return bulk.Close(ctx)
	})
	if err != nil {
		return err
	}
	return b.checkTableHasData(ctx, tableName, false)
}

// BuildTitleTypeTable interns the distinct title_basics.titleType values.
func (b *Builder) BuildTitleTypeTable(ctx context.Context) error {
	return b.BuildKeyTableFromQuery(ctx, TableTitleType,
		`SELECT DISTINCT "titleType" FROM "title_basics"`, "")
}

// BuildGenreTable interns the genre tokens of title_basics.genres.
func (b *Builder) BuildGenreTable(ctx context.Context) error {
	return b.BuildKeyTableFromQuery(ctx, TableGenre,
		`SELECT DISTINCT "genres" FROM "title_basics" WHERE "genres" IS NOT NULL`, ",")
}

// BuildProfessionTable interns the distinct title_principals.category values.
func (b *Builder) BuildProfessionTable(ctx context.Context) error {
	return b.BuildKeyTableFromQuery(ctx, TableProfession,
		`SELECT DISTINCT "category" FROM "title_principals" WHERE "category" IS NOT NULL`, "")
}

// BuildTitleAliasTypeTable interns the closed enumerated alias-type list.
func (b *Builder) BuildTitleAliasTypeTable(ctx context.Context) error {
	return b.BuildKeyTableFromValues(ctx, TableTitleAliasType, TitleAliasTypes)
}

// splitList splits a multi-valued field on the delimiter. An empty string
// yields no tokens rather than one empty token.
func splitList(value, delimiter string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, delimiter)
}
