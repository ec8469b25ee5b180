package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// mappableTitleAliasTypes maps the ill-structured title_akas.types field to
// the subset of the enumerated alias types it contains. Each enumerated tag
// is greedily matched in the fixed enumerated order; every match removes
// the tag's text from the residual. A non-empty residual is recorded in the
// unknown set and warned about once per distinct residual. Results are
// memoized because the same raw value reappears on many rows.
func (b *Builder) mappableTitleAliasTypes(rawTypes string) []string {
	if result, ok := b.aliasTypeCache[rawTypes]; ok {
		return result
	}
	var result []string
	if rawTypes != "" {
		remaining := rawTypes
		for _, aliasType := range TitleAliasTypes {
			if strings.Contains(remaining, aliasType) {
				result = append(result, aliasType)
				remaining = strings.ReplaceAll(remaining, aliasType, "")
			}
		}
		if remaining != "" && !b.unknownAliasTypes[remaining] {
			b.unknownAliasTypes[remaining] = true
			b.logger.Warn("cannot map title_akas.types residual to a known alias type",
				"residual", remaining, "raw", rawTypes)
		}
	}
	b.aliasTypeCache[rawTypes] = result
	return result
}

// BuildTitleAliasToTitleAliasTypeTable explodes title_akas.types into the
// ordered title_alias→title_alias_type relation.
func (b *Builder) BuildTitleAliasToTitleAliasTypeTable(ctx context.Context) error {
	b.logger.Info("building table", "table", TableTitleAliasToTitleAliasType)
	aliasTypeNameToID, err := b.naturalKeyToIDMap(ctx, TableTitleAliasType, "name")
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		SELECT al."id", a."types"
		FROM "title_alias" al
		JOIN "title" t ON t."id" = al."title_id"
		JOIN "title_akas" a
			ON a."titleId" = t."tconst"
			AND a."ordering" = al."ordering"
		WHERE a."types" IS NOT NULL AND al."id" > %s
		ORDER BY al."id"
		LIMIT %s`, b.db.Dialect.Placeholder(1), b.db.Dialect.Placeholder(2))
	type aliasRow struct {
		aliasID  int64
		rawTypes string
	}

	return b.inTransaction(ctx, TableTitleAliasToTitleAliasType, func(tx *sql.Tx) error {
		bulk := NewBulkInsert(tx, b.db.Dialect, TableTitleAliasToTitleAliasType,
			[]string{"title_alias_id", "ordering", "title_alias_type_id"}, b.bulkSize, b.logger)
		lastKey := int64(0)
		for {
			chunk, err := readChunk(ctx, b.db, query, lastKey, func(rows *sql.Rows) (aliasRow, error) {
				var row aliasRow
				err := rows.Scan(&row.aliasID, &row.rawTypes)
				return row, err
			})
			if err != nil {
				return err
			}
			for _, row := range chunk {
				for i, aliasType := range b.mappableTitleAliasTypes(row.rawTypes) {
					// The alias type table is built from the same enumerated
					// list, so the lookup cannot miss.
					aliasTypeID := aliasTypeNameToID[aliasType]
					if err := bulk.Add(ctx, []any{row.aliasID, i + 1, aliasTypeID}); err != nil {
						return err
					}
				}
			}
			if len(chunk) < readChunkSize {
				return bulk.Close(ctx)
			}
			lastKey = chunk[len(chunk)-1].aliasID
		}
	})
}
