package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// BuildNameTable projects name_basics into the name entity table.
func (b *Builder) BuildNameTable(ctx context.Context) error {
	b.logger.Info("building table", "table", TableName)
	return b.inTransaction(ctx, TableName, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO "name" ("nconst", "primary_name", "birth_year", "death_year", "primary_professions")
			SELECT "nconst", "primaryName", "birthYear", "deathYear", "primaryProfession"
			FROM "name_basics"`)
		return err
	})
}

// BuildTitleTable joins title_basics to title_type by name and outer-joins
// title_ratings so unrated titles get rating defaults of 0.
func (b *Builder) BuildTitleTable(ctx context.Context) error {
	b.logger.Info("building table", "table", TableTitle)
	err := b.inTransaction(ctx, TableTitle, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO "title" ("tconst", "title_type_id", "primary_title", "original_title",
				"is_adult", "start_year", "end_year", "runtime_minutes", "average_rating", "rating_count")
			SELECT b."tconst", tt."id", b."primaryTitle", b."originalTitle",
				b."isAdult", b."startYear", b."endYear", b."runtimeMinutes",
				COALESCE(r."averageRating", 0), COALESCE(r."numVotes", 0)
			FROM "title_basics" b
			JOIN "title_type" tt ON tt."name" = b."titleType"
			LEFT JOIN "title_ratings" r ON r."tconst" = b."tconst"`)
		return err
	})
	if err != nil {
		return err
	}
	return b.checkTableCount(ctx, dataTableTitleBasics, TableTitle, false)
}

// BuildParticipationTable joins title_principals to the name, title and
// profession tables. Every key is expected to resolve; the count check
// reports when IMDb data breaks that expectation.
func (b *Builder) BuildParticipationTable(ctx context.Context) error {
	b.logger.Info("building table", "table", TableParticipation)
	err := b.inTransaction(ctx, TableParticipation, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO "participation" ("title_id", "ordering", "name_id", "profession_id", "job")
			SELECT t."id", p."ordering", n."id", pr."id", p."job"
			FROM "title_principals" p
			JOIN "name" n ON n."nconst" = p."nconst"
			JOIN "title" t ON t."tconst" = p."tconst"
			JOIN "profession" pr ON pr."name" = p."category"`)
		return err
	})
	if err != nil {
		return err
	}
	return b.checkTableCount(ctx, dataTableTitlePrincipals, TableParticipation, true)
}

// BuildTitleAliasTable projects title_akas rows whose titleId resolves to a
// known title. Unresolvable rows are dropped by the inner join; the count
// check logs how many.
func (b *Builder) BuildTitleAliasTable(ctx context.Context) error {
	b.logger.Info("building table", "table", TableTitleAlias)
	err := b.inTransaction(ctx, TableTitleAlias, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO "title_alias" ("title_id", "ordering", "title", "region_code", "language_code", "is_original_title")
			SELECT t."id", a."ordering", a."title", a."region", a."language", a."isOriginalTitle"
			FROM "title_akas" a
			JOIN "title" t ON t."tconst" = a."titleId"`)
		return err
	})
	if err != nil {
		return err
	}
	if err := b.checkTableCount(ctx, dataTableTitleAkas, TableTitleAlias, false); err != nil {
		return err
	}
	return b.checkTableHasData(ctx, TableTitleAlias, false)
}

// BuildTitleToGenreTable explodes title_basics.genres into the ordered
// title_to_genre relation. The genre table was interned from the same
// column, so every token must resolve.
func (b *Builder) BuildTitleToGenreTable(ctx context.Context) error {
	b.logger.Info("building table", "table", TableTitleToGenre)
	genreNameToID, err := b.naturalKeyToIDMap(ctx, TableGenre, "name")
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		SELECT t."id", b."tconst", b."genres"
		FROM "title" t
		JOIN "title_basics" b ON b."tconst" = t."tconst"
		WHERE b."genres" IS NOT NULL AND b."tconst" > %s
		ORDER BY b."tconst"
		LIMIT %s`, b.db.Dialect.Placeholder(1), b.db.Dialect.Placeholder(2))
	type genreRow struct {
		titleID int64
		tconst  string
		genres  string
	}

	return b.inTransaction(ctx, TableTitleToGenre, func(tx *sql.Tx) error {
		bulk := NewBulkInsert(tx, b.db.Dialect, TableTitleToGenre,
			[]string{"title_id", "ordering", "genre_id"}, b.bulkSize, b.logger)
		lastKey := ""
		for {
			chunk, err := readChunk(ctx, b.db, query, lastKey, func(rows *sql.Rows) (genreRow, error) {
				var row genreRow
				err := rows.Scan(&row.titleID, &row.tconst, &row.genres)
				return row, err
			})
			if err != nil {
				return fmt.Errorf("querying genres: %w", err)
			}
			for _, row := range chunk {
				for ordering, genre := range splitList(row.genres, ",") {
					genreID, ok := genreNameToID[genre]
					if !ok {
						return fmt.Errorf("genre %q of title id %d is missing from table %q", genre, row.titleID, TableGenre)
					}
					if err := bulk.Add(ctx, []any{row.titleID, ordering + 1, genreID}); err != nil {
						return err
					}
				}
			}
			if len(chunk) < readChunkSize {
				return bulk.Close(ctx)
			}
			lastKey = chunk[len(chunk)-1].tconst
		}
	})
}

// BuildTitleToDirectorTable explodes title_crew.directors.
func (b *Builder) BuildTitleToDirectorTable(ctx context.Context) error {
	return b.buildTitleToCrewTable(ctx, "directors", TableTitleToDirector)
}

// BuildTitleToWriterTable explodes title_crew.writers.
func (b *Builder) BuildTitleToWriterTable(ctx context.Context) error {
	return b.buildTitleToCrewTable(ctx, "writers", TableTitleToWriter)
}

// buildTitleToCrewTable explodes a comma-separated nconst list column of
// title_crew into an ordered title→name relation. Unknown nconsts are
// dropped with a debug log; ordering stays dense over the surviving
// tokens.
func (b *Builder) buildTitleToCrewTable(ctx context.Context, crewColumn, targetTable string) error {
	nconstToNameID, err := b.nconstToNameIDMap(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("building table", "table", targetTable)

	query := fmt.Sprintf(`
		SELECT t."id", t."tconst", c.%s
		FROM "title" t
		JOIN "title_crew" c ON c."tconst" = t."tconst"
		WHERE c.%s IS NOT NULL AND t."tconst" > %s
		ORDER BY t."tconst"
		LIMIT %s`, quoteIdent(crewColumn), quoteIdent(crewColumn),
		b.db.Dialect.Placeholder(1), b.db.Dialect.Placeholder(2))
	type crewRow struct {
		titleID int64
		tconst  string
		nconsts string
	}

	return b.inTransaction(ctx, targetTable, func(tx *sql.Tx) error {
		bulk := NewBulkInsert(tx, b.db.Dialect, targetTable,
			[]string{"title_id", "ordering", "name_id"}, b.bulkSize, b.logger)
		lastKey := ""
		for {
			chunk, err := readChunk(ctx, b.db, query, lastKey, func(rows *sql.Rows) (crewRow, error) {
				var row crewRow
				err := rows.Scan(&row.titleID, &row.tconst, &row.nconsts)
				return row, err
			})
			if err != nil {
				return fmt.Errorf("querying %q: %w", crewColumn, err)
			}
			for _, row := range chunk {
				ordering := 0
				for _, nconst := range splitList(row.nconsts, ",") {
					nameID, ok := nconstToNameID[nconst]
					if !ok {
						b.logger.Debug("ignored unknown nconst",
							"column", "title_crew."+crewColumn, "nconst", nconst, "tconst", row.tconst)
						continue
					}
					ordering++
					if err := bulk.Add(ctx, []any{row.titleID, ordering, nameID}); err != nil {
						return err
					}
				}
			}
			if len(chunk) < readChunkSize {
				return bulk.Close(ctx)
			}
			lastKey = chunk[len(chunk)-1].tconst
		}
	})
}

// BuildNameToKnownForTitleTable explodes name_basics.knownForTitles into an
// ordered name→title relation, dropping tconsts that do not resolve.
func (b *Builder) BuildNameToKnownForTitleTable(ctx context.Context) error {
	b.logger.Info("building table", "table", TableNameToKnownForTitle)
	tconstToTitleID, err := b.naturalKeyToIDMap(ctx, TableTitle, "tconst")
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		SELECT n."id", n."nconst", s."knownForTitles"
		FROM "name" n
		JOIN "name_basics" s ON s."nconst" = n."nconst"
		WHERE s."knownForTitles" IS NOT NULL AND n."nconst" > %s
		ORDER BY n."nconst"
		LIMIT %s`, b.db.Dialect.Placeholder(1), b.db.Dialect.Placeholder(2))
	type knownForRow struct {
		nameID  int64
		nconst  string
		tconsts string
	}

	return b.inTransaction(ctx, TableNameToKnownForTitle, func(tx *sql.Tx) error {
		bulk := NewBulkInsert(tx, b.db.Dialect, TableNameToKnownForTitle,
			[]string{"name_id", "ordering", "title_id"}, b.bulkSize, b.logger)
		lastKey := ""
		for {
			chunk, err := readChunk(ctx, b.db, query, lastKey, func(rows *sql.Rows) (knownForRow, error) {
				var row knownForRow
				err := rows.Scan(&row.nameID, &row.nconst, &row.tconsts)
				return row, err
			})
			if err != nil {
				return fmt.Errorf("querying known for titles: %w", err)
			}
			for _, row := range chunk {
				ordering := 0
				for _, tconst := range splitList(row.tconsts, ",") {
					titleID, ok := tconstToTitleID[tconst]
					if !ok {
						b.logger.Debug("ignored unknown tconst",
							"column", "name_basics.knownForTitles", "tconst", tconst, "nconst", row.nconst)
						continue
					}
					ordering++
					if err := bulk.Add(ctx, []any{row.nameID, ordering, titleID}); err != nil {
						return err
					}
				}
			}
			if len(chunk) < readChunkSize {
				return bulk.Close(ctx)
			}
			lastKey = chunk[len(chunk)-1].nconst
		}
	})
}

// Staging table names used by the count checks.
const (
	dataTableTitleBasics     = "title_basics"
	dataTableTitlePrincipals = "title_principals"
	dataTableTitleAkas       = "title_akas"
)
