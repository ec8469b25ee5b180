package storage

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/untoldecay/imdbmart/internal/dataset"
)

func writeDataset(t *testing.T, folder string, name dataset.Name, lines ...string) {
	t.Helper()
	file, err := os.Create(filepath.Join(folder, name.Filename()))
	if err != nil {
		t.Fatalf("cannot create dataset file: %v", err)
	}
	gz := gzip.NewWriter(file)
	for _, line := range lines {
		if _, err := io.WriteString(gz, line+"\n"); err != nil {
			t.Fatal(err)
		}
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := file.Close(); err != nil {
		t.Fatal(err)
	}
}

func newTestLoader(db *DB) *Loader {
	return &Loader{DB: db, BulkSize: 2, Logger: discardLogger()}
}

func TestLoadTitleBasics(t *testing.T) {
	db := newTestDB(t)
	folder := t.TempDir()
	writeDataset(t, folder, dataset.TitleBasics,
		"tconst\ttitleType\tprimaryTitle\toriginalTitle\tisAdult\tstartYear\tendYear\truntimeMinutes\tgenres",
		"tt0000001\tshort\tCarmencita\tCarmencita\t0\t1894\t\\N\t1\tDocumentary,Short",
		"tt0000002\tmovie\tLe clown\tLe clown\t0\t1892\t\\N\t5\t\\N",
	)

	loader := newTestLoader(db)
	if err := loader.Load(context.Background(), folder, dataset.TitleBasics); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := queryInt(t, db, `SELECT COUNT(1) FROM "title_basics"`); got != 2 {
		t.Fatalf("got %d rows, want 2", got)
	}
	if got := queryInt(t, db, `SELECT "startYear" FROM "title_basics" WHERE "tconst" = ?`, "tt0000001"); got != 1894 {
		t.Errorf("startYear = %d", got)
	}
	if got := queryInt(t, db, `SELECT COUNT(1) FROM "title_basics" WHERE "genres" IS NULL`); got != 1 {
		t.Errorf("null sentinel should become SQL NULL, got %d null rows", got)
	}
	if loader.Coercer.NullWarningCount != 0 {
		t.Errorf("NullWarningCount = %d", loader.Coercer.NullWarningCount)
	}
}

func TestLoadDropsDuplicateNaturalKeys(t *testing.T) {
	db := newTestDB(t)
	folder := t.TempDir()
	writeDataset(t, folder, dataset.TitleRatings,
		"tconst\taverageRating\tnumVotes",
		"tt0000001\t5.7\t1986",
		"tt0000001\t9.9\t1",
	)

	if err := newTestLoader(db).Load(context.Background(), folder, dataset.TitleRatings); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := queryInt(t, db, `SELECT COUNT(1) FROM "title_ratings"`); got != 1 {
		t.Fatalf("got %d rows, want 1", got)
	}
	if got := queryInt(t, db, `SELECT "numVotes" FROM "title_ratings" WHERE "tconst" = ?`, "tt0000001"); got != 1986 {
		t.Errorf("first occurrence must win, numVotes = %d", got)
	}
}

func TestLoadSubstitutesZeroForNullSentinel(t *testing.T) {
	db := newTestDB(t)
	folder := t.TempDir()
	writeDataset(t, folder, dataset.TitleBasics,
		"tconst\ttitleType\tprimaryTitle\toriginalTitle\tisAdult\tstartYear\tendYear\truntimeMinutes\tgenres",
		"tt0000001\tshort\tCarmencita\tCarmencita\t\\N\t1894\t\\N\t1\tShort",
	)

	loader := newTestLoader(db)
	if err := loader.Load(context.Background(), folder, dataset.TitleBasics); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := queryInt(t, db, `SELECT "isAdult" FROM "title_basics" WHERE "tconst" = ?`, "tt0000001"); got != 0 {
		t.Errorf("isAdult = %d, want substituted zero value", got)
	}
	if loader.Coercer.NullWarningCount != 1 {
		t.Errorf("NullWarningCount = %d, want 1", loader.Coercer.NullWarningCount)
	}
}

func TestLoadRollsBackOnBadRow(t *testing.T) {
	db := newTestDB(t)
	folder := t.TempDir()
	writeDataset(t, folder, dataset.TitleBasics,
		"tconst\ttitleType\tprimaryTitle\toriginalTitle\tisAdult\tstartYear\tendYear\truntimeMinutes\tgenres",
		"tt0000001\tshort\tCarmencita\tCarmencita\t0\t1894\t\\N\t1\tShort",
		"tt0000002\tmovie\tLe clown\tLe clown\tmaybe\t1892\t\\N\t5\t\\N",
	)

	err := newTestLoader(db).Load(context.Background(), folder, dataset.TitleBasics)
	if err == nil {
		t.Fatal("Load() should fail on a malformed row")
	}
	if !strings.Contains(err.Error(), dataset.TitleBasics.Filename()) || !strings.Contains(err.Error(), "(2)") {
		t.Errorf("error should carry the source path and row number: %v", err)
	}
	if got := queryInt(t, db, `SELECT COUNT(1) FROM "title_basics"`); got != 0 {
		t.Errorf("staging table should be empty after rollback, got %d rows", got)
	}
}

func TestLoadRejectsMalformedCharactersJSON(t *testing.T) {
	db := newTestDB(t)
	folder := t.TempDir()
	writeDataset(t, folder, dataset.TitlePrincipals,
		"tconst\tordering\tnconst\tcategory\tjob\tcharacters",
		"tt0000001\t1\tnm0000001\tself\t\\N\tnot-json",
	)

	err := newTestLoader(db).Load(context.Background(), folder, dataset.TitlePrincipals)
	if err == nil {
		t.Fatal("Load() should fail on malformed characters JSON")
	}
	if !strings.Contains(err.Error(), "(1)") {
		t.Errorf("error should carry the row number: %v", err)
	}
	if got := queryInt(t, db, `SELECT COUNT(1) FROM "title_principals"`); got != 0 {
		t.Errorf("staging table should be empty after rollback, got %d rows", got)
	}
}

func TestLoadReplacesPreviousRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	folder := t.TempDir()
	writeDataset(t, folder, dataset.TitleRatings,
		"tconst\taverageRating\tnumVotes",
		"tt0000001\t5.7\t1986",
		"tt0000002\t6.1\t263",
	)
	if err := newTestLoader(db).Load(ctx, folder, dataset.TitleRatings); err != nil {
		t.Fatal(err)
	}

	writeDataset(t, folder, dataset.TitleRatings,
		"tconst\taverageRating\tnumVotes",
		"tt0000003\t6.5\t1841",
	)
	if err := newTestLoader(db).Load(ctx, folder, dataset.TitleRatings); err != nil {
		t.Fatal(err)
	}
	if got := queryInt(t, db, `SELECT COUNT(1) FROM "title_ratings"`); got != 1 {
		t.Errorf("got %d rows, want 1", got)
	}
}

func TestLoadAll(t *testing.T) {
	db := newTestDB(t)
	folder := t.TempDir()
	writeSmallDatasetFiles(t, folder)

	loader := newTestLoader(db)
	if err := loader.LoadAll(context.Background(), folder, dataset.All); err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	for tableName, want := range map[string]int{
		"name_basics":      3,
		"title_akas":       2,
		"title_basics":     2,
		"title_crew":       2,
		"title_principals": 3,
		"title_ratings":    1,
	} {
		if got := queryInt(t, db, `SELECT COUNT(1) FROM "`+tableName+`"`); got != want {
			t.Errorf("%s has %d rows, want %d", tableName, got, want)
		}
	}
}

// writeSmallDatasetFiles writes a consistent miniature of all six dumps:
// two titles, three people, one rated title, crew and principal rows that
// reference them.
func writeSmallDatasetFiles(t *testing.T, folder string) {
	t.Helper()
	writeDataset(t, folder, dataset.NameBasics,
		"nconst\tprimaryName\tbirthYear\tdeathYear\tprimaryProfession\tknownForTitles",
		"nm0000001\tCarmencita\t1868\t1910\tsoundtrack,actress\ttt0000001",
		"nm0000002\tWilliam K.L. Dickson\t1860\t1935\tcinematographer,director\ttt0000001,tt0000002",
		"nm0000003\tEtienne Carjat\t1828\t1906\twriter\t\\N",
	)
	writeDataset(t, folder, dataset.TitleAkas,
		"titleId\tordering\ttitle\tregion\tlanguage\ttypes\tattributes\tisOriginalTitle",
		"tt0000001\t1\tCarmencita\t\\N\t\\N\toriginal\t\\N\t1",
		"tt0000001\t2\tCarmencita - spanyol tanc\tHU\t\\N\timdbDisplay\t\\N\t0",
	)
	writeDataset(t, folder, dataset.TitleBasics,
		"tconst\ttitleType\tprimaryTitle\toriginalTitle\tisAdult\tstartYear\tendYear\truntimeMinutes\tgenres",
		"tt0000001\tshort\tCarmencita\tCarmencita\t0\t1894\t\\N\t1\tDocumentary,Short",
		"tt0000002\tshort\tLe clown et ses chiens\tLe clown et ses chiens\t0\t1892\t\\N\t5\tAnimation,Short",
	)
	writeDataset(t, folder, dataset.TitleCrew,
		"tconst\tdirectors\twriters",
		"tt0000001\tnm0000002\t\\N",
		"tt0000002\tnm0000002\tnm0000003",
	)
	writeDataset(t, folder, dataset.TitlePrincipals,
		"tconst\tordering\tnconst\tcategory\tjob\tcharacters",
		"tt0000001\t1\tnm0000001\tself\t\\N\t[\"Self\"]",
		"tt0000001\t2\tnm0000002\tdirector\t\\N\t\\N",
		"tt0000002\t1\tnm0000002\tdirector\t\\N\t\\N",
	)
	writeDataset(t, folder, dataset.TitleRatings,
		"tconst\taverageRating\tnumVotes",
		"tt0000001\t5.7\t1986",
	)
}
