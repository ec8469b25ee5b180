package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/untoldecay/imdbmart/internal/dataset"
)

func TestCreateTablesIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	// newTestDB already created everything once.
	if err := db.CreateStagingTables(ctx); err != nil {
		t.Fatalf("second CreateStagingTables() error: %v", err)
	}
	if err := db.CreateReportTables(ctx); err != nil {
		t.Fatalf("second CreateReportTables() error: %v", err)
	}
}

func TestDropAllTables(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.DropAllTables(ctx); err != nil {
		t.Fatalf("DropAllTables() error: %v", err)
	}
	if _, err := db.ExecContext(ctx, `SELECT 1 FROM "title_basics"`); err == nil {
		t.Error("staging tables should be gone")
	}
	if _, err := db.ExecContext(ctx, `SELECT 1 FROM "title"`); err == nil {
		t.Error("report tables should be gone")
	}
	if err := db.CreateStagingTables(ctx); err != nil {
		t.Fatalf("recreate after drop error: %v", err)
	}
	if err := db.CreateReportTables(ctx); err != nil {
		t.Fatalf("recreate after drop error: %v", err)
	}
}

func TestStagingTablesCoverAllDatasets(t *testing.T) {
	staging := StagingTables()
	for _, name := range dataset.All {
		table, ok := staging[name]
		if !ok {
			t.Errorf("no staging table for %q", name)
			continue
		}
		if table.Name != name.TableName() {
			t.Errorf("staging table for %q is named %q", name, table.Name)
		}
		if len(table.PrimaryKeyColumns()) == 0 {
			t.Errorf("staging table %q has no natural key", table.Name)
		}
	}
}

func TestReportTablesCreationOrder(t *testing.T) {
	created := map[string]bool{}
	for _, table := range ReportTables() {
		for _, fk := range table.ForeignKeys {
			if !created[fk.RefTable] {
				t.Errorf("table %q references %q before it is created", table.Name, fk.RefTable)
			}
		}
		created[table.Name] = true
	}
}

func TestCreateTableDDL(t *testing.T) {
	title := ReportTable(TableTitle)
	if title == nil {
		t.Fatal("title descriptor missing")
	}

	sqliteDDL := DialectSQLite.CreateTableDDL(title)
	if !strings.Contains(sqliteDDL, `"id" INTEGER PRIMARY KEY`) {
		t.Errorf("sqlite identity column missing:\n%s", sqliteDDL)
	}
	if !strings.Contains(sqliteDDL, `"average_rating" REAL NOT NULL DEFAULT 0`) {
		t.Errorf("sqlite rating default missing:\n%s", sqliteDDL)
	}
	if !strings.Contains(sqliteDDL, `FOREIGN KEY ("title_type_id") REFERENCES "title_type"(id)`) {
		t.Errorf("foreign key missing:\n%s", sqliteDDL)
	}

	postgresDDL := DialectPostgres.CreateTableDDL(title)
	if !strings.Contains(postgresDDL, "GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY") {
		t.Errorf("postgres identity column missing:\n%s", postgresDDL)
	}
	if !strings.Contains(postgresDDL, `"average_rating" DOUBLE PRECISION NOT NULL DEFAULT 0`) {
		t.Errorf("postgres float type missing:\n%s", postgresDDL)
	}
}

func TestCreateTableDDLCompositePrimaryKey(t *testing.T) {
	akas := StagingTables()[dataset.TitleAkas]
	ddl := DialectSQLite.CreateTableDDL(akas)
	if !strings.Contains(ddl, `PRIMARY KEY ("titleId", "ordering")`) {
		t.Errorf("composite natural key missing:\n%s", ddl)
	}
}

func TestCreateIndexDDLs(t *testing.T) {
	genre := ReportTable(TableGenre)
	ddls := DialectSQLite.CreateIndexDDLs(genre)
	if len(ddls) != 1 {
		t.Fatalf("got %d index statements, want 1", len(ddls))
	}
	if !strings.Contains(ddls[0], `CREATE UNIQUE INDEX IF NOT EXISTS "index__genre__name"`) {
		t.Errorf("unexpected index DDL: %s", ddls[0])
	}
}

func TestReportTableUnknownName(t *testing.T) {
	if ReportTable("nope") != nil {
		t.Error("unknown report table should yield nil")
	}
}
