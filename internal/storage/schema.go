package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/imdbmart/internal/dataset"
)

// Column length caps are computed from known IMDb maxima with headroom.
// Exceeding a cap is not enforced at ingest time (the database may truncate
// or reject per its dialect); the one exception is charactersLength, which
// the coercer enforces because the raw JSON literal is also a join key.
const (
	tconstLength         = 12  // current maximum: 10
	nconstLength         = 12  // current maximum: 10
	titleLength          = 512 // current maximum: 408
	nameLength           = 160 // current maximum: 105
	genreLength          = 16
	genreCount           = 4
	regionLength         = 4
	languageLength       = 4
	crewCount            = 2048 // current maximum: 1180
	professionLength     = 32   // current maximum (from title.principals.category): 19
	professionCount      = 3
	jobLength            = 512  // current maximum: 286
	characterLength      = 1024 // current maximum: 459
	charactersLength     = 1024 // current maximum: 463
	knownForTitlesLength = (tconstLength+1)*20 - 1 // current maximum: 159 resp. 15 titles
	attributesLength     = 128
	titleTypeLength      = 16
)

// TitleAliasTypes is the closed set of tags the ill-structured
// title_akas.types field is matched against, in fixed matching order.
var TitleAliasTypes = []string{"alternative", "dvd", "festival", "tv", "video", "working", "original", "imdbDisplay"}

func aliasTypeLength() int {
	max := 0
	for _, t := range TitleAliasTypes {
		if len(t) > max {
			max = len(t)
		}
	}
	return max
}

func aliasTypesLength() int {
	sum := 0
	for _, t := range TitleAliasTypes {
		sum += len(t)
	}
	return sum
}

// ColumnType is the logical type of a column.
type ColumnType int

const (
	TypeBool ColumnType = iota
	TypeInt
	TypeFloat
	TypeString
)

func (t ColumnType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Column describes one column of a staging or report table.
type Column struct {
	Name     string
	Type     ColumnType
	Length   int // string cap; 0 means unbounded
	Nullable bool
	// PrimaryKey marks natural-key columns of staging tables. These also
	// form the dedup key when loading the TSV.
	PrimaryKey bool
	// Identity marks the surrogate integer id assigned by the database.
	Identity bool
	// EnforceLength makes the coercer reject over-long values instead of
	// passing them through.
	EnforceLength bool
	// JSONArray makes the coercer reject values that are not a JSON array
	// of strings. Malformed JSON here would poison the report build, so it
	// is fatal at row scope like any other coercion error.
	JSONArray bool
	// Default is a literal rendered into the DDL, e.g. "0".
	Default string
}

// ForeignKey declares that Column references RefTable.id.
type ForeignKey struct {
	Column   string
	RefTable string
}

// Index describes a secondary index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is the declarative descriptor the schema registry and the builders
// walk. Nothing is polymorphic over table identity except these fields.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// Column returns the descriptor for name, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// PrimaryKeyColumns returns the names of the natural-key columns.
func (t *Table) PrimaryKeyColumns() []string {
	var result []string
	for _, column := range t.Columns {
		if column.PrimaryKey {
			result = append(result, column.Name)
		}
	}
	return result
}

// DataColumns returns all columns except the identity id, in declaration
// order. This is the column order the coercer and bulk writer use.
func (t *Table) DataColumns() []Column {
	result := make([]Column, 0, len(t.Columns))
	for _, column := range t.Columns {
		if !column.Identity {
			result = append(result, column)
		}
	}
	return result
}

// Report table names.
const (
	TableCharacter                  = "character"
	TableCharactersToCharacter      = "characters_to_character"
	TableGenre                      = "genre"
	TableName                       = "name"
	TableNameToKnownForTitle        = "name_to_known_for_title"
	TableParticipation              = "participation"
	TableParticipationToCharacter   = "participation_to_character"
	TableProfession                 = "profession"
	TableTitle                      = "title"
	TableTitleAlias                 = "title_alias"
	TableTitleAliasToTitleAliasType = "title_alias_to_title_alias_type"
	TableTitleAliasType             = "title_alias_type"
	TableTitleToDirector            = "title_to_director"
	TableTitleToGenre               = "title_to_genre"
	TableTitleToWriter              = "title_to_writer"
	TableTitleType                  = "title_type"
)

// StagingTables returns the descriptors of the tables that mirror the TSV
// files, keyed by dataset.
func StagingTables() map[dataset.Name]*Table {
	return map[dataset.Name]*Table{
		dataset.TitleBasics: {
			Name: dataset.TitleBasics.TableName(),
			Columns: []Column{
				{Name: "tconst", Type: TypeString, Length: tconstLength, PrimaryKey: true},
				{Name: "titleType", Type: TypeString, Length: titleTypeLength},
				{Name: "primaryTitle", Type: TypeString, Length: titleLength, Nullable: true},
				{Name: "originalTitle", Type: TypeString, Length: titleLength, Nullable: true},
				{Name: "isAdult", Type: TypeBool},
				{Name: "startYear", Type: TypeInt, Nullable: true},
				{Name: "endYear", Type: TypeInt, Nullable: true},
				{Name: "runtimeMinutes", Type: TypeInt, Nullable: true},
				{Name: "genres", Type: TypeString, Length: (genreLength+1)*genreCount - 1, Nullable: true},
			},
		},
		dataset.NameBasics: {
			Name: dataset.NameBasics.TableName(),
			Columns: []Column{
				{Name: "nconst", Type: TypeString, Length: nconstLength, PrimaryKey: true},
				{Name: "primaryName", Type: TypeString, Length: nameLength},
				{Name: "birthYear", Type: TypeInt, Nullable: true},
				{Name: "deathYear", Type: TypeInt, Nullable: true},
				{Name: "primaryProfession", Type: TypeString, Length: (professionLength+1)*professionCount - 1, Nullable: true},
				{Name: "knownForTitles", Type: TypeString, Length: knownForTitlesLength, Nullable: true},
			},
		},
		dataset.TitleAkas: {
			Name: dataset.TitleAkas.TableName(),
			Columns: []Column{
				{Name: "titleId", Type: TypeString, Length: tconstLength, PrimaryKey: true},
				{Name: "ordering", Type: TypeInt, PrimaryKey: true},
				{Name: "title", Type: TypeString, Length: titleLength, Nullable: true},
				{Name: "region", Type: TypeString, Length: regionLength, Nullable: true},
				{Name: "language", Type: TypeString, Length: languageLength, Nullable: true},
				{Name: "types", Type: TypeString, Length: aliasTypesLength(), Nullable: true},
				{Name: "attributes", Type: TypeString, Length: attributesLength, Nullable: true},
				// isOriginalTitle sometimes actually is null.
				{Name: "isOriginalTitle", Type: TypeBool, Nullable: true},
			},
		},
		dataset.TitleCrew: {
			Name: dataset.TitleCrew.TableName(),
			Columns: []Column{
				{Name: "tconst", Type: TypeString, Length: tconstLength, PrimaryKey: true},
				{Name: "directors", Type: TypeString, Length: (nconstLength+1)*crewCount - 1, Nullable: true},
				{Name: "writers", Type: TypeString, Length: (nconstLength+1)*crewCount - 1, Nullable: true},
			},
		},
		dataset.TitlePrincipals: {
			Name: dataset.TitlePrincipals.TableName(),
			Columns: []Column{
				{Name: "tconst", Type: TypeString, Length: tconstLength, PrimaryKey: true},
				{Name: "ordering", Type: TypeInt, PrimaryKey: true},
				{Name: "nconst", Type: TypeString, Length: nconstLength, Nullable: true},
				{Name: "category", Type: TypeString, Length: professionLength, Nullable: true},
				{Name: "job", Type: TypeString, Length: jobLength, Nullable: true},
				{Name: "characters", Type: TypeString, Length: charactersLength, Nullable: true, EnforceLength: true, JSONArray: true},
			},
		},
		dataset.TitleRatings: {
			Name: dataset.TitleRatings.TableName(),
			Columns: []Column{
				{Name: "tconst", Type: TypeString, Length: tconstLength, PrimaryKey: true},
				{Name: "averageRating", Type: TypeFloat},
				{Name: "numVotes", Type: TypeInt},
			},
		},
	}
}

func keyTable(name string, nameLen int) *Table {
	return &Table{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: TypeInt, Identity: true},
			{Name: "name", Type: TypeString, Length: nameLen},
		},
		Indexes: []Index{
			{Name: "index__" + name + "__name", Columns: []string{"name"}, Unique: true},
		},
	}
}

// orderedRelationTable describes a many-to-many edge table pointing from
// fromTable to toTable with a dense 1-based ordering per owner.
func orderedRelationTable(name, fromTable, toTable string) *Table {
	fromID := fromTable + "_id"
	toID := toTable + "_id"
	return &Table{
		Name: name,
		Columns: []Column{
			{Name: fromID, Type: TypeInt},
			{Name: "ordering", Type: TypeInt},
			{Name: toID, Type: TypeInt},
		},
		ForeignKeys: []ForeignKey{
			{Column: fromID, RefTable: fromTable},
			{Column: toID, RefTable: toTable},
		},
		Indexes: []Index{
			{Name: "index__" + name + "__" + fromID + "__ordering", Columns: []string{fromID, "ordering"}, Unique: true},
			{Name: "index__" + name + "__" + toID, Columns: []string{toID}},
		},
	}
}

// ReportTables returns the report table descriptors in creation order:
// every referenced table precedes its referrers so the foreign keys can be
// declared as the tables are created.
func ReportTables() []*Table {
	return []*Table{
		keyTable(TableCharacter, characterLength),
		keyTable(TableGenre, genreLength),
		keyTable(TableProfession, professionLength),
		keyTable(TableTitleType, titleTypeLength),
		keyTable(TableTitleAliasType, aliasTypeLength()),
		{
			Name: TableName,
			Columns: []Column{
				{Name: "id", Type: TypeInt, Identity: true},
				{Name: "nconst", Type: TypeString, Length: nconstLength},
				{Name: "primary_name", Type: TypeString, Length: nameLength},
				{Name: "birth_year", Type: TypeInt, Nullable: true},
				{Name: "death_year", Type: TypeInt, Nullable: true},
				{Name: "primary_professions", Type: TypeString, Length: (professionLength+1)*professionCount - 1, Nullable: true},
			},
			Indexes: []Index{
				{Name: "index__name__nconst", Columns: []string{"nconst"}, Unique: true},
			},
		},
		{
			Name: TableTitle,
			Columns: []Column{
				{Name: "id", Type: TypeInt, Identity: true},
				{Name: "tconst", Type: TypeString, Length: tconstLength},
				{Name: "title_type_id", Type: TypeInt},
				{Name: "primary_title", Type: TypeString, Length: titleLength},
				{Name: "original_title", Type: TypeString, Length: titleLength},
				{Name: "is_adult", Type: TypeBool},
				{Name: "start_year", Type: TypeInt, Nullable: true},
				{Name: "end_year", Type: TypeInt, Nullable: true},
				{Name: "runtime_minutes", Type: TypeInt, Nullable: true},
				{Name: "average_rating", Type: TypeFloat, Default: "0"},
				{Name: "rating_count", Type: TypeInt, Default: "0"},
			},
			ForeignKeys: []ForeignKey{
				{Column: "title_type_id", RefTable: TableTitleType},
			},
			Indexes: []Index{
				{Name: "index__title__tconst", Columns: []string{"tconst"}, Unique: true},
			},
		},
		{
			Name: TableCharactersToCharacter,
			Columns: []Column{
				{Name: "characters", Type: TypeString, Length: charactersLength},
				{Name: "ordering", Type: TypeInt},
				{Name: "character_id", Type: TypeInt},
			},
			ForeignKeys: []ForeignKey{
				{Column: "character_id", RefTable: TableCharacter},
			},
			Indexes: []Index{
				{Name: "index__characters_to_character__characters__ordering", Columns: []string{"characters", "ordering"}, Unique: true},
			},
		},
		{
			Name: TableTitleAlias,
			Columns: []Column{
				{Name: "id", Type: TypeInt, Identity: true},
				{Name: "title_id", Type: TypeInt},
				{Name: "ordering", Type: TypeInt},
				{Name: "title", Type: TypeString, Length: titleLength},
				{Name: "region_code", Type: TypeString, Length: regionLength, Nullable: true},
				{Name: "language_code", Type: TypeString, Length: languageLength, Nullable: true},
				// is_original_title sometimes actually is null.
				{Name: "is_original_title", Type: TypeBool, Nullable: true},
			},
			ForeignKeys: []ForeignKey{
				{Column: "title_id", RefTable: TableTitle},
			},
			Indexes: []Index{
				{Name: "index__title_alias__title_id__ordering", Columns: []string{"title_id", "ordering"}, Unique: true},
			},
		},
		{
			Name: TableParticipation,
			Columns: []Column{
				{Name: "id", Type: TypeInt, Identity: true},
				{Name: "title_id", Type: TypeInt},
				{Name: "ordering", Type: TypeInt},
				{Name: "name_id", Type: TypeInt},
				{Name: "profession_id", Type: TypeInt, Nullable: true},
				{Name: "job", Type: TypeString, Length: jobLength, Nullable: true},
			},
			ForeignKeys: []ForeignKey{
				{Column: "title_id", RefTable: TableTitle},
				{Column: "name_id", RefTable: TableName},
				{Column: "profession_id", RefTable: TableProfession},
			},
			Indexes: []Index{
				{Name: "index__participation__title_id__ordering", Columns: []string{"title_id", "ordering"}, Unique: true},
				{Name: "index__participation__name_id", Columns: []string{"name_id"}},
			},
		},
		orderedRelationTable(TableNameToKnownForTitle, TableName, TableTitle),
		orderedRelationTable(TableParticipationToCharacter, TableParticipation, TableCharacter),
		orderedRelationTable(TableTitleAliasToTitleAliasType, TableTitleAlias, TableTitleAliasType),
		orderedRelationTable(TableTitleToDirector, TableTitle, TableName),
		orderedRelationTable(TableTitleToGenre, TableTitle, TableGenre),
		orderedRelationTable(TableTitleToWriter, TableTitle, TableName),
	}
}

// ReportTable returns the report descriptor with the given name.
func ReportTable(name string) *Table {
	for _, table := range ReportTables() {
		if table.Name == name {
			return table
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func (d Dialect) columnDDL(column Column) string {
	var b strings.Builder
	b.WriteString(quoteIdent(column.Name))
	b.WriteByte(' ')
	if column.Identity {
		b.WriteString(d.identityPrimaryKey())
		return b.String()
	}
	switch column.Type {
	case TypeBool:
		b.WriteString("BOOLEAN")
	case TypeInt:
		b.WriteString("INTEGER")
	case TypeFloat:
		b.WriteString(d.floatType())
	case TypeString:
		if column.Length > 0 {
			fmt.Fprintf(&b, "VARCHAR(%d)", column.Length)
		} else {
			b.WriteString("TEXT")
		}
	}
	if !column.Nullable {
		b.WriteString(" NOT NULL")
	}
	if column.Default != "" {
		b.WriteString(" DEFAULT " + column.Default)
	}
	return b.String()
}

// CreateTableDDL renders the idempotent CREATE TABLE statement for table.
func (d Dialect) CreateTableDDL(table *Table) string {
	var parts []string
	for _, column := range table.Columns {
		parts = append(parts, "    "+d.columnDDL(column))
	}
	if pk := table.PrimaryKeyColumns(); len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, name := range pk {
			quoted[i] = quoteIdent(name)
		}
		parts = append(parts, "    PRIMARY KEY ("+strings.Join(quoted, ", ")+")")
	}
	for _, fk := range table.ForeignKeys {
		parts = append(parts, fmt.Sprintf("    FOREIGN KEY (%s) REFERENCES %s(id)",
			quoteIdent(fk.Column), quoteIdent(fk.RefTable)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", quoteIdent(table.Name), strings.Join(parts, ",\n"))
}

// CreateIndexDDLs renders the idempotent CREATE INDEX statements for table.
func (d Dialect) CreateIndexDDLs(table *Table) []string {
	var result []string
	for _, index := range table.Indexes {
		unique := ""
		if index.Unique {
			unique = "UNIQUE "
		}
		quoted := make([]string, len(index.Columns))
		for i, name := range index.Columns {
			quoted[i] = quoteIdent(name)
		}
		result = append(result, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, quoteIdent(index.Name), quoteIdent(table.Name), strings.Join(quoted, ", ")))
	}
	return result
}

// CreateStagingTables creates all staging tables. Safe to call repeatedly.
func (db *DB) CreateStagingTables(ctx context.Context) error {
	for _, name := range dataset.All {
		table := StagingTables()[name]
		if err := db.createTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// CreateReportTables creates all report tables. Safe to call repeatedly.
func (db *DB) CreateReportTables(ctx context.Context) error {
	for _, table := range ReportTables() {
		if err := db.createTable(ctx, table); err != nil {
			return fmt.Errorf("cannot create report table %q: %w", table.Name, err)
		}
	}
	return nil
}

func (db *DB) createTable(ctx context.Context, table *Table) error {
	if _, err := db.ExecContext(ctx, db.Dialect.CreateTableDDL(table)); err != nil {
		return fmt.Errorf("creating table %q: %w", table.Name, err)
	}
	for _, ddl := range db.Dialect.CreateIndexDDLs(table) {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating index on %q: %w", table.Name, err)
		}
	}
	return nil
}

// DropAllTables drops every report and staging table, referrers first.
func (db *DB) DropAllTables(ctx context.Context) error {
	reportTables := ReportTables()
	for i := len(reportTables) - 1; i >= 0; i-- {
		if err := db.dropTable(ctx, reportTables[i].Name); err != nil {
			return err
		}
	}
	for _, name := range dataset.All {
		if err := db.dropTable(ctx, name.TableName()); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) dropTable(ctx context.Context, name string) error {
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("dropping table %q: %w", name, err)
	}
	return nil
}
