// Package storage materializes the IMDb dataset dumps into a relational
// schema: staging tables that mirror the TSV files and a normalized report
// schema built from them.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"     // driver: pgx
	_ "github.com/ncruces/go-sqlite3/driver" // driver: sqlite3
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Dialect captures the few SQL differences between the supported engines.
// All DML goes through database/sql; only placeholders, identity columns and
// the float column type differ.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// Placeholder returns the 1-based parameter placeholder for the dialect.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) identityPrimaryKey() string {
	if d == DialectPostgres {
		return "INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	}
	// INTEGER PRIMARY KEY aliases rowid, ids are assigned in insertion order.
	return "INTEGER PRIMARY KEY"
}

func (d Dialect) floatType() string {
	if d == DialectPostgres {
		return "DOUBLE PRECISION"
	}
	return "REAL"
}

// DB is an open database handle plus the dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// sqliteDSN builds the SQLite DSN for a file path. The build clears and
// repopulates tables in dependency order, so committed child rows can
// transiently reference cleared parents; the foreign keys stay declarative
// and enforcement is switched off.
func sqliteDSN(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return "file:" + path + separator + "_pragma=foreign_keys(0)"
}

// ParseEngineInfo maps an engine info string to a database/sql driver name,
// DSN and dialect. An engine info without "://" is a local SQLite file path.
func ParseEngineInfo(engineInfo string) (driverName, dsn string, dialect Dialect, err error) {
	if engineInfo == "" {
		return "", "", 0, fmt.Errorf("engine info must not be empty")
	}
	if !strings.Contains(engineInfo, "://") {
		return "sqlite3", sqliteDSN(engineInfo), DialectSQLite, nil
	}
	switch {
	case strings.HasPrefix(engineInfo, "sqlite://"):
		return "sqlite3", sqliteDSN(strings.TrimPrefix(engineInfo, "sqlite://")), DialectSQLite, nil
	case strings.HasPrefix(engineInfo, "postgres://"), strings.HasPrefix(engineInfo, "postgresql://"):
		return "pgx", engineInfo, DialectPostgres, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported engine info %q (use a file path, sqlite://, postgres:// or postgresql://)", engineInfo)
	}
}

// Open connects to the database described by engineInfo and verifies the
// connection with a ping.
func Open(ctx context.Context, engineInfo string) (*DB, error) {
	driverName, dsn, dialect, err := ParseEngineInfo(engineInfo)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", engineInfo, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database %q: %w", engineInfo, err)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}
