// Package duckdb opens the columnar analytical store that holds the
// full-market backfill and its resume cursor.
package duckdb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // Register duckdb driver
)

//go:embed schema.sql
var schema string

type DB struct {
	*sql.DB
}

// Open opens (or creates) the DuckDB file at path. An empty path or
// ":memory:" opens an in-memory database shared by all pooled connections.
func Open(path string) (*DB, error) {
	if path == ":memory:" {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate duckdb: %w", err)
	}

	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}
