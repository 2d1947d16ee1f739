package db

import (
	"context"
	"database/sql"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

// Open opens (creating if necessary) the scraper database at `path`
// and applies the schema. The store is single-writer: synchronous
// commits and a busy timeout so a second writer waits for the write
// lock instead of failing outright. The pragmas ride in the DSN so
// they apply to every connection the pool opens, not just the first.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)"
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := database.ExecContext(ctx, Schema); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
