// Package sqlite implements the gleaner stores on top of SQLite.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

// Open connects to the database file at path.
//
// WAL and a busy timeout let concurrent refresh units queue on the write lock instead of
// failing with SQLITE_BUSY. Times are written in a sortable layout so pub_date ordering
// can happen in SQL.
func Open(path string) (*sqlx.DB, error) {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_time_format", "sqlite")

	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s?%s", path, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	return dbx, nil
}

// Ping checks that the database is reachable.
func (r Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Reports whether err is a unique or primary key constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
