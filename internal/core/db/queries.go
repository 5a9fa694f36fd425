package db

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries provides access to named SQL queries loaded from embedded .sql files.
// Uses dotsql for named query management and sqlx for database operations.
// A Queries bound to a transaction (see InTx) runs every query inside it.
type Queries struct {
	dot  *dotsql.DotSql
	conn *sqlx.DB
	ext  sqlx.Ext
}

// LoadQueries loads all .sql files from embedded filesystem and returns Queries instance.
// Named queries accessible by name (e.g., "get-local-state", "put-profile-property").
func LoadQueries(conn *sqlx.DB) (*Queries, error) {
	var combinedSQL string

	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}

		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		combinedSQL += string(content) + "\n"
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to load query files: %w", err)
	}

	dot, err := dotsql.LoadFromString(combinedSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}

	return &Queries{dot: dot, conn: conn, ext: conn}, nil
}

// InTx runs fn with a Queries bound to one transaction. fn's error rolls
// the transaction back.
func (q *Queries) InTx(fn func(tx *Queries) error) error {
	tx, err := q.conn.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Queries{dot: q.dot, conn: q.conn, ext: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (q *Queries) raw(name string) (string, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	// Rebind converts ? placeholders to $1, $2 for PostgreSQL.
	return q.ext.Rebind(query), nil
}

// Exec executes a named query.
func (q *Queries) Exec(name string, args ...interface{}) (sql.Result, error) {
	query, err := q.raw(name)
	if err != nil {
		return nil, err
	}
	return q.ext.Exec(query, args...)
}

// Get retrieves a single row into dest using a named query.
func (q *Queries) Get(name string, dest interface{}, args ...interface{}) error {
	query, err := q.raw(name)
	if err != nil {
		return err
	}
	return sqlx.Get(q.ext, dest, query, args...)
}

// Select retrieves multiple rows into dest slice using a named query.
func (q *Queries) Select(name string, dest interface{}, args ...interface{}) error {
	query, err := q.raw(name)
	if err != nil {
		return err
	}
	return sqlx.Select(q.ext, dest, query, args...)
}

// DriverName reports the underlying driver ("sqlite3" or "postgres").
func (q *Queries) DriverName() string {
	return q.conn.DriverName()
}
