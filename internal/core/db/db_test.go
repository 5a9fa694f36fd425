package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Queries {
	t.Helper()
	conn, queries, err := OpenMigrated("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenMigrated: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return queries
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url        string
		driver     string
		dataSource string
		wantErr    bool
	}{
		{"sqlite://cache.db", "sqlite3", "cache.db", false},
		{"sqlite:///var/lib/mtma/cache.db", "sqlite3", "/var/lib/mtma/cache.db", false},
		{"sqlite:///tmp/x.db?_busy_timeout=5000", "sqlite3", "/tmp/x.db?_busy_timeout=5000", false},
		{"postgres://u:p@localhost:5432/mtma?sslmode=disable", "postgres", "postgres://u:p@localhost:5432/mtma?sslmode=disable", false},
		{"mysql://localhost/db", "", "", true},
	}
	for _, tt := range tests {
		driver, ds, err := parseURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseURL(%q) err = %v", tt.url, err)
			continue
		}
		if driver != tt.driver || ds != tt.dataSource {
			t.Errorf("parseURL(%q) = %q, %q", tt.url, driver, ds)
		}
	}
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	path := "sqlite://" + filepath.Join(t.TempDir(), "m.db")
	conn, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := MigrateUp(conn); err != nil {
		t.Fatalf("first MigrateUp: %v", err)
	}
	if err := MigrateUp(conn); err != nil {
		t.Fatalf("second MigrateUp: %v", err)
	}

	statuses, err := MigrateStatus(conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) < 2 {
		t.Fatalf("statuses = %+v", statuses)
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %s not applied: %+v", s.ID, s)
		}
	}
}

func TestChecksumMismatchDetected(t *testing.T) {
	conn, err := Open("sqlite://" + filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := MigrateUp(conn); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec("UPDATE migrations SET checksum = 'tampered' WHERE migration_id = '001_initial_schema.sql'"); err != nil {
		t.Fatal(err)
	}
	if err := MigrateUp(conn); err == nil {
		t.Fatal("expected checksum error")
	}
}

func TestNamedQueries(t *testing.T) {
	q := openTemp(t)
	if _, err := q.Exec("put-local-state", "euid", "first", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Exec("put-local-state", "euid", "second", "2026-01-02T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	var got string
	if err := q.Get("get-local-state", &got, "euid"); err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Fatalf("state = %q", got)
	}
	if err := q.Get("get-local-state", &got, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v", err)
	}
	if _, err := q.Exec("no-such-query"); err == nil {
		t.Fatal("expected unknown query error")
	}
}

func TestInTxRollsBack(t *testing.T) {
	q := openTemp(t)
	boom := errors.New("boom")
	err := q.InTx(func(tx *Queries) error {
		if _, err := tx.Exec("put-local-state", "k", "v", "2026-01-01T00:00:00Z"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	var v string
	if err := q.Get("get-local-state", &v, "k"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("row survived rollback: %q, %v", v, err)
	}
}

func TestSplitStatements(t *testing.T) {
	script := `-- header
CREATE TABLE a (x TEXT);
-- between
CREATE TABLE b (y TEXT);
`
	got := splitStatements(script)
	if len(got) != 2 || got[0] != "CREATE TABLE a (x TEXT)" || got[1] != "CREATE TABLE b (y TEXT)" {
		t.Fatalf("splitStatements = %q", got)
	}
}
