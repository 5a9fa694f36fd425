package cmd

import (
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/db"
)

// openDatabase opens --db-url without migrating it.
func openDatabase() (*sqlx.DB, error) {
	if dbURL == "" {
		return nil, errors.New("--db-url required")
	}
	database, err := db.Open(dbURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	return database, nil
}

// openCollectorDatabase opens --db-url and refuses to continue while any
// migration is pending.
func openCollectorDatabase() (*sqlx.DB, *db.Queries, error) {
	database, err := openDatabase()
	if err != nil {
		return nil, nil, err
	}

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "failed to check migrations")
	}
	var pending []string
	for _, s := range statuses {
		if !s.Applied {
			pending = append(pending, s.ID)
		}
	}
	if len(pending) > 0 {
		database.Close()
		return nil, nil, errors.Errorf("migrations not applied (%s) - run 'mtma migrate up' first", strings.Join(pending, ", "))
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "failed to load queries")
	}
	return database, queries, nil
}
