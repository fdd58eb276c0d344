// internal/storage/sqlite_store.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rosters (
    movie_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    name     TEXT NOT NULL,
    gender   TEXT NOT NULL CHECK(gender IN ('male', 'female')),
    PRIMARY KEY (movie_id, position)
);

CREATE TABLE IF NOT EXISTS roster_movies (
    movie_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS results (
    test     INTEGER NOT NULL CHECK(test BETWEEN 1 AND 3),
    position INTEGER NOT NULL,
    movie_id TEXT NOT NULL,
    pass     INTEGER NOT NULL CHECK(pass IN (0, 1)),
    PRIMARY KEY (test, position)
);

CREATE TABLE IF NOT EXISTS screenings (
    id       INTEGER PRIMARY KEY CHECK(id = 1)
);

CREATE TABLE IF NOT EXISTS parseable (
    position INTEGER PRIMARY KEY,
    title    TEXT NOT NULL
);
`

// SQLiteStore keeps rosters, results and the parseable list in one SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path with WAL and a
// busy timeout, then applies the schema. ":memory:" gives a private
// in-memory store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveRoster(ctx context.Context, movieID string, entries []models.RosterEntry) error {
	if err := checkMovieID(movieID); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rosters WHERE movie_id = ?`, movieID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roster_movies (movie_id) VALUES (?)`, movieID); err != nil {
			return err
		}
		for i, e := range entries {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO rosters (movie_id, position, name, gender) VALUES (?, ?, ?, ?)`,
				movieID, i, e.Name, string(e.Gender))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadRoster(ctx context.Context, movieID string) ([]models.RosterEntry, error) {
	var known int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roster_movies WHERE movie_id = ?`, movieID).Scan(&known)
	if err != nil {
		return nil, err
	}
	if known == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no roster for %s", movieID), nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, gender FROM rosters WHERE movie_id = ? ORDER BY position`, movieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.RosterEntry
	for rows.Next() {
		var name, gender string
		if err := rows.Scan(&name, &gender); err != nil {
			return nil, err
		}
		entries = append(entries, models.RosterEntry{Name: name, Gender: models.GenderLabel(gender)})
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) RosterMovies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT movie_id FROM roster_movies ORDER BY movie_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movies []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		movies = append(movies, id)
	}
	return movies, rows.Err()
}

func (s *SQLiteStore) SaveResults(ctx context.Context, test int, results []models.TestResult) error {
	if err := checkTest(test); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE test = ?`, test); err != nil {
			return err
		}
		for i, r := range results {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO results (test, position, movie_id, pass) VALUES (?, ?, ?, ?)`,
				test, i, r.MovieID, r.Pass)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadResults(ctx context.Context, test int) ([]models.TestResult, error) {
	if err := checkTest(test); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT movie_id, pass FROM results WHERE test = ? ORDER BY position`, test)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.TestResult{}
	for rows.Next() {
		var r models.TestResult
		if err := rows.Scan(&r.MovieID, &r.Pass); err != nil {
			return nil, err
		}
		r.Test = test
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) SaveParseable(ctx context.Context, titles []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM parseable`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO screenings (id) VALUES (1)`); err != nil {
			return err
		}
		for i, t := range titles {
			if _, err := tx.ExecContext(ctx, `INSERT INTO parseable (position, title) VALUES (?, ?)`, i, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadParseable(ctx context.Context) ([]string, error) {
	var screened int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM screenings`).Scan(&screened); err != nil {
		return nil, err
	}
	if screened == 0 {
		return nil, apperrors.NewNotFoundError("movies have not been screened", nil)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT title FROM parseable ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
