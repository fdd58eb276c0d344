// internal/storage/store.go
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

// RosterStore persists each movie's ordered (name, label) pairs so later
// stages need no performer lookups.
type RosterStore interface {
	SaveRoster(ctx context.Context, movieID string, entries []models.RosterEntry) error
	// LoadRoster returns a NotFound AppError when the movie has no roster.
	LoadRoster(ctx context.Context, movieID string) ([]models.RosterEntry, error)
	// RosterMovies lists the movies with a stored roster, sorted.
	RosterMovies(ctx context.Context) ([]string, error)
}

// ResultStore persists the sparse per-test results. SaveResults replaces
// everything stored for the test.
type ResultStore interface {
	SaveResults(ctx context.Context, test int, results []models.TestResult) error
	// LoadResults returns an empty slice when the test has never run.
	LoadResults(ctx context.Context, test int) ([]models.TestResult, error)
}

// ParseableStore persists the titles that passed screening.
type ParseableStore interface {
	SaveParseable(ctx context.Context, titles []string) error
	LoadParseable(ctx context.Context) ([]string, error)
}

// Store is everything the batch pipeline persists.
type Store interface {
	RosterStore
	ResultStore
	ParseableStore
	Close() error
}

// Open returns the store for backend ("file" or "sqlite") rooted at dataDir.
func Open(backend, dataDir string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dataDir)
	case "sqlite":
		return OpenSQLiteStore(filepath.Join(dataDir, "bechdel.db"))
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown store backend %q", backend), nil)
	}
}

func checkMovieID(movieID string) error {
	if movieID == "" || movieID == "." || movieID == ".." || strings.ContainsAny(movieID, "/\\\n") {
		return apperrors.NewValidationError(fmt.Sprintf("invalid movie id %q", movieID), nil)
	}
	return nil
}

func checkTest(test int) error {
	if test < models.TestOne || test > models.TestThree {
		return apperrors.NewValidationError(fmt.Sprintf("test must be 1..3, got %d", test), nil)
	}
	return nil
}
