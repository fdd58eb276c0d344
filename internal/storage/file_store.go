// internal/storage/file_store.go
package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

const (
	rosterDir     = "characters"
	resultDir     = "results"
	parseableFile = "parseable"
)

// FileStore keeps the pipeline state as plain text files:
//
//	characters/<movie>  one "name,label" line per roster entry
//	results/t<N>        one "movie,True|False" line per evaluated movie
//	parseable           one title per line
type FileStore struct {
	fs *FileStorage
}

func NewFileStore(baseDir string) (*FileStore, error) {
	fs, err := NewFileStorage(baseDir)
	if err != nil {
		return nil, err
	}
	return &FileStore{fs: fs}, nil
}

// Storage exposes the underlying file storage.
func (s *FileStore) Storage() *FileStorage {
	return s.fs
}

func (s *FileStore) SaveRoster(_ context.Context, movieID string, entries []models.RosterEntry) error {
	if err := checkMovieID(movieID); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s,%s\n", e.Name, e.Gender)
	}
	return s.fs.SaveTextFile(rosterDir, movieID, buf.Bytes())
}

func (s *FileStore) LoadRoster(_ context.Context, movieID string) ([]models.RosterEntry, error) {
	if err := checkMovieID(movieID); err != nil {
		return nil, err
	}
	content, err := s.fs.LoadTextFile(rosterDir, movieID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("no roster for %s", movieID), err)
		}
		return nil, err
	}

	var entries []models.RosterEntry
	err = eachRecord(content, func(key, value string) error {
		label, ok := models.ParseGenderLabel(value)
		if !ok {
			return fmt.Errorf("bad gender label %q", value)
		}
		entries = append(entries, models.RosterEntry{Name: key, Gender: label})
		return nil
	})
	if err != nil {
		return nil, apperrors.NewProcessingError(fmt.Sprintf("corrupt roster for %s", movieID), err)
	}
	return entries, nil
}

func (s *FileStore) RosterMovies(_ context.Context) ([]string, error) {
	return s.fs.ListFiles(rosterDir)
}

func resultFile(test int) string {
	return fmt.Sprintf("t%d", test)
}

func (s *FileStore) SaveResults(_ context.Context, test int, results []models.TestResult) error {
	if err := checkTest(test); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, r := range results {
		fmt.Fprintf(&buf, "%s,%s\n", r.MovieID, formatPass(r.Pass))
	}
	return s.fs.SaveTextFile(resultDir, resultFile(test), buf.Bytes())
}

func (s *FileStore) LoadResults(_ context.Context, test int) ([]models.TestResult, error) {
	if err := checkTest(test); err != nil {
		return nil, err
	}
	content, err := s.fs.LoadTextFile(resultDir, resultFile(test))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.TestResult{}, nil
		}
		return nil, err
	}

	results := []models.TestResult{}
	err = eachRecord(content, func(key, value string) error {
		pass, err := parsePass(value)
		if err != nil {
			return err
		}
		results = append(results, models.TestResult{MovieID: key, Test: test, Pass: pass})
		return nil
	})
	if err != nil {
		return nil, apperrors.NewProcessingError(fmt.Sprintf("corrupt results for test %d", test), err)
	}
	return results, nil
}

func (s *FileStore) SaveParseable(_ context.Context, titles []string) error {
	var buf bytes.Buffer
	for _, t := range titles {
		buf.WriteString(t)
		buf.WriteByte('\n')
	}
	return s.fs.SaveTextFile("", parseableFile, buf.Bytes())
}

func (s *FileStore) LoadParseable(_ context.Context) ([]string, error) {
	content, err := s.fs.LoadTextFile("", parseableFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("movies have not been screened", err)
		}
		return nil, err
	}

	var titles []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		if title := strings.TrimSpace(scanner.Text()); title != "" {
			titles = append(titles, title)
		}
	}
	return titles, scanner.Err()
}

func (s *FileStore) Close() error {
	return nil
}

// eachRecord splits "key,value" lines on the last comma, since movie titles
// and character names may contain commas themselves.
func eachRecord(content []byte, fn func(key, value string) error) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		i := strings.LastIndexByte(line, ',')
		if i < 0 {
			return fmt.Errorf("line %d: missing comma", n)
		}
		if err := fn(line[:i], strings.TrimSpace(line[i+1:])); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return scanner.Err()
}

func formatPass(pass bool) string {
	if pass {
		return "True"
	}
	return "False"
}

func parsePass(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("bad result %q", s)
}
