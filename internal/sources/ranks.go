// internal/sources/ranks.go
package sources

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
)

// RankProvider returns a movie's ground truth Bechdel rank (0..3).
type RankProvider interface {
	LookupRank(title string) (int, bool)
}

// FileRankProvider holds the ground truth list: one "title, year, score"
// row per line. Header lines and rows without exactly three fields or with
// a score outside 0..3 are skipped.
type FileRankProvider struct {
	ranks  map[string]int
	titles []string
}

// LoadRankFile parses the ground truth file at path.
func LoadRankFile(path string) (*FileRankProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("ground truth file %s", path), err)
		}
		return nil, err
	}
	defer f.Close()
	return ParseRanks(f)
}

// ParseRanks reads ground truth rows from r. The first row for a title wins.
func ParseRanks(r io.Reader) (*FileRankProvider, error) {
	p := &FileRankProvider{ranks: make(map[string]int)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if len(fields) != 3 {
			continue
		}
		title := strings.TrimSpace(fields[0])
		score, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if title == "" || err != nil || score < 0 || score > 3 {
			continue
		}
		if _, dup := p.ranks[title]; dup {
			continue
		}
		p.ranks[title] = score
		p.titles = append(p.titles, title)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ground truth: %w", err)
	}
	return p, nil
}

func (p *FileRankProvider) LookupRank(title string) (int, bool) {
	rank, ok := p.ranks[title]
	return rank, ok
}

// Titles returns every ranked title in file order.
func (p *FileRankProvider) Titles() []string {
	return append([]string(nil), p.titles...)
}

// Len returns the number of ranked titles.
func (p *FileRankProvider) Len() int {
	return len(p.titles)
}
