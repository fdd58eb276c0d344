// internal/gender/search.go
package gender

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/Corphon/SceneBechdel/internal/utils"
)

// SearchLookup asks a web search engine who plays a character and reads the
// performer panel of the result page.
type SearchLookup struct {
	baseURL string
	client  *http.Client
}

// NewSearchLookup creates a lookup against baseURL (e.g. "https://www.bing.com").
func NewSearchLookup(baseURL string, timeout time.Duration) *SearchLookup {
	return &SearchLookup{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// QueryURL builds the search URL for a character in a movie.
func (s *SearchLookup) QueryURL(movie, character string) string {
	q := "who plays " + character + " in " + strings.ReplaceAll(movie, "'", "")
	return s.baseURL + "/search?" + url.Values{"q": {q}}.Encode()
}

// Lookup implements PerformerLookup.
func (s *SearchLookup) Lookup(ctx context.Context, movie, character string) (PerformerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.QueryURL(movie, character), nil)
	if err != nil {
		return PerformerInfo{}, err
	}
	req.Header.Set("User-Agent", "SceneBechdel/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return PerformerInfo{}, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PerformerInfo{}, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return PerformerInfo{}, fmt.Errorf("failed to parse search page: %w", err)
	}
	return ParsePerformerPanel(doc), nil
}

// ParsePerformerPanel extracts the entity subtitle, the biography snippet
// and the entity title from a search result page.
func ParsePerformerPanel(doc *html.Node) PerformerInfo {
	var info PerformerInfo
	if n := utils.FindFirst(doc, "div", "b_entitySubTitle"); n != nil {
		info.Subtitle = Text(utils.NodeText(n))
	}
	if n := utils.FindFirst(doc, "div", "b_lBottom"); n != nil {
		info.Bio = Text(utils.NodeText(n))
	}
	if n := utils.FindFirst(doc, "h2", "b_entityTitle"); n != nil {
		info.DisplayName = Text(utils.NodeText(n))
	}
	return info
}
