// internal/sources/imsdb.go
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/charmap"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

// IMSDBProvider downloads screenplays from the Internet Movie Script
// Database, whose pages are ISO-8859-1 with the script inside a <pre>.
type IMSDBProvider struct {
	baseURL string
	client  *http.Client
}

func NewIMSDBProvider(baseURL string, timeout time.Duration) *IMSDBProvider {
	return &IMSDBProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ScriptURL maps a title to its page, e.g. "The Matrix" to
// "<base>/scripts/The-Matrix.html".
func (p *IMSDBProvider) ScriptURL(title string) string {
	return p.baseURL + "/scripts/" + strings.Join(strings.Fields(title), "-") + ".html"
}

func (p *IMSDBProvider) FetchScript(ctx context.Context, title string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ScriptURL(title), nil)
	if err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("bad script url for %q", title), err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", apperrors.NewScriptNotAvailableError(title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewScriptNotAvailableError(title, fmt.Errorf("status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(charmap.ISO8859_1.NewDecoder().Reader(resp.Body))
	if err != nil {
		return "", apperrors.NewScriptNotAvailableError(title, err)
	}
	return ExtractScript(title, string(raw))
}

// ExtractScript returns the text of the first <pre> element of page. Pages
// with an empty "<pre></pre>" or no <pre> at all carry no script.
func ExtractScript(title, page string) (string, error) {
	if strings.Contains(page, "<pre></pre>") {
		return "", apperrors.NewScriptNotAvailableError(title, nil)
	}

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", apperrors.NewScriptNotAvailableError(title, err)
	}
	pre := utils.FindFirst(doc, "pre", "")
	if pre == nil {
		return "", apperrors.NewScriptNotAvailableError(title, fmt.Errorf("no <pre> element"))
	}
	return utils.NodeText(pre), nil
}
