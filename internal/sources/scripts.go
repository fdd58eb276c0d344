// internal/sources/scripts.go
package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

// ScriptExt is the extension of stored screenplay files.
const ScriptExt = ".script"

// ScriptProvider returns the raw screenplay text of a movie. A missing
// script is reported as a ScriptNotAvailable AppError.
type ScriptProvider interface {
	FetchScript(ctx context.Context, title string) (string, error)
}

// DirScriptProvider reads "<dir>/<title>.script" files.
type DirScriptProvider struct {
	dir string
}

func NewDirScriptProvider(dir string) *DirScriptProvider {
	return &DirScriptProvider{dir: dir}
}

// Dir returns the script directory.
func (p *DirScriptProvider) Dir() string {
	return p.dir
}

func (p *DirScriptProvider) path(title string) (string, error) {
	if title == "" || strings.ContainsAny(title, `/\`) || title == "." || title == ".." {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid movie title %q", title), nil)
	}
	return filepath.Join(p.dir, title+ScriptExt), nil
}

func (p *DirScriptProvider) FetchScript(_ context.Context, title string) (string, error) {
	path, err := p.path(title)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NewScriptNotAvailableError(title, err)
		}
		return "", apperrors.NewProcessingError(fmt.Sprintf("failed to read script %s", title), err)
	}
	return string(data), nil
}

// SaveScript stores text for title, replacing any previous copy atomically.
func (p *DirScriptProvider) SaveScript(title, text string) error {
	path, err := p.path(title)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create script directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	return os.Rename(tmp, path)
}

// Titles lists the titles stored in the directory, sorted.
func (p *DirScriptProvider) Titles() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var titles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ScriptExt) {
			titles = append(titles, strings.TrimSuffix(e.Name(), ScriptExt))
		}
	}
	sort.Strings(titles)
	return titles, nil
}

// MirrorProvider serves scripts from a local directory and fetches missing
// ones from a remote provider, keeping a copy for next time.
type MirrorProvider struct {
	local  *DirScriptProvider
	remote ScriptProvider
	logger *utils.Logger
}

func NewMirrorProvider(local *DirScriptProvider, remote ScriptProvider, logger *utils.Logger) *MirrorProvider {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &MirrorProvider{local: local, remote: remote, logger: logger}
}

func (m *MirrorProvider) FetchScript(ctx context.Context, title string) (string, error) {
	text, err := m.local.FetchScript(ctx, title)
	if err == nil || !apperrors.IsScriptNotAvailable(err) {
		return text, err
	}

	text, err = m.remote.FetchScript(ctx, title)
	if err != nil {
		return "", err
	}
	if err := m.local.SaveScript(title, text); err != nil {
		m.logger.Warn("failed to keep fetched script", map[string]interface{}{
			"movie": title,
			"error": err.Error(),
		})
	}
	return text, nil
}
