package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
)

func TestLoadPipelineMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPipeline(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if p.Tagger.Levels != 5 || p.Validator.CoverageMin != 0.90 || p.Validator.CoverageMax != 0.995 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if p.Roster.Size != 20 || p.Accuracy.StageOneRule != "at_least_stage" {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestLoadPipelineOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	content := `
[tagger]
levels = 4

[validator]
coverage_min = 0.9
coverage_max = 1.0

[gender]
workers = 8
retry_backoff = "250ms"

[accuracy]
stage_one_rule = "above_zero"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if p.Tagger.Levels != 4 {
		t.Errorf("levels = %d, want 4", p.Tagger.Levels)
	}
	if p.Validator.CoverageMax != 1.0 || p.Validator.CoverageLevels != 3 {
		t.Errorf("validator = %+v", p.Validator)
	}
	if p.Gender.Workers != 8 || p.Gender.Backoff() != 250*time.Millisecond {
		t.Errorf("gender = %+v", p.Gender)
	}
	if p.Gender.Retries != 2 {
		t.Errorf("retries default lost: %d", p.Gender.Retries)
	}
	if p.Accuracy.StageOneRule != "above_zero" {
		t.Errorf("stage one rule = %q", p.Accuracy.StageOneRule)
	}
}

func TestLoadPipelineRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "[tagger]\nlevel = 5\n",
		"bad bounds":   "[validator]\ncoverage_min = 0.99\ncoverage_max = 0.9\n",
		"bad rule":     "[accuracy]\nstage_one_rule = \"sometimes\"\n",
		"zero workers": "[gender]\nworkers = 0\n",
	}

	for name, content := range cases {
		path := filepath.Join(t.TempDir(), "pipeline.toml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadPipeline(path)
		if !apperrors.IsValidationError(err) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}
