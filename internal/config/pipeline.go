// internal/config/pipeline.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
)

// Pipeline holds the tuning knobs of the tagging/evaluation pipeline.
// Every field has a canonical default; pipeline.toml only needs the
// values it overrides.
type Pipeline struct {
	Tagger    TaggerConfig    `toml:"tagger" json:"tagger"`
	Validator ValidatorConfig `toml:"validator" json:"validator"`
	Roster    RosterConfig    `toml:"roster" json:"roster"`
	Gender    GenderConfig    `toml:"gender" json:"gender"`
	Accuracy  AccuracyConfig  `toml:"accuracy" json:"accuracy"`
	Batch     BatchConfig     `toml:"batch" json:"batch"`
}

type TaggerConfig struct {
	Levels int `toml:"levels" json:"levels"`
}

type ValidatorConfig struct {
	CoverageLevels    int     `toml:"coverage_levels" json:"coverage_levels"`
	CoverageMin       float64 `toml:"coverage_min" json:"coverage_min"`
	CoverageMax       float64 `toml:"coverage_max" json:"coverage_max"`
	MaxAnomalyPercent float64 `toml:"max_anomaly_percent" json:"max_anomaly_percent"`
}

type RosterConfig struct {
	Size int `toml:"size" json:"size"`
}

type GenderConfig struct {
	Workers       int      `toml:"workers" json:"workers"`
	Retries       int      `toml:"retries" json:"retries"`
	RetryBackoff  duration `toml:"retry_backoff" json:"retry_backoff"`
	LookupTimeout duration `toml:"lookup_timeout" json:"lookup_timeout"`
	CacheTTL      duration `toml:"cache_ttl" json:"cache_ttl"`
}

type AccuracyConfig struct {
	// StageOneRule is "at_least_stage" (rank >= 1) or "above_zero" (rank > 0).
	StageOneRule string `toml:"stage_one_rule" json:"stage_one_rule"`
}

type BatchConfig struct {
	MovieWorkers int `toml:"movie_workers" json:"movie_workers"`
	// RequestsPerMinute limits run submissions per client; 0 disables it.
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// duration decodes TOML strings such as "750ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultPipeline returns the canonical policy: five levels, coverage in
// (0.90, 0.995) over the three most frequent depths, anomalies under 10%.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Tagger: TaggerConfig{Levels: 5},
		Validator: ValidatorConfig{
			CoverageLevels:    3,
			CoverageMin:       0.90,
			CoverageMax:       0.995,
			MaxAnomalyPercent: 10,
		},
		Roster: RosterConfig{Size: 20},
		Gender: GenderConfig{
			Workers:       4,
			Retries:       2,
			RetryBackoff:  duration{500 * time.Millisecond},
			LookupTimeout: duration{15 * time.Second},
			CacheTTL:      duration{7 * 24 * time.Hour},
		},
		Accuracy: AccuracyConfig{StageOneRule: "at_least_stage"},
		Batch:    BatchConfig{MovieWorkers: 1, RequestsPerMinute: 30},
	}
}

// LoadPipeline decodes path over the defaults. A missing file is not an error.
func LoadPipeline(path string) (Pipeline, error) {
	p := DefaultPipeline()

	if path == "" {
		return p, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return p, nil
	}

	meta, err := toml.DecodeFile(path, &p)
	if err != nil {
		return p, apperrors.NewValidationError(fmt.Sprintf("decode %s", path), err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return p, apperrors.NewValidationError(fmt.Sprintf("unknown keys in %s: %v", path, undecoded), nil)
	}

	return p, p.Validate()
}

// Validate checks the knobs for values the pipeline cannot work with.
func (p Pipeline) Validate() error {
	switch {
	case p.Tagger.Levels < 1:
		return apperrors.NewValidationError("tagger.levels must be positive", nil)
	case p.Validator.CoverageLevels < 1:
		return apperrors.NewValidationError("validator.coverage_levels must be positive", nil)
	case p.Validator.CoverageMin < 0 || p.Validator.CoverageMax > 1 || p.Validator.CoverageMin >= p.Validator.CoverageMax:
		return apperrors.NewValidationError("validator coverage bounds must satisfy 0 <= min < max <= 1", nil)
	case p.Validator.MaxAnomalyPercent <= 0:
		return apperrors.NewValidationError("validator.max_anomaly_percent must be positive", nil)
	case p.Roster.Size < 1:
		return apperrors.NewValidationError("roster.size must be positive", nil)
	case p.Gender.Workers < 1:
		return apperrors.NewValidationError("gender.workers must be positive", nil)
	case p.Gender.Retries < 0:
		return apperrors.NewValidationError("gender.retries must not be negative", nil)
	case p.Batch.MovieWorkers < 1:
		return apperrors.NewValidationError("batch.movie_workers must be positive", nil)
	case p.Batch.RequestsPerMinute < 0:
		return apperrors.NewValidationError("batch.requests_per_minute must not be negative", nil)
	}

	switch p.Accuracy.StageOneRule {
	case "at_least_stage", "above_zero":
	default:
		return apperrors.NewValidationError(fmt.Sprintf("accuracy.stage_one_rule %q is not at_least_stage or above_zero", p.Accuracy.StageOneRule), nil)
	}

	return nil
}

// Backoff returns the delay between lookup attempts.
func (g GenderConfig) Backoff() time.Duration { return g.RetryBackoff.Duration }

// Timeout returns the per-lookup deadline.
func (g GenderConfig) Timeout() time.Duration { return g.LookupTimeout.Duration }

// TTL returns how long cached lookups stay valid.
func (g GenderConfig) TTL() time.Duration { return g.CacheTTL.Duration }
