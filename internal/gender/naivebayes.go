// internal/gender/naivebayes.go
package gender

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

// absent is the value recorded for a feature a training sample did not have.
const absent = "\x00"

// Sample is one labelled training name.
type Sample struct {
	Name  string
	Label models.GenderLabel
}

// Model is a trained Naive Bayes name classifier. It is immutable once
// Train returns and safe for concurrent use.
type Model struct {
	// Labels in the order they were first seen during training; on an exact
	// tie the earlier label wins.
	Labels      []models.GenderLabel       `msgpack:"labels"`
	LabelCounts map[models.GenderLabel]int `msgpack:"label_counts"`
	Samples     int                        `msgpack:"samples"`
	Features    map[string]*FeatureStats   `msgpack:"features"`
}

// FeatureStats holds per-label value counts for one feature name.
type FeatureStats struct {
	// Bins is the number of distinct values seen, absent included.
	Bins   int                                   `msgpack:"bins"`
	Counts map[models.GenderLabel]map[string]int `msgpack:"counts"`
}

// Train fits a model. Probabilities use expected likelihood estimation
// (add one half to every count) and samples lacking a feature are counted
// under the absent value.
func Train(samples []Sample) (*Model, error) {
	if len(samples) == 0 {
		return nil, apperrors.NewValidationError("no training samples", nil)
	}

	m := &Model{
		LabelCounts: make(map[models.GenderLabel]int),
		Samples:     len(samples),
		Features:    make(map[string]*FeatureStats),
	}
	values := make(map[string]map[string]struct{})

	for _, s := range samples {
		if _, seen := m.LabelCounts[s.Label]; !seen {
			m.Labels = append(m.Labels, s.Label)
		}
		m.LabelCounts[s.Label]++

		for fname, fval := range NameFeatures(s.Name) {
			stats := m.stats(fname)
			if stats.Counts[s.Label] == nil {
				stats.Counts[s.Label] = make(map[string]int)
			}
			stats.Counts[s.Label][fval]++

			if values[fname] == nil {
				values[fname] = make(map[string]struct{})
			}
			values[fname][fval] = struct{}{}
		}
	}

	for fname, stats := range m.Features {
		for _, label := range m.Labels {
			seen := 0
			for _, n := range stats.Counts[label] {
				seen += n
			}
			if missing := m.LabelCounts[label] - seen; missing > 0 {
				if stats.Counts[label] == nil {
					stats.Counts[label] = make(map[string]int)
				}
				stats.Counts[label][absent] += missing
				values[fname][absent] = struct{}{}
			}
		}
		stats.Bins = len(values[fname])
	}

	return m, nil
}

func (m *Model) stats(fname string) *FeatureStats {
	stats, ok := m.Features[fname]
	if !ok {
		stats = &FeatureStats{Counts: make(map[models.GenderLabel]map[string]int)}
		m.Features[fname] = stats
	}
	return stats
}

// LogProbs returns the unnormalised log probability of each label.
// Features never seen in training are ignored.
func (m *Model) LogProbs(features Features) map[models.GenderLabel]float64 {
	// fixed summation order keeps equal inputs bit-for-bit equal
	names := make([]string, 0, len(features))
	for fname := range features {
		if _, ok := m.Features[fname]; ok {
			names = append(names, fname)
		}
	}
	sort.Strings(names)

	out := make(map[models.GenderLabel]float64, len(m.Labels))
	for _, label := range m.Labels {
		n := float64(m.LabelCounts[label])
		logp := ele(n, float64(m.Samples), len(m.Labels))

		for _, fname := range names {
			stats := m.Features[fname]
			logp += ele(float64(stats.Counts[label][features[fname]]), n, stats.Bins)
		}
		out[label] = logp
	}
	return out
}

// ele is the log of the expected likelihood estimate (c+0.5)/(n+bins/2).
func ele(count, total float64, bins int) float64 {
	return math.Log((count + 0.5) / (total + float64(bins)*0.5))
}

// Classify returns the most probable label for name.
func (m *Model) Classify(name string) models.GenderLabel {
	logps := m.LogProbs(NameFeatures(name))

	best := m.Labels[0]
	for _, label := range m.Labels[1:] {
		if logps[label] > logps[best] {
			best = label
		}
	}
	return best
}

// Accuracy returns the share of samples the model labels correctly.
func (m *Model) Accuracy(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	correct := 0
	for _, s := range samples {
		if m.Classify(s.Name) == s.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

// SaveModel writes the model artifact atomically.
func SaveModel(path string, m *Model) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), "model-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if err := msgpack.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// LoadModel reads a model artifact written by SaveModel.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("model %s", path), err)
		}
		return nil, err
	}
	defer f.Close()

	var m Model
	if err := msgpack.NewDecoder(f).Decode(&m); err != nil {
		return nil, apperrors.NewProcessingError("failed to decode model", err)
	}
	if len(m.Labels) == 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("model %s has no labels", path), nil)
	}
	return &m, nil
}
