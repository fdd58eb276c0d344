// internal/accuracy/accuracy.go
package accuracy

import (
	"fmt"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

// StageOneRule decides what ground truth counts as a test one pass.
type StageOneRule string

const (
	// RuleAtLeastStage expects a pass when rank >= test, for every test.
	RuleAtLeastStage StageOneRule = "at_least_stage"
	// RuleAboveZero expects a test one pass when rank > 0.
	RuleAboveZero StageOneRule = "above_zero"
)

// ParseStageOneRule validates a configured rule name; "" is RuleAtLeastStage.
func ParseStageOneRule(s string) (StageOneRule, error) {
	switch StageOneRule(s) {
	case "", RuleAtLeastStage:
		return RuleAtLeastStage, nil
	case RuleAboveZero:
		return RuleAboveZero, nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("unknown stage one rule %q", s), nil)
}

// Expected reports whether a movie with the given ground truth rank should
// pass test.
func (r StageOneRule) Expected(test, rank int) bool {
	if test == models.TestOne && r == RuleAboveZero {
		return rank > 0
	}
	return rank >= test
}

// RankSource returns the ground truth rank (0..3) of a movie.
type RankSource interface {
	LookupRank(title string) (int, bool)
}

// RankMap is an in-memory RankSource.
type RankMap map[string]int

func (m RankMap) LookupRank(title string) (int, bool) {
	rank, ok := m[title]
	return rank, ok
}

// Report is the confusion matrix of one test plus derived rates. Rates
// whose denominator is zero are reported as 0.
type Report struct {
	Test              int      `json:"test"`
	Rule              string   `json:"rule"`
	Total             int      `json:"total"`
	TruePositives     int      `json:"true_positives"`
	FalsePositives    int      `json:"false_positives"`
	TrueNegatives     int      `json:"true_negatives"`
	FalseNegatives    int      `json:"false_negatives"`
	Accuracy          float64  `json:"accuracy"`
	PositiveRecall    float64  `json:"positive_recall"`
	PositivePrecision float64  `json:"positive_precision"`
	NegativeRecall    float64  `json:"negative_recall"`
	NegativePrecision float64  `json:"negative_precision"`
	Duplicates        []string `json:"duplicates,omitempty"` // later entries of an already counted movie
	Unknown           []string `json:"unknown,omitempty"`    // movies without ground truth
}

// Evaluate compares predictions for test against ground truth. Only the
// first result of each movie counts; later ones are listed in Duplicates.
// Results for other tests are ignored.
func Evaluate(test int, results []models.TestResult, ranks RankSource, rule StageOneRule) (*Report, error) {
	if test < models.TestOne || test > models.TestThree {
		return nil, apperrors.NewValidationError(fmt.Sprintf("test %d is not 1, 2 or 3", test), nil)
	}
	if rule == "" {
		rule = RuleAtLeastStage
	}

	report := &Report{Test: test, Rule: string(rule)}
	seen := make(map[string]bool, len(results))

	for _, r := range results {
		if r.Test != test {
			continue
		}
		if seen[r.MovieID] {
			report.Duplicates = append(report.Duplicates, r.MovieID)
			continue
		}
		seen[r.MovieID] = true

		rank, ok := ranks.LookupRank(r.MovieID)
		if !ok {
			report.Unknown = append(report.Unknown, r.MovieID)
			continue
		}

		report.Total++
		expected := rule.Expected(test, rank)
		switch {
		case r.Pass && expected:
			report.TruePositives++
		case r.Pass:
			report.FalsePositives++
		case !expected:
			report.TrueNegatives++
		default:
			report.FalseNegatives++
		}
	}

	report.Accuracy = ratio(report.TruePositives+report.TrueNegatives, report.Total)
	report.PositiveRecall = ratio(report.TruePositives, report.TruePositives+report.FalseNegatives)
	report.PositivePrecision = ratio(report.TruePositives, report.TruePositives+report.FalsePositives)
	report.NegativeRecall = ratio(report.TrueNegatives, report.TrueNegatives+report.FalsePositives)
	report.NegativePrecision = ratio(report.TrueNegatives, report.TrueNegatives+report.FalseNegatives)
	return report, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
