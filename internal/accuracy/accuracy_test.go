package accuracy

import (
	"reflect"
	"testing"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
)

func result(movie string, test int, pass bool) models.TestResult {
	return models.TestResult{MovieID: movie, Test: test, Pass: pass}
}

func TestEvaluateConfusionMatrix(t *testing.T) {
	ranks := RankMap{"tp": 3, "fp": 1, "tn": 0, "fn": 2, "tp2": 2}
	results := []models.TestResult{
		result("tp", 2, true),
		result("fp", 2, true),
		result("tn", 2, false),
		result("fn", 2, false),
		result("tp2", 2, true),
	}

	report, err := Evaluate(2, results, ranks, RuleAtLeastStage)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Total != 5 || report.TruePositives != 2 || report.FalsePositives != 1 ||
		report.TrueNegatives != 1 || report.FalseNegatives != 1 {
		t.Fatalf("matrix = %+v", report)
	}
	if report.Accuracy != 0.6 {
		t.Errorf("accuracy = %v", report.Accuracy)
	}
	if report.PositivePrecision != 2.0/3.0 || report.PositiveRecall != 2.0/3.0 {
		t.Errorf("positive rates = %v / %v", report.PositivePrecision, report.PositiveRecall)
	}
	if report.NegativePrecision != 0.5 || report.NegativeRecall != 0.5 {
		t.Errorf("negative rates = %v / %v", report.NegativePrecision, report.NegativeRecall)
	}
}

func TestEvaluateFirstOccurrenceWins(t *testing.T) {
	ranks := RankMap{"a": 3, "b": 0}
	results := []models.TestResult{
		result("a", 1, true),
		result("b", 1, false),
		result("a", 1, false),
		result("a", 1, false),
		result("ghost", 1, true),
		result("b", 2, true), // other test
	}

	report, err := Evaluate(1, results, ranks, RuleAtLeastStage)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Total != 2 || report.TruePositives != 1 || report.TrueNegatives != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !reflect.DeepEqual(report.Duplicates, []string{"a", "a"}) {
		t.Errorf("duplicates = %v", report.Duplicates)
	}
	if !reflect.DeepEqual(report.Unknown, []string{"ghost"}) {
		t.Errorf("unknown = %v", report.Unknown)
	}
}

func TestStageOneRules(t *testing.T) {
	for rank := 0; rank <= 3; rank++ {
		for test := 1; test <= 3; test++ {
			if got, want := RuleAtLeastStage.Expected(test, rank), rank >= test; got != want {
				t.Errorf("at_least_stage test %d rank %d = %v", test, rank, got)
			}
		}
		if got, want := RuleAboveZero.Expected(1, rank), rank > 0; got != want {
			t.Errorf("above_zero rank %d = %v", rank, got)
		}
	}
	// the legacy rule only changes test one
	if RuleAboveZero.Expected(2, 1) {
		t.Error("above_zero leaked into test two")
	}

	if r, err := ParseStageOneRule(""); err != nil || r != RuleAtLeastStage {
		t.Errorf("default rule = %q, %v", r, err)
	}
	if _, err := ParseStageOneRule("greater"); !apperrors.IsValidationError(err) {
		t.Errorf("bad rule err = %v", err)
	}
}

func TestEvaluateEmptyAndInvalid(t *testing.T) {
	report, err := Evaluate(3, nil, RankMap{}, "")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.Accuracy != 0 || report.PositivePrecision != 0 || report.Rule != string(RuleAtLeastStage) {
		t.Fatalf("empty report = %+v", report)
	}

	if _, err := Evaluate(0, nil, RankMap{}, RuleAtLeastStage); !apperrors.IsValidationError(err) {
		t.Fatalf("test 0 err = %v", err)
	}
}
