// internal/services/report_service.go
package services

import (
	"context"

	"github.com/Corphon/SceneBechdel/internal/accuracy"
	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/storage"
)

// ReportService compares stored test results with the ground truth ranks.
type ReportService struct {
	results storage.ResultStore
	ranks   accuracy.RankSource
	rule    accuracy.StageOneRule
}

// NewReportService may be given a nil rank source; evaluations then fail
// with a NotFound error.
func NewReportService(results storage.ResultStore, ranks accuracy.RankSource, rule accuracy.StageOneRule) *ReportService {
	if rule == "" {
		rule = accuracy.RuleAtLeastStage
	}
	return &ReportService{results: results, ranks: ranks, rule: rule}
}

// Rule returns the stage-one rule in use.
func (s *ReportService) Rule() accuracy.StageOneRule {
	return s.rule
}

// Evaluate scores the stored results of test.
func (s *ReportService) Evaluate(ctx context.Context, test int) (*accuracy.Report, error) {
	if s.ranks == nil {
		return nil, apperrors.NewNotFoundError("no ground truth ranks loaded", nil)
	}
	results, err := s.results.LoadResults(ctx, test)
	if err != nil {
		return nil, err
	}
	return accuracy.Evaluate(test, results, s.ranks, s.rule)
}

// EvaluateAll scores every test that has stored results.
func (s *ReportService) EvaluateAll(ctx context.Context) ([]*accuracy.Report, error) {
	var reports []*accuracy.Report
	for test := models.TestOne; test <= models.TestThree; test++ {
		report, err := s.Evaluate(ctx, test)
		if err != nil {
			return nil, err
		}
		if report.Total+len(report.Unknown) > 0 {
			reports = append(reports, report)
		}
	}
	return reports, nil
}
