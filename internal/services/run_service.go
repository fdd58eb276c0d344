// internal/services/run_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/storage"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

const runDir = "runs"

// RunRequest asks for a batch run over titles up to test Stages.
type RunRequest struct {
	Titles []string `json:"titles"`
	Stages int      `json:"stages"`
}

// RunRecord is the persisted state of one asynchronous run.
type RunRecord struct {
	ID       string     `json:"id"`
	Request  RunRequest `json:"request"`
	Status   string     `json:"status"`
	Report   *RunReport `json:"report,omitempty"`
	Error    string     `json:"error,omitempty"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
}

type activeRun struct {
	record RunRecord
	cancel context.CancelFunc
}

// RunService starts batch runs in the background, reports their progress
// through the ProgressService and keeps a JSON record of each run.
type RunService struct {
	batch    *BatchService
	progress *ProgressService
	files    *storage.FileStorage
	metrics  *utils.PipelineMetrics
	logger   *utils.Logger

	mu   sync.RWMutex
	runs map[string]*activeRun
	wg   sync.WaitGroup
}

// NewRunService keeps run records under files (nil keeps them in memory only).
func NewRunService(batch *BatchService, progress *ProgressService, files *storage.FileStorage, metrics *utils.PipelineMetrics, logger *utils.Logger) *RunService {
	if progress == nil {
		progress = NewProgressService()
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &RunService{
		batch:    batch,
		progress: progress,
		files:    files,
		metrics:  metrics,
		logger:   logger,
		runs:     make(map[string]*activeRun),
	}
}

// Progress exposes the progress service runs report to.
func (s *RunService) Progress() *ProgressService {
	return s.progress
}

// Start validates req and launches the run. Stages defaults to 3.
func (s *RunService) Start(req RunRequest) (*RunRecord, error) {
	titles := make([]string, 0, len(req.Titles))
	for _, t := range req.Titles {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return nil, apperrors.NewValidationError("a run needs at least one title", nil)
	}
	if req.Stages == 0 {
		req.Stages = models.TestThree
	}
	if req.Stages < models.TestOne || req.Stages > models.TestThree {
		return nil, apperrors.NewValidationError(fmt.Sprintf("stages must be 1..3, got %d", req.Stages), nil)
	}
	req.Titles = titles

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		record: RunRecord{
			ID:      uuid.NewString(),
			Request: req,
			Status:  StatusRunning,
			Started: time.Now(),
		},
		cancel: cancel,
	}

	s.mu.Lock()
	s.runs[run.record.ID] = run
	s.mu.Unlock()

	// execute owns run.record once it starts
	record := run.record
	tracker := s.progress.CreateTracker(record.ID)
	s.persist(record)
	s.metrics.Collector().IncGauge(utils.MetricRunsActive)

	s.wg.Add(1)
	go s.execute(ctx, run, tracker)

	return &record, nil
}

func (s *RunService) execute(ctx context.Context, run *activeRun, tracker *ProgressTracker) {
	defer s.wg.Done()
	defer s.metrics.Collector().DecGauge(utils.MetricRunsActive)
	defer run.cancel()

	req := run.record.Request
	weights := stageWeights(req.Stages)
	progress := func(stage string, done, total int) {
		w := weights[stage]
		pct := w.from
		if total > 0 {
			pct += (w.to - w.from) * done / total
		}
		tracker.UpdateProgress(pct, stage, fmt.Sprintf("%s %d/%d", stage, done, total))
	}

	s.logger.Info("run started", map[string]interface{}{
		"run":    run.record.ID,
		"titles": len(req.Titles),
		"stages": req.Stages,
	})
	report, err := s.batch.Run(ctx, req.Titles, req.Stages, progress)

	s.mu.Lock()
	now := time.Now()
	run.record.Report = report
	run.record.Finished = &now
	switch {
	case err == nil:
		run.record.Status = StatusCompleted
	case errors.Is(err, context.Canceled):
		run.record.Status = StatusCancelled
		run.record.Error = err.Error()
	default:
		run.record.Status = StatusFailed
		run.record.Error = err.Error()
	}
	record := run.record
	s.mu.Unlock()

	s.persist(record)

	switch record.Status {
	case StatusCompleted:
		tracker.Complete(fmt.Sprintf("%d of %d titles parseable", len(report.Parseable), report.Titles))
	case StatusCancelled:
		tracker.Cancel("")
	default:
		tracker.Fail(record.Error)
	}
	s.logger.Info("run finished", map[string]interface{}{
		"run":    record.ID,
		"status": record.Status,
	})
}

type span struct{ from, to int }

// stageWeights splits 0-100 between screening, rosters and the tests.
func stageWeights(stages int) map[string]span {
	weights := map[string]span{
		StageScreen:  {0, 30},
		StageRosters: {30, 70},
	}
	step := 30 / stages
	for test := 1; test <= stages; test++ {
		weights[StageName(test)] = span{70 + (test-1)*step, 70 + test*step}
	}
	return weights
}

func (s *RunService) persist(record RunRecord) {
	if s.files == nil {
		return
	}
	if err := s.files.SaveJSONFile(runDir, record.ID+".json", record); err != nil {
		s.logger.Warn("failed to save run record", map[string]interface{}{
			"run":   record.ID,
			"error": err.Error(),
		})
	}
}

// Get returns a run by id, falling back to stored records of runs started
// by an earlier process.
func (s *RunService) Get(id string) (*RunRecord, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	if ok {
		record := run.record
		s.mu.RUnlock()
		return &record, nil
	}
	s.mu.RUnlock()

	if s.files != nil {
		if _, err := uuid.Parse(id); err == nil {
			var record RunRecord
			err := s.files.LoadJSONFile(runDir, id+".json", &record)
			if err == nil {
				return &record, nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s", id), nil)
}

// List returns the runs known to this process, newest first.
func (s *RunService) List() []RunRecord {
	s.mu.RLock()
	records := make([]RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		records = append(records, run.record)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Started.After(records[j].Started)
	})
	return records
}

// Cancel stops a running run. Cancelling a finished run is a no-op.
func (s *RunService) Cancel(id string) error {
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("run %s", id), nil)
	}
	run.cancel()
	return nil
}

// Wait blocks until run id finishes or ctx is done.
func (s *RunService) Wait(ctx context.Context, id string) (*RunRecord, error) {
	tracker, ok := s.progress.GetTracker(id)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s", id), nil)
	}
	select {
	case <-tracker.Done:
		return s.Get(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels every run and waits for them to stop.
func (s *RunService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, run := range s.runs {
		run.cancel()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
