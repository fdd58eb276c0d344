// internal/services/batch_service.go
package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/SceneBechdel/internal/bechdel"
	"github.com/Corphon/SceneBechdel/internal/config"
	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/gender"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/screenplay"
	"github.com/Corphon/SceneBechdel/internal/sources"
	"github.com/Corphon/SceneBechdel/internal/storage"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

// Batch stage names, used in progress updates and exclusions.
const (
	StageScreen  = "screen"
	StageRosters = "rosters"
)

// Lock keys besides the per-test StageName keys.
const (
	lockParseable = "parseable"
	lockRoster    = "roster:"
)

// StageName names bechdel test n in progress updates.
func StageName(test int) string {
	return fmt.Sprintf("test%d", test)
}

// ProgressFunc is told how far a batch stage has got.
type ProgressFunc func(stage string, done, total int)

// Exclusion records a movie dropped from a batch stage.
type Exclusion struct {
	MovieID string `json:"movie_id"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// BatchOptions tune a BatchService.
type BatchOptions struct {
	RosterSize   int
	MovieWorkers int
}

// BatchService runs the pipeline over many movies: screening, roster
// building and the three stages, persisting each step's output so a
// later step can resume from it.
type BatchService struct {
	scripts   sources.ScriptProvider
	store     storage.Store
	tagger    *screenplay.Tagger
	validator *screenplay.Validator
	resolver  *gender.Resolver
	opts      BatchOptions
	locks     *LockManager
	metrics   *utils.PipelineMetrics
	logger    *utils.Logger
}

func NewBatchService(
	scripts sources.ScriptProvider,
	store storage.Store,
	tagger *screenplay.Tagger,
	validator *screenplay.Validator,
	resolver *gender.Resolver,
	opts BatchOptions,
	metrics *utils.PipelineMetrics,
	logger *utils.Logger,
) *BatchService {
	if opts.RosterSize < 1 {
		opts.RosterSize = screenplay.DefaultRosterSize
	}
	if opts.MovieWorkers < 1 {
		opts.MovieWorkers = 1
	}
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &BatchService{
		scripts:   scripts,
		store:     store,
		tagger:    tagger,
		validator: validator,
		resolver:  resolver,
		opts:      opts,
		locks:     NewLockManager(0),
		metrics:   metrics,
		logger:    logger,
	}
}

// NewBatchServiceFromConfig builds the tagger and validator from the
// pipeline tuning.
func NewBatchServiceFromConfig(
	pipeline config.Pipeline,
	scripts sources.ScriptProvider,
	store storage.Store,
	resolver *gender.Resolver,
	metrics *utils.PipelineMetrics,
	logger *utils.Logger,
) *BatchService {
	return NewBatchService(
		scripts,
		store,
		screenplay.NewTagger(pipeline.Tagger.Levels),
		screenplay.NewValidator(ValidatorOptions(pipeline)),
		resolver,
		BatchOptions{RosterSize: pipeline.Roster.Size, MovieWorkers: pipeline.Batch.MovieWorkers},
		metrics,
		logger,
	)
}

// ValidatorOptions maps the pipeline tuning onto the validator gates.
func ValidatorOptions(pipeline config.Pipeline) screenplay.ValidatorOptions {
	return screenplay.ValidatorOptions{
		Levels:            pipeline.Tagger.Levels,
		CoverageLevels:    pipeline.Validator.CoverageLevels,
		CoverageMin:       pipeline.Validator.CoverageMin,
		CoverageMax:       pipeline.Validator.CoverageMax,
		MaxAnomalyPercent: pipeline.Validator.MaxAnomalyPercent,
	}
}

// Store exposes the persistence layer.
func (s *BatchService) Store() storage.Store {
	return s.store
}

// Tagger exposes the line tagger.
func (s *BatchService) Tagger() *screenplay.Tagger {
	return s.tagger
}

// Locks exposes the locks guarding the stored pipeline state.
func (s *BatchService) Locks() *LockManager {
	return s.locks
}

// Validator exposes the format validator.
func (s *BatchService) Validator() *screenplay.Validator {
	return s.validator
}

// TagText tags and validates a script held in memory.
func (s *BatchService) TagText(movieID, text string) (*models.TaggedScript, *screenplay.Report, error) {
	script := s.tagger.Tag(movieID, text)
	report, err := s.validator.Validate(script)
	return script, report, err
}

// Analyze fetches, tags and validates one movie. Exclusion errors come back
// as AppErrors of the matching type.
func (s *BatchService) Analyze(ctx context.Context, title string) (*models.TaggedScript, *screenplay.Report, error) {
	text, err := s.scripts.FetchScript(ctx, title)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.RecordScreened()
	return s.TagText(title, text)
}

// forEachMovie runs fn over titles on the movie worker pool. fn writes its
// own slot; any error it returns stops the batch.
func (s *BatchService) forEachMovie(ctx context.Context, stage string, titles []string, progress ProgressFunc, fn func(ctx context.Context, i int, title string) error) error {
	var done atomic.Int64
	if progress != nil {
		progress(stage, 0, len(titles))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(s.opts.MovieWorkers, max(1, len(titles))))
	for i, title := range titles {
		i, title := i, title
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(gctx, i, title); err != nil {
				return err
			}
			n := done.Add(1)
			if progress != nil {
				progress(stage, int(n), len(titles))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *BatchService) exclude(stage, title string, err error) *Exclusion {
	reason := string(apperrors.TypeOf(err))
	if reason == "" {
		reason = string(apperrors.ErrorTypeError)
	}
	s.metrics.RecordExclusion(title, reason)
	return &Exclusion{MovieID: title, Stage: stage, Reason: reason, Detail: err.Error()}
}

// perMovie turns a failure of one movie into an exclusion. Only a cancelled
// batch is reported as an error.
func (s *BatchService) perMovie(ctx context.Context, stage, title string, err error) (*Exclusion, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !apperrors.IsExclusion(err) {
		s.logger.Warn("movie failed", map[string]interface{}{
			"movie": title,
			"stage": stage,
			"error": err.Error(),
		})
	}
	return s.exclude(stage, title, err), nil
}

// ScreenSummary is the outcome of screening a list of titles.
type ScreenSummary struct {
	Parseable []string    `json:"parseable"`
	Excluded  []Exclusion `json:"excluded"`
}

// Screen validates every title and stores the parseable ones, in input order.
func (s *BatchService) Screen(ctx context.Context, titles []string, progress ProgressFunc) (*ScreenSummary, error) {
	excluded := make([]*Exclusion, len(titles))

	err := s.forEachMovie(ctx, StageScreen, titles, progress, func(ctx context.Context, i int, title string) error {
		if _, _, err := s.Analyze(ctx, title); err != nil {
			excluded[i], err = s.perMovie(ctx, StageScreen, title, err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	summary := &ScreenSummary{Parseable: []string{}, Excluded: []Exclusion{}}
	for i, title := range titles {
		if excluded[i] != nil {
			summary.Excluded = append(summary.Excluded, *excluded[i])
			continue
		}
		summary.Parseable = append(summary.Parseable, title)
	}

	err = s.locks.ExecuteWithLock(lockParseable, func() error {
		return s.store.SaveParseable(ctx, summary.Parseable)
	})
	if err != nil {
		return nil, fmt.Errorf("saving parseable list: %w", err)
	}
	s.logger.Info("screening finished", map[string]interface{}{
		"titles":    len(titles),
		"parseable": len(summary.Parseable),
	})
	return summary, nil
}

// RosterSummary is the outcome of roster building.
type RosterSummary struct {
	Rosters  map[string][]models.RosterEntry `json:"rosters"`
	Excluded []Exclusion                     `json:"excluded"`
	// Partial holds whatever was resolved for movies interrupted by
	// cancellation. Partial rosters are never stored.
	Partial map[string][]models.RosterEntry `json:"partial,omitempty"`
}

// BuildRosters picks each movie's most cued characters, labels them and
// stores the result. On cancellation the rosters finished so far stay
// stored and the summary carries the partial ones alongside ctx.Err().
func (s *BatchService) BuildRosters(ctx context.Context, titles []string, progress ProgressFunc) (*RosterSummary, error) {
	rosters := make([][]models.RosterEntry, len(titles))
	partial := make([][]models.RosterEntry, len(titles))
	excluded := make([]*Exclusion, len(titles))

	runErr := s.forEachMovie(ctx, StageRosters, titles, progress, func(ctx context.Context, i int, title string) error {
		text, err := s.scripts.FetchScript(ctx, title)
		if err != nil {
			excluded[i], err = s.perMovie(ctx, StageRosters, title, err)
			return err
		}

		script := s.tagger.Tag(title, text)
		names := screenplay.ScriptRoster(script, s.opts.RosterSize).Names()
		genders, err := s.resolver.Resolve(ctx, title, names)
		entries := models.EntriesFor(names, genders)
		if err != nil {
			partial[i] = entries
			return err
		}

		err = s.locks.ExecuteWithLock(lockRoster+title, func() error {
			return s.store.SaveRoster(ctx, title, entries)
		})
		if err != nil {
			return fmt.Errorf("saving roster for %s: %w", title, err)
		}
		rosters[i] = entries
		return nil
	})

	summary := &RosterSummary{
		Rosters:  make(map[string][]models.RosterEntry),
		Excluded: []Exclusion{},
	}
	for i, title := range titles {
		switch {
		case excluded[i] != nil:
			summary.Excluded = append(summary.Excluded, *excluded[i])
		case rosters[i] != nil:
			summary.Rosters[title] = rosters[i]
		case partial[i] != nil:
			if summary.Partial == nil {
				summary.Partial = make(map[string][]models.RosterEntry)
			}
			summary.Partial[title] = partial[i]
		}
	}
	return summary, runErr
}

// RunStage evaluates test over movies (every stored roster when movies is
// nil). Tests two and three only consider movies that passed the previous
// test. The results replace whatever was stored for the test; runs of the
// same test are serialized.
func (s *BatchService) RunStage(ctx context.Context, test int, movies []string, progress ProgressFunc) ([]models.TestResult, []Exclusion, error) {
	if !bechdel.ValidTest(test) {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("test %d is not 1, 2 or 3", test), nil)
	}

	var (
		results    []models.TestResult
		exclusions []Exclusion
	)
	err := s.locks.ExecuteWithLock(StageName(test), func() error {
		var err error
		results, exclusions, err = s.runStage(ctx, test, movies, progress)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return results, exclusions, nil
}

func (s *BatchService) runStage(ctx context.Context, test int, movies []string, progress ProgressFunc) ([]models.TestResult, []Exclusion, error) {
	if movies == nil {
		var err error
		if movies, err = s.store.RosterMovies(ctx); err != nil {
			return nil, nil, err
		}
	}
	if test > models.TestOne {
		var prior []models.TestResult
		err := s.locks.ExecuteWithReadLock(StageName(test-1), func() error {
			var err error
			prior, err = s.store.LoadResults(ctx, test-1)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		movies = bechdel.Eligible(test, movies, prior)
	}

	slots := make([]*models.TestResult, len(movies))
	excluded := make([]*Exclusion, len(movies))
	stage := StageName(test)

	err := s.forEachMovie(ctx, stage, movies, progress, func(ctx context.Context, i int, title string) error {
		start := time.Now()
		in, err := s.stageInput(ctx, test, title)
		if err != nil {
			excluded[i], err = s.perMovie(ctx, stage, title, err)
			return err
		}

		pass, err := bechdel.Stage(test, in)
		if err != nil {
			return err
		}
		slots[i] = &models.TestResult{MovieID: title, Test: test, Pass: pass}
		s.metrics.RecordStage(test, time.Since(start))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	results := []models.TestResult{}
	exclusions := []Exclusion{}
	for i := range movies {
		if slots[i] != nil {
			results = append(results, *slots[i])
		}
		if excluded[i] != nil {
			exclusions = append(exclusions, *excluded[i])
		}
	}
	if err := s.store.SaveResults(ctx, test, results); err != nil {
		return nil, nil, fmt.Errorf("saving test %d results: %w", test, err)
	}
	return results, exclusions, nil
}

// stageInput loads what test needs for one movie. Test one needs only the
// stored roster; the others also need the segmented script.
func (s *BatchService) stageInput(ctx context.Context, test int, title string) (bechdel.Input, error) {
	entries, err := s.store.LoadRoster(ctx, title)
	if err != nil {
		return bechdel.Input{}, err
	}
	if test == models.TestOne {
		roster, genders := models.SplitEntries(entries)
		return bechdel.Input{MovieID: title, Roster: roster, Genders: genders}, nil
	}

	text, err := s.scripts.FetchScript(ctx, title)
	if err != nil {
		return bechdel.Input{}, err
	}
	return bechdel.InputFromEntries(title, entries, s.tagger.Tag(title, text)), nil
}

// RunReport summarises a whole batch run.
type RunReport struct {
	Titles    int                         `json:"titles"`
	Parseable []string                    `json:"parseable"`
	Rosters   int                         `json:"rosters"`
	Excluded  []Exclusion                 `json:"excluded"`
	Results   map[int][]models.TestResult `json:"results"`
}

// Run screens titles, builds rosters for the parseable ones and runs tests
// 1..stages over them. The report so far is returned with any error.
func (s *BatchService) Run(ctx context.Context, titles []string, stages int, progress ProgressFunc) (*RunReport, error) {
	if stages < models.TestOne || stages > models.TestThree {
		return nil, apperrors.NewValidationError(fmt.Sprintf("stages must be 1..3, got %d", stages), nil)
	}

	report := &RunReport{
		Titles:   len(titles),
		Excluded: []Exclusion{},
		Results:  make(map[int][]models.TestResult),
	}

	screened, err := s.Screen(ctx, titles, progress)
	if err != nil {
		return report, err
	}
	report.Parseable = screened.Parseable
	report.Excluded = append(report.Excluded, screened.Excluded...)

	rosters, err := s.BuildRosters(ctx, screened.Parseable, progress)
	if rosters != nil {
		report.Rosters = len(rosters.Rosters)
		report.Excluded = append(report.Excluded, rosters.Excluded...)
	}
	if err != nil {
		return report, err
	}

	movies := make([]string, 0, len(rosters.Rosters))
	for _, title := range screened.Parseable {
		if _, ok := rosters.Rosters[title]; ok {
			movies = append(movies, title)
		}
	}

	for test := models.TestOne; test <= stages; test++ {
		results, exclusions, err := s.RunStage(ctx, test, movies, progress)
		if err != nil {
			return report, err
		}
		report.Results[test] = results
		report.Excluded = append(report.Excluded, exclusions...)
	}
	return report, nil
}

// EvaluateMovie runs the whole pipeline for one movie in memory without
// touching the store.
func (s *BatchService) EvaluateMovie(ctx context.Context, title string) (*models.MovieOutcome, error) {
	outcome := &models.MovieOutcome{MovieID: title, Processed: time.Now()}

	script, _, err := s.Analyze(ctx, title)
	if err != nil {
		if apperrors.IsExclusion(err) {
			outcome.Excluded = true
			outcome.Reason = s.exclude(StageScreen, title, err).Reason
			return outcome, nil
		}
		return nil, err
	}

	names := screenplay.ScriptRoster(script, s.opts.RosterSize).Names()
	genders, err := s.resolver.Resolve(ctx, title, names)
	outcome.Roster = models.EntriesFor(names, genders)
	if err != nil {
		outcome.Partial = true
		return outcome, err
	}

	outcome.Results = bechdel.Evaluate(bechdel.Input{
		MovieID: title,
		Roster:  names,
		Genders: genders,
		Scenes:  screenplay.Segment(script),
	})
	return outcome, nil
}
