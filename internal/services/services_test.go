package services

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/SceneBechdel/internal/accuracy"
	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/gender"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/screenplay"
	"github.com/Corphon/SceneBechdel/internal/sources"
	"github.com/Corphon/SceneBechdel/internal/storage"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

var (
	modelOnce sync.Once
	model     *gender.Model
	modelErr  error
)

func nameModel(t *testing.T) *gender.Model {
	t.Helper()
	modelOnce.Do(func() {
		model, modelErr = gender.TrainDefault("")
	})
	if modelErr != nil {
		t.Fatalf("TrainDefault: %v", modelErr)
	}
	return model
}

var actresses = map[string]bool{"ANN": true, "MARY": true, "LIZ": true}

// castLookup answers like a search engine that knows every performer.
func castLookup() gender.PerformerLookup {
	return gender.LookupFunc(func(ctx context.Context, movie, character string) (gender.PerformerInfo, error) {
		if actresses[character] {
			return gender.PerformerInfo{Subtitle: gender.Text("American Actress")}, nil
		}
		return gender.PerformerInfo{Subtitle: gender.Text("British Actor")}, nil
	})
}

// screenplayText typesets scenes in which speakers take turns: headings and
// action at 0, dialogue at 10, parentheticals at 15, cues at 20 and
// transitions at 40.
func screenplayText(scenes int, speakers []string, dialogue string) string {
	pad := func(n int, s string) string { return strings.Repeat(" ", n) + s }

	var lines []string
	for i := 0; i < scenes; i++ {
		lines = append(lines, "INT. KITCHEN - NIGHT", "Rain hammers the windows.")
		for j, who := range speakers {
			lines = append(lines, pad(20, who))
			if j == 0 && i%3 == 0 {
				lines = append(lines, pad(15, "(quietly)"))
			}
			lines = append(lines, pad(10, dialogue), pad(10, "Listen to it."))
		}
		lines = append(lines, "The kettle whistles.")
		if i%4 == 1 {
			lines = append(lines, pad(40, "CUT TO:"))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

var corpus = map[string]string{
	// two women talking about a kettle
	"Kettle": screenplayText(12, []string{"ANN", "MARY"}, "Did you hear the kettle?"),
	// two women who never speak to each other
	"Apart": screenplayText(12, []string{"ANN", "BOB", "MARY"}, "Did you hear the kettle?"),
	// two women who only talk about a man
	"About Him": screenplayText(12, []string{"LIZ", "MARY"}, "Where did he go?"),
	// only two indentation depths
	"Flat": "INT. ROOM\nAction.\n          Hello.\nMore action.\n",
}

type fixture struct {
	batch  *BatchService
	store  storage.Store
	files  *storage.FileStorage
	logger *utils.Logger
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	dir := t.TempDir()

	scripts := sources.NewDirScriptProvider(dir + "/scripts")
	for title, text := range corpus {
		if err := scripts.SaveScript(title, text); err != nil {
			t.Fatalf("SaveScript: %v", err)
		}
	}

	store, err := storage.NewFileStore(dir + "/data")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	logger := utils.NewLogger(&bytes.Buffer{}, utils.ERROR)
	metrics := utils.NewPipelineMetricsWith(utils.NewMetricsCollector(), logger)
	resolver := gender.NewResolver(
		gender.NewClassifier(nameModel(t), castLookup()),
		gender.ResolverOptions{Workers: 2},
		metrics, logger,
	)

	batch := NewBatchService(
		scripts, store,
		screenplay.NewTagger(screenplay.DefaultLevels),
		screenplay.NewValidator(screenplay.DefaultValidatorOptions()),
		resolver,
		BatchOptions{MovieWorkers: workers},
		metrics, logger,
	)
	return &fixture{batch: batch, store: store, files: store.Storage(), logger: logger}
}

func passes(results []models.TestResult) map[string]bool {
	out := make(map[string]bool, len(results))
	for _, r := range results {
		out[r.MovieID] = r.Pass
	}
	return out
}

func TestBatchRunEndToEnd(t *testing.T) {
	for _, workers := range []int{1, 3} {
		f := newFixture(t, workers)
		ctx := context.Background()
		titles := []string{"Kettle", "Flat", "Apart", "Missing", "About Him"}

		report, err := f.batch.Run(ctx, titles, 3, nil)
		if err != nil {
			t.Fatalf("workers=%d Run: %v", workers, err)
		}

		if !reflect.DeepEqual(report.Parseable, []string{"Kettle", "Apart", "About Him"}) {
			t.Fatalf("parseable = %v", report.Parseable)
		}
		reasons := map[string]string{}
		for _, e := range report.Excluded {
			reasons[e.MovieID] = e.Reason
		}
		if reasons["Flat"] != string(apperrors.ErrorTypeFormatUnusable) ||
			reasons["Missing"] != string(apperrors.ErrorTypeScriptNotAvailable) || len(reasons) != 2 {
			t.Fatalf("exclusions = %v", report.Excluded)
		}

		want := map[int]map[string]bool{
			1: {"Kettle": true, "Apart": true, "About Him": true},
			2: {"Kettle": true, "Apart": false, "About Him": true},
			3: {"Kettle": true, "About Him": false},
		}
		for test, expected := range want {
			if got := passes(report.Results[test]); !reflect.DeepEqual(got, expected) {
				t.Errorf("workers=%d test %d = %v, want %v", workers, test, got, expected)
			}
			stored, _ := f.store.LoadResults(ctx, test)
			if !reflect.DeepEqual(stored, report.Results[test]) {
				t.Errorf("stored test %d = %v", test, stored)
			}
		}

		roster, err := f.store.LoadRoster(ctx, "Apart")
		if err != nil || len(roster) != 3 {
			t.Fatalf("Apart roster = %v, %v", roster, err)
		}
		if parseable, _ := f.store.LoadParseable(ctx); len(parseable) != 3 {
			t.Fatalf("stored parseable = %v", parseable)
		}
	}
}

func TestRunStageResumesFromStore(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	if _, err := f.batch.Screen(ctx, []string{"Kettle", "Apart"}, nil); err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if _, err := f.batch.BuildRosters(ctx, []string{"Kettle", "Apart"}, nil); err != nil {
		t.Fatalf("BuildRosters: %v", err)
	}

	// test two before test one has never run: no movie is eligible
	results, _, err := f.batch.RunStage(ctx, 2, nil, nil)
	if err != nil || len(results) != 0 {
		t.Fatalf("early test two = %v, %v", results, err)
	}

	var stages []string
	progress := func(stage string, done, total int) {
		if done == total {
			stages = append(stages, stage)
		}
	}
	for test := 1; test <= 3; test++ {
		if _, _, err := f.batch.RunStage(ctx, test, nil, progress); err != nil {
			t.Fatalf("RunStage(%d): %v", test, err)
		}
	}
	third, _ := f.store.LoadResults(ctx, 3)
	if !reflect.DeepEqual(third, []models.TestResult{{MovieID: "Kettle", Test: 3, Pass: true}}) {
		t.Fatalf("test three = %v", third)
	}
	if !reflect.DeepEqual(stages, []string{"test1", "test2", "test3"}) {
		t.Fatalf("progress stages = %v", stages)
	}

	if _, _, err := f.batch.RunStage(ctx, 4, nil, nil); !apperrors.IsValidationError(err) {
		t.Fatalf("test 4 err = %v", err)
	}
}

func TestRunStageExcludesMoviesWithoutRoster(t *testing.T) {
	f := newFixture(t, 1)
	results, excluded, err := f.batch.RunStage(context.Background(), 1, []string{"Kettle"}, nil)
	if err != nil || len(results) != 0 {
		t.Fatalf("RunStage = %v, %v", results, err)
	}
	if len(excluded) != 1 || excluded[0].Reason != string(apperrors.ErrorTypeNotFound) {
		t.Fatalf("excluded = %v", excluded)
	}
}

func TestEvaluateMovie(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	outcome, err := f.batch.EvaluateMovie(ctx, "Kettle")
	if err != nil {
		t.Fatalf("EvaluateMovie: %v", err)
	}
	if len(outcome.Results) != 3 {
		t.Fatalf("results = %v", outcome.Results)
	}
	for _, r := range outcome.Results {
		if !r.Pass {
			t.Fatalf("Kettle failed test %d", r.Test)
		}
	}

	outcome, err = f.batch.EvaluateMovie(ctx, "Flat")
	if err != nil || !outcome.Excluded || outcome.Reason != string(apperrors.ErrorTypeFormatUnusable) {
		t.Fatalf("Flat outcome = %+v, %v", outcome, err)
	}
	if _, err := f.store.LoadParseable(ctx); !apperrors.IsNotFoundError(err) {
		t.Fatalf("EvaluateMovie touched the store: %v", err)
	}
}

func TestScreenCancelled(t *testing.T) {
	f := newFixture(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.batch.Screen(ctx, []string{"Kettle", "Apart"}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestReportService(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	if _, err := f.batch.Run(ctx, []string{"Kettle", "Apart", "About Him"}, 3, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ranks := accuracy.RankMap{"Kettle": 3, "Apart": 1, "About Him": 3}
	reports := NewReportService(f.store, ranks, "")

	second, err := reports.Evaluate(ctx, 2)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if second.Total != 3 || second.Accuracy != 1 {
		t.Fatalf("test two report = %+v", second)
	}
	third, _ := reports.Evaluate(ctx, 3)
	if third.Total != 2 || third.FalseNegatives != 1 || third.Accuracy != 0.5 {
		t.Fatalf("test three report = %+v", third)
	}

	all, err := reports.EvaluateAll(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("EvaluateAll = %v, %v", all, err)
	}

	if _, err := NewReportService(f.store, nil, "").Evaluate(ctx, 1); !apperrors.IsNotFoundError(err) {
		t.Fatalf("no ranks err = %v", err)
	}
}

func TestRunServiceStartReturnsSnapshot(t *testing.T) {
	f := newFixture(t, 2)
	runs := NewRunService(f.batch, nil, f.files, nil, f.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < 20; i++ {
		started, err := runs.Start(RunRequest{Titles: []string{"Missing"}, Stages: 1})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if started.Status != StatusRunning || started.Finished != nil || started.Report != nil {
			t.Fatalf("started = %+v", started)
		}
		done, err := runs.Wait(ctx, started.ID)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if done.Status != StatusCompleted || len(done.Report.Excluded) != 1 {
			t.Fatalf("finished = %+v", done)
		}
	}
	if err := runs.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestRunServiceLifecycle(t *testing.T) {
	f := newFixture(t, 2)
	runs := NewRunService(f.batch, nil, f.files, nil, f.logger)

	if _, err := runs.Start(RunRequest{Titles: []string{" ", ""}}); !apperrors.IsValidationError(err) {
		t.Fatalf("empty titles err = %v", err)
	}
	if _, err := runs.Start(RunRequest{Titles: []string{"Kettle"}, Stages: 5}); !apperrors.IsValidationError(err) {
		t.Fatalf("bad stages err = %v", err)
	}

	started, err := runs.Start(RunRequest{Titles: []string{"Kettle", "Flat"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Request.Stages != 3 || started.Status != StatusRunning {
		t.Fatalf("started = %+v", started)
	}

	tracker, _ := runs.Progress().GetTracker(started.ID)
	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := runs.Wait(ctx, started.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if done.Status != StatusCompleted || done.Finished == nil || done.Report.Rosters != 1 {
		t.Fatalf("finished = %+v", done)
	}
	if snap := tracker.Snapshot(); snap.Progress != 100 || snap.Status != StatusCompleted {
		t.Fatalf("tracker = %+v", snap)
	}

	last := -1
	for len(updates) > 0 {
		u := <-updates
		if u.Progress < last {
			t.Fatalf("progress went back: %d after %d", u.Progress, last)
		}
		last = u.Progress
	}

	// a fresh service finds the run on disk
	reloaded, err := NewRunService(f.batch, nil, f.files, nil, f.logger).Get(started.ID)
	if err != nil || reloaded.Status != StatusCompleted {
		t.Fatalf("reloaded = %+v, %v", reloaded, err)
	}
	if len(runs.List()) != 1 {
		t.Fatalf("List = %v", runs.List())
	}

	if err := runs.Cancel("nope"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("cancel unknown err = %v", err)
	}
	if _, err := runs.Get("nope"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("get unknown err = %v", err)
	}
	if err := runs.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestProgressTracker(t *testing.T) {
	s := NewProgressService()
	tracker := s.CreateTracker("r1")
	if s.CreateTracker("r1") != tracker {
		t.Fatal("CreateTracker did not reuse the tracker")
	}

	sub := tracker.Subscribe()
	if first := <-sub; first.Status != StatusRunning || first.Progress != 0 {
		t.Fatalf("first update = %+v", first)
	}

	tracker.UpdateProgress(40, StageScreen, "screening")
	tracker.UpdateProgress(20, "", "older")
	if u := <-sub; u.Progress != 40 || u.Stage != StageScreen {
		t.Fatalf("update = %+v", u)
	}
	if u := <-sub; u.Progress != 40 || u.Message != "older" {
		t.Fatalf("progress moved back: %+v", u)
	}

	tracker.UpdateProgress(100, "", "")
	if u := <-sub; u.Progress != 99 {
		t.Fatalf("running tracker reached %d", u.Progress)
	}

	tracker.Cancel("")
	tracker.Complete("too late")
	<-tracker.Done
	if snap := tracker.Snapshot(); snap.Status != StatusCancelled {
		t.Fatalf("status = %+v", snap)
	}

	tracker.Unsubscribe(sub)
	tracker.Unsubscribe(sub)

	if removed := s.CleanupCompletedTasks(0); removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	if _, ok := s.GetTracker("r1"); ok {
		t.Fatal("tracker survived cleanup")
	}
}

func TestStageWeights(t *testing.T) {
	w := stageWeights(3)
	if w[StageScreen] != (span{0, 30}) || w["test3"] != (span{90, 100}) {
		t.Fatalf("weights = %v", w)
	}
	if w := stageWeights(1); w["test1"] != (span{70, 100}) {
		t.Fatalf("single stage weights = %v", w)
	}
}

func TestLockManagerSerializesWriters(t *testing.T) {
	lm := NewLockManager(time.Millisecond)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.ExecuteWithLock("test1", func() error {
				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("%d writers held the lock at once", maxSeen)
	}
}

func TestLockManagerCleanup(t *testing.T) {
	lm := NewLockManager(time.Millisecond)

	want := errors.New("boom")
	if err := lm.ExecuteWithReadLock("a", func() error { return want }); err != want {
		t.Errorf("ExecuteWithReadLock returned %v", err)
	}

	held := make(chan struct{})
	release := make(chan struct{})
	go lm.ExecuteWithLock("b", func() error {
		close(held)
		<-release
		return nil
	})
	<-held

	time.Sleep(5 * time.Millisecond)
	if removed := lm.Cleanup(); removed != 1 {
		t.Errorf("Cleanup removed %d, want only the idle lock", removed)
	}
	if lm.Len() != 1 {
		t.Errorf("Len = %d, want 1", lm.Len())
	}
	close(release)
}
