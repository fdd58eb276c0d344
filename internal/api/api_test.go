package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/SceneBechdel/internal/accuracy"
	"github.com/Corphon/SceneBechdel/internal/di"
	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/gender"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/screenplay"
	"github.com/Corphon/SceneBechdel/internal/services"
	"github.com/Corphon/SceneBechdel/internal/sources"
	"github.com/Corphon/SceneBechdel/internal/storage"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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

func castLookup() gender.PerformerLookup {
	return gender.LookupFunc(func(ctx context.Context, movie, character string) (gender.PerformerInfo, error) {
		switch character {
		case "ANN", "MARY", "LIZ":
			return gender.PerformerInfo{Subtitle: gender.Text("Actress")}, nil
		}
		return gender.PerformerInfo{Subtitle: gender.Text("Actor")}, nil
	})
}

func screenplayText(speakers []string, dialogue string) string {
	pad := func(n int, s string) string { return strings.Repeat(" ", n) + s }

	var lines []string
	for i := 0; i < 12; i++ {
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
	}
	return strings.Join(lines, "\n")
}

var corpus = map[string]string{
	"Kettle":    screenplayText([]string{"ANN", "MARY"}, "Did you hear the kettle?"),
	"Apart":     screenplayText([]string{"ANN", "BOB", "MARY"}, "Did you hear the kettle?"),
	"About Him": screenplayText([]string{"LIZ", "MARY"}, "Where did he go?"),
	"Flat":      "INT. ROOM\nAction.\n          Hello.\nMore action.\n",
}

type testServer struct {
	handler *Handler
	router  *gin.Engine
	manager *WebSocketManager
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
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
	batch := services.NewBatchService(
		scripts, store,
		screenplay.NewTagger(screenplay.DefaultLevels),
		screenplay.NewValidator(screenplay.DefaultValidatorOptions()),
		resolver,
		services.BatchOptions{MovieWorkers: 2},
		metrics, logger,
	)
	runs := services.NewRunService(batch, nil, store.Storage(), metrics, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runs.Shutdown(ctx)
	})
	ranks := accuracy.RankMap{"Kettle": 3, "Apart": 1, "About Him": 3}
	reports := services.NewReportService(store, ranks, accuracy.RuleAtLeastStage)

	handler := NewHandler(batch, runs, reports, metrics, logger)
	manager := NewWebSocketManager(logger)
	return &testServer{
		handler: handler,
		router:  NewRouter(handler, manager, opts),
		manager: manager,
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
}

// runToCompletion submits a run and waits for it.
func (s *testServer) runToCompletion(t *testing.T, titles []string) string {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/runs", services.RunRequest{Titles: titles})
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/runs = %d %s", w.Code, w.Body.String())
	}
	var started struct {
		RunID string `json:"run_id"`
	}
	decode(t, env.Data, &started)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	record, err := s.handler.Runs.Wait(ctx, started.RunID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if record.Status != services.StatusCompleted {
		t.Fatalf("run status = %s (%s)", record.Status, record.Error)
	}
	return started.RunID
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	w, env := s.do(t, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
	if env.RequestID == "" || w.Header().Get(requestIDHeader) != env.RequestID {
		t.Errorf("request id %q not echoed in header %q", env.RequestID, w.Header().Get(requestIDHeader))
	}
}

func TestTagScript(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	w, env := s.do(t, http.MethodPost, "/api/tag", TagRequest{MovieID: "Kettle", Text: corpus["Kettle"]})
	if w.Code != http.StatusOK {
		t.Fatalf("tag = %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Usable    bool               `json:"usable"`
		Scenes    int                `json:"scenes"`
		TagCounts map[string]int     `json:"tag_counts"`
		Roster    []models.Character `json:"roster"`
		Report    screenplay.Report  `json:"report"`
	}
	decode(t, env.Data, &resp)

	if !resp.Usable {
		t.Fatalf("Kettle should be usable: %+v", resp.Report)
	}
	if resp.Scenes < 12 {
		t.Errorf("scenes = %d, want at least 12", resp.Scenes)
	}
	if len(resp.Roster) != 2 {
		t.Errorf("roster = %+v", resp.Roster)
	}
	if resp.TagCounts[models.TagCharacterCue.String()] != 24 {
		t.Errorf("character cues = %d, want 24", resp.TagCounts[models.TagCharacterCue.String()])
	}
}

func TestTagScriptUnusable(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	w, env := s.do(t, http.MethodPost, "/api/tag", TagRequest{Text: corpus["Flat"]})
	if w.Code != http.StatusOK {
		t.Fatalf("tag = %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Usable bool   `json:"usable"`
		Reason string `json:"reason"`
	}
	decode(t, env.Data, &resp)

	if resp.Usable || resp.Reason != "format_unusable" {
		t.Errorf("usable=%v reason=%q, want false format_unusable", resp.Usable, resp.Reason)
	}
}

func TestTagScriptBadRequest(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	w, env := s.do(t, http.MethodPost, "/api/tag", map[string]string{"movie_id": "x"})
	if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != ErrorBadRequest {
		t.Fatalf("missing text = %d %s", w.Code, w.Body.String())
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	id := s.runToCompletion(t, []string{"Kettle", "Apart", "About Him", "Flat", "Missing"})

	w, env := s.do(t, http.MethodGet, "/api/runs/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET run = %d", w.Code)
	}
	var record services.RunRecord
	decode(t, env.Data, &record)
	if record.Report == nil || len(record.Report.Parseable) != 3 {
		t.Fatalf("report = %+v", record.Report)
	}
	if len(record.Report.Excluded) != 2 {
		t.Errorf("excluded = %+v, want Flat and Missing", record.Report.Excluded)
	}

	_, env = s.do(t, http.MethodGet, "/api/runs", nil)
	var list []services.RunRecord
	decode(t, env.Data, &list)
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("list = %+v", list)
	}

	w, env = s.do(t, http.MethodGet, "/api/results/2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("results = %d", w.Code)
	}
	var results struct {
		Results []models.TestResult `json:"results"`
	}
	decode(t, env.Data, &results)
	pass := map[string]bool{}
	for _, r := range results.Results {
		pass[r.MovieID] = r.Pass
	}
	if len(pass) != 3 || !pass["Kettle"] || pass["Apart"] || !pass["About Him"] {
		t.Errorf("test 2 results = %v", pass)
	}

	w, env = s.do(t, http.MethodGet, "/api/accuracy/3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accuracy = %d %s", w.Code, w.Body.String())
	}
	var report accuracy.Report
	decode(t, env.Data, &report)
	if report.Total != 2 || report.Accuracy != 0.5 || report.FalseNegatives != 1 {
		t.Errorf("accuracy report = %+v", report)
	}

	w, env = s.do(t, http.MethodGet, "/api/movies/Kettle/roster", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("roster = %d", w.Code)
	}
	var roster struct {
		Roster []models.RosterEntry `json:"roster"`
	}
	decode(t, env.Data, &roster)
	for _, e := range roster.Roster {
		if e.Gender != models.GenderFemale {
			t.Errorf("%s labelled %s", e.Name, e.Gender)
		}
	}

	_, env = s.do(t, http.MethodGet, "/api/movies", nil)
	var movies struct {
		Parseable []string `json:"parseable"`
		Rosters   []string `json:"rosters"`
	}
	decode(t, env.Data, &movies)
	if len(movies.Parseable) != 3 || len(movies.Rosters) != 3 {
		t.Errorf("movies = %+v", movies)
	}
}

func TestRunValidation(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	w, env := s.do(t, http.MethodPost, "/api/runs", services.RunRequest{Titles: []string{" "}})
	if w.Code != http.StatusBadRequest || env.Error.Code != ErrorBadRequest {
		t.Errorf("empty titles = %d %s", w.Code, w.Body.String())
	}

	w, _ = s.do(t, http.MethodPost, "/api/runs", services.RunRequest{Titles: []string{"Kettle"}, Stages: 4})
	if w.Code != http.StatusBadRequest {
		t.Errorf("stages 4 = %d", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	tests := []struct {
		method, path string
		status       int
		code         string
	}{
		{http.MethodGet, "/api/runs/nope", http.StatusNotFound, ErrorRunNotFound},
		{http.MethodPost, "/api/runs/nope/cancel", http.StatusNotFound, ErrorRunNotFound},
		{http.MethodGet, "/api/runs/nope/progress", http.StatusNotFound, ErrorRunNotFound},
		{http.MethodGet, "/api/movies/Nobody/roster", http.StatusNotFound, ErrorRosterNotFound},
		{http.MethodGet, "/api/results/4", http.StatusBadRequest, ErrorInvalidTest},
		{http.MethodGet, "/api/accuracy/one", http.StatusBadRequest, ErrorInvalidTest},
	}
	for _, tt := range tests {
		w, env := s.do(t, tt.method, tt.path, nil)
		if w.Code != tt.status || env.Error == nil || env.Error.Code != tt.code {
			t.Errorf("%s %s = %d %s, want %d %s", tt.method, tt.path, w.Code, w.Body.String(), tt.status, tt.code)
		}
	}
}

func TestEvaluateMovie(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	w, env := s.do(t, http.MethodGet, "/api/movies/About%20Him/evaluate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("evaluate = %d %s", w.Code, w.Body.String())
	}
	var outcome models.MovieOutcome
	decode(t, env.Data, &outcome)
	if pass, ok := outcome.Result(3); !ok || pass {
		t.Errorf("About Him test 3 = %v,%v, want evaluated and failed", pass, ok)
	}

	_, env = s.do(t, http.MethodGet, "/api/movies/Missing/evaluate", nil)
	decode(t, env.Data, &outcome)
	if !outcome.Excluded || outcome.Reason != "script_not_available" {
		t.Errorf("Missing outcome = %+v", outcome)
	}
}

func TestAccuracyWithoutResults(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	w, env := s.do(t, http.MethodGet, "/api/accuracy", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accuracy = %d", w.Code)
	}
	var all struct {
		Rule    string            `json:"rule"`
		Reports []accuracy.Report `json:"reports"`
	}
	decode(t, env.Data, &all)
	if all.Rule != string(accuracy.RuleAtLeastStage) || len(all.Reports) != 0 {
		t.Errorf("accuracy = %+v", all)
	}
}

func TestMetricsRecordRequests(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.do(t, http.MethodGet, "/api/health", nil)
	s.do(t, http.MethodGet, "/api/health", nil)

	if got := s.handler.Metrics.Collector().GetCounterValue(utils.MetricAPIRequests); got != 2 {
		t.Errorf("api requests = %d, want 2", got)
	}
	w, _ := s.do(t, http.MethodGet, "/api/metrics", nil)
	if w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/api/runs", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin header")
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		if ok, _, _ := rl.Allow("a"); ok != want {
			t.Errorf("request %d allowed = %v, want %v", i, ok, want)
		}
	}
	if ok, _, _ := rl.Allow("b"); !ok {
		t.Error("other clients have their own window")
	}

	now = now.Add(2 * time.Minute)
	if removed := rl.Cleanup(); removed != 2 {
		t.Errorf("Cleanup removed %d, want 2", removed)
	}
	if ok, remaining, _ := rl.Allow("a"); !ok || remaining != 1 {
		t.Errorf("new window: allowed=%v remaining=%d", ok, remaining)
	}
}

func TestRateLimitedRoute(t *testing.T) {
	s := newTestServer(t, RouterOptions{RunLimit: 1})
	body := TagRequest{Text: corpus["Flat"]}

	if w, _ := s.do(t, http.MethodPost, "/api/tag", body); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w, env := s.do(t, http.MethodPost, "/api/tag", body)
	if w.Code != http.StatusTooManyRequests || env.Error == nil || env.Error.Code != ErrorRateLimited {
		t.Errorf("second = %d %s", w.Code, w.Body.String())
	}
	if w, _ := s.do(t, http.MethodGet, "/api/health", nil); w.Code != http.StatusOK {
		t.Errorf("unlimited route = %d", w.Code)
	}
}

func TestRunWebSocket(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	record, err := s.handler.Runs.Start(services.RunRequest{Titles: []string{"Kettle", "Apart"}, Stages: 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs/" + record.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	var last WebSocketMessage
	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if msg.RunID != record.ID {
			t.Errorf("run id = %q", msg.RunID)
		}
		if msg.Type != "progress" {
			last = msg
			break
		}
	}

	if last.Type != "finished" || last.Run == nil {
		t.Fatalf("final message = %+v", last)
	}
	if last.Run.Status != services.StatusCompleted || len(last.Run.Report.Results[2]) != 2 {
		t.Errorf("final run = %+v", last.Run)
	}

	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}

func TestRunWebSocketUnknownRun(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial should fail for an unknown run")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %+v", resp)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{apperrors.NewValidationError("bad", nil), http.StatusBadRequest},
		{apperrors.NewFormatUnusableError("flat"), http.StatusUnprocessableEntity},
		{apperrors.NewScriptNotAvailableError("Missing", nil), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", apperrors.NewNotFoundError("x", nil)), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if status, _ := statusFor(tt.err); status != tt.status {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, status, tt.status)
		}
	}
}

func TestSetupRouterNeedsServices(t *testing.T) {
	if _, _, err := SetupRouter(di.NewContainer(), RouterOptions{}); err == nil {
		t.Fatal("SetupRouter should fail on an empty container")
	}
}
