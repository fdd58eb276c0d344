// internal/api/handlers.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/models"
	"github.com/Corphon/SceneBechdel/internal/screenplay"
	"github.com/Corphon/SceneBechdel/internal/services"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

// Handler serves the pipeline over HTTP.
type Handler struct {
	Batch    *services.BatchService
	Runs     *services.RunService
	Reports  *services.ReportService
	Progress *services.ProgressService
	Metrics  *utils.PipelineMetrics
	Response *ResponseHelper
	logger   *utils.Logger
}

func NewHandler(
	batch *services.BatchService,
	runs *services.RunService,
	reports *services.ReportService,
	metrics *utils.PipelineMetrics,
	logger *utils.Logger,
) *Handler {
	if metrics == nil {
		metrics = utils.NewPipelineMetrics()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Handler{
		Batch:    batch,
		Runs:     runs,
		Reports:  reports,
		Progress: runs.Progress(),
		Metrics:  metrics,
		Response: NewResponseHelper(),
		logger:   logger,
	}
}

// TagRequest carries a screenplay to tag.
type TagRequest struct {
	MovieID string `json:"movie_id"`
	Text    string `json:"text" binding:"required"`
}

// TagResponse is the tagged script with its format report.
type TagResponse struct {
	Script    *models.TaggedScript `json:"script"`
	Report    *screenplay.Report   `json:"report"`
	Usable    bool                 `json:"usable"`
	Reason    string               `json:"reason,omitempty"`
	TagCounts map[string]int       `json:"tag_counts"`
	Scenes    int                  `json:"scenes"`
	Roster    models.Roster        `json:"roster"`
}

// HealthCheck reports liveness and the number of active runs.
func (h *Handler) HealthCheck(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":      "ok",
		"runs_active": h.Metrics.Collector().GetGauge(utils.MetricRunsActive),
		"time":        time.Now().Format(time.RFC3339),
	})
}

// GetMetrics dumps the metrics collector.
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}

// CreateRun starts a batch run in the background.
func (h *Handler) CreateRun(c *gin.Context) {
	var req services.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid run request", err.Error())
		return
	}

	record, err := h.Runs.Start(req)
	if err != nil {
		h.Response.FromError(c, err, "")
		return
	}
	h.Response.Accepted(c, gin.H{
		"run_id": record.ID,
		"status": record.Status,
	}, "run started")
}

func (h *Handler) ListRuns(c *gin.Context) {
	h.Response.Success(c, h.Runs.List())
}

func (h *Handler) GetRun(c *gin.Context) {
	record, err := h.Runs.Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err, ErrorRunNotFound)
		return
	}
	h.Response.Success(c, record)
}

func (h *Handler) CancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.Runs.Cancel(id); err != nil {
		h.Response.FromError(c, err, ErrorRunNotFound)
		return
	}
	h.Response.Success(c, gin.H{"run_id": id}, "cancellation requested")
}

// SubscribeProgress streams a run's progress as server-sent events.
func (h *Handler) SubscribeProgress(c *gin.Context) {
	tracker, exists := h.Progress.GetTracker(c.Param("id"))
	if !exists {
		h.Response.NotFound(c, ErrorRunNotFound, fmt.Sprintf("run %s", c.Param("id")))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", data)
			c.Writer.Flush()
			if update.Status != services.StatusRunning {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// TagScript tags and validates a screenplay posted in the request body.
// A script that fails validation is still returned, flagged unusable.
func (h *Handler) TagScript(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid tag request", err.Error())
		return
	}
	if req.MovieID == "" {
		req.MovieID = "untitled"
	}

	script, report, err := h.Batch.TagText(req.MovieID, req.Text)
	if err != nil && !apperrors.IsExclusion(err) {
		h.Response.FromError(c, err, "")
		return
	}

	counts := make(map[string]int)
	for tag, n := range script.TagCounts() {
		counts[tag.String()] = n
	}
	resp := TagResponse{
		Script:    script,
		Report:    report,
		Usable:    err == nil,
		TagCounts: counts,
		Scenes:    len(screenplay.Segment(script)),
		Roster:    screenplay.ScriptRoster(script, screenplay.DefaultRosterSize),
	}
	if err != nil {
		resp.Reason = string(apperrors.TypeOf(err))
	}
	h.Response.Success(c, resp)
}

// ListMovies returns the screened titles and those with a stored roster.
func (h *Handler) ListMovies(c *gin.Context) {
	ctx := c.Request.Context()
	parseable, err := h.Batch.Store().LoadParseable(ctx)
	if err != nil && !apperrors.IsNotFoundError(err) {
		h.Response.FromError(c, err, "")
		return
	}
	rosters, err := h.Batch.Store().RosterMovies(ctx)
	if err != nil {
		h.Response.FromError(c, err, "")
		return
	}
	if parseable == nil {
		parseable = []string{}
	}
	h.Response.Success(c, gin.H{
		"parseable": parseable,
		"rosters":   rosters,
	})
}

func (h *Handler) GetRoster(c *gin.Context) {
	entries, err := h.Batch.Store().LoadRoster(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err, ErrorRosterNotFound)
		return
	}
	h.Response.Success(c, gin.H{
		"movie_id": c.Param("id"),
		"roster":   entries,
	})
}

// EvaluateMovie runs the whole pipeline for one title without storing it.
func (h *Handler) EvaluateMovie(c *gin.Context) {
	outcome, err := h.Batch.EvaluateMovie(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err, "")
		return
	}
	h.Response.Success(c, outcome)
}

func (h *Handler) parseTest(c *gin.Context) (int, bool) {
	test, err := strconv.Atoi(c.Param("test"))
	if err != nil || test < models.TestOne || test > models.TestThree {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidTest,
			fmt.Sprintf("test must be 1, 2 or 3, got %q", c.Param("test")))
		return 0, false
	}
	return test, true
}

func (h *Handler) GetResults(c *gin.Context) {
	test, ok := h.parseTest(c)
	if !ok {
		return
	}
	results, err := h.Batch.Store().LoadResults(c.Request.Context(), test)
	if err != nil {
		h.Response.FromError(c, err, "")
		return
	}
	h.Response.Success(c, gin.H{
		"test":    test,
		"results": results,
	})
}

func (h *Handler) GetAccuracy(c *gin.Context) {
	test, ok := h.parseTest(c)
	if !ok {
		return
	}
	report, err := h.Reports.Evaluate(c.Request.Context(), test)
	if err != nil {
		h.Response.FromError(c, err, ErrorNoGroundTruth)
		return
	}
	h.Response.Success(c, report)
}

// GetAllAccuracy scores every test that has stored results.
func (h *Handler) GetAllAccuracy(c *gin.Context) {
	reports, err := h.Reports.EvaluateAll(c.Request.Context())
	if err != nil {
		h.Response.FromError(c, err, ErrorNoGroundTruth)
		return
	}
	h.Response.Success(c, gin.H{
		"rule":    h.Reports.Rule(),
		"reports": reports,
	})
}
