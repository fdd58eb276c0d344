// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/SceneBechdel/internal/di"
	"github.com/Corphon/SceneBechdel/internal/services"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

// RouterOptions tunes the HTTP surface.
type RouterOptions struct {
	DebugMode bool
	// RunLimit caps run submissions and tag requests per client per minute.
	// Zero disables limiting.
	RunLimit int
}

// SetupRouter builds the engine from the services registered in container.
func SetupRouter(container *di.Container, opts RouterOptions) (*gin.Engine, *WebSocketManager, error) {
	batch, err := di.Resolve[*services.BatchService](container, "batch")
	if err != nil {
		return nil, nil, err
	}
	runs, err := di.Resolve[*services.RunService](container, "runs")
	if err != nil {
		return nil, nil, err
	}
	reports, err := di.Resolve[*services.ReportService](container, "reports")
	if err != nil {
		return nil, nil, err
	}
	metrics, _ := container.GetTyped("metrics", utils.NewPipelineMetrics()).(*utils.PipelineMetrics)
	logger, _ := container.GetTyped("logger", utils.GetLogger()).(*utils.Logger)

	handler := NewHandler(batch, runs, reports, metrics, logger)
	manager := NewWebSocketManager(logger)
	container.Register("websocket", manager)

	return NewRouter(handler, manager, opts), manager, nil
}

// NewRouter wires the routes onto a fresh engine.
func NewRouter(handler *Handler, manager *WebSocketManager, opts RouterOptions) *gin.Engine {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if opts.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(requestIDMiddleware())
	r.Use(corsMiddleware())
	r.Use(metricsMiddleware(handler.Metrics))

	limited := func(c *gin.Context) { c.Next() }
	if opts.RunLimit > 0 {
		limited = NewRateLimiter(opts.RunLimit, time.Minute).Middleware(handler.Response)
	}

	r.GET("/ws/runs/:id", handler.RunWebSocket(manager))

	api := r.Group("/api")
	{
		api.GET("/health", handler.HealthCheck)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.WebSocketStatus(manager))

		runs := api.Group("/runs")
		{
			runs.POST("", limited, handler.CreateRun)
			runs.GET("", handler.ListRuns)
			runs.GET("/:id", handler.GetRun)
			runs.GET("/:id/progress", handler.SubscribeProgress)
			runs.POST("/:id/cancel", handler.CancelRun)
		}

		api.POST("/tag", limited, handler.TagScript)

		movies := api.Group("/movies")
		{
			movies.GET("", handler.ListMovies)
			movies.GET("/:id/roster", handler.GetRoster)
			movies.GET("/:id/evaluate", limited, handler.EvaluateMovie)
		}

		api.GET("/results/:test", handler.GetResults)
		api.GET("/accuracy", handler.GetAllAccuracy)
		api.GET("/accuracy/:test", handler.GetAccuracy)
	}

	return r
}
