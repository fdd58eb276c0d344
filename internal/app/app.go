// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/SceneBechdel/internal/accuracy"
	"github.com/Corphon/SceneBechdel/internal/api"
	"github.com/Corphon/SceneBechdel/internal/config"
	"github.com/Corphon/SceneBechdel/internal/di"
	apperrors "github.com/Corphon/SceneBechdel/internal/errors"
	"github.com/Corphon/SceneBechdel/internal/gender"
	"github.com/Corphon/SceneBechdel/internal/services"
	"github.com/Corphon/SceneBechdel/internal/sources"
	"github.com/Corphon/SceneBechdel/internal/storage"
	"github.com/Corphon/SceneBechdel/internal/utils"
)

const (
	lookupCacheSize  = 10000
	progressMaxAge   = time.Hour
	progressSweep    = 10 * time.Minute
	shutdownDeadline = 30 * time.Second
)

// Server is the part of *http.Server the app drives.
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App owns the configuration, the HTTP server and the services behind it.
type App struct {
	config   *config.AppConfig
	server   Server
	router   http.Handler
	services *Services
	ws       *api.WebSocketManager
	stopChan chan os.Signal
}

var (
	instance *App
	mu       sync.Mutex
)

// GetApp returns the process-wide app.
func GetApp() *App {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		instance = &App{stopChan: make(chan os.Signal, 1)}
	}
	return instance
}

// Services is the wired pipeline.
type Services struct {
	Metrics    *utils.PipelineMetrics
	Logger     *utils.Logger
	Store      storage.Store
	Files      *storage.FileStorage
	Scripts    sources.ScriptProvider
	Model      *gender.Model
	Classifier *gender.Classifier
	Resolver   *gender.Resolver
	Batch      *services.BatchService
	Progress   *services.ProgressService
	Runs       *services.RunService
	Reports    *services.ReportService

	redis *gender.RedisCache
}

// BuildServices wires storage, sources, the gender chain and the services
// from cfg.
func BuildServices(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Services, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	s := &Services{
		Logger:  logger,
		Metrics: utils.NewPipelineMetricsWith(utils.GetMetricsCollector(), logger),
	}

	store, err := storage.Open(cfg.StoreBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	s.Store = store

	s.Files, err = storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Scripts = scriptProvider(cfg, logger)

	s.Model, err = gender.LoadOrTrain(cfg.ModelPath, cfg.CorpusDir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load name model: %w", err)
	}

	lookup, err := s.performerLookup(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	g := cfg.Pipeline.Gender
	s.Classifier = gender.NewClassifier(s.Model, lookup)
	s.Resolver = gender.NewResolver(
		s.Classifier,
		gender.ResolverOptions{
			Workers: g.Workers,
			Retries: g.Retries,
			Backoff: g.Backoff(),
			Timeout: g.Timeout(),
		},
		s.Metrics,
		logger,
	)

	s.Batch = services.NewBatchServiceFromConfig(cfg.Pipeline, s.Scripts, s.Store, s.Resolver, s.Metrics, logger)
	s.Progress = services.NewProgressService()
	s.Runs = services.NewRunService(s.Batch, s.Progress, s.Files, s.Metrics, logger)

	rule, err := accuracy.ParseStageOneRule(cfg.Pipeline.Accuracy.StageOneRule)
	if err != nil {
		s.Close()
		return nil, err
	}
	ranks, err := loadRanks(cfg.GroundTruthFile, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Reports = services.NewReportService(s.Store, ranks, rule)

	return s, nil
}

func scriptProvider(cfg *config.AppConfig, logger *utils.Logger) sources.ScriptProvider {
	local := sources.NewDirScriptProvider(cfg.ScriptDir)
	if cfg.ScriptBaseURL == "" {
		return local
	}
	remote := sources.NewIMSDBProvider(cfg.ScriptBaseURL, cfg.Pipeline.Gender.Timeout())
	return sources.NewMirrorProvider(local, remote, logger)
}

// performerLookup returns nil when lookups are disabled, leaving the name
// model to label every character.
func (s *Services) performerLookup(ctx context.Context, cfg *config.AppConfig) (gender.PerformerLookup, error) {
	if !cfg.LookupEnabled {
		return nil, nil
	}
	g := cfg.Pipeline.Gender
	search := gender.NewSearchLookup(cfg.LookupBaseURL, g.Timeout())

	var cache gender.LookupCache
	if cfg.RedisAddr != "" {
		redisCache, err := gender.ConnectRedis(ctx, cfg.RedisAddr, g.TTL())
		if err != nil {
			return nil, err
		}
		s.redis = redisCache
		cache = redisCache
	} else {
		cache = gender.NewMemoryCache(lookupCacheSize, g.TTL())
	}
	return gender.NewCachedLookup(search, cache, s.Metrics, s.Logger), nil
}

// loadRanks returns a nil source when the ground truth file is absent.
func loadRanks(path string, logger *utils.Logger) (accuracy.RankSource, error) {
	if path == "" {
		return nil, nil
	}
	ranks, err := sources.LoadRankFile(path)
	if apperrors.IsNotFoundError(err) {
		logger.Warn("ground truth not found, accuracy reports disabled", map[string]interface{}{
			"path": path,
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("ground truth loaded", map[string]interface{}{
		"path":   path,
		"movies": ranks.Len(),
	})
	return ranks, nil
}

// Register puts every service into container under its well-known name.
func (s *Services) Register(container *di.Container) {
	container.Register("logger", s.Logger)
	container.Register("metrics", s.Metrics)
	container.Register("store", s.Store)
	container.Register("files", s.Files)
	container.Register("scripts", s.Scripts)
	container.Register("resolver", s.Resolver)
	container.Register("batch", s.Batch)
	container.Register("progress", s.Progress)
	container.Register("runs", s.Runs)
	container.Register("reports", s.Reports)
}

// Close releases the store and the Redis connection.
func (s *Services) Close() error {
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

// InitServices builds the services from the current configuration and
// registers them in the global container.
func InitServices() error {
	a := GetApp()
	if a.config == nil {
		a.config = config.GetCurrentConfig()
	}
	s, err := BuildServices(context.Background(), a.config, utils.GetLogger())
	if err != nil {
		return err
	}
	a.services = s
	s.Register(di.GetContainer())
	return nil
}

func initLogger(logDir string) error {
	name := fmt.Sprintf("bechdel-%s.log", time.Now().Format("2006-01-02"))
	return utils.InitLogger(filepath.Join(logDir, name))
}

// Initialize loads the configuration, wires the services and builds the
// HTTP server.
func Initialize() error {
	cfg, err := config.InitConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	a := GetApp()
	a.config = cfg

	if err := initLogger(cfg.LogDir); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if cfg.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	router, ws, err := api.SetupRouter(di.GetContainer(), api.RouterOptions{
		DebugMode: cfg.DebugMode,
		RunLimit:  cfg.Pipeline.Batch.RequestsPerMinute,
	})
	if err != nil {
		return fmt.Errorf("set up router: %w", err)
	}
	a.router = router
	a.ws = ws
	a.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	return nil
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
func Run() error {
	a := GetApp()
	if a.server == nil {
		return fmt.Errorf("app not initialized")
	}

	logger := utils.GetLogger()
	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sweep := time.NewTicker(progressSweep)
	defer sweep.Stop()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(a.stopChan)

	if a.config != nil {
		logger.Info("server listening", map[string]interface{}{"port": a.config.Port})
	}

	for {
		select {
		case err := <-serveErr:
			a.cleanup()
			return err
		case <-sweep.C:
			if a.services != nil {
				a.services.Progress.CleanupCompletedTasks(progressMaxAge)
				a.services.Batch.Locks().Cleanup()
			}
		case <-a.stopChan:
			logger.Info("shutting down", nil)
			ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
			defer cancel()

			if a.ws != nil {
				a.ws.CloseAll()
			}
			err := a.server.Shutdown(ctx)
			a.cleanup()
			return err
		}
	}
}

// cleanup stops running batch runs and closes the store.
func (a *App) cleanup() {
	if a.services == nil {
		return
	}
	logger := utils.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := a.services.Runs.Shutdown(ctx); err != nil {
		logger.Warn("runs did not stop in time", map[string]interface{}{"error": err.Error()})
	}
	if err := a.services.Close(); err != nil {
		logger.Warn("failed to close services", map[string]interface{}{"error": err.Error()})
	}
}

func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// GetDIContainer returns the global container.
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

func IsDebugMode() bool {
	mu.Lock()
	a := instance
	mu.Unlock()
	return a != nil && a.config != nil && a.config.Config != nil && a.config.DebugMode
}
