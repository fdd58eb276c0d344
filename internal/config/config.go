// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// Singleton holding the active configuration.
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
)

// Config holds the process-level settings read from the environment.
type Config struct {
	Port            string
	DataDir         string
	LogDir          string
	ScriptDir       string
	PipelineFile    string
	StoreBackend    string // "file" or "sqlite"
	RedisAddr       string
	LookupBaseURL   string
	LookupEnabled   bool
	ScriptBaseURL   string
	ModelPath       string
	CorpusDir       string
	GroundTruthFile string
	DebugMode       bool
}

// AppConfig is the full configuration: environment plus pipeline tuning.
type AppConfig struct {
	*Config
	Pipeline Pipeline
}

// Load reads the environment, loading a .env file first when present.
func Load() (*Config, error) {
	// .env is optional
	godotenv.Load()

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		DataDir:         getEnvPath("DATA_DIR", "data"),
		LogDir:          getEnvPath("LOG_DIR", "logs"),
		ScriptDir:       getEnv("SCRIPT_DIR", filepath.Join("data", "scripts")),
		PipelineFile:    getEnv("PIPELINE_CONFIG", "pipeline.toml"),
		StoreBackend:    getEnv("STORE_BACKEND", "file"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		LookupBaseURL:   getEnv("LOOKUP_BASE_URL", "http://www.bing.com"),
		LookupEnabled:   getEnvBool("LOOKUP_ENABLED", true),
		ScriptBaseURL:   getEnv("SCRIPT_BASE_URL", ""),
		ModelPath:       getEnv("MODEL_PATH", filepath.Join("data", "names.model")),
		CorpusDir:       getEnv("CORPUS_DIR", ""),
		GroundTruthFile: getEnv("GROUND_TRUTH_FILE", filepath.Join("data", "Bechdel_Data")),
		DebugMode:       getEnvBool("DEBUG_MODE", false),
	}

	if config.StoreBackend != "file" && config.StoreBackend != "sqlite" {
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (want file or sqlite)", config.StoreBackend)
	}

	if !config.LookupEnabled {
		log.Println("performer lookups disabled, genders come from the name model only")
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath reads a directory path and makes sure it exists.
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("warning: could not create directory %s: %v\n", path, err)
		}
	}

	return path
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// InitConfig loads the environment and the pipeline file and installs the
// result as the current configuration.
func InitConfig() (*AppConfig, error) {
	base, err := Load()
	if err != nil {
		return nil, err
	}

	pipeline, err := LoadPipeline(base.PipelineFile)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{Config: base, Pipeline: pipeline}

	configMutex.Lock()
	currentConfig = cfg
	configMutex.Unlock()

	return cfg, nil
}

// GetCurrentConfig returns a copy of the active configuration, falling back
// to environment defaults when InitConfig has not run.
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		base, err := Load()
		if err != nil {
			base = &Config{Port: "8080", DataDir: "data", LogDir: "logs", StoreBackend: "file"}
		}
		return &AppConfig{Config: base, Pipeline: DefaultPipeline()}
	}

	baseCopy := *currentConfig.Config
	return &AppConfig{Config: &baseCopy, Pipeline: currentConfig.Pipeline}
}
