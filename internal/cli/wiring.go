package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/assemble"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/batch"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/config"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/db"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/enhance"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/gen"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/llm"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/orchestrator"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/prompt"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/score"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/stage"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/web"
)

// Backend endpoints and credentials come from the environment so that keys
// never land in pipeline.yaml.
const (
	envGenURL      = "ADMINT_GEN_URL"
	envGenAPIKey   = "ADMINT_GEN_API_KEY"
	envScoreURL    = "ADMINT_SCORE_URL"
	envScoreAPIKey = "ADMINT_SCORE_API_KEY"
	envLLMURL      = "ADMINT_LLM_URL"
	envLLMAPIKey   = "ADMINT_LLM_API_KEY"
	envLLMModel    = "ADMINT_LLM_MODEL"
	envOutputDir   = "ADMINT_OUTPUT_DIR"
	envGenRPS      = "ADMINT_GEN_RPS"
	envLogLevel    = "ADMINT_LOG_LEVEL"
)

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv(envLogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openDB() (*db.DB, error) {
	dbPath, err := db.DefaultDBPath()
	if err != nil {
		return nil, fmt.Errorf("db path: %w", err)
	}
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}

// newOrchestrator wires the full execution stack from config and environment.
// The returned cleanup closes the database.
func newOrchestrator() (*orchestrator.Orchestrator, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid config: %s", errs[0])
	}

	genURL := os.Getenv(envGenURL)
	if genURL == "" {
		return nil, nil, fmt.Errorf("%s is required", envGenURL)
	}
	scoreURL := os.Getenv(envScoreURL)
	if scoreURL == "" {
		return nil, nil, fmt.Errorf("%s is required", envScoreURL)
	}
	llmKey := os.Getenv(envLLMAPIKey)
	if llmKey == "" {
		return nil, nil, fmt.Errorf("%s is required", envLLMAPIKey)
	}

	logger := newLogger()

	database, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { database.Close() }

	store, err := pipeline.DefaultStore()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("store: %w", err)
	}

	var genOpts []gen.HTTPBackendOption
	genOpts = append(genOpts, gen.WithLogger(logger))
	if v := os.Getenv(envGenRPS); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("parse %s: %w", envGenRPS, err)
		}
		genOpts = append(genOpts, gen.WithRateLimit(rps, int(rps)+1))
	}
	genBackend := gen.NewHTTPBackend(genURL, os.Getenv(envGenAPIKey), genOpts...)

	scoreBackend := score.NewHTTPBackend(scoreURL, os.Getenv(envScoreAPIKey), score.WithLogger(logger))

	// Final assembly scores across every known metric; each stage batch
	// builds its own scorer from the stage's configured metrics.
	finalScorer, err := score.ForMetrics(scoreBackend, nil)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	llmClient := llm.NewClient(
		envOr(envLLMURL, "https://api.openai.com/v1"),
		llmKey,
		envOr(envLLMModel, "gpt-4o-mini"),
		llm.WithLogger(logger),
	)

	enhancer := enhance.New(llmClient, logger)
	runner := batch.NewRunner(genBackend, scoreBackend, logger)
	controller := stage.NewController(enhancer, runner, store, database, cfg, prompt.DefaultOverrideDir(), logger)

	outDir := os.Getenv(envOutputDir)
	if outDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("get home directory: %w", err)
		}
		outDir = filepath.Join(home, ".admint", "output")
	}
	assembler := assemble.New(&assemble.FFmpegConcatenator{}, finalScorer, nil, outDir, logger)

	return orchestrator.New(store, database, controller, assembler, cfg, logger), cleanup, nil
}

// newServer wires the read-only status API. No backends needed.
func newServer(port int) (*web.Server, func(), error) {
	database, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	store, err := pipeline.DefaultStore()
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("store: %w", err)
	}
	return web.NewServer(store, database, port, newLogger()), func() { database.Close() }, nil
}
