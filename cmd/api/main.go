package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/analysis"
	"github.com/doc-grader/backend/internal/api"
	"github.com/doc-grader/backend/internal/api/handlers"
	"github.com/doc-grader/backend/internal/cache/redis"
	"github.com/doc-grader/backend/internal/extraction"
	"github.com/doc-grader/backend/internal/grading"
	"github.com/doc-grader/backend/internal/llm"
	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/internal/middleware/ratelimit"
	"github.com/doc-grader/backend/internal/prompt"
	"github.com/doc-grader/backend/internal/storage/jsonfile"
	"github.com/doc-grader/backend/internal/vision"
	"github.com/doc-grader/backend/pkg/config"
	appLogger "github.com/doc-grader/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting document grading API server")

	if cfg.Metrics.Enabled {
		metrics.Init()
	}
	if cfg.Auth.Key == "" {
		appLogger.Warn("No auth key configured; every authenticated route will be rejected")
	}

	store, err := jsonfile.NewStore(cfg.Storage.RubricsFile)
	if err != nil {
		appLogger.Fatal("Failed to open rubric store", zap.Error(err))
	}
	report := store.LoadReport()
	appLogger.Info("Rubric store ready",
		zap.String("path", report.Path),
		zap.Int("loaded", report.Loaded),
		zap.Bool("reset", report.Reset),
	)

	var descriptionCache vision.DescriptionCache
	var cachePinger handlers.Pinger
	if cfg.Cache.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Cache.DescriptionTTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, image description cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			descriptionCache = redisClient
			cachePinger = redisClient
		}
	}

	primary := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		VisionModel: cfg.OpenAI.VisionModel,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     time.Duration(cfg.OpenAI.TimeoutSec) * time.Second,
	})

	secondary, err := llm.NewGeminiClient(
		context.Background(),
		cfg.Gemini.APIKey,
		cfg.Gemini.Model,
		time.Duration(cfg.Gemini.TimeoutSec)*time.Second,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Gemini client", zap.Error(err))
	}

	extractor := extraction.NewExtractor(extraction.Config{
		Pdftoppm:      cfg.Extraction.Pdftoppm,
		Tesseract:     cfg.Extraction.Tesseract,
		TesseractLang: cfg.Extraction.TesseractLang,
		DPI:           cfg.Extraction.DPI,
		TempDir:       cfg.Extraction.TempDir,
	}, nil)

	gradingPrompts := prompt.NewBuilder(prompt.Options{
		Language:          cfg.Prompt.Language,
		DocumentCharLimit: cfg.Grading.DocumentCharLimit,
		FallbackCharLimit: cfg.Grading.FallbackCharLimit,
	})
	analysisPrompts := prompt.NewBuilder(prompt.Options{
		Language:          cfg.Prompt.Language,
		DocumentCharLimit: cfg.Analysis.DocumentCharLimit,
	})

	describer := vision.NewDescriber(primary, secondary, gradingPrompts, descriptionCache, vision.DefaultMaxTokens)

	grader := grading.NewGrader(grading.Deps{
		Rubrics:   store,
		Text:      extractor,
		Images:    extractor.Rasterizer(),
		Describer: describer,
		Primary:   primary,
		Secondary: secondary,
		Prompts:   gradingPrompts,
	}, grading.Config{
		MaxImagePages:   cfg.Grading.MaxImagePages,
		MaxOutputTokens: cfg.Grading.MaxOutputTokens,
		FallbackScore:   cfg.Grading.FallbackScore,
	})

	analyzer := analysis.NewAnalyzer(extractor, extractor.Rasterizer(), describer, primary, secondary, analysisPrompts, analysis.Config{
		MaxOutputTokens: cfg.Analysis.MaxOutputTokens,
		MaxImagePages:   cfg.Analysis.MaxImagePages,
	})

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
			ExemptPaths:          []string{"/health", "/ready", cfg.Metrics.Path},
			Logger:               appLogger.GetLogger(),
		})
		defer limiter.Stop()
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	app := api.NewServer(api.Config{
		ReadTimeout:          time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:         time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:            cfg.Server.BodyLimit,
		MaxUploadSize:        int64(cfg.Server.BodyLimit),
		AllowedOrigins:       cfg.Server.AllowedOrigins,
		Development:          cfg.Server.Development,
		AuthHeader:           cfg.Auth.Header,
		AuthKey:              cfg.Auth.Key,
		ProtectImageAnalysis: cfg.Auth.ProtectImageAnalysis,
		RateLimiter:          limiter,
		MetricsPath:          metricsPath,
		Secrets:              []string{cfg.OpenAI.APIKey, cfg.Gemini.APIKey, cfg.Auth.Key},
		AccessLog:            true,
	}, api.Handlers{
		Documents: handlers.NewDocumentHandler(analyzer),
		Grading:   handlers.NewGradingHandler(grader),
		Rubrics:   handlers.NewRubricHandler(store),
		Health:    handlers.NewHealthHandler(store, cachePinger),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
