// Package grading runs the grading pipeline: rubric lookup, text extraction,
// bounded image description, the structured primary call and the free-text
// fallback on the secondary backend.
package grading

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/apperror"
	"github.com/doc-grader/backend/internal/extraction"
	"github.com/doc-grader/backend/internal/llm"
	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/internal/prompt"
	"github.com/doc-grader/backend/internal/storage/jsonfile"
	"github.com/doc-grader/backend/internal/storage/models"
	"github.com/doc-grader/backend/pkg/logger"
)

const (
	DefaultMaxImagePages   = 3
	DefaultMaxOutputTokens = 8000
	DefaultFallbackScore   = 75
)

type TextExtractor interface {
	Extract(ctx context.Context, content []byte, fileType extraction.FileType, useOCR bool) (string, error)
}

type ImageExtractor interface {
	Rasterize(ctx context.Context, content []byte, maxPages int) ([]extraction.PageImage, error)
}

type ImageDescriber interface {
	Describe(ctx context.Context, page extraction.PageImage) (string, error)
}

type RubricReader interface {
	Get(id string) (*models.Rubric, error)
}

type Config struct {
	MaxImagePages   int
	MaxOutputTokens int
	FallbackScore   float64
}

type Deps struct {
	Rubrics   RubricReader
	Text      TextExtractor
	Images    ImageExtractor
	Describer ImageDescriber
	Primary   llm.Backend
	Secondary llm.Backend
	Prompts   *prompt.Builder
}

type Grader struct {
	deps Deps
	cfg  Config
}

type Request struct {
	Filename string
	Content  []byte
	RubricID string
}

func NewGrader(deps Deps, cfg Config) *Grader {
	if cfg.MaxImagePages <= 0 {
		cfg.MaxImagePages = DefaultMaxImagePages
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if cfg.FallbackScore == 0 {
		cfg.FallbackScore = DefaultFallbackScore
	}
	return &Grader{deps: deps, cfg: cfg}
}

// Grade always returns a well-formed Result unless the upload is invalid, the
// rubric is missing, text extraction fails or both backends fail.
func (g *Grader) Grade(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	gradingID := uuid.New().String()
	log := logger.GetLogger().With(zap.String("grading_id", gradingID))

	log.Info("Grading request received",
		zap.String("filename", req.Filename),
		zap.Int("size_bytes", len(req.Content)),
		zap.String("rubric_id", req.RubricID),
	)

	fileType, err := extraction.DetectFileType(req.Filename)
	if err != nil {
		g.observe("error", start)
		return nil, apperror.Invalid("Unsupported file type.")
	}

	rubric, err := g.deps.Rubrics.Get(req.RubricID)
	if err != nil {
		g.observe("error", start)
		if errors.Is(err, jsonfile.ErrNotFound) {
			return nil, apperror.NotFound("Rubric not found")
		}
		return nil, apperror.New(apperror.KindInternal, "failed to load rubric", err)
	}
	log.Info("Using rubric", zap.String("name", rubric.Name), zap.Int("criteria", len(rubric.Criteria)))

	text, err := g.deps.Text.Extract(ctx, req.Content, fileType, false)
	if err != nil {
		g.observe("error", start)
		return nil, apperror.Processing("text extraction failed", err)
	}
	log.Info("Text extracted", zap.Int("text_length", len([]rune(text))))

	var images []prompt.ImageDescription
	if fileType == extraction.FileTypePDF {
		images = g.describeImages(ctx, log, req.Content)
	}

	userPrompt := g.deps.Prompts.Grading(text, rubric, images)
	log.Info("Grading prompt built",
		zap.Int("prompt_length", len([]rune(userPrompt))),
		zap.Int("image_descriptions", len(images)),
	)

	result, primaryErr := g.gradePrimary(ctx, userPrompt, len(images) > 0)
	if primaryErr == nil {
		g.observe("primary", start)
		log.Info("Grading completed",
			zap.String("path", "primary"),
			zap.Float64("score", result.Score),
			zap.Duration("elapsed", time.Since(start)),
		)
		return result, nil
	}

	log.Warn("Primary grading failed, falling back",
		zap.String("primary", g.deps.Primary.Name()),
		zap.String("secondary", g.deps.Secondary.Name()),
		zap.Error(primaryErr),
	)

	result, fallbackErr := g.gradeFallback(ctx, text, rubric)
	if fallbackErr != nil {
		g.observe("error", start)
		log.Error("Fallback grading failed", zap.Error(fallbackErr))
		return nil, apperror.Upstream("grading failed on both backends", errors.Join(primaryErr, fallbackErr))
	}

	g.observe("fallback", start)
	log.Info("Grading completed",
		zap.String("path", "fallback"),
		zap.Float64("score", result.Score),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// describeImages never fails the request. A rasterization error yields no
// images; a page that fails on both backends ends the stage and keeps the
// descriptions gathered so far.
func (g *Grader) describeImages(ctx context.Context, log *zap.Logger, content []byte) []prompt.ImageDescription {
	pages, err := g.deps.Images.Rasterize(ctx, content, g.cfg.MaxImagePages)
	if err != nil {
		log.Warn("Image extraction failed, grading without images", zap.Error(err))
		return nil
	}
	if len(pages) > g.cfg.MaxImagePages {
		pages = pages[:g.cfg.MaxImagePages]
	}

	descriptions := make([]prompt.ImageDescription, 0, len(pages))
	for i, page := range pages {
		desc, err := g.deps.Describer.Describe(ctx, page)
		if err != nil {
			log.Warn("Image description stage aborted",
				zap.Int("page", page.Page),
				zap.Int("described", len(descriptions)),
				zap.Error(err),
			)
			break
		}
		n := page.Page
		if n <= 0 {
			n = i + 1
		}
		descriptions = append(descriptions, prompt.ImageDescription{Page: n, Text: desc})
	}

	log.Info("Image analysis finished", zap.Int("pages", len(pages)), zap.Int("described", len(descriptions)))
	return descriptions
}

func (g *Grader) gradePrimary(ctx context.Context, userPrompt string, hadImages bool) (*Result, error) {
	resp, err := g.deps.Primary.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: g.deps.Prompts.GradingSystemPrompt(),
		UserPrompt:   userPrompt,
		MaxTokens:    g.cfg.MaxOutputTokens,
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}
	return parseResult(resp.Content, hadImages)
}

func (g *Grader) gradeFallback(ctx context.Context, text string, rubric *models.Rubric) (*Result, error) {
	resp, err := g.deps.Secondary.Complete(ctx, llm.CompletionRequest{
		UserPrompt: g.deps.Prompts.FallbackGrading(text, rubric),
		MaxTokens:  g.cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	return fallbackResult(resp.Content, g.deps.Secondary.Name(), g.cfg.FallbackScore), nil
}

func (g *Grader) observe(path string, start time.Time) {
	metrics.GradingTotal.WithLabelValues(path).Inc()
	metrics.GradingDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}
