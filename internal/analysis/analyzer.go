package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/apperror"
	"github.com/doc-grader/backend/internal/extraction"
	"github.com/doc-grader/backend/internal/llm"
	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/internal/prompt"
	"github.com/doc-grader/backend/pkg/logger"
)

const DefaultMaxOutputTokens = 2000

type TextExtractor interface {
	Extract(ctx context.Context, content []byte, fileType extraction.FileType, useOCR bool) (string, error)
}

type ImageExtractor interface {
	Rasterize(ctx context.Context, content []byte, maxPages int) ([]extraction.PageImage, error)
}

type ImageDescriber interface {
	Describe(ctx context.Context, page extraction.PageImage) (string, error)
}

type Config struct {
	MaxOutputTokens int
	// MaxImagePages caps DescribeImages; 0 describes every page.
	MaxImagePages int
}

type Analyzer struct {
	text      TextExtractor
	images    ImageExtractor
	describer ImageDescriber
	primary   llm.Backend
	secondary llm.Backend
	prompts   *prompt.Builder
	cfg       Config
}

type DocumentAnalysis struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
	Analysis string `json:"analysis"`
}

type ImageAnalysis struct {
	Filename     string   `json:"filename"`
	Descriptions []string `json:"descriptions"`
}

func NewAnalyzer(text TextExtractor, images ImageExtractor, describer ImageDescriber, primary, secondary llm.Backend, prompts *prompt.Builder, cfg Config) *Analyzer {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return &Analyzer{
		text:      text,
		images:    images,
		describer: describer,
		primary:   primary,
		secondary: secondary,
		prompts:   prompts,
		cfg:       cfg,
	}
}

func (a *Analyzer) Analyze(ctx context.Context, filename string, content []byte, useOCR bool) (*DocumentAnalysis, error) {
	startTime := time.Now()
	analysisID := uuid.New().String()

	logger.Info("Analyzing document",
		zap.String("analysis_id", analysisID),
		zap.String("filename", filename),
		zap.Bool("use_ocr", useOCR),
	)

	fileType, err := extraction.DetectFileType(filename)
	if err != nil {
		metrics.AnalysisTotal.WithLabelValues("error").Inc()
		return nil, apperror.Invalid("Unsupported file type.")
	}

	text, err := a.text.Extract(ctx, content, fileType, useOCR)
	if err != nil {
		metrics.AnalysisTotal.WithLabelValues("error").Inc()
		return nil, apperror.Processing("text extraction failed", err)
	}

	req := llm.CompletionRequest{
		SystemPrompt: a.prompts.AnalysisSystemPrompt(),
		UserPrompt:   a.prompts.Analysis(text),
		MaxTokens:    a.cfg.MaxOutputTokens,
	}

	path := "primary"
	resp, primaryErr := a.primary.Complete(ctx, req)
	if primaryErr != nil {
		logger.Warn("Primary analysis failed, falling back",
			zap.String("analysis_id", analysisID),
			zap.String("secondary", a.secondary.Name()),
			zap.Error(primaryErr),
		)

		var fallbackErr error
		path = "fallback"
		resp, fallbackErr = a.secondary.Complete(ctx, req)
		if fallbackErr != nil {
			metrics.AnalysisTotal.WithLabelValues("error").Inc()
			return nil, apperror.Upstream("analysis failed on both backends", errors.Join(primaryErr, fallbackErr))
		}
	}

	metrics.AnalysisTotal.WithLabelValues(path).Inc()
	logger.Info("Document analyzed",
		zap.String("analysis_id", analysisID),
		zap.String("path", path),
		zap.Int("text_length", len([]rune(text))),
		zap.Duration("elapsed", time.Since(startTime)),
	)

	return &DocumentAnalysis{
		Filename: filename,
		Text:     text,
		Analysis: resp.Content,
	}, nil
}

// DescribeImages describes every rendered page of a PDF. Unlike grading, a
// page that fails on both backends fails the request.
func (a *Analyzer) DescribeImages(ctx context.Context, filename string, content []byte) (*ImageAnalysis, error) {
	fileType, err := extraction.DetectFileType(filename)
	if err != nil || fileType != extraction.FileTypePDF {
		return nil, apperror.Invalid("Only PDF supported for image analysis.")
	}

	pages, err := a.images.Rasterize(ctx, content, a.cfg.MaxImagePages)
	if err != nil {
		return nil, apperror.Processing("image extraction failed", err)
	}

	descriptions := make([]string, 0, len(pages))
	for _, page := range pages {
		desc, err := a.describer.Describe(ctx, page)
		if err != nil {
			return nil, apperror.Upstream(fmt.Sprintf("image analysis failed on page %d", page.Page), err)
		}
		descriptions = append(descriptions, desc)
	}

	logger.Info("Document images described",
		zap.String("filename", filename),
		zap.Int("pages", len(descriptions)),
	)

	return &ImageAnalysis{Filename: filename, Descriptions: descriptions}, nil
}
