package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/pkg/logger"
)

// Extractor produces plain text from document bytes.
type Extractor struct {
	cfg    Config
	runner Runner
	raster *Rasterizer
}

func NewExtractor(cfg Config, runner Runner) *Extractor {
	cfg = cfg.withDefaults()
	if runner == nil {
		runner = execRunner{}
	}
	return &Extractor{
		cfg:    cfg,
		runner: runner,
		raster: NewRasterizer(cfg, runner),
	}
}

// Rasterizer returns the rasterizer sharing this extractor's runner.
func (e *Extractor) Rasterizer() *Rasterizer {
	return e.raster
}

// Extract selects a strategy by file type. useOCR only applies to PDFs.
func (e *Extractor) Extract(ctx context.Context, content []byte, fileType FileType, useOCR bool) (string, error) {
	method := string(fileType)
	if fileType == FileTypePDF {
		method = "pdf_text"
		if useOCR {
			method = "pdf_ocr"
		}
	}

	start := time.Now()
	text, err := e.extract(ctx, content, fileType, useOCR)
	metrics.ExtractionDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ExtractionErrors.WithLabelValues(method).Inc()
		return "", err
	}

	logger.Debug("Text extracted",
		zap.String("method", method),
		zap.Int("text_length", len([]rune(text))),
		zap.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}

func (e *Extractor) extract(ctx context.Context, content []byte, fileType FileType, useOCR bool) (string, error) {
	switch fileType {
	case FileTypePDF:
		if useOCR {
			return e.ocrPDF(ctx, content)
		}
		text, _, err := extractPDFText(content)
		return text, err
	case FileTypeDOCX:
		return extractDocxText(content)
	default:
		return "", ErrUnsupportedFileType
	}
}

func (e *Extractor) ocrPDF(ctx context.Context, content []byte) (string, error) {
	var pages []string
	err := e.raster.withRenderedPages(ctx, content, 0, func(paths []string) error {
		for _, img := range paths {
			out, stderr, err := e.runner.Run(ctx, e.cfg.Tesseract, img, "stdout", "-l", e.cfg.TesseractLang)
			if err != nil {
				return fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(stderr)), 512))
			}
			pages = append(pages, strings.TrimRight(string(out), "\n\f"))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(pages, "\n"), nil
}
