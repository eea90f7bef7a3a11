package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/pkg/logger"
)

// Rasterizer renders PDF pages to PNG with pdftoppm.
type Rasterizer struct {
	cfg    Config
	runner Runner
}

func NewRasterizer(cfg Config, runner Runner) *Rasterizer {
	if runner == nil {
		runner = execRunner{}
	}
	return &Rasterizer{cfg: cfg.withDefaults(), runner: runner}
}

// Rasterize returns the first maxPages pages in page order; maxPages <= 0
// renders every page. Temporary files are removed before returning.
func (r *Rasterizer) Rasterize(ctx context.Context, content []byte, maxPages int) ([]PageImage, error) {
	start := time.Now()

	var images []PageImage
	err := r.withRenderedPages(ctx, content, maxPages, func(paths []string) error {
		images = make([]PageImage, 0, len(paths))
		for i, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read rendered page: %w", err)
			}
			images = append(images, PageImage{Page: pageNumber(path, i+1), PNG: data})
		}
		return nil
	})

	metrics.ExtractionDuration.WithLabelValues("rasterize").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExtractionErrors.WithLabelValues("rasterize").Inc()
		return nil, err
	}

	logger.Debug("PDF rasterized",
		zap.Int("pages", len(images)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return images, nil
}

// withRenderedPages writes content to a scoped temp dir, renders it and calls
// fn with the sorted page paths. The dir is removed on every path.
func (r *Rasterizer) withRenderedPages(ctx context.Context, content []byte, maxPages int, fn func(paths []string) error) error {
	tmpDir, err := os.MkdirTemp(r.cfg.TempDir, "docgrader-raster-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Warn("Failed to remove temp dir", zap.String("dir", tmpDir), zap.Error(err))
		}
	}()

	input := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(input, content, 0o600); err != nil {
		return fmt.Errorf("write temp pdf: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(r.cfg.DPI), "-png"}
	if maxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(maxPages))
	}
	args = append(args, input, prefix)

	if _, stderr, err := r.runner.Run(ctx, r.cfg.Pdftoppm, args...); err != nil {
		return fmt.Errorf("pdftoppm: %w: %s", err, truncate(strings.TrimSpace(string(stderr)), 512))
	}

	// pdftoppm zero-pads page numbers to a common width, so lexical order is page order.
	paths, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return fmt.Errorf("collect rendered pages: %w", err)
	}
	sort.Strings(paths)
	if maxPages > 0 && len(paths) > maxPages {
		paths = paths[:maxPages]
	}
	if len(paths) == 0 {
		return ErrNoPagesRendered
	}

	return fn(paths)
}

func pageNumber(path string, fallback int) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return fallback
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return fallback
	}
	return n
}
