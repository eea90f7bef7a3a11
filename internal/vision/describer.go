// Package vision describes rasterized pages with a vision-capable model,
// falling back to the secondary backend once when the primary fails.
package vision

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/extraction"
	"github.com/doc-grader/backend/internal/llm"
	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/internal/prompt"
	"github.com/doc-grader/backend/pkg/logger"
	"github.com/doc-grader/backend/pkg/utils"
)

const DefaultMaxTokens = 1000

// DescriptionCache stores descriptions keyed by the SHA-256 of the PNG bytes.
type DescriptionCache interface {
	GetDescription(ctx context.Context, imageHash string) (string, bool, error)
	SetDescription(ctx context.Context, imageHash, description string) error
}

type Describer struct {
	primary   llm.Backend
	secondary llm.Backend
	prompts   *prompt.Builder
	cache     DescriptionCache
	maxTokens int
}

// NewDescriber builds a Describer. cache may be nil.
func NewDescriber(primary, secondary llm.Backend, prompts *prompt.Builder, cache DescriptionCache, maxTokens int) *Describer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Describer{
		primary:   primary,
		secondary: secondary,
		prompts:   prompts,
		cache:     cache,
		maxTokens: maxTokens,
	}
}

// Describe makes at most two model calls: primary, then secondary on any
// primary failure. It errors only when both fail.
func (d *Describer) Describe(ctx context.Context, page extraction.PageImage) (string, error) {
	hash := ""
	if d.cache != nil {
		hash = utils.HashBytes(page.PNG)
		if desc, ok := d.cachedDescription(ctx, hash); ok {
			metrics.ImageDescriptions.WithLabelValues("cache").Inc()
			return desc, nil
		}
	}

	req := llm.ImageRequest{
		SystemPrompt: d.prompts.ImageSystemPrompt(),
		Prompt:       d.prompts.ImagePrompt(),
		PNG:          page.PNG,
		MaxTokens:    d.maxTokens,
	}

	resp, primaryErr := d.primary.DescribeImage(ctx, req)
	if primaryErr == nil {
		metrics.ImageDescriptions.WithLabelValues("primary").Inc()
		d.store(ctx, hash, resp.Content)
		return resp.Content, nil
	}

	logger.Warn("Primary image description failed, trying secondary",
		zap.Int("page", page.Page),
		zap.String("primary", d.primary.Name()),
		zap.String("secondary", d.secondary.Name()),
		zap.Error(primaryErr),
	)

	resp, secondaryErr := d.secondary.DescribeImage(ctx, req)
	if secondaryErr == nil {
		metrics.ImageDescriptions.WithLabelValues("secondary").Inc()
		d.store(ctx, hash, resp.Content)
		return resp.Content, nil
	}

	metrics.ImageDescriptions.WithLabelValues("failed").Inc()
	return "", fmt.Errorf("describe page %d: %w", page.Page, errors.Join(
		fmt.Errorf("%s: %w", d.primary.Name(), primaryErr),
		fmt.Errorf("%s: %w", d.secondary.Name(), secondaryErr),
	))
}

func (d *Describer) cachedDescription(ctx context.Context, hash string) (string, bool) {
	desc, ok, err := d.cache.GetDescription(ctx, hash)
	if err != nil {
		logger.Warn("Description cache lookup failed", zap.Error(err))
		return "", false
	}
	return desc, ok
}

func (d *Describer) store(ctx context.Context, hash, desc string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.SetDescription(ctx, hash, desc); err != nil {
		logger.Warn("Description cache write failed", zap.Error(err))
	}
}
