package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/doc-grader/backend/pkg/circuitbreaker"
	"github.com/doc-grader/backend/pkg/logger"
)

// GeminiClient is the secondary backend. It only produces free text.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	cb      *circuitbreaker.CircuitBreaker
}

func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	logger.Info("Gemini client initialized", zap.String("model", model))

	return &GeminiClient{
		client:  client,
		model:   model,
		timeout: timeout,
		cb:      newBreaker("gemini"),
	}, nil
}

func (c *GeminiClient) Name() string {
	return "gemini"
}

// Complete ignores req.JSON; callers of the secondary backend expect free text.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return c.generate(ctx, "complete", genai.Text(req.UserPrompt), c.config(req.SystemPrompt, req.MaxTokens))
}

func (c *GeminiClient) DescribeImage(ctx context.Context, req ImageRequest) (*CompletionResponse, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
		genai.NewPartFromBytes(req.PNG, "image/png"),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	return c.generate(ctx, "describe_image", contents, c.config(req.SystemPrompt, req.MaxTokens))
}

func (c *GeminiClient) config(systemPrompt string, maxTokens int) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	return cfg
}

func (c *GeminiClient) generate(ctx context.Context, operation string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
		if err != nil {
			return fmt.Errorf("failed to generate content: %w", err)
		}

		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return ErrEmptyResponse
		}

		result = &CompletionResponse{Content: text, Model: c.model}
		if resp.UsageMetadata != nil {
			result.Usage = Usage{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		return nil
	})

	observe(c.Name(), operation, start, result, err)

	if err != nil {
		logger.Warn("Gemini request failed",
			zap.String("operation", operation),
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Debug("Gemini content generated",
		zap.String("operation", operation),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}
