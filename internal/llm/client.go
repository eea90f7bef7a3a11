package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/pkg/circuitbreaker"
	"github.com/doc-grader/backend/pkg/logger"
)

// OpenAIClient is the primary backend: structured grading, analysis and vision.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	visionModel string
	temperature float32
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Temperature float32
	Timeout     time.Duration
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	logger.Info("OpenAI client initialized",
		zap.String("model", cfg.Model),
		zap.String("vision_model", visionModel),
	)

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		visionModel: visionModel,
		temperature: cfg.Temperature,
		timeout:     timeout,
		cb:          newBreaker("openai"),
	}
}

func (c *OpenAIClient) Name() string {
	return "openai"
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	return c.chat(ctx, "complete", chatReq)
}

func (c *OpenAIClient) DescribeImage(ctx context.Context, req ImageRequest) (*CompletionResponse, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.PNG)

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: req.Prompt,
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: dataURL,
					},
				},
			},
		},
	}

	return c.chat(ctx, "describe_image", openai.ChatCompletionRequest{
		Model:     c.visionModel,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
}

func (c *OpenAIClient) chat(ctx context.Context, operation string, chatReq openai.ChatCompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return ErrEmptyResponse
		}

		result = &CompletionResponse{
			Content: resp.Choices[0].Message.Content,
			Model:   resp.Model,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		return nil
	})

	observe(c.Name(), operation, start, result, err)

	if err != nil {
		logger.Warn("OpenAI request failed",
			zap.String("operation", operation),
			zap.String("model", chatReq.Model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	logger.Debug("OpenAI completion generated",
		zap.String("operation", operation),
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}
