package llm

import (
	"context"
	"errors"
	"time"

	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/pkg/circuitbreaker"
	"github.com/doc-grader/backend/pkg/logger"
)

var ErrEmptyResponse = errors.New("model returned no content")

// Backend is one LLM provider. Implementations make exactly one upstream
// attempt per call; fallback between backends belongs to the caller.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	DescribeImage(ctx context.Context, req ImageRequest) (*CompletionResponse, error)
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	// JSON asks the backend for a single JSON object response.
	JSON bool
}

type ImageRequest struct {
	SystemPrompt string
	Prompt       string
	PNG          []byte
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func newBreaker(name string) *circuitbreaker.CircuitBreaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))

	return circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

func observe(backend, operation string, start time.Time, resp *CompletionResponse, err error) {
	status := "success"
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		status = "short_circuit"
	case err != nil:
		status = "error"
	}

	metrics.LLMRequests.WithLabelValues(backend, operation, status).Inc()
	metrics.LLMDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())

	if resp != nil {
		metrics.LLMTokensUsed.WithLabelValues(resp.Model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(resp.Model, "completion").Add(float64(resp.Usage.CompletionTokens))
	}
}
