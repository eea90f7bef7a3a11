// Package llmtest provides a scriptable llm.Backend for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/doc-grader/backend/internal/llm"
)

// Backend records every call and answers with the configured functions.
// A nil function answers with an empty successful response.
type Backend struct {
	BackendName  string
	CompleteFunc func(req llm.CompletionRequest) (string, error)
	DescribeFunc func(req llm.ImageRequest) (string, error)

	mu            sync.Mutex
	CompleteCalls []llm.CompletionRequest
	DescribeCalls []llm.ImageRequest
}

func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "stub"
	}
	return b.BackendName
}

func (b *Backend) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	b.mu.Lock()
	b.CompleteCalls = append(b.CompleteCalls, req)
	b.mu.Unlock()

	if b.CompleteFunc == nil {
		return &llm.CompletionResponse{}, nil
	}
	content, err := b.CompleteFunc(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: b.Name()}, nil
}

func (b *Backend) DescribeImage(_ context.Context, req llm.ImageRequest) (*llm.CompletionResponse, error) {
	b.mu.Lock()
	b.DescribeCalls = append(b.DescribeCalls, req)
	b.mu.Unlock()

	if b.DescribeFunc == nil {
		return &llm.CompletionResponse{}, nil
	}
	content, err := b.DescribeFunc(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content, Model: b.Name()}, nil
}

func (b *Backend) CompleteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.CompleteCalls)
}

func (b *Backend) DescribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.DescribeCalls)
}
