package vision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/doc-grader/backend/internal/extraction"
	"github.com/doc-grader/backend/internal/llm"
	"github.com/doc-grader/backend/internal/llm/llmtest"
	"github.com/doc-grader/backend/internal/prompt"
	"github.com/doc-grader/backend/pkg/utils"
)

type memoryCache struct {
	entries map[string]string
	getErr  error
	sets    int
}

func (m *memoryCache) GetDescription(_ context.Context, hash string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.entries[hash]
	return v, ok, nil
}

func (m *memoryCache) SetDescription(_ context.Context, hash, desc string) error {
	m.sets++
	m.entries[hash] = desc
	return nil
}

func succeed(text string) func(llm.ImageRequest) (string, error) {
	return func(llm.ImageRequest) (string, error) { return text, nil }
}

func fail(msg string) func(llm.ImageRequest) (string, error) {
	return func(llm.ImageRequest) (string, error) { return "", errors.New(msg) }
}

var page = extraction.PageImage{Page: 2, PNG: []byte("png-bytes")}

func TestDescribePrimary(t *testing.T) {
	primary := &llmtest.Backend{BackendName: "openai", DescribeFunc: succeed("primary description")}
	secondary := &llmtest.Backend{BackendName: "gemini", DescribeFunc: succeed("secondary description")}
	d := NewDescriber(primary, secondary, prompt.NewBuilder(prompt.Options{}), nil, 0)

	got, err := d.Describe(context.Background(), page)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "primary description" {
		t.Fatalf("got %q", got)
	}
	if secondary.DescribeCount() != 0 {
		t.Fatal("secondary must not be called when primary succeeds")
	}

	req := primary.DescribeCalls[0]
	if req.MaxTokens != DefaultMaxTokens {
		t.Fatalf("max tokens = %d, want %d", req.MaxTokens, DefaultMaxTokens)
	}
	if string(req.PNG) != "png-bytes" {
		t.Fatal("image bytes not forwarded")
	}
	if !strings.Contains(req.Prompt, "layout, content, key points, visual elements") {
		t.Fatalf("prompt = %q", req.Prompt)
	}
}

func TestDescribeFallsBackOnce(t *testing.T) {
	primary := &llmtest.Backend{BackendName: "openai", DescribeFunc: fail("quota exceeded")}
	secondary := &llmtest.Backend{BackendName: "gemini", DescribeFunc: succeed("secondary description")}
	d := NewDescriber(primary, secondary, prompt.NewBuilder(prompt.Options{}), nil, 0)

	got, err := d.Describe(context.Background(), page)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "secondary description" {
		t.Fatalf("got %q", got)
	}
	if primary.DescribeCount() != 1 || secondary.DescribeCount() != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 1 and 1", primary.DescribeCount(), secondary.DescribeCount())
	}
}

func TestDescribeBothFail(t *testing.T) {
	primaryErr := errors.New("primary down")
	secondaryErr := errors.New("secondary down")
	primary := &llmtest.Backend{BackendName: "openai", DescribeFunc: func(llm.ImageRequest) (string, error) { return "", primaryErr }}
	secondary := &llmtest.Backend{BackendName: "gemini", DescribeFunc: func(llm.ImageRequest) (string, error) { return "", secondaryErr }}
	d := NewDescriber(primary, secondary, prompt.NewBuilder(prompt.Options{}), nil, 0)

	_, err := d.Describe(context.Background(), page)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, primaryErr) || !errors.Is(err, secondaryErr) {
		t.Fatalf("error %v must wrap both causes", err)
	}
	if !strings.Contains(err.Error(), "page 2") {
		t.Fatalf("error %v must name the page", err)
	}
	if primary.DescribeCount() != 1 || secondary.DescribeCount() != 1 {
		t.Fatal("each backend must be tried exactly once")
	}
}

func TestDescribeUsesCache(t *testing.T) {
	cache := &memoryCache{entries: map[string]string{}}
	primary := &llmtest.Backend{DescribeFunc: succeed("fresh")}
	secondary := &llmtest.Backend{}
	d := NewDescriber(primary, secondary, prompt.NewBuilder(prompt.Options{}), cache, 0)

	for i := 0; i < 2; i++ {
		got, err := d.Describe(context.Background(), page)
		if err != nil || got != "fresh" {
			t.Fatalf("call %d: %q, %v", i, got, err)
		}
	}
	if primary.DescribeCount() != 1 {
		t.Fatalf("primary calls = %d, want 1 with cache", primary.DescribeCount())
	}
	if cache.entries[utils.HashBytes(page.PNG)] != "fresh" {
		t.Fatal("description not cached under the image hash")
	}
}

func TestDescribeIgnoresCacheErrors(t *testing.T) {
	cache := &memoryCache{entries: map[string]string{}, getErr: errors.New("redis down")}
	primary := &llmtest.Backend{DescribeFunc: succeed("fresh")}
	d := NewDescriber(primary, &llmtest.Backend{}, prompt.NewBuilder(prompt.Options{}), cache, 0)

	got, err := d.Describe(context.Background(), page)
	if err != nil || got != "fresh" {
		t.Fatalf("got %q, %v", got, err)
	}
}
