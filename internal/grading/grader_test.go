package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/doc-grader/backend/internal/apperror"
	"github.com/doc-grader/backend/internal/extraction"
	"github.com/doc-grader/backend/internal/llm"
	"github.com/doc-grader/backend/internal/llm/llmtest"
	"github.com/doc-grader/backend/internal/prompt"
	"github.com/doc-grader/backend/internal/storage/jsonfile"
	"github.com/doc-grader/backend/internal/storage/models"
)

type stubRubrics struct {
	rubrics map[string]models.Rubric
	calls   int
}

func (s *stubRubrics) Get(id string) (*models.Rubric, error) {
	s.calls++
	r, ok := s.rubrics[id]
	if !ok {
		return nil, jsonfile.ErrNotFound
	}
	return &r, nil
}

type stubExtractor struct {
	text  string
	err   error
	calls int
	ocr   []bool
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte, _ extraction.FileType, useOCR bool) (string, error) {
	s.calls++
	s.ocr = append(s.ocr, useOCR)
	return s.text, s.err
}

type stubRasterizer struct {
	pages    int
	err      error
	calls    int
	maxPages []int
}

// Rasterize ignores maxPages so the grader's own bound is exercised.
func (s *stubRasterizer) Rasterize(_ context.Context, _ []byte, maxPages int) ([]extraction.PageImage, error) {
	s.calls++
	s.maxPages = append(s.maxPages, maxPages)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]extraction.PageImage, s.pages)
	for i := range out {
		out[i] = extraction.PageImage{Page: i + 1, PNG: []byte(fmt.Sprintf("page-%d", i+1))}
	}
	return out, nil
}

type stubDescriber struct {
	mu     sync.Mutex
	failAt int
	pages  []int
}

func (s *stubDescriber) Describe(_ context.Context, page extraction.PageImage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, page.Page)
	if page.Page == s.failAt {
		return "", errors.New("both vision backends failed")
	}
	return fmt.Sprintf("description of page %d", page.Page), nil
}

type fixture struct {
	rubrics   *stubRubrics
	text      *stubExtractor
	images    *stubRasterizer
	describer *stubDescriber
	primary   *llmtest.Backend
	secondary *llmtest.Backend
	grader    *Grader
}

const validOutput = `{
	"score": 87.46,
	"imageUnderstanding": "The chart shows growth.",
	"analysis": "Solid work.",
	"criteriaScores": [{"name": "Content", "score": 4.36, "comments": "good"}, {"name": "Format", "score": 6}],
	"strengths": ["clear thesis"],
	"improvements": null,
	"overallSuggestions": "Add sources.",
	"confidence": 0.9
}`

func newFixture() *fixture {
	f := &fixture{
		rubrics: &stubRubrics{rubrics: map[string]models.Rubric{
			"r1": {
				ID:   "r1",
				Name: "Report",
				Criteria: []models.Criterion{
					{Name: "Content", Weight: 70, Levels: []models.Level{{Score: 5, Description: "excellent"}}},
					{Name: "Format", Weight: 30},
				},
			},
		}},
		text:      &stubExtractor{text: "The document text."},
		images:    &stubRasterizer{pages: 2},
		describer: &stubDescriber{},
		primary: &llmtest.Backend{
			BackendName:  "openai",
			CompleteFunc: func(llm.CompletionRequest) (string, error) { return validOutput, nil },
		},
		secondary: &llmtest.Backend{
			BackendName:  "gemini",
			CompleteFunc: func(llm.CompletionRequest) (string, error) { return "free text grading", nil },
		},
	}
	f.build()
	return f
}

func (f *fixture) build() {
	f.grader = NewGrader(Deps{
		Rubrics:   f.rubrics,
		Text:      f.text,
		Images:    f.images,
		Describer: f.describer,
		Primary:   f.primary,
		Secondary: f.secondary,
		Prompts:   prompt.NewBuilder(prompt.Options{}),
	}, Config{})
}

func (f *fixture) grade(t *testing.T, filename string) (*Result, error) {
	t.Helper()
	return f.grader.Grade(context.Background(), Request{Filename: filename, Content: []byte("bytes"), RubricID: "r1"})
}

func assertShape(t *testing.T, r *Result) {
	t.Helper()
	if r.Score < 0 || r.Score > 100 {
		t.Fatalf("score %v outside [0,100]", r.Score)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"criteriaScores", "strengths", "improvements"} {
		if _, ok := m[key].([]any); !ok {
			t.Fatalf("%s = %v, want an array", key, m[key])
		}
	}
	if _, ok := m["score"].(float64); !ok {
		t.Fatal("score must be a number")
	}
	if _, ok := m["rawContent"].(map[string]any); !ok {
		t.Fatal("rawContent must be an object")
	}
}

func TestGradePrimarySuccess(t *testing.T) {
	f := newFixture()

	r, err := f.grade(t, "report.pdf")
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	assertShape(t, r)

	if r.Score != 87.5 {
		t.Errorf("score = %v, want 87.5", r.Score)
	}
	if r.CriteriaScores[0].Score != 4.4 || r.CriteriaScores[1].Score != 5 {
		t.Errorf("criterion scores = %+v, want clamped and rounded", r.CriteriaScores)
	}
	if r.ImageUnderstanding == nil || *r.ImageUnderstanding != "The chart shows growth." {
		t.Errorf("imageUnderstanding = %v", r.ImageUnderstanding)
	}
	if len(r.Improvements) != 0 || r.Improvements == nil {
		t.Errorf("improvements = %#v, want empty slice", r.Improvements)
	}
	if r.RawContent["confidence"] != 0.9 {
		t.Errorf("rawContent = %v, want unknown keys carried", r.RawContent)
	}
	if _, ok := r.RawContent["score"]; ok {
		t.Error("typed fields must not be duplicated in rawContent")
	}
	if f.secondary.CompleteCount() != 0 {
		t.Error("secondary must not be called on success")
	}

	req := f.primary.CompleteCalls[0]
	if !req.JSON || req.MaxTokens != 8000 {
		t.Errorf("primary request JSON=%v MaxTokens=%d", req.JSON, req.MaxTokens)
	}
	if !strings.Contains(req.UserPrompt, "Image 1 analysis: description of page 1") ||
		!strings.Contains(req.UserPrompt, "Image 2 analysis: description of page 2") {
		t.Error("primary prompt missing image descriptions")
	}
	if f.text.ocr[0] {
		t.Error("grading must use the non-OCR extraction path")
	}
}

func TestGradeRejectsUnsupportedExtensionBeforeExtraction(t *testing.T) {
	f := newFixture()

	_, err := f.grade(t, "notes.txt")
	if !apperror.Is(err, apperror.KindInvalid) {
		t.Fatalf("got %v, want invalid", err)
	}
	if f.text.calls != 0 || f.images.calls != 0 {
		t.Fatalf("extraction calls text=%d images=%d, want 0", f.text.calls, f.images.calls)
	}
	if f.primary.CompleteCount() != 0 {
		t.Fatal("no LLM call expected")
	}
}

func TestGradeRubricNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.grader.Grade(context.Background(), Request{Filename: "a.pdf", Content: []byte("x"), RubricID: "missing"})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
	if f.text.calls != 0 {
		t.Fatal("extraction must not run without a rubric")
	}
}

func TestGradeExtractionFailure(t *testing.T) {
	f := newFixture()
	f.text.err = errors.New("corrupt pdf")

	_, err := f.grade(t, "report.pdf")
	if !apperror.Is(err, apperror.KindProcessing) {
		t.Fatalf("got %v, want processing error", err)
	}
	if f.primary.CompleteCount() != 0 || f.secondary.CompleteCount() != 0 {
		t.Fatal("no LLM call expected after extraction failure")
	}
}

func TestGradeFallbackOnPrimaryError(t *testing.T) {
	f := newFixture()
	f.primary.CompleteFunc = func(llm.CompletionRequest) (string, error) { return "", errors.New("rate limited") }

	r, err := f.grade(t, "report.docx")
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	assertShape(t, r)

	if f.secondary.CompleteCount() != 1 {
		t.Fatalf("secondary calls = %d, want 1", f.secondary.CompleteCount())
	}
	if r.Score != DefaultFallbackScore {
		t.Errorf("score = %v, want %v", r.Score, DefaultFallbackScore)
	}
	if r.RawContent["fallbackOutput"] != "free text grading" || r.RawContent["backend"] != "gemini" {
		t.Errorf("rawContent = %v", r.RawContent)
	}
	if r.Analysis != "free text grading" {
		t.Errorf("analysis = %q", r.Analysis)
	}
	if len(r.Strengths) != 1 || r.Strengths[0] != FallbackStrength {
		t.Errorf("strengths = %v", r.Strengths)
	}
	if len(r.Improvements) != 0 || len(r.CriteriaScores) != 0 {
		t.Errorf("improvements=%v criteriaScores=%v, want empty", r.Improvements, r.CriteriaScores)
	}
	if r.OverallSuggestions != FallbackSuggestions {
		t.Errorf("overallSuggestions = %q", r.OverallSuggestions)
	}
	if r.ImageUnderstanding != nil {
		t.Error("fallback result must not carry imageUnderstanding")
	}
	if f.secondary.CompleteCalls[0].JSON {
		t.Error("fallback call must request free text")
	}
}

func TestGradeFallbackOnInvalidOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"malformed json", `{"score": 80, "analysis": "cut off`},
		{"not an object", `["score", 80]`},
		{"score as string", `{"score": "eighty", "analysis": "ok"}`},
		{"missing analysis", `{"score": 80}`},
		{"criterion without score", `{"score": 80, "analysis": "ok", "criteriaScores": [{"name": "Content"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			output := tt.output
			f.primary.CompleteFunc = func(llm.CompletionRequest) (string, error) { return output, nil }

			r, err := f.grade(t, "report.docx")
			if err != nil {
				t.Fatalf("Grade: %v", err)
			}
			if f.secondary.CompleteCount() != 1 {
				t.Fatalf("secondary calls = %d, want 1", f.secondary.CompleteCount())
			}
			if r.Score != DefaultFallbackScore {
				t.Fatalf("score = %v, want fallback default", r.Score)
			}
		})
	}
}

func TestGradeBothBackendsFail(t *testing.T) {
	f := newFixture()
	f.primary.CompleteFunc = func(llm.CompletionRequest) (string, error) { return "", errors.New("primary down") }
	f.secondary.CompleteFunc = func(llm.CompletionRequest) (string, error) { return "", errors.New("secondary down") }

	_, err := f.grade(t, "report.docx")
	if !apperror.Is(err, apperror.KindUpstream) {
		t.Fatalf("got %v, want upstream error", err)
	}
	if f.primary.CompleteCount() != 1 || f.secondary.CompleteCount() != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 1 and 1", f.primary.CompleteCount(), f.secondary.CompleteCount())
	}
	if !strings.Contains(err.Error(), "primary down") || !strings.Contains(err.Error(), "secondary down") {
		t.Fatalf("error %v must carry both causes", err)
	}
}

func TestGradeBoundsImageDescriptions(t *testing.T) {
	f := newFixture()
	f.images.pages = 10

	if _, err := f.grade(t, "long.pdf"); err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if len(f.describer.pages) != 3 {
		t.Fatalf("described %d pages, want 3", len(f.describer.pages))
	}
	if f.images.maxPages[0] != 3 {
		t.Fatalf("rasterize requested %d pages, want 3", f.images.maxPages[0])
	}
	if strings.Contains(f.primary.CompleteCalls[0].UserPrompt, "Image 4 analysis") {
		t.Fatal("prompt must not describe pages past the bound")
	}
}

func TestGradeContinuesWhenRasterizationFails(t *testing.T) {
	f := newFixture()
	f.images.err = errors.New("pdftoppm missing")

	r, err := f.grade(t, "report.pdf")
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if len(f.describer.pages) != 0 {
		t.Fatal("no descriptions expected")
	}
	if strings.Contains(f.primary.CompleteCalls[0].UserPrompt, "# Document Image Analysis") {
		t.Fatal("prompt must not have an image section")
	}
	if r.ImageUnderstanding != nil {
		t.Fatal("imageUnderstanding must be dropped when no images were described")
	}
}

func TestGradeKeepsDescriptionsBeforeFailedPage(t *testing.T) {
	f := newFixture()
	f.images.pages = 3
	f.describer.failAt = 2

	if _, err := f.grade(t, "report.pdf"); err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if fmt.Sprint(f.describer.pages) != "[1 2]" {
		t.Fatalf("described pages %v, want [1 2]", f.describer.pages)
	}
	p := f.primary.CompleteCalls[0].UserPrompt
	if !strings.Contains(p, "Image 1 analysis") || strings.Contains(p, "Image 2 analysis") || strings.Contains(p, "Image 3 analysis") {
		t.Fatal("prompt must keep only the descriptions before the failed page")
	}
}

func TestGradeDocxSkipsImages(t *testing.T) {
	f := newFixture()

	r, err := f.grade(t, "essay.DOCX")
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if f.images.calls != 0 {
		t.Fatal("DOCX must not be rasterized")
	}
	if r.ImageUnderstanding != nil {
		t.Fatal("imageUnderstanding must be absent for documents without images")
	}
}

func TestFallbackPromptUsesSmallerBudget(t *testing.T) {
	f := newFixture()
	f.text.text = strings.Repeat("x", 3000) + "BEYOND-FALLBACK" + strings.Repeat("y", 20000)
	f.primary.CompleteFunc = func(llm.CompletionRequest) (string, error) { return "", errors.New("down") }

	if _, err := f.grade(t, "report.docx"); err != nil {
		t.Fatalf("Grade: %v", err)
	}

	primaryPrompt := f.primary.CompleteCalls[0].UserPrompt
	if !strings.Contains(primaryPrompt, "BEYOND-FALLBACK") || strings.Contains(primaryPrompt, strings.Repeat("y", 12001)) {
		t.Fatal("primary prompt must hold exactly the first 15000 characters")
	}
	fallbackPrompt := f.secondary.CompleteCalls[0].UserPrompt
	if !strings.Contains(fallbackPrompt, strings.Repeat("x", 3000)) || strings.Contains(fallbackPrompt, "BEYOND") {
		t.Fatal("fallback prompt must hold exactly the first 3000 characters")
	}
}

func TestParseResultStripsCodeFence(t *testing.T) {
	r, err := parseResult("```json\n{\"score\": 101, \"analysis\": \"ok\"}\n```", false)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if r.Score != 100 {
		t.Fatalf("score = %v, want clamped to 100", r.Score)
	}
}

func TestParseResultErrors(t *testing.T) {
	if _, err := parseResult("not json", false); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("got %v, want ErrMalformedOutput", err)
	}
	if _, err := parseResult(`{"analysis": "no score"}`, false); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("got %v, want ErrSchemaMismatch", err)
	}
}

func TestRoundTo(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{87.25, 87.3},
		{87.44, 87.4},
		{-2.25, -2.3},
		{90, 90},
	}
	for _, tt := range tests {
		if got := roundTo(tt.in, 1); got != tt.want {
			t.Errorf("roundTo(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
