package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/doc-grader/backend/internal/storage/models"
)

func testRubric() *models.Rubric {
	return &models.Rubric{
		ID:   "r1",
		Name: "Essay",
		Criteria: []models.Criterion{
			{
				Name:        "Clarity",
				Description: "How clear the writing is",
				Weight:      60,
				Levels: []models.Level{
					{Score: 1, Description: "hard to follow"},
					{Score: 2.5, Description: "mostly clear"},
					{Score: 5, Description: "crystal clear"},
				},
			},
			{Name: "Evidence", Description: "Use of sources", Weight: 40},
		},
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		text      string
		limit     int
		want      string
		truncated bool
	}{
		{"hello", 10, "hello", false},
		{"hello", 5, "hello", false},
		{"hello", 3, "hel", true},
		{"中文字元測試", 2, "中文", true},
		{"abc", 0, "abc", false},
	}

	for _, tt := range tests {
		got, truncated := Truncate(tt.text, tt.limit)
		if got != tt.want || truncated != tt.truncated {
			t.Errorf("Truncate(%q, %d) = %q, %v; want %q, %v", tt.text, tt.limit, got, truncated, tt.want, tt.truncated)
		}
	}
}

func TestRenderCriteria(t *testing.T) {
	got := RenderCriteria(testRubric().Criteria)
	want := "## Criterion 1: Clarity (weight: 60%)\n" +
		"Description: How clear the writing is\n" +
		"Levels:\n" +
		"- 1: hard to follow\n" +
		"- 2.5: mostly clear\n" +
		"- 5: crystal clear\n\n" +
		"## Criterion 2: Evidence (weight: 40%)\n" +
		"Description: Use of sources\n" +
		"Levels:"
	if got != want {
		t.Fatalf("RenderCriteria:\n%s\nwant:\n%s", got, want)
	}
}

func TestGradingPromptIsDeterministic(t *testing.T) {
	b := NewBuilder(Options{})
	images := []ImageDescription{{Page: 1, Text: "a bar chart"}, {Page: 2, Text: "a table"}}

	first := b.Grading("document body", testRubric(), images)
	second := NewBuilder(Options{}).Grading("document body", testRubric(), images)
	if first != second {
		t.Fatal("same inputs produced different prompts")
	}
}

func TestGradingPromptSectionOrder(t *testing.T) {
	b := NewBuilder(Options{})
	p := b.Grading("DOCUMENT-BODY", testRubric(), []ImageDescription{{Page: 1, Text: "a bar chart"}})

	order := []string{
		"Respond in Traditional Chinese",
		"# Document Content\nDOCUMENT-BODY",
		"# Document Image Analysis\nImage 1 analysis: a bar chart",
		"# Rubric\n## Criterion 1: Clarity (weight: 60%)",
		"# Grading Requirements",
		"# Scoring Rules",
		"# Response Format",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(p, s)
		if idx < 0 {
			t.Fatalf("prompt missing %q", s)
		}
		if idx <= last {
			t.Fatalf("%q is out of order", s)
		}
		last = idx
	}

	for _, field := range []string{"score", "imageUnderstanding", "analysis", "criteriaScores", "strengths", "improvements", "overallSuggestions"} {
		if !strings.Contains(p, "- "+field+":") {
			t.Errorf("output schema missing field %s", field)
		}
	}
	if !strings.Contains(p, "0 to 5 with one decimal place") {
		t.Error("scoring rules missing 0-5 scale")
	}
}

func TestGradingPromptOmitsImageSectionWithoutImages(t *testing.T) {
	p := NewBuilder(Options{}).Grading("body", testRubric(), nil)
	if strings.Contains(p, "# Document Image Analysis") || strings.Contains(p, "Image 1 analysis") {
		t.Fatal("image section must be absent when there are no descriptions")
	}
}

func TestGradingPromptTruncatesToDocumentBudget(t *testing.T) {
	text := strings.Repeat("a", 15000) + strings.Repeat("Z", 50)
	p := NewBuilder(Options{}).Grading(text, testRubric(), nil)

	if !strings.Contains(p, strings.Repeat("a", 15000)) {
		t.Fatal("prompt must contain the first 15000 characters")
	}
	if strings.Contains(p, "aZ") || strings.Contains(p, "ZZ") {
		t.Fatal("prompt must not contain text past the budget")
	}
	if !strings.Contains(p, "[Document truncated to the first 15000 characters]") {
		t.Fatal("truncation notice missing")
	}
}

func TestGradingPromptTruncatesByCharacters(t *testing.T) {
	text := strings.Repeat("字", 15001)
	p := NewBuilder(Options{}).Grading(text, testRubric(), nil)

	start := strings.Index(p, "# Document Content\n") + len("# Document Content\n")
	end := strings.Index(p, "\n[Document truncated")
	if got := utf8.RuneCountInString(p[start:end]); got != 15000 {
		t.Fatalf("document section has %d characters, want 15000", got)
	}
}

func TestShortDocumentIsNotMarkedTruncated(t *testing.T) {
	p := NewBuilder(Options{}).Grading("short", testRubric(), nil)
	if strings.Contains(p, "[Document truncated") {
		t.Fatal("short document must not carry a truncation notice")
	}
}

func TestFallbackPrompt(t *testing.T) {
	text := strings.Repeat("b", 3000) + "TAIL"
	p := NewBuilder(Options{}).FallbackGrading(text, testRubric())

	if !strings.Contains(p, strings.Repeat("b", 3000)) || strings.Contains(p, "TAIL") {
		t.Fatal("fallback prompt must hold exactly the first 3000 characters")
	}
	if !strings.Contains(p, "## Criterion 2: Evidence (weight: 40%)") {
		t.Fatal("fallback prompt must include the criteria")
	}
	if strings.Contains(p, "Image") {
		t.Fatal("fallback prompt must not include image context")
	}
}

func TestLanguageOption(t *testing.T) {
	b := NewBuilder(Options{Language: "English"})
	if !strings.HasPrefix(b.Grading("x", testRubric(), nil), "Respond in English.") {
		t.Fatal("language option not applied to grading prompt")
	}
	if !strings.Contains(b.AnalysisSystemPrompt(), "English") || !strings.Contains(b.ImageSystemPrompt(), "English") {
		t.Fatal("language option not applied to system prompts")
	}
}

func TestAnalysisPrompt(t *testing.T) {
	b := NewBuilder(Options{DocumentCharLimit: 10})
	p := b.Analysis("0123456789OVERFLOW")
	if !strings.HasPrefix(p, "Analyze the following document content:\n\n0123456789\n") || strings.Contains(p, "OVERFLOW") {
		t.Fatalf("analysis prompt = %q", p)
	}
}
