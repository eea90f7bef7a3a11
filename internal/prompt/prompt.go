// Package prompt renders the grading, fallback, analysis and image prompts.
// Every function here is pure: equal inputs give byte-identical output.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/doc-grader/backend/internal/storage/models"
)

const (
	DefaultLanguage          = "Traditional Chinese"
	DefaultDocumentCharLimit = 15000
	DefaultFallbackCharLimit = 3000
)

type Options struct {
	Language          string
	DocumentCharLimit int
	FallbackCharLimit int
}

// ImageDescription is one described page, numbered from 1.
type ImageDescription struct {
	Page int
	Text string
}

type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}
	if opts.DocumentCharLimit <= 0 {
		opts.DocumentCharLimit = DefaultDocumentCharLimit
	}
	if opts.FallbackCharLimit <= 0 {
		opts.FallbackCharLimit = DefaultFallbackCharLimit
	}
	return &Builder{opts: opts}
}

// Truncate keeps the first limit characters (runes) of text.
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 {
		return text, false
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i], true
		}
		count++
	}
	return text, false
}

func truncationNotice(limit int) string {
	return fmt.Sprintf("[Document truncated to the first %d characters]", limit)
}

// RenderCriteria renders one subsection per criterion in rubric order.
func RenderCriteria(criteria []models.Criterion) string {
	blocks := make([]string, 0, len(criteria))
	for i, c := range criteria {
		var sb strings.Builder
		fmt.Fprintf(&sb, "## Criterion %d: %s (weight: %d%%)\n", i+1, c.Name, c.Weight)
		fmt.Fprintf(&sb, "Description: %s\n", c.Description)
		sb.WriteString("Levels:")
		for _, l := range c.Levels {
			fmt.Fprintf(&sb, "\n- %s: %s", FormatScore(l.Score), l.Description)
		}
		blocks = append(blocks, sb.String())
	}
	return strings.Join(blocks, "\n\n")
}

// FormatScore prints a level anchor without trailing zeros (5, 2.5).
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func (b *Builder) GradingSystemPrompt() string {
	return fmt.Sprintf("You are a professional grading assistant. Give a fair and detailed grading analysis based on the rubric. Respond in %s.", b.opts.Language)
}

func (b *Builder) Grading(text string, rubric *models.Rubric, images []ImageDescription) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Respond in %s. You are a professional grading assistant. Grade the submitted document against the rubric below with a thorough, in-depth analysis.\n\n", b.opts.Language)

	sb.WriteString("# Document Content\n")
	body, truncated := Truncate(text, b.opts.DocumentCharLimit)
	sb.WriteString(body)
	if truncated {
		sb.WriteString("\n" + truncationNotice(b.opts.DocumentCharLimit))
	}
	sb.WriteString("\n\n")

	if len(images) > 0 {
		sb.WriteString("# Document Image Analysis\n")
		for i, img := range images {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "Image %d analysis: %s", img.Page, img.Text)
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString("# Rubric\n")
	sb.WriteString(RenderCriteria(rubric.Criteria))
	sb.WriteString("\n\n")

	sb.WriteString(gradingRequirements)
	sb.WriteString("\n\n")
	sb.WriteString(scoringRules)
	sb.WriteString("\n\n")
	sb.WriteString(outputSchema)

	return sb.String()
}

// FallbackGrading is the short prompt for the secondary backend: criteria and
// a smaller document slice, no image context.
func (b *Builder) FallbackGrading(text string, rubric *models.Rubric) string {
	body, truncated := Truncate(text, b.opts.FallbackCharLimit)
	if truncated {
		body += "\n" + truncationNotice(b.opts.FallbackCharLimit)
	}
	return fmt.Sprintf("Respond in %s. Grade the document according to the following rubric:\n%s\n\nDocument content:\n%s",
		b.opts.Language, RenderCriteria(rubric.Criteria), body)
}

func (b *Builder) AnalysisSystemPrompt() string {
	return fmt.Sprintf("You are a document analysis expert. Provide a detailed analysis in %s.", b.opts.Language)
}

func (b *Builder) Analysis(text string) string {
	body, truncated := Truncate(text, b.opts.DocumentCharLimit)
	if truncated {
		body += "\n" + truncationNotice(b.opts.DocumentCharLimit)
	}
	return "Analyze the following document content:\n\n" + body
}

func (b *Builder) ImageSystemPrompt() string {
	return fmt.Sprintf("You are a professional document and image analysis expert. Provide a detailed analysis in %s.", b.opts.Language)
}

func (b *Builder) ImagePrompt() string {
	return "Analyze this image in detail: layout, content, key points, visual elements."
}

const gradingRequirements = `# Grading Requirements
1. First give your understanding of the document content, especially its images if there are any.
2. Give each criterion a specific score and very detailed comments, with concrete examples and suggestions.
3. List all strengths of the document, each supported by a concrete example.
4. List everything that needs improvement, each with a concrete method and example.
5. Give in-depth, practical overall suggestions, point by point.
6. Take each criterion's weight percentage into account when computing the total.
7. Comment specifically on structure, logic and clarity of expression.`

const scoringRules = `# Scoring Rules
1. The rubric levels are reference anchors only. You may give more precise scores between them.
2. For example 2, 2.5, 3.5 or 4 are all valid even if only 1, 3 and 5 are defined.
3. Each criterion is scored from 0 to 5 with one decimal place of precision (e.g. 4.3).
4. Criterion scores combine in proportion to their weights into a final score out of 100; a weighted average of 4.5 corresponds to 90.
5. Explain why each score was given, citing the document where possible.`

const outputSchema = `# Response Format
Be as detailed as needed; long responses are fine.

Return the grading result as a JSON object with these fields:
- score: total score (0-100)
- imageUnderstanding: your understanding of the images in the document (omit if there are no images)
- analysis: the complete grading analysis with all observations and comments
- criteriaScores: an array with one element per criterion, each with name, score and comments fields
- strengths: list of strengths, each specific and supported by an example
- improvements: list of improvements, each with a concrete suggestion
- overallSuggestions: detailed overall suggestions, point by point`
