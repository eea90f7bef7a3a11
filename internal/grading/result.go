package grading

import "math"

const (
	FallbackStrength    = "(fallback grading by secondary model)"
	FallbackSuggestions = "Detailed grading is unavailable. Please retry with the primary grading system."
)

type CriterionScore struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Comments string  `json:"comments"`
}

// Result is the grading response. The list fields are never nil so they
// always serialize as arrays.
type Result struct {
	Score              float64          `json:"score"`
	ImageUnderstanding *string          `json:"imageUnderstanding,omitempty"`
	Analysis           string           `json:"analysis"`
	CriteriaScores     []CriterionScore `json:"criteriaScores"`
	Strengths          []string         `json:"strengths"`
	Improvements       []string         `json:"improvements"`
	OverallSuggestions string           `json:"overallSuggestions"`
	// RawContent holds model output outside the typed fields.
	RawContent map[string]any `json:"rawContent"`
}

// fallbackResult wraps free text from the secondary backend. The score is a
// fixed placeholder, not an assessment.
func fallbackResult(text, backend string, score float64) *Result {
	return &Result{
		Score:              roundTo(clamp(score, 0, 100), 1),
		Analysis:           text,
		CriteriaScores:     []CriterionScore{},
		Strengths:          []string{FallbackStrength},
		Improvements:       []string{},
		OverallSuggestions: FallbackSuggestions,
		RawContent: map[string]any{
			"fallbackOutput": text,
			"backend":        backend,
		},
	}
}

func (r *Result) normalize(hadImages bool) {
	r.Score = roundTo(clamp(r.Score, 0, 100), 1)

	if r.CriteriaScores == nil {
		r.CriteriaScores = []CriterionScore{}
	}
	for i := range r.CriteriaScores {
		r.CriteriaScores[i].Score = roundTo(clamp(r.CriteriaScores[i].Score, 0, 5), 1)
	}
	if r.Strengths == nil {
		r.Strengths = []string{}
	}
	if r.Improvements == nil {
		r.Improvements = []string{}
	}
	if r.RawContent == nil {
		r.RawContent = map[string]any{}
	}
	if !hadImages || (r.ImageUnderstanding != nil && *r.ImageUnderstanding == "") {
		r.ImageUnderstanding = nil
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// roundTo rounds half away from zero.
func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
