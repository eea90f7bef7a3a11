package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrMalformedOutput = errors.New("model output is not valid JSON")
	ErrSchemaMismatch  = errors.New("model output does not match the grading schema")
)

const resultSchema = `{
  "type": "object",
  "required": ["score", "analysis"],
  "properties": {
    "score": {"type": "number"},
    "imageUnderstanding": {"type": ["string", "null"]},
    "analysis": {"type": "string"},
    "criteriaScores": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["name", "score"],
        "properties": {
          "name": {"type": "string"},
          "score": {"type": "number"},
          "comments": {"type": ["string", "null"]}
        }
      }
    },
    "strengths": {"type": ["array", "null"], "items": {"type": "string"}},
    "improvements": {"type": ["array", "null"], "items": {"type": "string"}},
    "overallSuggestions": {"type": ["string", "null"]}
  }
}`

var typedFields = map[string]struct{}{
	"score":              {},
	"imageUnderstanding": {},
	"analysis":           {},
	"criteriaScores":     {},
	"strengths":          {},
	"improvements":       {},
	"overallSuggestions": {},
}

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func gradingSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("grading_result.json", strings.NewReader(resultSchema)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("grading_result.json")
	})
	return compiledSchema, compileErr
}

// parseResult validates the primary model's JSON and converts it to a
// normalized Result. Unknown top-level keys go to RawContent.
func parseResult(content string, hadImages bool) (*Result, error) {
	data := []byte(stripCodeFence(content))

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	schema, err := gradingSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	var result Result
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	result.RawContent = map[string]any{}
	for key, value := range doc.(map[string]any) {
		if _, typed := typedFields[key]; !typed {
			result.RawContent[key] = value
		}
	}

	result.normalize(hadImages)
	return &result, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
