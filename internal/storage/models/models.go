package models

import (
	"errors"
	"fmt"
)

var ErrInvalidRubric = errors.New("invalid rubric")

// Level is a score anchor. Graders may interpolate between anchors.
type Level struct {
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

type Criterion struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      int     `json:"weight"`
	Levels      []Level `json:"levels"`
}

// Rubric is a named, weighted set of criteria. TotalWeight is informational
// and is not checked against the criteria weights.
type Rubric struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Criteria    []Criterion `json:"criteria"`
	TotalWeight int         `json:"totalWeight"`
	CreatedAt   Timestamp   `json:"createdAt"`
	UpdatedAt   Timestamp   `json:"updatedAt"`
}

func (r *Rubric) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRubric)
	}
	for i, c := range r.Criteria {
		if c.Name == "" {
			return fmt.Errorf("%w: criterion %d: name is required", ErrInvalidRubric, i+1)
		}
		if c.Weight < 0 || c.Weight > 100 {
			return fmt.Errorf("%w: criterion %q: weight must be between 0 and 100", ErrInvalidRubric, c.Name)
		}
	}
	return nil
}

// Clone returns a deep copy with non-nil slices.
func (r Rubric) Clone() Rubric {
	out := r
	out.Criteria = make([]Criterion, len(r.Criteria))
	for i, c := range r.Criteria {
		out.Criteria[i] = c
		out.Criteria[i].Levels = append(make([]Level, 0, len(c.Levels)), c.Levels...)
	}
	return out
}
