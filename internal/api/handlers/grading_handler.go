package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/doc-grader/backend/internal/apperror"
	"github.com/doc-grader/backend/internal/grading"
)

type DocumentGrader interface {
	Grade(ctx context.Context, req grading.Request) (*grading.Result, error)
}

type GradingHandler struct {
	grader DocumentGrader
}

func NewGradingHandler(grader DocumentGrader) *GradingHandler {
	return &GradingHandler{
		grader: grader,
	}
}

// GradeDocument handles POST /grade-document/ with a multipart file and a
// rubric_id form field.
func (h *GradingHandler) GradeDocument(c *fiber.Ctx) error {
	rubricID := strings.TrimSpace(c.FormValue("rubric_id"))
	if rubricID == "" {
		return apperror.Invalid("rubric_id is required")
	}

	filename, content, err := readUpload(c, "file")
	if err != nil {
		return err
	}

	result, err := h.grader.Grade(c.UserContext(), grading.Request{
		Filename: filename,
		Content:  content,
		RubricID: rubricID,
	})
	if err != nil {
		return err
	}

	return c.JSON(result)
}
