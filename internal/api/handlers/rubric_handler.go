package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/doc-grader/backend/internal/apperror"
	"github.com/doc-grader/backend/internal/storage/jsonfile"
	"github.com/doc-grader/backend/internal/storage/models"
)

type RubricHandler struct {
	store jsonfile.RubricStore
}

func NewRubricHandler(store jsonfile.RubricStore) *RubricHandler {
	return &RubricHandler{
		store: store,
	}
}

func (h *RubricHandler) CreateRubric(c *fiber.Ctx) error {
	rubric, err := parseRubric(c)
	if err != nil {
		return err
	}

	id, err := h.store.Create(rubric)
	if err != nil {
		return storeError("Error creating rubric", err)
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"rubric_id": id,
	})
}

func (h *RubricHandler) ListRubrics(c *fiber.Ctx) error {
	rubrics, err := h.store.List()
	if err != nil {
		return storeError("Error listing rubrics", err)
	}

	return c.JSON(fiber.Map{
		"rubrics": rubrics,
	})
}

func (h *RubricHandler) GetRubric(c *fiber.Ctx) error {
	rubric, err := h.store.Get(rubricID(c))
	if err != nil {
		return storeError("Error getting rubric", err)
	}

	return c.JSON(rubric)
}

func (h *RubricHandler) UpdateRubric(c *fiber.Ctx) error {
	rubric, err := parseRubric(c)
	if err != nil {
		return err
	}

	if err := h.store.Update(rubricID(c), rubric); err != nil {
		return storeError("Error updating rubric", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}

func (h *RubricHandler) DeleteRubric(c *fiber.Ctx) error {
	if err := h.store.Delete(rubricID(c)); err != nil {
		return storeError("Error deleting rubric", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}

// rubricID copies the path id; fiber reuses the request buffer after the handler returns.
func rubricID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}

func parseRubric(c *fiber.Ctx) (models.Rubric, error) {
	var rubric models.Rubric
	if err := json.Unmarshal(c.Body(), &rubric); err != nil {
		return rubric, apperror.Invalid("Invalid rubric: " + err.Error())
	}
	return rubric, nil
}

func storeError(message string, err error) error {
	switch {
	case errors.Is(err, jsonfile.ErrNotFound):
		return apperror.NotFound("Rubric not found")
	case errors.Is(err, jsonfile.ErrAlreadyExists):
		return apperror.Conflict(err.Error())
	case errors.Is(err, models.ErrInvalidRubric):
		return apperror.Invalid(err.Error())
	default:
		return apperror.Persistence(message, err)
	}
}
