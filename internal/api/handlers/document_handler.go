package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/analysis"
	"github.com/doc-grader/backend/pkg/logger"
)

type DocumentAnalyzer interface {
	Analyze(ctx context.Context, filename string, content []byte, useOCR bool) (*analysis.DocumentAnalysis, error)
	DescribeImages(ctx context.Context, filename string, content []byte) (*analysis.ImageAnalysis, error)
}

type DocumentHandler struct {
	analyzer DocumentAnalyzer
}

func NewDocumentHandler(analyzer DocumentAnalyzer) *DocumentHandler {
	return &DocumentHandler{
		analyzer: analyzer,
	}
}

// AnalyzeDocument handles POST /analyze-document/?use_ocr=true|false.
func (h *DocumentHandler) AnalyzeDocument(c *fiber.Ctx) error {
	filename, content, err := readUpload(c, "file")
	if err != nil {
		return err
	}
	useOCR := c.QueryBool("use_ocr", false)

	result, err := h.analyzer.Analyze(c.UserContext(), filename, content, useOCR)
	if err != nil {
		logger.Warn("Document analysis failed", zap.String("filename", filename), zap.Error(err))
		return err
	}

	return c.JSON(result)
}

func (h *DocumentHandler) AnalyzeImages(c *fiber.Ctx) error {
	filename, content, err := readUpload(c, "file")
	if err != nil {
		return err
	}

	result, err := h.analyzer.DescribeImages(c.UserContext(), filename, content)
	if err != nil {
		logger.Warn("Image analysis failed", zap.String("filename", filename), zap.Error(err))
		return err
	}

	return c.JSON(result)
}
