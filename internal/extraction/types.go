// Package extraction turns uploaded PDF and Word documents into text and
// rasterized page images.
package extraction

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrNoPagesRendered     = errors.New("no pages rendered")
)

type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
)

// DetectFileType maps an upload filename to a supported FileType by its
// extension, case-insensitively.
func DetectFileType(filename string) (FileType, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FileTypePDF, nil
	case ".docx":
		return FileTypeDOCX, nil
	default:
		return "", ErrUnsupportedFileType
	}
}

// PageImage is one rasterized page, numbered from 1.
type PageImage struct {
	Page int
	PNG  []byte
}

type Config struct {
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	DPI           int
	TempDir       string
}

func (c Config) withDefaults() Config {
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.TesseractLang == "" {
		c.TesseractLang = "eng"
	}
	if c.DPI <= 0 {
		c.DPI = 200
	}
	return c
}
