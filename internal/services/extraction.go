package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/contractflow/internal/models"
)

// PlainTextExtractor returns text documents as they are.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(_ context.Context, data []byte, fileName string) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8 text", fileName)
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}

// ExtractionRouter picks an extractor by file type. Text files never leave
// the process; every other type goes to Binary.
type ExtractionRouter struct {
	Text   Extractor
	Binary Extractor
}

// NewExtractionRouter routes binary documents to binary, which may be nil
// when only text uploads are to be analyzed.
func NewExtractionRouter(binary Extractor) *ExtractionRouter {
	return &ExtractionRouter{Text: PlainTextExtractor{}, Binary: binary}
}

func (r *ExtractionRouter) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	fileType, ok := models.DetectFileType(fileName, "")
	if !ok {
		return "", fmt.Errorf("unsupported file type for %q", fileName)
	}
	if fileType == "txt" {
		return r.Text.Extract(ctx, data, fileName)
	}
	if r.Binary == nil {
		return "", fmt.Errorf("no extractor configured for %s files", fileType)
	}
	return r.Binary.Extract(ctx, data, fileName)
}
