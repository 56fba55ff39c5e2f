package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/contractflow/internal/models"
)

// pageSeparator joins the transcriptions of consecutive pages.
const pageSeparator = "\n\n---\n\n"

// maxConcurrentPages bounds the page transcriptions in flight for one document.
const maxConcurrentPages = 10

// PageSplitExtractor transcribes long PDFs one page at a time. PDFs with at
// least Threshold pages are split locally, every page is sent to Inner
// concurrently, and the page texts are joined in page order. Other documents
// go to Inner unchanged.
type PageSplitExtractor struct {
	Inner     Extractor
	Threshold int
}

// NewPageSplitExtractor wraps inner. A threshold of zero or less disables splitting.
func NewPageSplitExtractor(inner Extractor, threshold int) *PageSplitExtractor {
	return &PageSplitExtractor{Inner: inner, Threshold: threshold}
}

func (e *PageSplitExtractor) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	if e.Threshold <= 0 {
		return e.Inner.Extract(ctx, data, fileName)
	}
	if fileType, _ := models.DetectFileType(fileName, ""); fileType != "pdf" {
		return e.Inner.Extract(ctx, data, fileName)
	}
	pageCount, err := pdfPageCount(data)
	if err != nil {
		return "", fmt.Errorf("failed to read page count: %w", err)
	}
	if pageCount < e.Threshold {
		return e.Inner.Extract(ctx, data, fileName)
	}

	logCtx := slog.With("fileName", fileName, "pageCount", pageCount)
	logCtx.Info("Splitting document for page-wise extraction.")

	pages, err := splitPages(data, pageCount)
	if err != nil {
		return "", err
	}

	texts := make([]string, len(pages))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentPages)
	for i, page := range pages {
		eg.Go(func() error {
			text, err := e.Inner.Extract(gctx, page, fmt.Sprintf("page-%05d.pdf", i+1))
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, text := range texts {
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(pageSeparator)
		}
		b.WriteString(text)
	}
	logCtx.Info("Page-wise extraction complete.", "chars", b.Len())
	return b.String(), nil
}

// splitPages writes data to a scratch directory and splits it into
// single-page PDFs, returned in page order.
func splitPages(data []byte, pageCount int) ([][]byte, error) {
	tempDir, err := os.MkdirTemp("", "contract-pages-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	source := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(source, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write source PDF: %w", err)
	}
	if err := api.SplitFile(source, tempDir, 1, relaxedPDFConfig()); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}

	pages := make([][]byte, pageCount)
	for i := range pages {
		page, err := os.ReadFile(filepath.Join(tempDir, fmt.Sprintf("source_%d.pdf", i+1)))
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", i+1, err)
		}
		pages[i] = page
	}
	return pages, nil
}
