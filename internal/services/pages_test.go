package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal PDF with the given number of blank pages.
func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()
	var buf bytes.Buffer
	offsets := []int{0}
	object := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.4\n")
	object("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	object(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for range pages {
		object("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)
	return buf.Bytes()
}

// pageRecorder returns the file name it was called with, so the joined text
// shows the page order.
type pageRecorder struct {
	mu    sync.Mutex
	pages []int
}

func (p *pageRecorder) Extract(_ context.Context, data []byte, fileName string) (string, error) {
	count, err := pdfPageCount(data)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.pages = append(p.pages, count)
	p.mu.Unlock()
	return fileName, nil
}

func TestPageSplitExtractorSplitsLongPDFs(t *testing.T) {
	inner := &pageRecorder{}
	e := NewPageSplitExtractor(inner, 3)

	text, err := e.Extract(context.Background(), buildPDF(t, 3), "lease.pdf")
	require.NoError(t, err)
	assert.Equal(t, "page-00001.pdf\n\n---\n\npage-00002.pdf\n\n---\n\npage-00003.pdf", text)
	assert.Equal(t, []int{1, 1, 1}, inner.pages)
}

func TestPageSplitExtractorPassesThrough(t *testing.T) {
	inner := &pageRecorder{}
	e := NewPageSplitExtractor(inner, 3)

	text, err := e.Extract(context.Background(), buildPDF(t, 2), "short.pdf")
	require.NoError(t, err)
	assert.Equal(t, "short.pdf", text)
	assert.Equal(t, []int{2}, inner.pages)

	disabled := NewPageSplitExtractor(inner, 0)
	text, err = disabled.Extract(context.Background(), buildPDF(t, 5), "long.pdf")
	require.NoError(t, err)
	assert.Equal(t, "long.pdf", text)
}

func TestPageSplitExtractorFailsOnPageError(t *testing.T) {
	e := NewPageSplitExtractor(ExtractorFunc(func(_ context.Context, _ []byte, fileName string) (string, error) {
		if fileName == "page-00002.pdf" {
			return "", errAdapter
		}
		return "ok", nil
	}), 2)

	_, err := e.Extract(context.Background(), buildPDF(t, 3), "lease.pdf")
	assert.ErrorIs(t, err, errAdapter)
	assert.ErrorContains(t, err, "page 2")
}

func TestUploadRecordsPDFPageCount(t *testing.T) {
	h := newHarness(t)
	doc, err := h.ctl.Upload(context.Background(), "owner-1", buildPDF(t, 4), UploadMetadata{FileName: "lease.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "pdf", doc.FileType)
	assert.Equal(t, 4, doc.PageCount)
	assert.Equal(t, "application/pdf", doc.MIMEType)
}
