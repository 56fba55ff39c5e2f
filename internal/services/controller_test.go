package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/registry"
)

func TestUploadStoresDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.ctl.Upload(ctx, "owner-1", []byte("Lease terms."), UploadMetadata{FileName: "dir/Lease.TXT"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploading, doc.Status)
	assert.Equal(t, "Lease.TXT", doc.FileName)
	assert.Equal(t, "txt", doc.FileType)
	assert.Equal(t, "text/plain", doc.MIMEType)
	assert.Equal(t, int64(12), doc.FileSizeBytes)
	assert.Len(t, doc.FileHash, 64)
	require.NotNil(t, doc.StorageRef)
	assert.True(t, strings.HasPrefix(*doc.StorageRef, "owner-1/"))
	assert.True(t, strings.HasSuffix(*doc.StorageRef, "-"+doc.ID+".txt"))

	data, err := h.blobs.Get(ctx, *doc.StorageRef)
	require.NoError(t, err)
	assert.Equal(t, "Lease terms.", string(data))

	stored := h.status(t, doc.ID)
	assert.Equal(t, doc.StorageRef, stored.StorageRef)
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t)
	h.ctl.limits.MaxUploadBytes = 16
	ctx := context.Background()

	tests := []struct {
		name  string
		owner string
		data  []byte
		meta  UploadMetadata
	}{
		{"missing owner", "", []byte("x"), UploadMetadata{FileName: "a.txt"}},
		{"empty file", "owner-1", nil, UploadMetadata{FileName: "a.txt"}},
		{"too large", "owner-1", []byte(strings.Repeat("x", 17)), UploadMetadata{FileName: "a.txt"}},
		{"unsupported type", "owner-1", []byte("x"), UploadMetadata{FileName: "a.png", MIMEType: "image/png"}},
		{"broken pdf", "owner-1", []byte("%PDF-1.7 broken"), UploadMetadata{FileName: "a.pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ctl.Upload(ctx, tt.owner, tt.data, tt.meta)
			assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
		})
	}

	page, err := h.ctl.List(ctx, "owner-1", 1, 10, models.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestUploadBlobFailureMarksDocumentFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.blobs.putErr = errAdapter

	_, err := h.ctl.Upload(ctx, "owner-1", []byte("Lease."), UploadMetadata{FileName: "a.txt"})
	assert.Equal(t, apperr.CategoryStorage, apperr.CategoryOf(err))

	page, err := h.ctl.List(ctx, "owner-1", 1, 10, models.ListFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.StatusFailed, page.Items[0].Status)
	assert.Nil(t, page.Items[0].StorageRef)
	assert.Contains(t, page.Items[0].ErrorDetails, "storage_error")

	_, err = h.ctl.RunAnalysis(ctx, page.Items[0].ID, "owner-1")
	assert.Equal(t, apperr.CategoryPrecondition, apperr.CategoryOf(err))
}

// storageRefFailure fails every SetStorageRef call.
type storageRefFailure struct {
	registry.Registry
}

func (storageRefFailure) SetStorageRef(context.Context, string, string) error { return errAdapter }

func TestUploadStorageRefFailureMarksDocumentFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctl := NewController(Deps{
		Registry:     storageRefFailure{Registry: h.reg},
		Blobs:        h.blobs,
		Extractor:    h.extractor,
		Analyzer:     h.analyzer,
		Conversation: h.llm,
		Limits:       testLimits(),
	})

	_, err := ctl.Upload(ctx, "owner-1", []byte("Lease."), UploadMetadata{FileName: "a.txt"})
	assert.Equal(t, apperr.CategoryInternal, apperr.CategoryOf(err))

	page, err := h.ctl.List(ctx, "owner-1", 1, 10, models.ListFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.StatusFailed, page.Items[0].Status)
	assert.Equal(t, "internal_error: Failed to record the stored file.", page.Items[0].ErrorDetails)
	assert.Nil(t, page.Items[0].StorageRef)
}

func TestUploadNamesCarryDetectedType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ctl := NewController(Deps{
		Registry:     h.reg,
		Blobs:        h.blobs,
		Extractor:    NewExtractionRouter(nil),
		Analyzer:     h.analyzer,
		Conversation: h.llm,
		Limits:       testLimits(),
	})

	tests := []struct {
		name string
		want string
	}{
		{"contract", "contract.txt"},
		{"lease.v2", "lease.v2.txt"},
		{"", "document.txt"},
		{"notes.TXT", "notes.TXT"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			doc, err := ctl.Upload(ctx, "owner-1", []byte("1. Term. This lease runs for one year."),
				UploadMetadata{FileName: tt.name, MIMEType: "text/plain"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.FileName)
			assert.Equal(t, "txt", doc.FileType)

			a, err := ctl.RunAnalysis(ctx, doc.ID, "owner-1")
			require.NoError(t, err)
			assert.Equal(t, models.RiskHigh, a.RiskLevel)
			assert.Equal(t, models.StatusCompleted, h.status(t, doc.ID).Status)
		})
	}
}

func TestUploadDispatchesAnalysis(t *testing.T) {
	h := newHarness(t)
	d := &recordingDispatcher{}
	h.ctl.dispatcher = d

	doc := h.upload(t, "owner-1", "Lease.")
	assert.Equal(t, []string{doc.ID}, d.ids)

	d.err = errAdapter
	second := h.upload(t, "owner-1", "Another lease.")
	assert.Equal(t, []string{doc.ID, second.ID}, d.ids)
	assert.Equal(t, models.StatusUploading, second.Status)
}

func TestGetJoinsAnalysis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.completed(t, "owner-1")

	view, err := h.ctl.Get(ctx, doc.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Status)
	require.NotNil(t, view.Analysis)
	assert.Equal(t, models.RiskHigh, view.Analysis.RiskLevel)
	assert.Nil(t, view.ExtractedText)

	_, err = h.ctl.Get(ctx, doc.ID, "owner-2")
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))
	_, err = h.ctl.Get(ctx, "", "owner-1")
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}

func TestListPaginationAndFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for range 3 {
		h.upload(t, "owner-1", "Lease.")
	}
	h.completed(t, "owner-1")
	h.upload(t, "owner-2", "Other owner.")

	page, err := h.ctl.List(ctx, "owner-1", 0, 0, models.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 1, page.TotalPages)

	page, err = h.ctl.List(ctx, "owner-1", 2, 3, models.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 1)

	completed := models.StatusCompleted
	page, err = h.ctl.List(ctx, "owner-1", 1, 500, models.ListFilter{Status: &completed})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.PageSize)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Items[0].Analysis)

	low := models.RiskLow
	page, err = h.ctl.List(ctx, "owner-1", 1, 10, models.ListFilter{RiskLevel: &low})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	bogus := models.Status("archived")
	_, err = h.ctl.List(ctx, "owner-1", 1, 10, models.ListFilter{Status: &bogus})
	assert.Equal(t, apperr.CategoryValidation, apperr.CategoryOf(err))
}

func TestDeleteRemovesEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.completed(t, "owner-1")
	_, err := h.ctl.Ask(ctx, doc.ID, "owner-1", "Question?")
	require.NoError(t, err)

	err = h.ctl.Delete(ctx, doc.ID, "owner-2")
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))

	require.NoError(t, h.ctl.Delete(ctx, doc.ID, "owner-1"))

	_, err = h.ctl.Get(ctx, doc.ID, "owner-1")
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))
	turns, err := h.reg.ListTurns(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
	_, err = h.blobs.Get(ctx, *doc.StorageRef)
	assert.Error(t, err)
}

func TestDeleteToleratesBlobFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, "owner-1", "Lease.")
	h.blobs.deleteErr = errAdapter

	require.NoError(t, h.ctl.Delete(ctx, doc.ID, "owner-1"))
	_, err := h.ctl.Get(ctx, doc.ID, "owner-1")
	assert.Equal(t, apperr.CategoryNotFound, apperr.CategoryOf(err))
}

func TestStatistics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.completed(t, "owner-1")
	h.upload(t, "owner-1", "Pending lease.")

	stats, err := h.ctl.Statistics(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 1, stats.CompletedDocuments)
	assert.Equal(t, 50, stats.CompletionRate)
	assert.Equal(t, 1, stats.TotalAnalyses)
	assert.Equal(t, 1, stats.MonthlyAnalyses)
	require.NotNil(t, stats.AverageRiskLevel)
	assert.Equal(t, models.RiskHigh, *stats.AverageRiskLevel)
}

// Upload, analyze, ask and list in one flow.
func TestDocumentLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.upload(t, "owner-1", "1. Term. One year.\n2. Renewal. Automatic.")
	assert.Equal(t, models.StatusUploading, doc.Status)

	analysis, err := h.ctl.RunAnalysis(ctx, doc.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, analysis.DocumentID)
	assert.Equal(t, "owner-1", analysis.OwnerID)

	answer, err := h.ctl.Ask(ctx, doc.ID, "owner-1", "Does it renew automatically?")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, answer.Role)

	page, err := h.ctl.List(ctx, "owner-1", 1, 10, models.ListFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, models.StatusCompleted, page.Items[0].Status)
	require.NotNil(t, page.Items[0].Analysis)
	assert.Equal(t, analysis.ID, page.Items[0].Analysis.ID)

	history, err := h.ctl.History(ctx, doc.ID, "owner-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
