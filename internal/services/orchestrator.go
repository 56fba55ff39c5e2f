package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/metrics"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/registry"
)

// Orchestrator drives one document through extraction and analysis. The
// registry status is the only lock: a run starts with a conditional
// transition and every later write is conditional on the status it set.
type Orchestrator struct {
	registry  registry.Registry
	blobs     BlobStore
	extractor Extractor
	analyzer  Analyzer
	metrics   *metrics.Metrics
	limits    Limits
	now       func() time.Time
}

// NewOrchestrator wires an orchestrator. m may be nil.
func NewOrchestrator(reg registry.Registry, blobs BlobStore, extractor Extractor, analyzer Analyzer, m *metrics.Metrics, limits Limits) *Orchestrator {
	return &Orchestrator{
		registry:  reg,
		blobs:     blobs,
		extractor: extractor,
		analyzer:  analyzer,
		metrics:   m,
		limits:    limits,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunAnalysis extracts (unless cached) and analyzes a document, then stores
// the analysis together with the Completed status. Any failure after the run
// started leaves the document Failed with the error recorded.
func (o *Orchestrator) RunAnalysis(ctx context.Context, documentID, ownerID string) (*models.Analysis, error) {
	const op = "RunAnalysis"
	logCtx := slog.With("documentId", documentID, "ownerId", ownerID)

	doc, err := loadOwned(ctx, o.registry, op, documentID, ownerID)
	if err != nil {
		return nil, err
	}

	switch {
	case doc.Status == models.StatusCompleted:
		return nil, apperr.Precondition(op, "The document has already been analyzed.")
	case doc.Status.InProgress():
		return nil, apperr.Concurrency(op, "The document is already being analyzed.")
	case !doc.HasExtractedText() && doc.StorageRef == nil:
		return nil, apperr.Precondition(op, "The document file has not been stored.")
	}

	from := []models.Status{models.StatusUploading, models.StatusFailed}
	target := models.StatusParsing
	if doc.HasExtractedText() {
		from = []models.Status{models.StatusFailed}
		target = models.StatusAnalyzing
	}
	if err := o.registry.Transition(ctx, doc.ID, from, target, registry.TransitionOpts{}); err != nil {
		if errors.Is(err, registry.ErrStatusConflict) {
			return nil, apperr.Concurrency(op, "The document is already being analyzed.")
		}
		if errors.Is(err, registry.ErrNotFound) {
			return nil, apperr.NotFound(op, "Document not found.")
		}
		return nil, apperr.Internal(op, "Failed to start the analysis.", err)
	}
	logCtx.Info("Analysis run started.", "status", target)
	start := time.Now()

	text := ""
	if doc.HasExtractedText() {
		text = *doc.ExtractedText
		logCtx.Info("Reusing cached extracted text.", "chars", len(text))
	} else {
		text, err = o.extract(ctx, doc)
		if err != nil {
			return nil, o.fail(ctx, logCtx, doc.ID, models.StatusParsing, err)
		}
		if err := o.registry.CacheExtractedText(ctx, doc.ID, text); err != nil {
			return nil, o.fail(ctx, logCtx, doc.ID, models.StatusParsing,
				apperr.Internal(op, "Failed to save the extracted text.", err))
		}
		logCtx.Info("Extracted text cached.", "chars", len(text))
	}

	raw, err := callAdapter(ctx, o.metrics, "analysis", o.limits.AnalysisTimeout, func(ctx context.Context) (models.RawAnalysis, error) {
		return o.analyzer.Analyze(ctx, text)
	})
	if err != nil {
		return nil, o.fail(ctx, logCtx, doc.ID, models.StatusAnalyzing,
			apperr.Analysis(op, "The analysis service failed.", err))
	}

	analysis, notices, err := RepairAnalysis(raw)
	if err != nil {
		logCtx.Error("Analysis response is not usable.", "error", err, "source", raw.Source, "responseBody", raw.Body)
		return nil, o.fail(ctx, logCtx, doc.ID, models.StatusAnalyzing,
			apperr.Analysis(op, "The analysis result could not be read.", err))
	}
	for _, n := range notices {
		logCtx.Warn("Schema repair applied.", "field", n.Field, "reason", n.Reason, "source", raw.Source)
		o.metrics.SchemaRepair(n.Field)
	}

	analysis.ID = uuid.NewString()
	analysis.DocumentID = doc.ID
	analysis.OwnerID = doc.OwnerID
	analysis.ProcessingTimeMs = time.Since(start).Milliseconds()
	analysis.CreatedAt = o.now()

	if err := o.registry.CompleteAnalysis(ctx, analysis); err != nil {
		return nil, o.fail(ctx, logCtx, doc.ID, models.StatusAnalyzing,
			apperr.Internal(op, "Failed to save the analysis.", err))
	}

	o.metrics.AnalysisRun(string(models.StatusCompleted))
	logCtx.Info("Analysis completed.", "riskLevel", analysis.RiskLevel, "riskScore", analysis.RiskScore,
		"repairs", len(notices), "processingTimeMs", analysis.ProcessingTimeMs)
	return analysis, nil
}

// extract loads the stored bytes and runs the extraction adapter.
func (o *Orchestrator) extract(ctx context.Context, doc *models.Document) (string, error) {
	const op = "RunAnalysis"
	data, err := callAdapter(ctx, o.metrics, "blob_get", o.limits.BlobTimeout, func(ctx context.Context) ([]byte, error) {
		return o.blobs.Get(ctx, *doc.StorageRef)
	})
	if err != nil {
		return "", apperr.Storage(op, "Failed to read the stored document.", err)
	}

	text, err := callAdapter(ctx, o.metrics, "extraction", o.limits.ExtractionTimeout, func(ctx context.Context) (string, error) {
		return o.extractor.Extract(ctx, data, doc.FileName)
	})
	if err != nil {
		return "", apperr.Extraction(op, "Failed to extract text from the document.", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperr.Extraction(op, "No text could be extracted from the document.", nil)
	}
	return text, nil
}

// fail moves the document from its current run status to Failed and returns
// err. The status write outlives a cancelled request context.
func (o *Orchestrator) fail(ctx context.Context, logCtx *slog.Logger, documentID string, from models.Status, err error) error {
	cat := apperr.CategoryOf(err)
	logCtx.Error("Analysis run failed.", "category", cat, "error", err)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	details := fmt.Sprintf("%s: %s", cat, apperr.PublicMessage(err))
	if uerr := o.registry.Transition(writeCtx, documentID, []models.Status{from}, models.StatusFailed,
		registry.TransitionOpts{ErrorDetails: details}); uerr != nil {
		logCtx.Error("CRITICAL: Failed to update document status to failed after a processing error.", "updateError", uerr)
	}
	o.metrics.AnalysisRun(string(cat))
	return err
}
