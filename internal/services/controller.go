package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/metrics"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/registry"
)

// Listing bounds.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Deps are the collaborators of a Controller. Dispatcher, Drafter and Metrics
// are optional.
type Deps struct {
	Registry     registry.Registry
	Blobs        BlobStore
	Extractor    Extractor
	Analyzer     Analyzer
	Conversation Conversationalist
	Drafter      Drafter
	Dispatcher   Dispatcher
	Metrics      *metrics.Metrics
	Limits       Limits
}

// Controller is the single entry point of the pipeline. Every operation
// checks that the caller owns the document before doing anything else.
type Controller struct {
	registry     registry.Registry
	blobs        BlobStore
	dispatcher   Dispatcher
	orchestrator *Orchestrator
	engine       *Engine
	generator    *Generator
	metrics      *metrics.Metrics
	limits       Limits
	now          func() time.Time
}

// NewController builds the orchestrator and the conversation engine from d.
func NewController(d Deps) *Controller {
	return &Controller{
		registry:     d.Registry,
		blobs:        d.Blobs,
		dispatcher:   d.Dispatcher,
		orchestrator: NewOrchestrator(d.Registry, d.Blobs, d.Extractor, d.Analyzer, d.Metrics, d.Limits),
		engine:       NewEngine(d.Registry, d.Conversation, d.Metrics, d.Limits),
		generator:    NewGenerator(d.Registry, d.Drafter, d.Metrics, d.Limits),
		metrics:      d.Metrics,
		limits:       d.Limits,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Upload validates and stores a new document. The registry row is created
// before the bytes are written, so a failed write leaves a Failed document.
func (c *Controller) Upload(ctx context.Context, ownerID string, data []byte, meta UploadMetadata) (*models.Document, error) {
	const op = "Upload"
	v, err := validateUpload(ownerID, data, meta, c.limits.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	now := c.now()
	doc := &models.Document{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		FileName:      v.FileName,
		FileType:      v.FileType,
		MIMEType:      v.MIMEType,
		FileSizeBytes: v.Size,
		FileHash:      v.Hash,
		PageCount:     v.PageCount,
		Status:        models.StatusUploading,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	logCtx := slog.With("documentId", doc.ID, "ownerId", ownerID, "fileType", v.FileType)

	if err := c.registry.CreateDocument(ctx, doc); err != nil {
		return nil, apperr.Internal(op, "Failed to save the document.", err)
	}

	path := blobPath(ownerID, doc.ID, v.FileType, now)
	_, err = callAdapter(ctx, c.metrics, "blob_put", c.limits.BlobTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.blobs.Put(ctx, path, data, v.MIMEType)
	})
	if err != nil {
		logCtx.Error("Blob write failed.", "blobPath", path, "error", err)
		return nil, c.failUpload(ctx, logCtx, doc.ID, apperr.Storage(op, "Failed to upload the file.", err))
	}

	if err := c.registry.SetStorageRef(ctx, doc.ID, path); err != nil {
		logCtx.Error("Failed to record the blob path.", "blobPath", path, "error", err)
		// Nothing points at the blob any more; best effort only.
		if _, derr := callAdapter(context.WithoutCancel(ctx), c.metrics, "blob_delete", c.limits.BlobTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.blobs.Delete(ctx, path)
		}); derr != nil {
			logCtx.Warn("Failed to delete the orphaned blob.", "blobPath", path, "error", derr)
		}
		return nil, c.failUpload(ctx, logCtx, doc.ID, apperr.Internal(op, "Failed to record the stored file.", err))
	}
	doc.StorageRef = &path
	c.metrics.Upload(v.Size)
	logCtx.Info("Document uploaded.", "blobPath", path, "sizeBytes", v.Size, "pageCount", v.PageCount)

	if c.dispatcher != nil {
		if err := c.dispatcher.Dispatch(ctx, doc.ID, ownerID); err != nil {
			logCtx.Error("Failed to dispatch the analysis run.", "error", err)
		} else {
			logCtx.Info("Analysis run dispatched.")
		}
	}
	return doc, nil
}

// failUpload moves a document that never finished uploading to Failed and
// returns cause.
func (c *Controller) failUpload(ctx context.Context, logCtx *slog.Logger, documentID string, cause *apperr.Error) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	err := c.registry.Transition(writeCtx, documentID, []models.Status{models.StatusUploading}, models.StatusFailed,
		registry.TransitionOpts{ErrorDetails: string(cause.Category) + ": " + cause.Message})
	if err != nil {
		logCtx.Error("CRITICAL: Failed to update document status to failed after a processing error.", "updateError", err)
	}
	return cause
}

// RunAnalysis analyzes an uploaded document. See Orchestrator.RunAnalysis.
func (c *Controller) RunAnalysis(ctx context.Context, documentID, ownerID string) (*models.Analysis, error) {
	return c.orchestrator.RunAnalysis(ctx, documentID, ownerID)
}

// Ask answers a question about a completed document. See Engine.Ask.
func (c *Controller) Ask(ctx context.Context, documentID, ownerID, message string) (*models.ChatTurn, error) {
	return c.engine.Ask(ctx, documentID, ownerID, message)
}

// History returns a document's conversation, oldest first.
func (c *Controller) History(ctx context.Context, documentID, ownerID string) ([]models.ChatTurn, error) {
	return c.engine.History(ctx, documentID, ownerID)
}

// GenerateContract drafts and records a contract. See Generator.Generate.
func (c *Controller) GenerateContract(ctx context.Context, ownerID string, req models.GenerateContractRequest) (*models.GeneratedContract, error) {
	return c.generator.Generate(ctx, ownerID, req)
}

// ListContracts pages an owner's generated contracts. See Generator.List.
func (c *Controller) ListContracts(ctx context.Context, ownerID string, page, pageSize int, contractType string) (*models.ContractPage, error) {
	return c.generator.List(ctx, ownerID, page, pageSize, contractType)
}

// Get returns one document with its analysis.
func (c *Controller) Get(ctx context.Context, documentID, ownerID string) (*models.DocumentView, error) {
	const op = "Get"
	doc, err := loadOwned(ctx, c.registry, op, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	doc.ExtractedText = nil
	view := &models.DocumentView{Document: *doc}
	if doc.Status == models.StatusCompleted {
		a, err := c.registry.GetAnalysis(ctx, doc.ID)
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			return nil, apperr.Internal(op, "Failed to load the analysis.", err)
		}
		view.Analysis = a
	}
	return view, nil
}

// List returns one page of the caller's documents, newest first. page starts
// at 1; out of range values fall back to the defaults.
func (c *Controller) List(ctx context.Context, ownerID string, page, pageSize int, filter models.ListFilter) (*models.DocumentPage, error) {
	const op = "List"
	if ownerID == "" {
		return nil, apperr.Validation(op, "An owner is required.")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperr.Validation(op, "Unknown status filter.")
	}
	page, pageSize = pageBounds(page, pageSize)

	items, total, err := c.registry.ListDocuments(ctx, ownerID, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperr.Internal(op, "Failed to list documents.", err)
	}
	if items == nil {
		items = []models.DocumentView{}
	}
	return &models.DocumentPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

// Delete removes a document with its analysis and conversation, then its
// stored bytes. A failed blob delete is logged and does not fail the call.
func (c *Controller) Delete(ctx context.Context, documentID, ownerID string) error {
	const op = "Delete"
	doc, err := loadOwned(ctx, c.registry, op, documentID, ownerID)
	if err != nil {
		return err
	}
	logCtx := slog.With("documentId", doc.ID, "ownerId", ownerID)

	if err := c.registry.DeleteDocument(ctx, doc.ID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return apperr.NotFound(op, "Document not found.")
		}
		return apperr.Internal(op, "Failed to delete the document.", err)
	}

	if doc.StorageRef != nil {
		_, err := callAdapter(ctx, c.metrics, "blob_delete", c.limits.BlobTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.blobs.Delete(ctx, *doc.StorageRef)
		})
		if err != nil {
			logCtx.Warn("Failed to delete the stored file.", "blobPath", *doc.StorageRef, "error", err)
		}
	}
	logCtx.Info("Document deleted.")
	return nil
}

// Statistics summarises the caller's documents; monthly counts cover the
// current calendar month.
func (c *Controller) Statistics(ctx context.Context, ownerID string) (*models.Statistics, error) {
	const op = "Statistics"
	if ownerID == "" {
		return nil, apperr.Validation(op, "An owner is required.")
	}
	now := c.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	stats, err := c.registry.Statistics(ctx, ownerID, monthStart)
	if err != nil {
		return nil, apperr.Internal(op, "Failed to compute statistics.", err)
	}
	return stats, nil
}
