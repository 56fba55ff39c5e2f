package services

import (
	"context"
	"errors"
	"time"

	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/metrics"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/registry"
)

// statusWriteTimeout bounds the Failed transition written after an error,
// which must succeed even when the caller's context is already done.
const statusWriteTimeout = 10 * time.Second

// loadOwned fetches a document and hides it from anyone but its owner.
func loadOwned(ctx context.Context, reg registry.Registry, op, documentID, ownerID string) (*models.Document, error) {
	if documentID == "" {
		return nil, apperr.Validation(op, "A document ID is required.")
	}
	doc, err := reg.GetDocument(ctx, documentID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, apperr.NotFound(op, "Document not found.")
	}
	if err != nil {
		return nil, apperr.Internal(op, "Failed to load the document.", err)
	}
	if doc.OwnerID != ownerID {
		return nil, apperr.NotFound(op, "Document not found.")
	}
	return doc, nil
}

// callAdapter runs fn under its own timeout and records its duration.
func callAdapter[T any](ctx context.Context, m *metrics.Metrics, adapter string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	v, err := fn(callCtx)
	m.ObserveAdapter(adapter, start, err)
	return v, err
}

// pageBounds clamps a requested page and page size to the listing bounds.
func pageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func totalPages(total, pageSize int) int {
	return (total + pageSize - 1) / pageSize
}
