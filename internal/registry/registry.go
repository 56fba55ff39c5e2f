// Package registry is the durable record of documents, their analyses and
// their conversation logs. The status column doubles as the per-document
// single-flight guard, so every status change is a compare-and-transition.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/contractflow/internal/models"
)

// Registry errors.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("registry: document not found")
	// ErrStatusConflict is returned when a conditional status update found the
	// document in a status other than the expected prior one.
	ErrStatusConflict = errors.New("registry: document status changed concurrently")
)

// TransitionOpts carries the fields written together with a status change.
type TransitionOpts struct {
	// ErrorDetails replaces the stored failure description; empty clears it.
	ErrorDetails string
}

// Registry persists documents, analyses and chat turns.
type Registry interface {
	// CreateDocument inserts a new document. ID and timestamps must be set.
	CreateDocument(ctx context.Context, doc *models.Document) error
	// GetDocument returns the document with its cached extracted text.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// SetStorageRef records where the document bytes were stored.
	SetStorageRef(ctx context.Context, id, ref string) error
	// Transition moves the document to status to, but only if its current
	// status is one of from. Otherwise it returns ErrStatusConflict.
	Transition(ctx context.Context, id string, from []models.Status, to models.Status, opts TransitionOpts) error
	// CacheExtractedText stores text and moves Parsing -> Analyzing in one update.
	CacheExtractedText(ctx context.Context, id, text string) error
	// CompleteAnalysis inserts the analysis and moves Analyzing -> Completed
	// atomically. Nothing is written when the document is not Analyzing.
	CompleteAnalysis(ctx context.Context, a *models.Analysis) error
	// GetAnalysis returns the analysis of a document or ErrNotFound.
	GetAnalysis(ctx context.Context, documentID string) (*models.Analysis, error)
	// AppendTurn assigns the next sequence number and persists the turn.
	AppendTurn(ctx context.Context, turn *models.ChatTurn) error
	// RecentTurns returns at most limit of the latest turns, oldest first.
	RecentTurns(ctx context.Context, documentID string, limit int) ([]models.ChatTurn, error)
	// ListTurns returns every turn of a document, oldest first.
	ListTurns(ctx context.Context, documentID string) ([]models.ChatTurn, error)
	// ListDocuments returns one page of an owner's documents, newest first,
	// joined with their analyses, plus the total number of matches.
	ListDocuments(ctx context.Context, ownerID string, filter models.ListFilter, limit, offset int) ([]models.DocumentView, int, error)
	// DeleteDocument removes a document with its analysis and chat turns.
	DeleteDocument(ctx context.Context, id string) error
	// Statistics aggregates an owner's documents; since bounds MonthlyAnalyses.
	Statistics(ctx context.Context, ownerID string, since time.Time) (*models.Statistics, error)
	// CreateContract persists a generated contract. ID and CreatedAt must be set.
	CreateContract(ctx context.Context, c *models.GeneratedContract) error
	// ListContracts returns one page of an owner's generated contracts, newest
	// first, plus the total number of matches. A nil contractType matches all.
	ListContracts(ctx context.Context, ownerID string, contractType *models.ContractType, limit, offset int) ([]models.GeneratedContract, int, error)
	Close() error
}

// checkTransition rejects status changes the state machine does not allow.
func checkTransition(from []models.Status, to models.Status) error {
	if len(from) == 0 {
		return fmt.Errorf("registry: transition to %s needs at least one prior status", to)
	}
	for _, f := range from {
		if !models.CanTransition(f, to) {
			return fmt.Errorf("registry: invalid transition %s -> %s", f, to)
		}
	}
	return nil
}

// averageRiskLevel buckets a mean risk weight (1..3) back into a level.
func averageRiskLevel(avg float64) *models.RiskLevel {
	var lvl models.RiskLevel
	switch {
	case avg <= 0:
		return nil
	case avg < 1.5:
		lvl = models.RiskLow
	case avg < 2.5:
		lvl = models.RiskMedium
	default:
		lvl = models.RiskHigh
	}
	return &lvl
}

// completionRate returns completed/total as a rounded percentage.
func completionRate(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(float64(completed)*100/float64(total) + 0.5)
}
