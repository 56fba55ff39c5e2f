// Package services implements the document analysis pipeline: upload
// validation, the analysis orchestrator, the conversation engine and the
// controller that fronts them.
package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/contractflow/internal/config"
	"github.com/Lllllllleong/contractflow/internal/models"
)

// BlobStore holds the raw bytes of uploaded documents.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Extractor turns document bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, fileName string) (string, error)
}

// Analyzer produces an unvalidated risk assessment of contract text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (models.RawAnalysis, error)
}

// Conversationalist answers a user message given the grounding block and the
// prior turns, oldest first.
type Conversationalist interface {
	Complete(ctx context.Context, grounding string, history []models.ChatTurn, userMessage string) (string, error)
}

// Drafter writes a document, such as a contract, from a system and a user prompt.
type Drafter interface {
	Draft(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Dispatcher hands a freshly uploaded document to an asynchronous runner
// that later requests its analysis.
type Dispatcher interface {
	Dispatch(ctx context.Context, documentID, ownerID string) error
}

// Limits bounds adapter calls and request sizes.
type Limits struct {
	BlobTimeout         time.Duration
	ExtractionTimeout   time.Duration
	AnalysisTimeout     time.Duration
	ConversationTimeout time.Duration
	GenerationTimeout   time.Duration
	MaxUploadBytes      int64
	// HistoryLimit is the number of most recent turns sent with each question.
	HistoryLimit int
	// ContextChars caps the contract text embedded in the grounding block.
	ContextChars int
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		BlobTimeout:         time.Minute,
		ExtractionTimeout:   5 * time.Minute,
		AnalysisTimeout:     3 * time.Minute,
		ConversationTimeout: 2 * time.Minute,
		GenerationTimeout:   3 * time.Minute,
		MaxUploadBytes:      50 << 20,
		HistoryLimit:        20,
		ContextChars:        8000,
	}
}

// LimitsFromConfig copies the limits out of the loaded configuration.
func LimitsFromConfig(c *config.Config) Limits {
	return Limits{
		BlobTimeout:         c.BlobTimeout,
		ExtractionTimeout:   c.ExtractionTimeout,
		AnalysisTimeout:     c.AnalysisTimeout,
		ConversationTimeout: c.ConversationTimeout,
		GenerationTimeout:   c.GenerationTimeout,
		MaxUploadBytes:      c.MaxUploadBytes,
		HistoryLimit:        c.HistoryLimit,
		ContextChars:        c.ContextChars,
	}
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, data []byte, fileName string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	return f(ctx, data, fileName)
}
