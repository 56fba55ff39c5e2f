package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/metrics"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/prompts"
	"github.com/Lllllllleong/contractflow/internal/registry"
)

// MaxMessageChars is the longest accepted user message.
const MaxMessageChars = 4000

// PromptContext is everything sent to the model besides the new message.
type PromptContext struct {
	Grounding string
	// History holds the most recent turns, oldest first.
	History []models.ChatTurn
}

// Engine answers questions about analyzed documents.
type Engine struct {
	registry registry.Registry
	llm      Conversationalist
	metrics  *metrics.Metrics
	limits   Limits
	now      func() time.Time
}

// NewEngine wires a conversation engine. m may be nil.
func NewEngine(reg registry.Registry, llm Conversationalist, m *metrics.Metrics, limits Limits) *Engine {
	return &Engine{
		registry: reg,
		llm:      llm,
		metrics:  m,
		limits:   limits,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ask records the user's message, asks the model and records its answer.
// When the model call fails the user turn stays in the log and the document
// status is left alone.
func (e *Engine) Ask(ctx context.Context, documentID, ownerID, message string) (*models.ChatTurn, error) {
	const op = "Ask"
	logCtx := slog.With("documentId", documentID, "ownerId", ownerID)

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.Validation(op, "Please enter a message.")
	}
	if utf8.RuneCountInString(message) > MaxMessageChars {
		return nil, apperr.Validation(op, fmt.Sprintf("Messages must not exceed %d characters.", MaxMessageChars))
	}

	doc, err := loadOwned(ctx, e.registry, op, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusCompleted {
		return nil, apperr.Precondition(op, "Questions can only be asked about documents whose analysis has completed.")
	}

	pc, err := e.BuildContext(ctx, doc)
	if err != nil {
		return nil, err
	}

	userTurn := &models.ChatTurn{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Role:       models.RoleUser,
		Content:    message,
		CreatedAt:  e.now(),
	}
	if err := e.registry.AppendTurn(ctx, userTurn); err != nil {
		return nil, apperr.Internal(op, "Failed to save the message.", err)
	}
	e.metrics.ChatTurn(string(models.RoleUser))

	reply, err := callAdapter(ctx, e.metrics, "conversation", e.limits.ConversationTimeout, func(ctx context.Context) (string, error) {
		return e.llm.Complete(ctx, pc.Grounding, pc.History, message)
	})
	if err != nil {
		logCtx.Error("Conversation model call failed.", "error", err, "userTurnSeq", userTurn.Seq)
		return nil, apperr.Conversation(op, "The assistant could not answer. Please try again.", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		logCtx.Warn("Conversation model returned an empty reply.")
		reply = prompts.EmptyReply
	}

	assistantTurn := &models.ChatTurn{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Role:       models.RoleAssistant,
		Content:    reply,
		CreatedAt:  e.now(),
	}
	if err := e.registry.AppendTurn(ctx, assistantTurn); err != nil {
		return nil, apperr.Internal(op, "Failed to save the answer.", err)
	}
	e.metrics.ChatTurn(string(models.RoleAssistant))

	logCtx.Info("Question answered.", "historyTurns", len(pc.History), "seq", assistantTurn.Seq)
	return assistantTurn, nil
}

// BuildContext assembles the grounding block and the capped history for doc.
func (e *Engine) BuildContext(ctx context.Context, doc *models.Document) (*PromptContext, error) {
	const op = "Ask"
	analysis, err := e.registry.GetAnalysis(ctx, doc.ID)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, apperr.Internal(op, "Failed to load the analysis.", err)
	}
	history, err := e.registry.RecentTurns(ctx, doc.ID, e.limits.HistoryLimit)
	if err != nil {
		return nil, apperr.Internal(op, "Failed to load the conversation.", err)
	}
	return &PromptContext{
		Grounding: RenderGrounding(doc, analysis, e.limits.ContextChars),
		History:   history,
	}, nil
}

// History returns the whole conversation of a document, oldest first.
func (e *Engine) History(ctx context.Context, documentID, ownerID string) ([]models.ChatTurn, error) {
	const op = "History"
	doc, err := loadOwned(ctx, e.registry, op, documentID, ownerID)
	if err != nil {
		return nil, err
	}
	turns, err := e.registry.ListTurns(ctx, doc.ID)
	if err != nil {
		return nil, apperr.Internal(op, "Failed to load the conversation.", err)
	}
	return turns, nil
}

// RenderGrounding formats the fixed grounding block. The contract text is
// cut to maxChars runes; a nil analysis omits the analysis sections.
func RenderGrounding(doc *models.Document, analysis *models.Analysis, maxChars int) string {
	text := ""
	if doc.ExtractedText != nil {
		text = truncateRunes(*doc.ExtractedText, maxChars)
	}
	if strings.TrimSpace(text) == "" {
		text = prompts.NoContent
	}

	var b strings.Builder
	b.WriteString(prompts.ChatRole)
	b.WriteString("\n\nDocument: ")
	b.WriteString(doc.FileName)
	b.WriteString("\n\nContract text:\n")
	b.WriteString(text)
	b.WriteString("\n")

	if analysis != nil {
		b.WriteString("\nAnalysis summary: ")
		b.WriteString(analysis.Summary)
		b.WriteString("\n\nIdentified risks:\n")
		for _, item := range analysis.RiskItems {
			fmt.Fprintf(&b, "- %s: %s\n", item.Title, item.Description)
		}
		b.WriteString("\nRecommendations:\n")
		for _, rec := range analysis.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}

	b.WriteString("\n")
	b.WriteString(prompts.ChatClosing)
	return b.String()
}

// truncateRunes cuts s after n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
