package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/contractflow/internal/filestore"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/registry"
)

var errAdapter = errors.New("adapter unavailable")

const validAnalysisJSON = `{
  "riskLevel": "high",
  "riskScore": 72,
  "summary": "A one-year lease with automatic renewal.",
  "riskItems": [
    {"title": "Automatic renewal", "description": "Renews unless cancelled 90 days ahead.", "recommendation": "Shorten the notice period.", "severity": "high", "clause": "Clause 4.2"},
    {"title": "Late fee", "description": "10% monthly late fee.", "recommendation": "Cap the fee.", "severity": "medium"}
  ],
  "keyClauses": ["Term", "Renewal", "Payment"],
  "recommendations": ["Negotiate the renewal clause.", "Cap late fees."]
}`

// failingBlobs wraps a store and fails selected operations.
type failingBlobs struct {
	BlobStore
	putErr, getErr, deleteErr error
}

func (b *failingBlobs) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if b.putErr != nil {
		return b.putErr
	}
	return b.BlobStore.Put(ctx, path, data, contentType)
}

func (b *failingBlobs) Get(ctx context.Context, path string) ([]byte, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.BlobStore.Get(ctx, path)
}

func (b *failingBlobs) Delete(ctx context.Context, path string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	return b.BlobStore.Delete(ctx, path)
}

// fakeExtractor counts calls. When entered is set, the call announces itself
// and waits for release.
type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	err     error
	text    string
	entered chan struct{}
	release chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	err, text := f.err, f.text
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if text != "" {
		return text, nil
	}
	return string(data), nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExtractor) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// scriptedAnalyzer replies with bodies in order; an empty script falls back
// to a valid analysis.
type scriptedAnalyzer struct {
	mu      sync.Mutex
	replies []analyzerReply
	texts   []string
}

type analyzerReply struct {
	body string
	err  error
}

func (a *scriptedAnalyzer) Analyze(_ context.Context, text string) (models.RawAnalysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	reply := analyzerReply{body: validAnalysisJSON}
	if len(a.replies) > 0 {
		reply, a.replies = a.replies[0], a.replies[1:]
	}
	if reply.err != nil {
		return models.RawAnalysis{}, reply.err
	}
	return models.RawAnalysis{Source: "test", Body: reply.body}, nil
}

// scriptedLLM records each request and replies in order.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []analyzerReply
	requests []llmRequest
}

type llmRequest struct {
	grounding string
	history   []models.ChatTurn
	message   string
}

func (l *scriptedLLM) Complete(_ context.Context, grounding string, history []models.ChatTurn, userMessage string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, llmRequest{grounding: grounding, history: history, message: userMessage})
	reply := analyzerReply{body: "This is an answer."}
	if len(l.replies) > 0 {
		reply, l.replies = l.replies[0], l.replies[1:]
	}
	return reply.body, reply.err
}

func (l *scriptedLLM) last() llmRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests[len(l.requests)-1]
}

// scriptedDrafter records prompts and replies in order; an empty script
// returns a fixed contract.
type scriptedDrafter struct {
	mu      sync.Mutex
	replies []analyzerReply
	system  []string
	user    []string
}

func (d *scriptedDrafter) Draft(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.system = append(d.system, systemPrompt)
	d.user = append(d.user, userPrompt)
	reply := analyzerReply{body: "SERVICE AGREEMENT\n\nArticle 1 (Purpose) ..."}
	if len(d.replies) > 0 {
		reply, d.replies = d.replies[0], d.replies[1:]
	}
	return reply.body, reply.err
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, documentID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, documentID)
	return d.err
}

type harness struct {
	ctl       *Controller
	reg       registry.Registry
	blobs     *failingBlobs
	extractor *fakeExtractor
	analyzer  *scriptedAnalyzer
	llm       *scriptedLLM
	drafter   *scriptedDrafter
}

func testLimits() Limits {
	l := DefaultLimits()
	l.BlobTimeout = 5 * time.Second
	l.ExtractionTimeout = 5 * time.Second
	l.AnalysisTimeout = 5 * time.Second
	l.ConversationTimeout = 5 * time.Second
	l.GenerationTimeout = 5 * time.Second
	return l
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.OpenSQLite(context.Background(), filepath.Join(dir, "registry.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	store, err := filestore.New(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	h := &harness{
		reg:       reg,
		blobs:     &failingBlobs{BlobStore: store},
		extractor: &fakeExtractor{},
		analyzer:  &scriptedAnalyzer{},
		llm:       &scriptedLLM{},
		drafter:   &scriptedDrafter{},
	}
	h.ctl = NewController(Deps{
		Registry:     reg,
		Blobs:        h.blobs,
		Extractor:    h.extractor,
		Analyzer:     h.analyzer,
		Conversation: h.llm,
		Drafter:      h.drafter,
		Limits:       testLimits(),
	})
	return h
}

// upload stores a text contract for owner.
func (h *harness) upload(t *testing.T, owner, text string) *models.Document {
	t.Helper()
	doc, err := h.ctl.Upload(context.Background(), owner, []byte(text), UploadMetadata{FileName: "lease.txt", MIMEType: "text/plain"})
	require.NoError(t, err)
	return doc
}

// completed uploads and analyzes a contract.
func (h *harness) completed(t *testing.T, owner string) *models.Document {
	t.Helper()
	doc := h.upload(t, owner, "1. Term. This lease runs for one year.")
	_, err := h.ctl.RunAnalysis(context.Background(), doc.ID, owner)
	require.NoError(t, err)
	return doc
}

func (h *harness) status(t *testing.T, id string) *models.Document {
	t.Helper()
	doc, err := h.reg.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}
