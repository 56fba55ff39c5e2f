package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/contractflow/internal/filestore"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/registry"
	"github.com/Lllllllleong/contractflow/internal/services"
)

type stubModel struct{}

func (stubModel) Analyze(context.Context, string) (models.RawAnalysis, error) {
	return models.RawAnalysis{Source: "stub", Body: `{"riskLevel":"low","riskScore":20,"summary":"Short lease.",
		"riskItems":[],"keyClauses":["Term"],"recommendations":["Sign."]}`}, nil
}

func (stubModel) Complete(context.Context, string, []models.ChatTurn, string) (string, error) {
	return "It runs for one year.", nil
}

func (stubModel) Draft(context.Context, string, string) (string, error) {
	return "NON-DISCLOSURE AGREEMENT\n\nArticle 1 (Purpose)", nil
}

func newHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := registry.OpenSQLite(context.Background(), filepath.Join(dir, "registry.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	store, err := filestore.New(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	limits := services.DefaultLimits()
	limits.MaxUploadBytes = 1 << 20
	ctl := services.NewController(services.Deps{
		Registry:     reg,
		Blobs:        store,
		Extractor:    services.NewExtractionRouter(nil),
		Analyzer:     stubModel{},
		Conversation: stubModel{},
		Drafter:      stubModel{},
		Limits:       limits,
	})
	return New(ctl, limits.MaxUploadBytes)
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newHandler(t).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, owner string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func uploadFile(t *testing.T, srv *httptest.Server, owner, name, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return do(t, http.MethodPost, srv.URL+"/documents", owner, &buf, mw.FormDataContentType())
}

func TestDocumentFlow(t *testing.T) {
	srv := newServer(t)

	resp := uploadFile(t, srv, "owner-1", "lease.txt", "1. Term. One year.")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[models.UploadResponse](t, resp).Document
	require.NotNil(t, doc)
	assert.Equal(t, "lease.txt", doc.FileName)

	resp = do(t, http.MethodPost, srv.URL+"/documents/"+doc.ID+"/analyze", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	analysis := decode[models.AnalyzeResponse](t, resp).Analysis
	require.NotNil(t, analysis)
	assert.Equal(t, models.RiskLow, analysis.RiskLevel)
	assert.Equal(t, []models.RiskItem{}, analysis.RiskItems)

	resp = do(t, http.MethodPost, srv.URL+"/documents/"+doc.ID+"/chat", "owner-1",
		strings.NewReader(`{"message":"How long is the term?"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	turn := decode[models.ChatResponse](t, resp).Message
	require.NotNil(t, turn)
	assert.Equal(t, "It runs for one year.", turn.Content)

	resp = do(t, http.MethodGet, srv.URL+"/documents/"+doc.ID+"/chat", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[models.ChatHistoryResponse](t, resp).Messages, 2)

	resp = do(t, http.MethodGet, srv.URL+"/documents?status=completed&limit=5", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[models.DocumentPage](t, resp)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)

	resp = do(t, http.MethodGet, srv.URL+"/documents/statistics", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 100, decode[models.Statistics](t, resp).CompletionRate)

	resp = do(t, http.MethodGet, srv.URL+"/documents/"+doc.ID, "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[models.DocumentResponse](t, resp).Document
	require.NotNil(t, view.Analysis)

	resp = do(t, http.MethodDelete, srv.URL+"/documents/"+doc.ID, "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.DeleteResponse](t, resp).Success)

	resp = do(t, http.MethodGet, srv.URL+"/documents/"+doc.ID, "owner-1", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorResponses(t *testing.T) {
	srv := newServer(t)
	resp := uploadFile(t, srv, "owner-1", "lease.txt", "Lease.")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[models.UploadResponse](t, resp).Document

	tests := []struct {
		name     string
		resp     func() *http.Response
		status   int
		category string
	}{
		{
			name:     "missing owner",
			resp:     func() *http.Response { return do(t, http.MethodGet, srv.URL+"/documents", "", nil, "") },
			status:   http.StatusUnauthorized,
			category: "unauthorized",
		},
		{
			name:     "unsupported upload",
			resp:     func() *http.Response { return uploadFile(t, srv, "owner-1", "photo.png", "png") },
			status:   http.StatusBadRequest,
			category: "validation_error",
		},
		{
			name: "oversized upload",
			resp: func() *http.Response {
				return uploadFile(t, srv, "owner-1", "big.txt", strings.Repeat("x", 1<<20+1))
			},
			status:   http.StatusBadRequest,
			category: "validation_error",
		},
		{
			name: "other owner",
			resp: func() *http.Response {
				return do(t, http.MethodGet, srv.URL+"/documents/"+doc.ID, "owner-2", nil, "")
			},
			status:   http.StatusNotFound,
			category: "not_found",
		},
		{
			name: "chat before analysis",
			resp: func() *http.Response {
				return do(t, http.MethodPost, srv.URL+"/documents/"+doc.ID+"/chat", "owner-1",
					strings.NewReader(`{"message":"Hi"}`), "application/json")
			},
			status:   http.StatusConflict,
			category: "precondition_error",
		},
		{
			name: "malformed chat body",
			resp: func() *http.Response {
				return do(t, http.MethodPost, srv.URL+"/documents/"+doc.ID+"/chat", "owner-1",
					strings.NewReader(`{`), "application/json")
			},
			status:   http.StatusBadRequest,
			category: "validation_error",
		},
		{
			name: "bad page",
			resp: func() *http.Response {
				return do(t, http.MethodGet, srv.URL+"/documents?page=two", "owner-1", nil, "")
			},
			status:   http.StatusBadRequest,
			category: "validation_error",
		},
		{
			name: "bad risk level",
			resp: func() *http.Response {
				return do(t, http.MethodGet, srv.URL+"/documents?riskLevel=extreme", "owner-1", nil, "")
			},
			status:   http.StatusBadRequest,
			category: "validation_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp()
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[models.ErrorResponse](t, resp)
			assert.Equal(t, tt.category, body.Category)
			assert.NotEmpty(t, body.Error)
		})
	}
}

// The function entry points pass the document id as a query parameter.
func TestFunctionDispatchers(t *testing.T) {
	h := newHandler(t)
	call := func(handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
		var r io.Reader
		if body != "" {
			r = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, target, r)
		req.Header.Set(OwnerHeader, "owner-1")
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "lease.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Lease."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(OwnerHeader, "owner-1")
	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var uploaded models.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	id := uploaded.Document.ID

	rec = call(h.Analyze, http.MethodPost, "/", `{"documentId":"`+id+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(h.Conversation, http.MethodPost, "/", `{"documentId":"`+id+`","message":"Term?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(h.Conversation, http.MethodGet, "/?documentId="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history models.ChatHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history.Messages, 2)

	rec = call(h.Documents, http.MethodGet, "/?id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var single models.DocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &single))
	assert.Equal(t, id, single.Document.ID)

	rec = call(h.Documents, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.DocumentPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)

	rec = call(h.Documents, http.MethodGet, "/?view=statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completionRate":100`)

	rec = call(h.Documents, http.MethodPut, "/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, DELETE", rec.Header().Get("Allow"))

	rec = call(h.Documents, http.MethodDelete, "/?id="+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(h.Contracts, http.MethodPost, "/", `{"contractType":"lease","partyA":{"name":"Landlord"},"partyB":{"name":"Tenant"},"terms":{"deposit":10000}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = call(h.Contracts, http.MethodGet, "/?type=lease", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var contracts models.ContractPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contracts))
	require.Len(t, contracts.Items, 1)
	assert.Equal(t, map[string]string{"deposit": "10000"}, contracts.Items[0].Terms)

	rec = call(h.Contracts, http.MethodDelete, "/", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestContractFlow(t *testing.T) {
	srv := newServer(t)
	body := `{"contractType":"nda","partyA":{"name":"Acme Ltd","representative":"J. Doe"},
		"partyB":{"name":"B. Smith"},"terms":{"startDate":"2026-11-01"},"additionalClauses":["Two year term."]}`

	resp := do(t, http.MethodPost, srv.URL+"/contracts", "owner-1", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decode[models.GenerateContractResponse](t, resp).Contract
	require.NotNil(t, c)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, models.ContractNDA, c.ContractType)
	assert.Equal(t, "Non-Disclosure Agreement - Acme Ltd", c.Title)
	assert.Contains(t, c.Content, "Article 1")

	resp = do(t, http.MethodGet, srv.URL+"/contracts?limit=5", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[models.ContractPage](t, resp)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.PageSize)
	require.Len(t, page.Items, 1)
	assert.Equal(t, []string{"Two year term."}, page.Items[0].AdditionalClauses)

	resp = do(t, http.MethodGet, srv.URL+"/contracts", "owner-2", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decode[models.ContractPage](t, resp).Total)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		status   int
		category string
	}{
		{"unknown type", http.MethodPost, "/contracts", `{"contractType":"partnership","partyA":{"name":"A"},"partyB":{"name":"B"}}`, http.StatusBadRequest, "validation_error"},
		{"missing party", http.MethodPost, "/contracts", `{"contractType":"nda","partyA":{"name":"A"}}`, http.StatusBadRequest, "validation_error"},
		{"bad json", http.MethodPost, "/contracts", `{`, http.StatusBadRequest, "validation_error"},
		{"bad type filter", http.MethodGet, "/contracts?type=partnership", "", http.StatusBadRequest, "validation_error"},
		{"bad page", http.MethodGet, "/contracts?page=two", "", http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r io.Reader
			if tt.body != "" {
				r = strings.NewReader(tt.body)
			}
			resp := do(t, tt.method, srv.URL+tt.path, "owner-1", r, "application/json")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.category, decode[models.ErrorResponse](t, resp).Category)
		})
	}

	resp = do(t, http.MethodGet, srv.URL+"/contracts", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
