// Package httpapi adapts the pipeline controller to HTTP. The same handlers
// back the Cloud Functions entry points and the local chi server.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/services"
)

// OwnerHeader carries the authenticated principal, set by the upstream gateway.
const OwnerHeader = "X-Owner-ID"

// multipartOverhead is allowed on top of the file size limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

// Handler serves the document endpoints.
type Handler struct {
	ctl            *services.Controller
	maxUploadBytes int64
}

// New returns a Handler that rejects uploads larger than maxUploadBytes.
func New(ctl *services.Controller, maxUploadBytes int64) *Handler {
	return &Handler{ctl: ctl, maxUploadBytes: maxUploadBytes}
}

// Upload accepts a multipart form with the contract in the "file" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperr.Validation("Upload", fmt.Sprintf("File size must not exceed %d MB.", h.maxUploadBytes>>20)))
			return
		}
		writeError(w, r, apperr.Wrap(apperr.CategoryValidation, "Upload", "Please select a file.", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.CategoryValidation, "Upload", "Failed to read the uploaded file.", err))
		return
	}
	doc, err := h.ctl.Upload(r.Context(), owner, data, services.UploadMetadata{
		FileName: header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.UploadResponse{Document: doc})
}

// Analyze runs the analysis of the document named by the path or the body.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	id := documentID(r)
	if id == "" {
		var req models.AnalyzeRequest
		if !decodeJSON(w, r, "Analyze", &req) {
			return
		}
		id = req.DocumentID
	}
	analysis, err := h.ctl.RunAnalysis(r.Context(), id, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.AnalyzeResponse{Analysis: analysis})
}

// Chat asks a question about a completed document.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req models.ChatRequest
	if !decodeJSON(w, r, "Ask", &req) {
		return
	}
	if id := documentID(r); id != "" {
		req.DocumentID = id
	}
	turn, err := h.ctl.Ask(r.Context(), req.DocumentID, owner, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ChatResponse{Message: turn})
}

// ChatHistory returns the full conversation of a document.
func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	turns, err := h.ctl.History(r.Context(), documentID(r), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ChatHistoryResponse{Messages: turns})
}

// GetDocument returns one document with its analysis.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	view, err := h.ctl.Get(r.Context(), documentID(r), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.DocumentResponse{Document: view})
}

// ListDocuments serves ?page=&limit=&status=&riskLevel=.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"))
	if err != nil {
		writeError(w, r, apperr.Validation("List", "page must be a number."))
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, r, apperr.Validation("List", "limit must be a number."))
		return
	}

	var filter models.ListFilter
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		status := models.Status(strings.ToLower(s))
		filter.Status = &status
	}
	if s := strings.TrimSpace(q.Get("riskLevel")); s != "" {
		level, ok := models.ParseRiskLevel(s)
		if !ok {
			writeError(w, r, apperr.Validation("List", "Unknown risk level filter."))
			return
		}
		filter.RiskLevel = &level
	}

	result, err := h.ctl.List(r.Context(), owner, page, limit, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeleteDocument removes a document and everything attached to it.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if err := h.ctl.Delete(r.Context(), documentID(r), owner); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.DeleteResponse{Success: true})
}

// Statistics summarises the caller's documents.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	stats, err := h.ctl.Statistics(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GenerateContract drafts a contract from the request body.
func (h *Handler) GenerateContract(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req models.GenerateContractRequest
	if !decodeJSON(w, r, "GenerateContract", &req) {
		return
	}
	c, err := h.ctl.GenerateContract(r.Context(), owner, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.GenerateContractResponse{Contract: c})
}

// ListContracts serves ?page=&limit=&type=.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"))
	if err != nil {
		writeError(w, r, apperr.Validation("ListContracts", "page must be a number."))
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, r, apperr.Validation("ListContracts", "limit must be a number."))
		return
	}
	result, err := h.ctl.ListContracts(r.Context(), owner, page, limit, strings.TrimSpace(q.Get("type")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Documents serves the document manager function: GET lists, or fetches when
// ?id= is given, and DELETE removes.
func (h *Handler) Documents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("view") == "statistics" {
			h.Statistics(w, r)
		} else if documentID(r) != "" {
			h.GetDocument(w, r)
		} else {
			h.ListDocuments(w, r)
		}
	case http.MethodDelete:
		h.DeleteDocument(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

// Conversation serves the chat function: POST asks, GET returns the history.
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Chat(w, r)
	case http.MethodGet:
		h.ChatHistory(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// Contracts serves the contract generator function: POST drafts, GET lists.
func (h *Handler) Contracts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.GenerateContract(w, r)
	case http.MethodGet:
		h.ListContracts(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// Routes mounts every endpoint on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/", h.ListDocuments)
		r.Get("/statistics", h.Statistics)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetDocument)
			r.Delete("/", h.DeleteDocument)
			r.Post("/analyze", h.Analyze)
			r.Post("/chat", h.Chat)
			r.Get("/chat", h.ChatHistory)
		})
	})
	r.Route("/contracts", func(r chi.Router) {
		r.Post("/", h.GenerateContract)
		r.Get("/", h.ListContracts)
	})
	return r
}

// documentID reads the id path parameter, falling back to ?id= and ?documentId=.
func documentID(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "" {
		return id
	}
	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		return id
	}
	return q.Get("documentId")
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		slog.Warn("Request without an owner header.", "path", r.URL.Path)
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Category: "unauthorized", Error: "Authentication required."})
		return "", false
	}
	return owner, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, apperr.Wrap(apperr.CategoryValidation, op, "Request body must be valid JSON.", err))
		return false
	}
	return true
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Category: string(apperr.CategoryValidation), Error: "Method not allowed."})
}

// writeError renders err with its category. The wrapped cause is logged and
// never sent to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	cat := apperr.CategoryOf(err)
	status := apperr.HTTPStatus(cat)
	logCtx := slog.With("path", r.URL.Path, "method", r.Method, "category", cat, "status", status)
	if status >= http.StatusInternalServerError {
		logCtx.Error("Request failed.", "error", err)
	} else {
		logCtx.Info("Request rejected.", "error", err)
	}
	writeJSON(w, status, models.ErrorResponse{Category: string(cat), Error: apperr.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}
