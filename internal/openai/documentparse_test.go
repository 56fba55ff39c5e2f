package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer parse-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, `["markdown"]`, r.FormValue("output_formats"))
		assert.Equal(t, "document-parse", r.FormValue("model"))
		assert.Equal(t, "auto", r.FormValue("ocr"))

		file, header, err := r.FormFile("document")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "lease.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.7", string(data))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDocumentParserRequiresKey(t *testing.T) {
	_, err := NewDocumentParser(DocumentParseConfig{})
	assert.Error(t, err)

	p, err := NewDocumentParser(DocumentParseConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultDocumentParseURL, p.url)
	assert.Equal(t, "document-parse", p.model)
}

func TestDocumentParserExtract(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"markdown", `{"content":{"markdown":"# Lease\n\n1. Term","text":"Lease 1. Term"},"usage":{"pages":1}}`, "# Lease\n\n1. Term"},
		{"text fallback", `{"content":{"text":"Lease 1. Term"},"usage":{"pages":1}}`, "Lease 1. Term"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newParseServer(t, http.StatusOK, tt.body)
			p, err := NewDocumentParser(DocumentParseConfig{APIKey: "parse-key", URL: srv.URL})
			require.NoError(t, err)

			text, err := p.Extract(context.Background(), []byte("%PDF-1.7"), "uploads/lease.pdf")
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestDocumentParserErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http status", http.StatusUnauthorized, `{"error":"invalid key"}`},
		{"bad json", http.StatusOK, `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newParseServer(t, tt.status, tt.body)
			p, err := NewDocumentParser(DocumentParseConfig{APIKey: "parse-key", URL: srv.URL})
			require.NoError(t, err)

			_, err = p.Extract(context.Background(), []byte("%PDF-1.7"), "lease.pdf")
			assert.Error(t, err)
		})
	}
}
