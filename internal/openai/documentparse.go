package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/Lllllllleong/contractflow/internal/models"
)

// DefaultDocumentParseURL is the Upstage Document Parse endpoint.
const DefaultDocumentParseURL = "https://api.upstage.ai/v1/document-ai/document-parse"

// DocumentParseConfig holds configuration for the DocumentParser.
type DocumentParseConfig struct {
	APIKey string
	URL    string
	// Model is the parse model name, document-parse when empty.
	Model   string
	Timeout time.Duration
}

// DocumentParser extracts markdown from PDF and Word files with the Upstage
// Document Parse API.
type DocumentParser struct {
	http   *http.Client
	url    string
	apiKey string
	model  string
}

type documentParseResponse struct {
	Content struct {
		Markdown string `json:"markdown"`
		Text     string `json:"text"`
	} `json:"content"`
	Usage struct {
		Pages int `json:"pages"`
	} `json:"usage"`
}

// NewDocumentParser creates a parser, applying defaults to unset fields.
func NewDocumentParser(cfg DocumentParseConfig) (*DocumentParser, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: document parse API key is required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultDocumentParseURL
	}
	if cfg.Model == "" {
		cfg.Model = "document-parse"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &DocumentParser{
		http:   &http.Client{Timeout: cfg.Timeout},
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}, nil
}

// Extract uploads data and returns the markdown rendering of the document.
func (p *DocumentParser) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	body, contentType, err := p.multipartBody(data, fileName)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, body)
	if err != nil {
		return "", fmt.Errorf("openai: create document parse request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: send document parse request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: read document parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai: document parse returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed documentParseResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("openai: decode document parse response: %w", err)
	}
	if parsed.Content.Markdown != "" {
		return parsed.Content.Markdown, nil
	}
	return parsed.Content.Text, nil
}

func (p *DocumentParser) multipartBody(data []byte, fileName string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mimeType := "application/octet-stream"
	if fileType, ok := models.DetectFileType(fileName, ""); ok {
		mimeType, _ = models.MIMETypeFor(fileType)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="document"; filename=%q`, path.Base(fileName)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("openai: create document part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("openai: write document part: %w", err)
	}

	for _, field := range [][2]string{
		{"output_formats", `["markdown"]`},
		{"model", p.model},
		{"ocr", "auto"},
	} {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("openai: write %s field: %w", field[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("openai: close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
