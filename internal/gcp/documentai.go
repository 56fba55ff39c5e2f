package gcp

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/contractflow/internal/models"
)

// DocumentAIExtractor extracts text with a Document AI OCR processor.
type DocumentAIExtractor struct {
	client    *documentai.DocumentProcessorClient
	processor string
}

// NewDocumentAIExtractor connects to the regional Document AI endpoint.
func NewDocumentAIExtractor(ctx context.Context, projectID, location, processorID string) (*DocumentAIExtractor, error) {
	if projectID == "" || processorID == "" {
		return nil, fmt.Errorf("NewDocumentAIExtractor: projectID and processorID cannot be empty")
	}
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	return &DocumentAIExtractor{
		client:    client,
		processor: fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID),
	}, nil
}

// Extract runs the processor over the raw document bytes.
func (e *DocumentAIExtractor) Extract(ctx context.Context, data []byte, fileName string) (string, error) {
	fileType, ok := models.DetectFileType(fileName, "")
	if !ok {
		return "", fmt.Errorf("unsupported file type for %q", fileName)
	}
	mimeType, _ := models.MIMETypeFor(fileType)

	resp, err := e.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: e.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Document.GetText()), nil
}

func (e *DocumentAIExtractor) Close() error { return e.client.Close() }
