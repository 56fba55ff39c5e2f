package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectExists is returned by Put when an object already exists at the path.
var ErrObjectExists = errors.New("gcs: object already exists")

// BlobStore keeps uploaded document bytes in a single GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// NewBlobStore creates a storage client for bucket.
func NewBlobStore(ctx context.Context, bucket string) (*BlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewBlobStore: bucket cannot be empty")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// Put writes data to path only if no object exists there yet. Paths carry a
// unique suffix, so a collision is reported rather than overwritten.
func (s *BlobStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	writer := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return s.writeError(path, err)
	}
	if err := writer.Close(); err != nil {
		return s.writeError(path, err)
	}
	return nil
}

func (s *BlobStore) writeError(path string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		slog.Warn("Object already exists.", "gcsBucket", s.bucket, "gcsObject", path)
		return fmt.Errorf("gs://%s/%s: %w", s.bucket, path, ErrObjectExists)
	}
	return fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, path, err)
}

// Get reads the whole object at path.
func (s *BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.bucket, path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, path, err)
	}
	return data, nil
}

// Delete removes the object at path. A missing object is not an error.
func (s *BlobStore) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", s.bucket, path, err)
	}
	return nil
}

// URI returns the gs:// URI of path.
func (s *BlobStore) URI(path string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, path)
}

func (s *BlobStore) Close() error { return s.client.Close() }
