package gcp

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// NewFirestoreClient creates a Firestore client for the given project ID.
// When FIRESTORE_EMULATOR_HOST is set the client library connects to the
// emulator and any project ID is accepted.
func NewFirestoreClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	if projectID == "" {
		if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
			return nil, fmt.Errorf("projectID must be provided to create a firestore client")
		}
		projectID = "contractflow-local"
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}
