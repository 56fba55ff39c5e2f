package registry

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestFirestoreRegistry runs against the Firestore emulator when
// FIRESTORE_EMULATOR_HOST is set. Each subtest uses its own collection.
func TestFirestoreRegistry(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("skipping: FIRESTORE_EMULATOR_HOST is not set")
	}

	runRegistrySuite(t, func(t *testing.T) Registry {
		client, err := firestore.NewClient(context.Background(), "contractflow-test")
		require.NoError(t, err)
		reg := NewFirestoreRegistry(client, "documents-"+uuid.NewString()[:8])
		t.Cleanup(func() { _ = reg.Close() })
		return reg
	})
}
