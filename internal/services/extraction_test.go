package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractionRouter(t *testing.T) {
	ctx := context.Background()
	var binaryCalls []string
	binary := ExtractorFunc(func(_ context.Context, _ []byte, fileName string) (string, error) {
		binaryCalls = append(binaryCalls, fileName)
		return "binary text", nil
	})
	r := NewExtractionRouter(binary)

	text, err := r.Extract(ctx, []byte("\ufeffPlain lease."), "lease.TXT")
	require.NoError(t, err)
	assert.Equal(t, "Plain lease.", text)
	assert.Empty(t, binaryCalls)

	text, err = r.Extract(ctx, []byte("%PDF"), "lease.pdf")
	require.NoError(t, err)
	assert.Equal(t, "binary text", text)
	assert.Equal(t, []string{"lease.pdf"}, binaryCalls)

	_, err = r.Extract(ctx, []byte("x"), "photo.png")
	assert.Error(t, err)

	_, err = r.Extract(ctx, []byte{0xff, 0xfe, 0x00}, "bad.txt")
	assert.Error(t, err)
}

func TestExtractionRouterWithoutBinary(t *testing.T) {
	r := NewExtractionRouter(nil)
	_, err := r.Extract(context.Background(), []byte("PK"), "lease.docx")
	assert.ErrorContains(t, err, "no extractor configured for docx")
}
