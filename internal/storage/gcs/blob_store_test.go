package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "storage client")

	_, err = New(&storage.Client{}, Config{})
	require.ErrorContains(t, err, "archive.gcs.bucket")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "text/csv", nil)
	require.ErrorContains(t, err, "path is required")
}

func TestURI(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gs://bucket/runs/a.csv", URI("bucket", "runs/a.csv"))
	assert.Equal(t, "gs://bucket/runs/a.csv", URI("bucket", "/runs/a.csv"))
}
