package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	payload := `{"url":"https://example.com/"}` + "\n"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/items-bucket/o")
		assert.Equal(t, "exports/run-1/part-00001.jsonl", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		fmt.Fprintln(w, `{"name":"exports/run-1/part-00001.jsonl","bucket":"items-bucket"}`)
	})

	store := newTestStore(t, handler, Config{Bucket: "items-bucket", Prefix: "/exports/"})
	uri, err := store.PutObject(context.Background(), "run-1/part-00001.jsonl", "application/x-ndjson", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://items-bucket/exports/run-1/part-00001.jsonl", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler, Config{Bucket: "items-bucket"})

	_, err := store.PutObject(context.Background(), "part.jsonl", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{Bucket: "  "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "/", "", strings.NewReader("x"))
	require.Error(t, err)
	require.NoError(t, store.Close())
}
