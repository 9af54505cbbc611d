package export

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/storage/memory"
)

type flakyStore struct {
	*memory.BlobStore
	failures int
}

func (f *flakyStore) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	if f.failures > 0 {
		f.failures--
		return "", errors.New("unavailable")
	}
	return f.BlobStore.PutObject(ctx, path, contentType, r)
}

func TestSinkWritesPartsPerBatch(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	s, err := New(store, Config{RunID: "run-1", Prefix: "/items/", BatchSize: 2}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, s.Consume(ctx, crawler.ItemFrom("n", i, "url", "https://example.com/")))
	}
	require.Equal(t, []string{"items/run-1/part-00001.jsonl"}, store.Paths())

	require.NoError(t, s.Close(ctx))
	require.Equal(t, []string{"items/run-1/part-00001.jsonl", "items/run-1/part-00002.jsonl"}, store.Paths())
	require.Equal(t, []string{"memory://items/run-1/part-00001.jsonl", "memory://items/run-1/part-00002.jsonl"}, s.URIs())

	first, ok := store.Object("items/run-1/part-00001.jsonl")
	require.True(t, ok)
	lines := strings.Split(strings.TrimSuffix(string(first), "\n"), "\n")
	require.Equal(t, []string{
		`{"n":0,"url":"https://example.com/"}`,
		`{"n":1,"url":"https://example.com/"}`,
	}, lines)

	require.NoError(t, s.Close(ctx))
	require.Len(t, store.Paths(), 2)
}

func TestSinkRetriesBufferedLinesAfterFailure(t *testing.T) {
	t.Parallel()

	store := &flakyStore{BlobStore: memory.NewBlobStore(), failures: 1}
	s, err := New(store, Config{RunID: "run-2", BatchSize: 1}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// The item is buffered, so the failed flush is not its error.
	require.NoError(t, s.Consume(ctx, crawler.ItemFrom("n", 1)))
	require.Empty(t, store.Paths())
	require.Equal(t, 1, s.FailedFlushes())

	require.NoError(t, s.Consume(ctx, crawler.ItemFrom("n", 2)))
	part, ok := store.Object("run-2/part-00001.jsonl")
	require.True(t, ok)
	require.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(part))
	require.Equal(t, 1, s.FailedFlushes())
}

func TestSinkCloseReportsFailedFlush(t *testing.T) {
	t.Parallel()

	store := &flakyStore{BlobStore: memory.NewBlobStore(), failures: 1}
	s, err := New(store, Config{RunID: "run-3", BatchSize: 10}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Consume(ctx, crawler.ItemFrom("n", 1)))
	require.ErrorContains(t, s.Close(ctx), "unavailable")
	require.Empty(t, store.Paths())

	require.NoError(t, s.Close(ctx))
	part, ok := store.Object("run-3/part-00001.jsonl")
	require.True(t, ok)
	require.Equal(t, "{\"n\":1}\n", string(part))
	require.Zero(t, s.FailedFlushes())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{RunID: "r"}, nil)
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(), Config{}, nil)
	require.Error(t, err)

	s, err := New(memory.NewBlobStore(), Config{RunID: "r"}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultBatchSize, s.cfg.BatchSize)
}

func TestSinkReportsEncodeErrors(t *testing.T) {
	t.Parallel()

	s, err := New(memory.NewBlobStore(), Config{RunID: "r"}, nil)
	require.NoError(t, err)
	err = s.Consume(context.Background(), crawler.ItemFrom("bad", make(chan int)))
	require.ErrorContains(t, err, "encode item")
}
