package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

func TestSinkRecordsInOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.Consume(ctx, crawler.ItemFrom("n", 1)))
	require.NoError(t, s.Consume(ctx, crawler.ItemFrom("n", 2)))

	items := s.Items()
	require.Len(t, items, 2)
	v, _ := items[1].Get("n")
	require.Equal(t, 2, v)

	items[0] = nil
	require.NotNil(t, s.Items()[0])

	require.NoError(t, s.Close(ctx))
	require.True(t, s.Closed())
	require.ErrorIs(t, s.Consume(ctx, crawler.NewItem()), ErrClosed)
}
