package processors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlengine/internal/clock/system"
	"github.com/JakeFAU/crawlengine/internal/crawler"
	"github.com/JakeFAU/crawlengine/internal/hash/sha256"
)

type failingHasher struct{}

func (failingHasher) Hash([]byte) (string, error) { return "", errors.New("hash down") }

func TestRequired(t *testing.T) {
	t.Parallel()

	p := NewRequired([]string{"url", "title"})
	ctx := context.Background()

	step, err := p.ProcessItem(ctx, crawler.ItemFrom("url", "u", "title", "t"))
	require.NoError(t, err)
	require.False(t, step.Dropped())

	step, err = p.ProcessItem(ctx, crawler.ItemFrom("url", "u"))
	require.NoError(t, err)
	require.Equal(t, "missing title", step.Reason())

	step, err = p.ProcessItem(ctx, crawler.ItemFrom("url", "u", "title", ""))
	require.NoError(t, err)
	require.Equal(t, "empty title", step.Reason())
}

func TestTrim(t *testing.T) {
	t.Parallel()

	item := crawler.ItemFrom("title", "  Hello \n", "blank", "   ", "count", 3)
	step, err := NewTrim(true).ProcessItem(context.Background(), item)
	require.NoError(t, err)
	got := step.Value()
	require.Equal(t, "Hello", got.GetString("title"))
	require.False(t, got.Has("blank"))
	require.Equal(t, []string{"title", "count"}, got.Keys())

	item = crawler.ItemFrom("blank", " ")
	step, err = NewTrim(false).ProcessItem(context.Background(), item)
	require.NoError(t, err)
	require.True(t, step.Value().Has("blank"))
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	p := NewDedupe("")
	ctx := context.Background()

	step, err := p.ProcessItem(ctx, crawler.ItemFrom("url", "https://example.com"))
	require.NoError(t, err)
	require.False(t, step.Dropped())

	step, err = p.ProcessItem(ctx, crawler.ItemFrom("url", "https://example.com"))
	require.NoError(t, err)
	require.True(t, step.Dropped())

	step, err = p.ProcessItem(ctx, crawler.ItemFrom("other", 1))
	require.NoError(t, err)
	require.False(t, step.Dropped())
}

func TestStamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	step, err := NewStamp("links", system.NewFixed(now)).ProcessItem(context.Background(), crawler.NewItem())
	require.NoError(t, err)
	require.Equal(t, "links", step.Value().GetString("spider"))
	require.Equal(t, "2025-03-04T05:06:07Z", step.Value().GetString("scraped_at"))
}

func TestFingerprintIsStable(t *testing.T) {
	t.Parallel()

	p, err := NewFingerprint(sha256.New())
	require.NoError(t, err)
	ctx := context.Background()

	a, err := p.ProcessItem(ctx, crawler.ItemFrom("url", "u", "title", "t"))
	require.NoError(t, err)
	b, err := p.ProcessItem(ctx, crawler.ItemFrom("url", "u", "title", "t"))
	require.NoError(t, err)
	fp := a.Value().GetString(FingerprintField)
	require.Len(t, fp, 64)
	require.Equal(t, fp, b.Value().GetString(FingerprintField))

	again, err := p.ProcessItem(ctx, a.Value())
	require.NoError(t, err)
	require.Equal(t, fp, again.Value().GetString(FingerprintField), "re-fingerprinting ignores the old value")

	_, err = NewFingerprint(nil)
	require.Error(t, err)

	failing, err := NewFingerprint(failingHasher{})
	require.NoError(t, err)
	_, err = failing.ProcessItem(ctx, crawler.NewItem())
	require.ErrorContains(t, err, "hash down")
}
