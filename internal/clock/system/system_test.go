package system

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "%v outside [%v, %v]", got, before, after)
	require.False(t, clk.Now().Before(got), "successive readings must not go backwards")
}

func TestFixedOnlyMovesOnAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := NewFixed(start)
	require.Equal(t, start, clk.Now())
	require.Equal(t, start, clk.Now())

	require.Equal(t, start.Add(time.Minute), clk.Advance(time.Minute))
	require.Equal(t, start.Add(time.Minute), clk.Now())
}

func TestFixedConcurrentAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := NewFixed(start)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clk.Advance(time.Second)
			_ = clk.Now()
		}()
	}
	wg.Wait()
	require.Equal(t, start.Add(50*time.Second), clk.Now())
}
