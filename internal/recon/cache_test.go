package recon

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*SummaryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSummaryCache(client, time.Minute), mr
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	runID := uuid.New()

	assert.Nil(t, cache.Get(ctx, runID))

	want := RunSummary{TotalRecords: 150, Matched: 145, Mismatched: 5, MatchRate: 96.67}
	cache.Set(ctx, runID, want)

	got := cache.Get(ctx, runID)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestSummaryCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	runID := uuid.New()

	cache.Set(ctx, runID, RunSummary{TotalRecords: 1, Matched: 1, MatchRate: 100})
	cache.Invalidate(ctx, runID)
	assert.Nil(t, cache.Get(ctx, runID))
}

func TestSummaryCacheExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	runID := uuid.New()

	cache.Set(ctx, runID, RunSummary{TotalRecords: 1, Matched: 1, MatchRate: 100})
	mr.FastForward(2 * time.Minute)
	assert.Nil(t, cache.Get(ctx, runID))
}

func TestSummaryCacheNilSafe(t *testing.T) {
	ctx := context.Background()
	var cache *SummaryCache

	// A missing cache degrades to repository reads without panicking.
	assert.Nil(t, cache.Get(ctx, uuid.New()))
	cache.Set(ctx, uuid.New(), RunSummary{})
	cache.Invalidate(ctx, uuid.New())
}
