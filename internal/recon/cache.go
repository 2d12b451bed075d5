package recon

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SummaryCache keeps completed-run summaries in Redis. A completed run's
// summary never changes, so the TTL is a memory bound, not a consistency
// concern. Cache failures degrade to repository reads.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache constructs a cache with the given TTL.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(runID uuid.UUID) string {
	return "recon:summary:" + runID.String()
}

// Get returns the cached summary for a run, or nil on miss.
func (c *SummaryCache) Get(ctx context.Context, runID uuid.UUID) *RunSummary {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := c.client.Get(ctx, summaryKey(runID)).Bytes()
	if err != nil {
		return nil
	}
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

// Set stores a summary.
func (c *SummaryCache) Set(ctx context.Context, runID uuid.UUID, summary RunSummary) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, summaryKey(runID), data, c.ttl).Err()
}

// Invalidate drops a cached summary, used when a run is deleted.
func (c *SummaryCache) Invalidate(ctx context.Context, runID uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, summaryKey(runID)).Err()
}
