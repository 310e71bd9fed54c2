package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/models"
	"github.com/ternarybob/trawler/internal/urls"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDedupCacheSetGetExists(t *testing.T) {
	_, client := newTestClient(t)
	canon := urls.NewCanonicalizer(urls.Options{})
	cache := NewDedupCache(client, canon, time.Hour, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "abc123", map[string]string{"job_id": "job-1"}, 0))

	assert.True(t, cache.Exists(ctx, "abc123"))
	meta, ok := cache.Get(ctx, "abc123")
	require.True(t, ok)
	assert.Equal(t, "job-1", meta["job_id"])

	assert.False(t, cache.Exists(ctx, "missing"))
	_, ok = cache.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, cache.Delete(ctx, "abc123"))
	assert.False(t, cache.Exists(ctx, "abc123"))
}

func TestDedupCacheTTLExpiry(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewDedupCache(client, urls.NewCanonicalizer(urls.Options{}), time.Hour, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", nil, time.Minute))
	assert.True(t, cache.Exists(ctx, "short"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, cache.Exists(ctx, "short"))
}

func TestDedupCacheExistsBatch(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewDedupCache(client, urls.NewCanonicalizer(urls.Options{}), time.Hour, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", nil, 0))
	require.NoError(t, cache.Set(ctx, "c", nil, 0))

	result := cache.ExistsBatch(ctx, []string{"a", "b", "c"})
	assert.True(t, result["a"])
	assert.False(t, result["b"])
	assert.True(t, result["c"])

	assert.Empty(t, cache.ExistsBatch(ctx, nil))
}

func TestDedupCacheURLConvenience(t *testing.T) {
	_, client := newTestClient(t)
	cache := NewDedupCache(client, urls.NewCanonicalizer(urls.Options{}), time.Hour, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, cache.SetURL(ctx, "https://Example.com/a?utm_source=x&id=7", nil, 0))

	// Equivalent after canonicalization: host case and tracking params differ.
	assert.True(t, cache.ExistsURL(ctx, "https://example.com/a?id=7"))
	assert.False(t, cache.ExistsURL(ctx, "https://example.com/a?id=8"))
	assert.False(t, cache.ExistsURL(ctx, "not a url"))
}

func TestCancelSignal(t *testing.T) {
	_, client := newTestClient(t)
	signal := NewCancelSignal(client, common.GetLogger())
	ctx := context.Background()

	assert.False(t, signal.IsCancelled(ctx, "job-1"))

	require.NoError(t, signal.Set(ctx, "job-1", "user requested"))
	assert.True(t, signal.IsCancelled(ctx, "job-1"))
	assert.Equal(t, "user requested", signal.Reason(ctx, "job-1"))

	require.NoError(t, signal.Clear(ctx, "job-1"))
	assert.False(t, signal.IsCancelled(ctx, "job-1"))
	assert.Empty(t, signal.Reason(ctx, "job-1"))
}

func TestCancelSignalDefaultReason(t *testing.T) {
	_, client := newTestClient(t)
	signal := NewCancelSignal(client, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, signal.Set(ctx, "job-2", ""))
	assert.Equal(t, "cancelled", signal.Reason(ctx, "job-2"))
}

func TestRateLimiterFixedWindow(t *testing.T) {
	mr, client := newTestClient(t)
	limiter := NewRateLimiter(client, 3, time.Minute, common.GetLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(ctx, "example.com"), "request %d", i+1)
	}
	assert.False(t, limiter.Allow(ctx, "example.com"))
	assert.Equal(t, 0, limiter.Remaining(ctx, "example.com"))

	// Separate scopes have separate windows.
	assert.True(t, limiter.Allow(ctx, "other.com"))

	mr.FastForward(2 * time.Minute)
	assert.True(t, limiter.Allow(ctx, "example.com"))
	assert.Equal(t, 2, limiter.Remaining(ctx, "example.com"))
}

func TestProgressServicePublishGet(t *testing.T) {
	_, client := newTestClient(t)
	svc := NewProgressService(client, time.Minute, common.GetLogger())
	ctx := context.Background()

	_, ok := svc.GetProgress(ctx, "job-1")
	assert.False(t, ok)

	progress := models.JobProgress{PagesFetched: 4, URLsExtracted: 37, URLsSkipped: 2}
	require.NoError(t, svc.PublishProgress(ctx, "job-1", progress))

	got, ok := svc.GetProgress(ctx, "job-1")
	require.True(t, ok)
	assert.Equal(t, progress, *got)
}

func TestProgressServiceLogBuffer(t *testing.T) {
	_, client := newTestClient(t)
	svc := NewProgressService(client, time.Minute, common.GetLogger())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, svc.AppendLog(ctx, "job-1", fmt.Sprintf("line %d", i)))
	}

	assert.Equal(t, 5, svc.LogCount(ctx, "job-1"))

	lines, err := svc.RecentLogs(ctx, "job-1", 3)
	require.NoError(t, err)
	// Newest first.
	assert.Equal(t, []string{"line 5", "line 4", "line 3"}, lines)
}

func TestProgressServiceTokenSingleUse(t *testing.T) {
	mr, client := newTestClient(t)
	svc := NewProgressService(client, time.Minute, common.GetLogger())
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, "job-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	jobID, ok := svc.RedeemToken(ctx, token)
	require.True(t, ok)
	assert.Equal(t, "job-1", jobID)

	_, ok = svc.RedeemToken(ctx, token)
	assert.False(t, ok, "token must redeem at most once")

	expired, err := svc.IssueToken(ctx, "job-2")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, ok = svc.RedeemToken(ctx, expired)
	assert.False(t, ok, "expired token must not redeem")
}
