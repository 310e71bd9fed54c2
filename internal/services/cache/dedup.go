package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/urls"
)

const dedupKeyPrefix = "url:dedup:"

// DedupCache is the Redis-backed URL digest set. Cache failures are treated
// as misses: crawling a URL twice is cheaper than failing a job over a cache
// hiccup.
type DedupCache struct {
	client     *redis.Client
	canon      *urls.Canonicalizer
	defaultTTL time.Duration
	logger     arbor.ILogger
}

var _ interfaces.DedupCache = (*DedupCache)(nil)

// NewDedupCache creates a dedup cache with the given default TTL.
func NewDedupCache(client *redis.Client, canon *urls.Canonicalizer, defaultTTL time.Duration, logger arbor.ILogger) *DedupCache {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &DedupCache{
		client:     client,
		canon:      canon,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

func dedupKey(digest string) string {
	return dedupKeyPrefix + digest
}

// Set writes a digest marker, overwriting any existing value and resetting
// its TTL.
func (c *DedupCache) Set(ctx context.Context, digest string, metadata map[string]string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	payload := "{}"
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			c.logger.Warn().Err(err).Str("digest", digest).Msg("Failed to encode dedup metadata")
		} else {
			payload = string(data)
		}
	}

	if err := c.client.SetEx(ctx, dedupKey(digest), payload, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("digest", digest).Msg("Dedup cache write failed")
		return err
	}
	return nil
}

// Get returns the metadata stored for a digest, or absent.
func (c *DedupCache) Get(ctx context.Context, digest string) (map[string]string, bool) {
	val, err := c.client.Get(ctx, dedupKey(digest)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("digest", digest).Msg("Dedup cache read failed")
		return nil, false
	}

	metadata := make(map[string]string)
	if err := json.Unmarshal([]byte(val), &metadata); err != nil {
		c.logger.Warn().Err(err).Str("digest", digest).Msg("Corrupt dedup metadata")
		return nil, true
	}
	return metadata, true
}

// Exists reports whether the digest is present.
func (c *DedupCache) Exists(ctx context.Context, digest string) bool {
	n, err := c.client.Exists(ctx, dedupKey(digest)).Result()
	if err != nil {
		c.logger.Warn().Err(err).Str("digest", digest).Msg("Dedup cache exists check failed")
		return false
	}
	return n > 0
}

// Delete removes a digest marker.
func (c *DedupCache) Delete(ctx context.Context, digest string) error {
	if err := c.client.Del(ctx, dedupKey(digest)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("digest", digest).Msg("Dedup cache delete failed")
		return err
	}
	return nil
}

// ExistsBatch checks many digests in a single MGET round trip and returns
// presence per digest. On error every digest reads as absent.
func (c *DedupCache) ExistsBatch(ctx context.Context, digests []string) map[string]bool {
	result := make(map[string]bool, len(digests))
	if len(digests) == 0 {
		return result
	}

	keys := make([]string, len(digests))
	for i, d := range digests {
		keys[i] = dedupKey(d)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn().Err(err).Int("count", len(digests)).Msg("Dedup cache batch check failed")
		for _, d := range digests {
			result[d] = false
		}
		return result
	}

	for i, d := range digests {
		result[d] = values[i] != nil
	}
	return result
}

// SetURL canonicalizes the URL and stores its digest.
func (c *DedupCache) SetURL(ctx context.Context, rawURL string, metadata map[string]string, ttl time.Duration) error {
	digest, err := c.canon.Digest(rawURL)
	if err != nil {
		return err
	}
	return c.Set(ctx, digest, metadata, ttl)
}

// ExistsURL canonicalizes the URL and checks its digest.
func (c *DedupCache) ExistsURL(ctx context.Context, rawURL string) bool {
	digest, err := c.canon.Digest(rawURL)
	if err != nil {
		return false
	}
	return c.Exists(ctx, digest)
}
