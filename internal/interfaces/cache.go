package interfaces

import (
	"context"
	"time"
)

// DedupCache is a TTL-keyed set of URL digests with optional small metadata.
// All operations degrade to misses on infrastructure failure; callers must
// tolerate false negatives.
type DedupCache interface {
	Set(ctx context.Context, digest string, metadata map[string]string, ttl time.Duration) error
	Get(ctx context.Context, digest string) (map[string]string, bool)
	Exists(ctx context.Context, digest string) bool
	Delete(ctx context.Context, digest string) error
	// ExistsBatch returns the subset of digests present, in one round trip.
	ExistsBatch(ctx context.Context, digests []string) map[string]bool
	// SetURL and ExistsURL canonicalize the URL first.
	SetURL(ctx context.Context, rawURL string, metadata map[string]string, ttl time.Duration) error
	ExistsURL(ctx context.Context, rawURL string) bool
}

// CancellationSignal is a process-external cancellation flag per job.
// Set is single-writer per job; readers are many. All operations are
// best-effort and non-blocking.
type CancellationSignal interface {
	Set(ctx context.Context, jobID, reason string) error
	IsCancelled(ctx context.Context, jobID string) bool
	Reason(ctx context.Context, jobID string) string
	Clear(ctx context.Context, jobID string) error
}
