package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/interfaces"
)

const cancelKeyPrefix = "job:cancel:"

// cancelMarkerTTL keeps stale markers from lingering after a job finishes.
const cancelMarkerTTL = time.Hour

// CancelSignal implements the cooperative cancellation flag over Redis.
// Writes are best-effort: a failed marker write is logged, not surfaced,
// because cancellation may be retried and workers re-check at every boundary.
type CancelSignal struct {
	client *redis.Client
	logger arbor.ILogger
}

var _ interfaces.CancellationSignal = (*CancelSignal)(nil)

// NewCancelSignal creates a cancellation signal service.
func NewCancelSignal(client *redis.Client, logger arbor.ILogger) *CancelSignal {
	return &CancelSignal{client: client, logger: logger}
}

func cancelKey(jobID string) string {
	return cancelKeyPrefix + jobID
}

// Set writes a cancellation marker with the optional reason.
func (s *CancelSignal) Set(ctx context.Context, jobID, reason string) error {
	if reason == "" {
		reason = "cancelled"
	}
	if err := s.client.SetEx(ctx, cancelKey(jobID), reason, cancelMarkerTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to write cancellation marker")
		return nil
	}
	return nil
}

// IsCancelled reports whether a marker exists. Read failures report
// not-cancelled; the worker keeps going and re-checks at the next boundary.
func (s *CancelSignal) IsCancelled(ctx context.Context, jobID string) bool {
	n, err := s.client.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Cancellation check failed")
		return false
	}
	return n > 0
}

// Reason returns the stored reason, or empty.
func (s *CancelSignal) Reason(ctx context.Context, jobID string) string {
	val, err := s.client.Get(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return ""
	}
	return val
}

// Clear removes the marker.
func (s *CancelSignal) Clear(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, cancelKey(jobID)).Err(); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to clear cancellation marker")
		return nil
	}
	return nil
}
