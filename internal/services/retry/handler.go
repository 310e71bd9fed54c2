package retry

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/metrics"
	"github.com/ternarybob/trawler/internal/models"
)

// Handler owns the failure path for claimed jobs: classification, retry
// accounting, re-enqueueing, and dead-lettering.
type Handler struct {
	jobs    interfaces.JobStorage
	retries interfaces.RetryStorage
	queue   interfaces.JobQueue
	logger  arbor.ILogger

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHandler creates a retry handler.
func NewHandler(jobs interfaces.JobStorage, retries interfaces.RetryStorage, queue interfaces.JobQueue, logger arbor.ILogger) *Handler {
	return &Handler{
		jobs:    jobs,
		retries: retries,
		queue:   queue,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleFailure processes one job failure. Returns true when the job was
// scheduled for another attempt, false when it reached a terminal state.
// An unknown job id is dropped silently so redeliveries stay idempotent.
func (h *Handler) HandleFailure(ctx context.Context, jobID string, failure error, httpStatus int, errorMessage, retryAfter string) (bool, error) {
	job, err := h.jobs.GetJob(ctx, jobID)
	if err == models.ErrNotFound {
		h.logger.Debug().Str("job_id", jobID).Msg("Failure for unknown job, dropping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	category := Classify(failure, httpStatus)
	if errorMessage == "" && failure != nil {
		errorMessage = failure.Error()
	}

	policy, err := h.retries.GetPolicy(ctx, category)
	if err != nil {
		h.logger.Warn().Err(err).Str("category", string(category)).Msg("No retry policy, treating as non-retryable")
		policy = &models.RetryPolicy{Category: category, IsRetryable: false}
	}

	// This failure is attempt retry_count+1. It is terminal when the
	// category never retries or when it used up the last allowed attempt.
	maxAttempts := policy.MaxAttempts
	if job.MaxRetries > 0 && job.MaxRetries < maxAttempts {
		maxAttempts = job.MaxRetries
	}
	if !policy.IsRetryable || job.RetryCount+1 >= maxAttempts {
		if err := h.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, errorMessage); err != nil {
			h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
		}
		h.AddToDLQ(ctx, job, category, errorMessage, httpStatus)
		return false, nil
	}

	serverDelay := ParseRetryAfter(retryAfter, time.Now())
	delay := Backoff(policy, job.RetryCount+1, true, serverDelay)

	history := &models.RetryHistory{
		JobID:             job.ID,
		AttemptNumber:     job.RetryCount + 1,
		ErrorCategory:     category,
		ErrorMessage:      truncate(errorMessage, 1000),
		RetryDelaySeconds: delay,
		AttemptedAt:       time.Now().UTC(),
	}
	if err := h.retries.AppendRetryHistory(ctx, history); err != nil {
		h.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record retry history")
	}

	job.RetryCount++
	job.Status = models.JobStatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
	job.ErrorMessage = truncate(errorMessage, 1000)
	if err := h.jobs.UpdateJob(ctx, job); err != nil {
		return false, fmt.Errorf("failed to reset job for retry: %w", err)
	}

	metrics.Retries.WithLabelValues(string(category)).Inc()
	h.logger.Info().
		Str("job_id", job.ID).
		Str("category", string(category)).
		Int("attempt", job.RetryCount).
		Float64("delay_seconds", delay).
		Msg("Retrying job")

	// Interruptible wait. On shutdown the job stays pending; the message is
	// simply not re-published and another pass picks the job up.
	if err := h.sleep(ctx, time.Duration(delay*float64(time.Second))); err != nil {
		h.logger.Debug().Str("job_id", job.ID).Msg("Retry wait interrupted, job left pending")
		return true, nil
	}

	msg := models.QueueMessage{JobID: job.ID, JobType: job.JobType, SeedURL: job.SeedURL, Priority: job.Priority}
	if !h.queue.Publish(ctx, msg) {
		reason := "failed to re-enqueue job for retry"
		if err := h.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, reason); err != nil {
			h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed after publish failure")
		}
		// Publish failure is an infrastructure fault, not a crawl failure;
		// the job does not go to the DLQ.
		return false, nil
	}

	return true, nil
}

// AddToDLQ archives a terminally failed job. Insert failures are logged,
// never propagated.
func (h *Handler) AddToDLQ(ctx context.Context, job *models.CrawlJob, category models.ErrorCategory, errorMessage string, httpStatus int) {
	lastAttempt := job.UpdatedAt
	if history, err := h.retries.GetRetryHistory(ctx, job.ID); err == nil && len(history) > 0 {
		lastAttempt = history[len(history)-1].AttemptedAt
	}

	entry := &models.DeadLetterEntry{
		JobID:          job.ID,
		SeedURL:        job.SeedURL,
		WebsiteID:      job.WebsiteID,
		JobType:        job.JobType,
		Priority:       job.Priority,
		ErrorCategory:  category,
		ErrorMessage:   truncate(errorMessage, 1000),
		HTTPStatus:     httpStatus,
		TotalAttempts:  job.RetryCount + 1,
		FirstAttemptAt: job.CreatedAt,
		LastAttemptAt:  lastAttempt,
	}
	if err := h.retries.AddToDeadLetter(ctx, entry); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to insert dead letter entry")
		return
	}

	metrics.DeadLetterEntries.WithLabelValues(string(category), string(job.JobType)).Inc()
	h.logger.Warn().
		Str("job_id", job.ID).
		Str("category", string(category)).
		Int("total_attempts", entry.TotalAttempts).
		Msg("Job moved to dead letter queue")
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
