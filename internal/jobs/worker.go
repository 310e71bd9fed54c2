// Package jobs runs the queue consumers that execute crawl jobs.
package jobs

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
	"github.com/ternarybob/trawler/internal/services/crawler"
)

// CrawlRunner executes one crawl and classifies its outcome.
type CrawlRunner interface {
	Crawl(ctx context.Context, jobID, seedURL string, config *models.WebsiteConfig) *crawler.Result
}

// FailureHandler owns the retry/dead-letter path for failed jobs.
type FailureHandler interface {
	HandleFailure(ctx context.Context, jobID string, failure error, httpStatus int, errorMessage, retryAfter string) (bool, error)
}

// ProgressPublisher pushes live progress snapshots for running jobs.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, jobID string, progress models.JobProgress) error
}

// Worker pulls crawl jobs off the queue and executes them. Messages are
// acked once the job reached a decision (terminal state or retry scheduled);
// only unexpected infrastructure errors nak for redelivery.
type Worker struct {
	id       int
	queue    interfaces.JobQueue
	jobs     interfaces.JobStorage
	websites interfaces.WebsiteStorage
	runner   CrawlRunner
	failures FailureHandler
	cancel   interfaces.CancellationSignal
	progress ProgressPublisher
	logger   arbor.ILogger
}

// NewWorker creates one queue consumer. cancel and progress may be nil.
func NewWorker(id int, queue interfaces.JobQueue, jobs interfaces.JobStorage, websites interfaces.WebsiteStorage, runner CrawlRunner, failures FailureHandler, cancel interfaces.CancellationSignal, progress ProgressPublisher, logger arbor.ILogger) *Worker {
	return &Worker{
		id:       id,
		queue:    queue,
		jobs:     jobs,
		websites: websites,
		runner:   runner,
		failures: failures,
		cancel:   cancel,
		progress: progress,
		logger:   logger,
	}
}

// Run consumes messages until the context is cancelled. In-flight jobs
// finish their current boundary before the loop exits.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Int("worker", w.id).Msg("Worker started")
	defer w.logger.Info().Int("worker", w.id).Msg("Worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		delivery, err := w.queue.Receive(ctx)
		if errors.Is(err, interfaces.ErrNoMessage) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Int("worker", w.id).Msg("Queue receive failed")
			continue
		}

		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, delivery *interfaces.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Int("worker", w.id).Str("panic", stringify(r)).Msg("Panic while processing job, returning message to queue")
			w.nak(delivery)
		}
	}()

	msg := delivery.Message
	if msg == nil || msg.JobID == "" {
		w.logger.Warn().Int("worker", w.id).Msg("Dropping queue message without job id")
		w.ack(delivery)
		return
	}

	log := w.logger.WithCorrelationId(msg.JobID)

	// Externally cancelled before execution: mark and consume the message.
	if w.isCancelled(ctx, msg.JobID) {
		w.markCancelled(ctx, msg.JobID)
		w.ack(delivery)
		return
	}

	job, err := w.jobs.GetJob(ctx, msg.JobID)
	if errors.Is(err, models.ErrNotFound) {
		log.Warn().Msg("Message references unknown job, dropping")
		w.ack(delivery)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load job")
		w.nak(delivery)
		return
	}
	if job.Status.IsTerminal() {
		log.Debug().Str("status", string(job.Status)).Msg("Job already terminal, dropping redelivery")
		w.ack(delivery)
		return
	}

	if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, ""); err != nil {
		log.Error().Err(err).Msg("Failed to mark job running")
		w.nak(delivery)
		return
	}

	config, err := w.resolveConfig(ctx, job)
	if err != nil {
		// Unresolvable config never retries; the failure handler routes it
		// to the dead letter queue.
		if _, herr := w.failures.HandleFailure(ctx, job.ID, err, 0, err.Error(), ""); herr != nil {
			log.Error().Err(herr).Msg("Failure handling error")
		}
		w.ack(delivery)
		return
	}

	result := w.runner.Crawl(ctx, job.ID, job.SeedURL, config)
	w.publishProgress(ctx, job.ID, result)
	log.Info().
		Str("outcome", string(result.Outcome)).
		Int("pages", result.PagesFetched).
		Int("urls", len(result.URLs)).
		Msg("Crawl finished")

	switch result.Outcome {
	case crawler.OutcomeCancelled:
		w.markCancelled(ctx, job.ID)
		w.ack(delivery)

	case crawler.OutcomeSeedURL404:
		failure := &models.CrawlError{Category: models.CategoryNotFound, HTTPStatus: http.StatusNotFound, Message: "seed URL returned 404"}
		w.handleCrawlFailure(ctx, job.ID, failure, http.StatusNotFound, "", result)
		w.ack(delivery)

	case crawler.OutcomeSeedURLError:
		// With a status the failure handler classifies by it (401/403/429
		// stay non-retryable or rate-limited); without one the seed never
		// answered.
		category := models.CategoryServerError
		if result.SeedStatus == 0 {
			category = models.CategoryNetworkError
		}
		failure := &models.CrawlError{Category: category, HTTPStatus: result.SeedStatus, Message: "seed URL fetch failed"}
		w.handleCrawlFailure(ctx, job.ID, failure, result.SeedStatus, result.RetryAfter, result)
		w.ack(delivery)

	case crawler.OutcomeInvalidConfig:
		failure := models.NewValidationError("invalid website config: %s", summarize(result.Warnings))
		w.handleCrawlFailure(ctx, job.ID, failure, 0, "", result)
		w.ack(delivery)

	default:
		// Everything else completed, possibly with warnings baked into the
		// outcome (partial_success, empty_pages, circular_pagination).
		w.complete(ctx, job, result)
		w.ack(delivery)
	}
}

// resolveConfig returns the effective website config for the job: inline for
// seed submissions, the website's stored config for template jobs.
func (w *Worker) resolveConfig(ctx context.Context, job *models.CrawlJob) (*models.WebsiteConfig, error) {
	if job.InlineConfig != nil {
		return job.InlineConfig, nil
	}
	if job.WebsiteID == "" {
		return nil, models.NewValidationError("job has neither inline config nor website reference")
	}

	website, err := w.websites.GetWebsite(ctx, job.WebsiteID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewValidationError("website %s not found", job.WebsiteID)
	}
	if err != nil {
		return nil, err
	}
	if website.IsDeleted() {
		return nil, models.NewValidationError("website %s is deleted", job.WebsiteID)
	}
	if website.Config == nil {
		return nil, models.NewValidationError("website %s has no crawl config", job.WebsiteID)
	}
	return website.Config, nil
}

func (w *Worker) complete(ctx context.Context, job *models.CrawlJob, result *crawler.Result) {
	// Reload before writing: the snapshot predates the running transition and
	// would otherwise erase the timestamps it stamped.
	if fresh, err := w.jobs.GetJob(ctx, job.ID); err == nil {
		job = fresh
	} else {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reload job before completion")
	}
	job.Progress = progressOf(result)
	if job.Metadata == nil {
		job.Metadata = make(map[string]interface{})
	}
	job.Metadata["outcome"] = string(result.Outcome)
	if err := w.jobs.UpdateJob(ctx, job); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job progress")
	}
	if err := w.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, ""); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job completed")
	}
}

func (w *Worker) handleCrawlFailure(ctx context.Context, jobID string, failure error, httpStatus int, retryAfter string, result *crawler.Result) {
	message := failure.Error()
	if extra := summarize(result.Warnings); extra != "" {
		message = message + ": " + extra
	}
	if _, err := w.failures.HandleFailure(ctx, jobID, failure, httpStatus, message, retryAfter); err != nil {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("Failure handling error")
	}
}

func (w *Worker) markCancelled(ctx context.Context, jobID string) {
	reason := "cancelled"
	if w.cancel != nil {
		if r := w.cancel.Reason(ctx, jobID); r != "" {
			reason = r
		}
	}
	if err := w.jobs.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled, reason); err != nil && !errors.Is(err, models.ErrNotFound) {
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job cancelled")
	}
	if w.cancel != nil {
		if err := w.cancel.Clear(ctx, jobID); err != nil {
			w.logger.Debug().Err(err).Str("job_id", jobID).Msg("Failed to clear cancellation signal")
		}
	}
}

func (w *Worker) isCancelled(ctx context.Context, jobID string) bool {
	return w.cancel != nil && w.cancel.IsCancelled(ctx, jobID)
}

func (w *Worker) publishProgress(ctx context.Context, jobID string, result *crawler.Result) {
	if w.progress == nil {
		return
	}
	if err := w.progress.PublishProgress(ctx, jobID, progressOf(result)); err != nil {
		w.logger.Debug().Err(err).Str("job_id", jobID).Msg("Failed to publish progress snapshot")
	}
}

func progressOf(result *crawler.Result) models.JobProgress {
	return models.JobProgress{
		PagesFetched:  result.PagesFetched,
		URLsExtracted: len(result.URLs),
		URLsSkipped:   result.URLsSkipped,
		Warnings:      len(result.Warnings),
	}
}

func (w *Worker) ack(delivery *interfaces.Delivery) {
	if err := delivery.Ack(); err != nil {
		w.logger.Warn().Err(err).Int("worker", w.id).Msg("Failed to ack queue message")
	}
}

func (w *Worker) nak(delivery *interfaces.Delivery) {
	if err := delivery.Nak(); err != nil {
		w.logger.Warn().Err(err).Int("worker", w.id).Msg("Failed to nak queue message")
	}
}

// summarize joins the first few warnings into a short reason string.
func summarize(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	if len(warnings) > 3 {
		warnings = warnings[:3]
	}
	return strings.Join(warnings, "; ")
}

func stringify(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}
