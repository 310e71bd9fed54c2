// Package scheduler owns the cron-bound production of crawl jobs. One
// processor loop runs per process; it is single-writer over ScheduledJob
// rows.
package scheduler

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/metrics"
	"github.com/ternarybob/trawler/internal/models"
	"github.com/ternarybob/trawler/internal/services/cron"
)

// MaxCatchupDelay bounds how stale a missed fire may be and still execute.
// Older misses advance the schedule without running.
const MaxCatchupDelay = time.Hour

// Processor is the scheduled-job loop.
type Processor struct {
	scheduled interfaces.ScheduledJobStorage
	websites  interfaces.WebsiteStorage
	jobs      interfaces.JobStorage
	queue     interfaces.JobQueue
	logger    arbor.ILogger

	pollInterval time.Duration
	batchSize    int

	// now is swapped out by tests.
	now func() time.Time
}

// NewProcessor creates a scheduler processor.
func NewProcessor(
	scheduled interfaces.ScheduledJobStorage,
	websites interfaces.WebsiteStorage,
	jobs interfaces.JobStorage,
	queue interfaces.JobQueue,
	config *common.SchedulerConfig,
	logger arbor.ILogger,
) *Processor {
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Processor{
		scheduled:    scheduled,
		websites:     websites,
		jobs:         jobs,
		queue:        queue,
		logger:       logger,
		pollInterval: config.PollIntervalDuration(),
		batchSize:    batchSize,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the missed-schedule sweep, then polls until the context is
// cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info().
		Str("poll_interval", p.pollInterval.String()).
		Int("batch_size", p.batchSize).
		Msg("Scheduler started")

	p.Sweep(ctx)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			if _, err := p.processBatch(ctx, false); err != nil {
				p.logger.Error().Err(err).Msg("Scheduler tick failed")
			}
		}
	}
}

// Sweep drains all overdue scheduled jobs, applying the catch-up threshold.
// It loops while full batches keep coming back.
func (p *Processor) Sweep(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := p.processBatch(ctx, true)
		if err != nil {
			p.logger.Error().Err(err).Msg("Missed-schedule sweep failed")
			return
		}
		if n < p.batchSize {
			return
		}
	}
}

// processBatch handles up to one batch of due jobs and returns how many were
// fetched.
func (p *Processor) processBatch(ctx context.Context, applyThreshold bool) (int, error) {
	now := p.now()
	due, err := p.scheduled.GetDueJobs(ctx, now, p.batchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range due {
		if ctx.Err() != nil {
			return len(due), ctx.Err()
		}
		p.processJob(ctx, job, now, applyThreshold)
	}
	return len(due), nil
}

func (p *Processor) processJob(ctx context.Context, job *models.ScheduledJob, now time.Time, applyThreshold bool) {
	website, err := p.websites.GetWebsite(ctx, job.WebsiteID)
	if err == models.ErrNotFound || (err == nil && website.IsDeleted()) {
		p.logger.Info().Str("scheduled_job_id", job.ID).Str("website_id", job.WebsiteID).
			Msg("Website missing or deleted, deactivating scheduled job")
		p.deactivate(ctx, job)
		return
	}
	if err != nil {
		p.logger.Error().Err(err).Str("scheduled_job_id", job.ID).Msg("Failed to load website")
		return
	}

	if job.Timezone == "" {
		job.Timezone = "UTC"
	}

	// Orphaned rows get their schedule repaired without executing.
	if job.NextRunTime == nil {
		p.advanceSchedule(ctx, job, now, false)
		return
	}

	delay := now.Sub(*job.NextRunTime)
	missed := *job.NextRunTime

	if applyThreshold && delay >= MaxCatchupDelay {
		p.logger.Info().
			Str("scheduled_job_id", job.ID).
			Str("missed_time", missed.Format(time.RFC3339)).
			Str("delay", delay.String()).
			Msg("Missed fire beyond catch-up threshold, skipping")
		metrics.ScheduledFires.WithLabelValues("skip").Inc()
		p.advanceSchedule(ctx, job, now, false)
		return
	}

	metadata := map[string]interface{}{
		"scheduled_job_id": job.ID,
		"cron_schedule":    job.CronExpr,
	}
	action := "normal"
	if applyThreshold {
		metadata["catchup"] = true
		metadata["missed_time"] = missed.Format(time.RFC3339)
		action = "catchup"
	}

	if err := p.CreateTemplateBasedJob(ctx, website, job.JobConfig, metadata); err != nil {
		p.logger.Error().Err(err).Str("scheduled_job_id", job.ID).Msg("Failed to create crawl job")
		// Schedule still advances so a persistent creation failure cannot
		// wedge the loop on one row.
	}
	metrics.ScheduledFires.WithLabelValues(action).Inc()

	p.advanceSchedule(ctx, job, now, true)
}

// advanceSchedule recomputes next_run_time from the cron expression. When
// fired is set, last_run_time moves to now. A recompute failure deactivates
// the job.
func (p *Processor) advanceSchedule(ctx context.Context, job *models.ScheduledJob, now time.Time, fired bool) {
	next, advisory, err := cron.NextRun(job.CronExpr, now, job.Timezone)
	if err != nil {
		p.logger.Warn().Err(err).Str("scheduled_job_id", job.ID).
			Msg("Cron recompute failed, deactivating scheduled job")
		p.deactivate(ctx, job)
		return
	}
	if advisory != cron.AdvisoryNone {
		p.logger.Info().Str("scheduled_job_id", job.ID).Str("advisory", string(advisory)).
			Msg("Next fire lands on a DST transition")
	}

	job.NextRunTime = &next
	if fired {
		job.LastRunTime = &now
	}
	if err := p.scheduled.UpdateScheduledJob(ctx, job); err != nil {
		p.logger.Error().Err(err).Str("scheduled_job_id", job.ID).Msg("Failed to update scheduled job")
	}
}

func (p *Processor) deactivate(ctx context.Context, job *models.ScheduledJob) {
	job.IsActive = false
	if err := p.scheduled.UpdateScheduledJob(ctx, job); err != nil {
		p.logger.Error().Err(err).Str("scheduled_job_id", job.ID).Msg("Failed to deactivate scheduled job")
	}
}

// CreateTemplateBasedJob persists a scheduled crawl job for the website and
// publishes it. When publish fails the job is marked cancelled, not failed,
// because it never ran.
func (p *Processor) CreateTemplateBasedJob(ctx context.Context, website *models.Website, variables map[string]string, metadata map[string]interface{}) error {
	job := &models.CrawlJob{
		WebsiteID:   website.ID,
		SeedURL:     website.BaseURL,
		JobType:     models.JobTypeScheduled,
		Status:      models.JobStatusPending,
		Priority:    5,
		MaxRetries:  3,
		ScheduledAt: p.now(),
		Variables:   variables,
		Metadata:    metadata,
	}
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return err
	}
	metrics.JobsCreated.WithLabelValues(string(models.JobTypeScheduled)).Inc()

	msg := models.QueueMessage{JobID: job.ID, JobType: job.JobType, SeedURL: job.SeedURL, Priority: job.Priority}
	if !p.queue.Publish(ctx, msg) {
		p.logger.Error().Str("job_id", job.ID).Msg("Queue publish failed, cancelling job")
		if err := p.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusCancelled, "queue publish failed"); err != nil {
			p.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to cancel unpublished job")
		}
	}

	p.logger.Info().Str("job_id", job.ID).Str("website_id", website.ID).Msg("Scheduled crawl job created")
	return nil
}
