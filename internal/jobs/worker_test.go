package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
	"github.com/ternarybob/trawler/internal/services/crawler"
)

type fakeJobStore struct {
	jobs    map[string]*models.CrawlJob
	loadErr error
}

func (f *fakeJobStore) CreateJob(ctx context.Context, job *models.CrawlJob) error {
	f.jobs[job.ID] = job
	return nil
}

// GetJob returns a copy, like the badger store; callers holding a stale
// snapshot must not see later writes through it.
func (f *fakeJobStore) GetJob(ctx context.Context, id string) (*models.CrawlJob, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	job, ok := f.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

func (f *fakeJobStore) UpdateJob(ctx context.Context, job *models.CrawlJob) error {
	stored := *job
	f.jobs[job.ID] = &stored
	return nil
}

func (f *fakeJobStore) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, errorMsg string) error {
	job, ok := f.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = status
	switch status {
	case models.JobStatusRunning:
		job.StartedAt = &now
	case models.JobStatusCompleted, models.JobStatusFailed:
		job.CompletedAt = &now
	case models.JobStatusCancelled:
		job.CancelledAt = &now
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
	return nil
}

func (f *fakeJobStore) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.CrawlJob, error) {
	return nil, nil
}

type fakeWebsiteStore struct {
	sites map[string]*models.Website
}

func (f *fakeWebsiteStore) CreateWebsite(ctx context.Context, site *models.Website) error { return nil }

func (f *fakeWebsiteStore) GetWebsite(ctx context.Context, id string) (*models.Website, error) {
	site, ok := f.sites[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return site, nil
}

func (f *fakeWebsiteStore) UpdateConfig(ctx context.Context, id string, config *models.WebsiteConfig, changedBy, reason string) error {
	return nil
}

func (f *fakeWebsiteStore) SoftDeleteWebsite(ctx context.Context, id string) error { return nil }

func (f *fakeWebsiteStore) GetConfigHistory(ctx context.Context, websiteID string) ([]models.WebsiteConfigHistory, error) {
	return nil, nil
}

type fakeRunner struct {
	result *crawler.Result
	calls  int
}

func (f *fakeRunner) Crawl(ctx context.Context, jobID, seedURL string, config *models.WebsiteConfig) *crawler.Result {
	f.calls++
	if f.result != nil {
		return f.result
	}
	return &crawler.Result{Outcome: crawler.OutcomeSuccess, SeedURL: seedURL}
}

type failureCall struct {
	jobID      string
	failure    error
	httpStatus int
	message    string
	retryAfter string
}

type fakeFailures struct {
	calls []failureCall
}

func (f *fakeFailures) HandleFailure(ctx context.Context, jobID string, failure error, httpStatus int, errorMessage, retryAfter string) (bool, error) {
	f.calls = append(f.calls, failureCall{jobID: jobID, failure: failure, httpStatus: httpStatus, message: errorMessage, retryAfter: retryAfter})
	return false, nil
}

type fakeCancel struct {
	cancelled map[string]string
	cleared   []string
}

func (f *fakeCancel) Set(ctx context.Context, jobID, reason string) error {
	f.cancelled[jobID] = reason
	return nil
}

func (f *fakeCancel) IsCancelled(ctx context.Context, jobID string) bool {
	_, ok := f.cancelled[jobID]
	return ok
}

func (f *fakeCancel) Reason(ctx context.Context, jobID string) string { return f.cancelled[jobID] }

func (f *fakeCancel) Clear(ctx context.Context, jobID string) error {
	delete(f.cancelled, jobID)
	f.cleared = append(f.cleared, jobID)
	return nil
}

type harness struct {
	worker   *Worker
	jobs     *fakeJobStore
	websites *fakeWebsiteStore
	runner   *fakeRunner
	failures *fakeFailures
	cancel   *fakeCancel
	acked    int
	naked    int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		jobs:     &fakeJobStore{jobs: make(map[string]*models.CrawlJob)},
		websites: &fakeWebsiteStore{sites: make(map[string]*models.Website)},
		runner:   &fakeRunner{},
		failures: &fakeFailures{},
		cancel:   &fakeCancel{cancelled: make(map[string]string)},
	}
	h.worker = NewWorker(1, nil, h.jobs, h.websites, h.runner, h.failures, h.cancel, nil, arbor.NewLogger())
	return h
}

func (h *harness) delivery(msg *models.QueueMessage) *interfaces.Delivery {
	return &interfaces.Delivery{
		Message: msg,
		Ack:     func() error { h.acked++; return nil },
		Nak:     func() error { h.naked++; return nil },
	}
}

func (h *harness) seedJob(id string) *models.CrawlJob {
	job := &models.CrawlJob{
		ID:           id,
		InlineConfig: &models.WebsiteConfig{Step: &models.StepConfig{Selectors: map[string]string{"detail_urls": "a"}}},
		SeedURL:      "https://example.com/list",
		JobType:      models.JobTypeOneTime,
		Status:       models.JobStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	h.jobs.jobs[id] = job
	return job
}

func TestMessageWithoutJobIDIsDropped(t *testing.T) {
	h := newHarness(t)

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{}))

	assert.Equal(t, 1, h.acked)
	assert.Zero(t, h.runner.calls)
}

func TestUnknownJobIsDropped(t *testing.T) {
	h := newHarness(t)

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "missing"}))

	assert.Equal(t, 1, h.acked)
	assert.Zero(t, h.runner.calls)
	assert.Empty(t, h.failures.calls)
}

func TestTerminalJobRedeliveryIsDropped(t *testing.T) {
	h := newHarness(t)
	job := h.seedJob("job-1")
	job.Status = models.JobStatusCompleted

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Equal(t, 1, h.acked)
	assert.Zero(t, h.runner.calls)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestJobLoadFailureNaks(t *testing.T) {
	h := newHarness(t)
	h.jobs.loadErr = errors.New("store unavailable")

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Equal(t, 1, h.naked)
	assert.Zero(t, h.acked)
}

func TestSuccessfulCrawlCompletesJob(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")
	h.runner.result = &crawler.Result{
		Outcome:      crawler.OutcomeSuccess,
		URLs:         []string{"https://example.com/items/1", "https://example.com/items/2"},
		URLsSkipped:  1,
		PagesFetched: 3,
	}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Equal(t, 1, h.acked)
	job := h.jobs.jobs["job-1"]
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Progress.URLsExtracted)
	assert.Equal(t, 1, job.Progress.URLsSkipped)
	assert.Equal(t, 3, job.Progress.PagesFetched)
	assert.Equal(t, "success", job.Metadata["outcome"])
}

func TestCompletedJobKeepsStartedAt(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	job := h.jobs.jobs["job-1"]
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	// The running transition's timestamp survives the completion write.
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
}

func TestPartialSuccessStillCompletes(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")
	h.runner.result = &crawler.Result{
		Outcome:  crawler.OutcomePartialSuccess,
		URLs:     []string{"https://example.com/items/1"},
		Warnings: []string{"pagination page returned 502"},
	}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	job := h.jobs.jobs["job-1"]
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "partial_success", job.Metadata["outcome"])
	assert.Empty(t, h.failures.calls)
}

func TestCancellationSignalShortCircuitsExecution(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")
	h.cancel.cancelled["job-1"] = "user request"

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Equal(t, 1, h.acked)
	assert.Zero(t, h.runner.calls)
	job := h.jobs.jobs["job-1"]
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Equal(t, "user request", job.ErrorMessage)
	assert.Equal(t, []string{"job-1"}, h.cancel.cleared)
}

func TestCancelledOutcomeMarksJobCancelled(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")
	h.runner.result = &crawler.Result{Outcome: crawler.OutcomeCancelled}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Equal(t, 1, h.acked)
	assert.Equal(t, models.JobStatusCancelled, h.jobs.jobs["job-1"].Status)
}

func TestSeedURL404RoutesToFailureHandler(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")
	h.runner.result = &crawler.Result{Outcome: crawler.OutcomeSeedURL404, PagesFetched: 1}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Equal(t, 1, h.acked)
	require.Len(t, h.failures.calls, 1)
	call := h.failures.calls[0]
	assert.Equal(t, "job-1", call.jobID)
	assert.Equal(t, 404, call.httpStatus)
	assert.Equal(t, models.CategoryNotFound, models.CategoryOf(call.failure))
}

func TestRateLimitedSeedPropagatesStatusAndRetryAfter(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")
	h.runner.result = &crawler.Result{
		Outcome:      crawler.OutcomeSeedURLError,
		SeedStatus:   429,
		RetryAfter:   "120",
		PagesFetched: 1,
	}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	require.Len(t, h.failures.calls, 1)
	call := h.failures.calls[0]
	assert.Equal(t, 429, call.httpStatus)
	assert.Equal(t, "120", call.retryAfter)
}

func TestSeedNetworkErrorClassifiesAsNetwork(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")
	h.runner.result = &crawler.Result{Outcome: crawler.OutcomeSeedURLError}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	require.Len(t, h.failures.calls, 1)
	call := h.failures.calls[0]
	assert.Zero(t, call.httpStatus)
	assert.Equal(t, models.CategoryNetworkError, models.CategoryOf(call.failure))
}

func TestInvalidConfigOutcomeRoutesToFailureHandler(t *testing.T) {
	h := newHarness(t)
	h.seedJob("job-1")
	h.runner.result = &crawler.Result{
		Outcome:  crawler.OutcomeInvalidConfig,
		Warnings: []string{"invalid website config: missing detail_urls"},
	}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	require.Len(t, h.failures.calls, 1)
	assert.Equal(t, models.CategoryValidationError, models.CategoryOf(h.failures.calls[0].failure))
}

func TestTemplateJobResolvesWebsiteConfig(t *testing.T) {
	h := newHarness(t)
	job := h.seedJob("job-1")
	job.InlineConfig = nil
	job.WebsiteID = "site-1"
	h.websites.sites["site-1"] = &models.Website{
		ID:      "site-1",
		BaseURL: "https://example.com",
		Config:  &models.WebsiteConfig{Step: &models.StepConfig{Selectors: map[string]string{"detail_urls": "a"}}},
	}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Equal(t, 1, h.runner.calls)
	assert.Equal(t, models.JobStatusCompleted, h.jobs.jobs["job-1"].Status)
}

func TestMissingWebsiteFailsWithoutRunning(t *testing.T) {
	h := newHarness(t)
	job := h.seedJob("job-1")
	job.InlineConfig = nil
	job.WebsiteID = "gone"

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Equal(t, 1, h.acked)
	assert.Zero(t, h.runner.calls)
	require.Len(t, h.failures.calls, 1)
	assert.Equal(t, models.CategoryValidationError, models.CategoryOf(h.failures.calls[0].failure))
}

func TestDeletedWebsiteFailsWithoutRunning(t *testing.T) {
	h := newHarness(t)
	job := h.seedJob("job-1")
	job.InlineConfig = nil
	job.WebsiteID = "site-1"
	deleted := time.Now().UTC()
	h.websites.sites["site-1"] = &models.Website{ID: "site-1", DeletedAt: &deleted}

	h.worker.process(context.Background(), h.delivery(&models.QueueMessage{JobID: "job-1"}))

	assert.Zero(t, h.runner.calls)
	require.Len(t, h.failures.calls, 1)
}
