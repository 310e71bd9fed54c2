package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/trawler/internal/models"
)

// WebsiteStorage persists crawl templates and their config history.
type WebsiteStorage interface {
	CreateWebsite(ctx context.Context, site *models.Website) error
	GetWebsite(ctx context.Context, id string) (*models.Website, error)
	// UpdateConfig replaces the config document and appends a history row.
	UpdateConfig(ctx context.Context, id string, config *models.WebsiteConfig, changedBy, reason string) error
	SoftDeleteWebsite(ctx context.Context, id string) error
	GetConfigHistory(ctx context.Context, websiteID string) ([]models.WebsiteConfigHistory, error)
}

// ScheduledJobStorage persists cron-bound job definitions.
type ScheduledJobStorage interface {
	CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*models.ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, job *models.ScheduledJob) error
	// GetDueJobs returns up to limit active jobs with next_run_time ≤ now.
	GetDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
}

// JobStorage persists crawl jobs.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.CrawlJob) error
	GetJob(ctx context.Context, id string) (*models.CrawlJob, error)
	UpdateJob(ctx context.Context, job *models.CrawlJob) error
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, errorMsg string) error
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.CrawlJob, error)
}

// PageStorage persists crawl output and the content-hash registry.
type PageStorage interface {
	SavePage(ctx context.Context, page *models.CrawledPage) error
	GetPage(ctx context.Context, id string) (*models.CrawledPage, error)
	GetPageByURLHash(ctx context.Context, websiteID, urlHash string) (*models.CrawledPage, error)
	// UpsertContentHash registers a content digest, incrementing the
	// occurrence count atomically. Returns the row after the upsert.
	UpsertContentHash(ctx context.Context, hash string, pageID string, fingerprint uint64) (*models.ContentHash, error)
	GetContentHash(ctx context.Context, hash string) (*models.ContentHash, error)
	// FindSimilar returns content hashes within maxDistance of the target
	// fingerprint, ascending by distance, excluding excludeHash, capped at limit.
	FindSimilar(ctx context.Context, fingerprint uint64, maxDistance int, excludeHash string, limit int) ([]models.ContentHash, error)
}

// DuplicateStorage maintains duplicate groups and their invariants.
type DuplicateStorage interface {
	CreateGroup(ctx context.Context, canonicalPageID string) (*models.DuplicateGroup, error)
	GetGroup(ctx context.Context, groupID string) (*models.DuplicateGroup, error)
	GetGroupByCanonicalPage(ctx context.Context, pageID string) (*models.DuplicateGroup, error)
	GetGroupByMemberPage(ctx context.Context, pageID string) (*models.DuplicateGroup, error)
	AddDuplicate(ctx context.Context, groupID, pageID string, method models.DetectionMethod, similarity *float64, confidenceThreshold *int, detectedBy string) (*models.DuplicateRelationship, error)
	RemoveRelationship(ctx context.Context, relID string) error
	RemoveGroup(ctx context.Context, groupID string) error
	UpdateSimilarityScore(ctx context.Context, relID string, score float64) error
	GetGroupStats(ctx context.Context, groupID string) (*models.GroupStats, error)
	CountByMethod(ctx context.Context) (map[models.DetectionMethod]int, error)
}

// RetryStorage persists retry policies, attempt history, and the DLQ.
type RetryStorage interface {
	SeedDefaultPolicies(ctx context.Context) error
	GetPolicy(ctx context.Context, category models.ErrorCategory) (*models.RetryPolicy, error)
	UpdatePolicy(ctx context.Context, policy *models.RetryPolicy) error
	AppendRetryHistory(ctx context.Context, entry *models.RetryHistory) error
	GetRetryHistory(ctx context.Context, jobID string) ([]models.RetryHistory, error)
	// AddToDeadLetter inserts an entry unless one already exists for the job.
	AddToDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error
	GetDeadLetterByJob(ctx context.Context, jobID string) (*models.DeadLetterEntry, error)
}
