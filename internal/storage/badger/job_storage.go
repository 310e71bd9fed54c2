package badger

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
)

// maxErrorMessageLen bounds stored failure reasons.
const maxErrorMessageLen = 1000

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.JobStorage = (*JobStorage)(nil)

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{db: db, logger: logger}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.CrawlJob) error {
	if job.ID == "" {
		job.ID = common.NewID()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if err := job.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.CrawlJob, error) {
	var job models.CrawlJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.CrawlJob) error {
	job.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Update(job.ID, job); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job's status and stamps the matching
// timestamp. Error messages are truncated to a bounded length.
func (s *JobStorage) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, errorMsg string) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
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
		if len(errorMsg) > maxErrorMessageLen {
			// Cut on a rune boundary so the stored message stays valid UTF-8.
			cut := maxErrorMessageLen
			for cut > 0 && !utf8.RuneStart(errorMsg[cut]) {
				cut--
			}
			errorMsg = errorMsg[:cut]
		}
		job.ErrorMessage = errorMsg
	}

	return s.UpdateJob(ctx, job)
}

func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.CrawlJob, error) {
	var jobs []models.CrawlJob
	query := badgerhold.Where("Status").Eq(status).SortBy("CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	result := make([]*models.CrawlJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}
