package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
)

// ScheduledJobStorage implements the ScheduledJobStorage interface for Badger
type ScheduledJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.ScheduledJobStorage = (*ScheduledJobStorage)(nil)

// NewScheduledJobStorage creates a new ScheduledJobStorage instance
func NewScheduledJobStorage(db *BadgerDB, logger arbor.ILogger) *ScheduledJobStorage {
	return &ScheduledJobStorage{db: db, logger: logger}
}

func (s *ScheduledJobStorage) CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) error {
	if job.WebsiteID == "" {
		return models.NewValidationError("scheduled job requires a website_id")
	}
	if job.CronExpr == "" {
		return models.NewValidationError("scheduled job requires a cron expression")
	}
	if job.IsActive && job.NextRunTime == nil {
		return models.NewValidationError("active scheduled job requires next_run_time")
	}

	if job.ID == "" {
		job.ID = common.NewID()
	}
	if job.Timezone == "" {
		job.Timezone = "UTC"
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

func (s *ScheduledJobStorage) GetScheduledJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return &job, nil
}

func (s *ScheduledJobStorage) UpdateScheduledJob(ctx context.Context, job *models.ScheduledJob) error {
	if job.IsActive && job.NextRunTime == nil {
		return models.NewValidationError("active scheduled job requires next_run_time")
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Update(job.ID, job); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to update scheduled job: %w", err)
	}
	return nil
}

// GetDueJobs returns up to limit active jobs whose next_run_time is at or
// before now, oldest first. Jobs with a missing next_run_time are included
// so the scheduler can repair them.
func (s *ScheduledJobStorage) GetDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	var active []models.ScheduledJob
	if err := s.db.Store().Find(&active, badgerhold.Where("IsActive").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to query scheduled jobs: %w", err)
	}

	due := make([]*models.ScheduledJob, 0, len(active))
	for i := range active {
		job := &active[i]
		if job.NextRunTime == nil || !job.NextRunTime.After(now) {
			due = append(due, job)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		// Orphaned rows (nil next_run_time) sort first for repair.
		switch {
		case due[i].NextRunTime == nil:
			return true
		case due[j].NextRunTime == nil:
			return false
		default:
			return due[i].NextRunTime.Before(*due[j].NextRunTime)
		}
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
