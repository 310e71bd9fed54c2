package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
)

// RetryStorage implements the RetryStorage interface for Badger
type RetryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

var _ interfaces.RetryStorage = (*RetryStorage)(nil)

// NewRetryStorage creates a new RetryStorage instance
func NewRetryStorage(db *BadgerDB, logger arbor.ILogger) *RetryStorage {
	return &RetryStorage{db: db, logger: logger}
}

// SeedDefaultPolicies inserts the default policy rows, leaving any existing
// rows untouched so operator edits survive restarts.
func (s *RetryStorage) SeedDefaultPolicies(ctx context.Context) error {
	for _, policy := range models.DefaultRetryPolicies() {
		p := policy
		err := s.db.Store().Insert(p.Category, &p)
		if err == badgerhold.ErrKeyExists {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed retry policy %s: %w", p.Category, err)
		}
	}
	s.logger.Debug().Int("count", len(models.DefaultRetryPolicies())).Msg("Retry policies seeded")
	return nil
}

func (s *RetryStorage) GetPolicy(ctx context.Context, category models.ErrorCategory) (*models.RetryPolicy, error) {
	var policy models.RetryPolicy
	if err := s.db.Store().Get(category, &policy); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get retry policy: %w", err)
	}
	return &policy, nil
}

func (s *RetryStorage) UpdatePolicy(ctx context.Context, policy *models.RetryPolicy) error {
	if !policy.Category.IsValid() {
		return models.NewValidationError("unknown error category %q", policy.Category)
	}
	if err := s.db.Store().Upsert(policy.Category, policy); err != nil {
		return fmt.Errorf("failed to update retry policy: %w", err)
	}
	return nil
}

// AppendRetryHistory writes an attempt record, enforcing that attempt
// numbers strictly increase per job.
func (s *RetryStorage) AppendRetryHistory(ctx context.Context, entry *models.RetryHistory) error {
	if entry.JobID == "" {
		return models.NewValidationError("retry history requires a job_id")
	}
	if entry.AttemptNumber < 1 {
		return models.NewValidationError("attempt number must be 1 or greater")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.GetRetryHistory(ctx, entry.JobID)
	if err != nil {
		return err
	}
	if len(history) > 0 && entry.AttemptNumber <= history[len(history)-1].AttemptNumber {
		return models.NewValidationError("attempt %d is not after attempt %d for job %s",
			entry.AttemptNumber, history[len(history)-1].AttemptNumber, entry.JobID)
	}

	if entry.ID == "" {
		entry.ID = common.NewID()
	}
	if entry.AttemptedAt.IsZero() {
		entry.AttemptedAt = time.Now().UTC()
	}

	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to append retry history: %w", err)
	}
	return nil
}

// GetRetryHistory returns a job's attempts ordered by attempt number.
func (s *RetryStorage) GetRetryHistory(ctx context.Context, jobID string) ([]models.RetryHistory, error) {
	var history []models.RetryHistory
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("AttemptNumber")
	if err := s.db.Store().Find(&history, query); err != nil {
		return nil, fmt.Errorf("failed to get retry history: %w", err)
	}
	return history, nil
}

// AddToDeadLetter archives a job's terminal failure. At most one entry
// exists per job; repeats are ignored.
func (s *RetryStorage) AddToDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	if entry.JobID == "" {
		return models.NewValidationError("dead letter entry requires a job_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.GetDeadLetterByJob(ctx, entry.JobID)
	if err != nil && err != models.ErrNotFound {
		return err
	}
	if existing != nil {
		s.logger.Debug().Str("job_id", entry.JobID).Msg("Dead letter entry already exists, skipping")
		return nil
	}

	if entry.ID == "" {
		entry.ID = common.NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to insert dead letter entry: %w", err)
	}
	return nil
}

func (s *RetryStorage) GetDeadLetterByJob(ctx context.Context, jobID string) (*models.DeadLetterEntry, error) {
	var entries []models.DeadLetterEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("JobID").Eq(jobID).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to query dead letter entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, models.ErrNotFound
	}
	return &entries[0], nil
}
