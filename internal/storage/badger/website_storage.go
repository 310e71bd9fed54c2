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

// WebsiteStorage implements the WebsiteStorage interface for Badger.
// The mutex serializes writes so the name-uniqueness check and the history
// version assignment cannot race.
type WebsiteStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

var _ interfaces.WebsiteStorage = (*WebsiteStorage)(nil)

// NewWebsiteStorage creates a new WebsiteStorage instance
func NewWebsiteStorage(db *BadgerDB, logger arbor.ILogger) *WebsiteStorage {
	return &WebsiteStorage{db: db, logger: logger}
}

func (s *WebsiteStorage) CreateWebsite(ctx context.Context, site *models.Website) error {
	if site.Name == "" {
		return models.NewValidationError("website name is required")
	}
	if site.BaseURL == "" {
		return models.NewValidationError("website base URL is required")
	}
	if site.Config != nil {
		if err := site.Config.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	taken, err := s.nameTaken(site.Name, "")
	if err != nil {
		return err
	}
	if taken {
		return models.NewValidationError("website name %q already exists", site.Name)
	}

	if site.ID == "" {
		site.ID = common.NewID()
	}
	if site.Status == "" {
		site.Status = models.WebsiteStatusActive
	}
	now := time.Now().UTC()
	site.CreatedAt = now
	site.UpdatedAt = now

	if err := s.db.Store().Insert(site.ID, site); err != nil {
		return fmt.Errorf("failed to create website: %w", err)
	}

	if site.Config != nil {
		if err := s.appendHistory(site.ID, site.Config, "", "initial configuration"); err != nil {
			s.logger.Warn().Err(err).Str("website_id", site.ID).Msg("Failed to record initial config history")
		}
	}

	s.logger.Debug().Str("website_id", site.ID).Str("name", site.Name).Msg("Website created")
	return nil
}

func (s *WebsiteStorage) GetWebsite(ctx context.Context, id string) (*models.Website, error) {
	var site models.Website
	if err := s.db.Store().Get(id, &site); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get website: %w", err)
	}
	return &site, nil
}

func (s *WebsiteStorage) UpdateConfig(ctx context.Context, id string, config *models.WebsiteConfig, changedBy, reason string) error {
	if config == nil {
		return models.NewValidationError("config is required")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	site, err := s.GetWebsite(ctx, id)
	if err != nil {
		return err
	}
	if site.IsDeleted() {
		return models.NewValidationError("website %s is deleted", id)
	}

	site.Config = config
	site.UpdatedAt = time.Now().UTC()

	if err := s.db.Store().Update(id, site); err != nil {
		return fmt.Errorf("failed to update website config: %w", err)
	}

	return s.appendHistory(id, config, changedBy, reason)
}

func (s *WebsiteStorage) SoftDeleteWebsite(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	site, err := s.GetWebsite(ctx, id)
	if err != nil {
		return err
	}
	if site.IsDeleted() {
		return nil
	}

	now := time.Now().UTC()
	site.DeletedAt = &now
	site.UpdatedAt = now
	site.Status = models.WebsiteStatusInactive

	if err := s.db.Store().Update(id, site); err != nil {
		return fmt.Errorf("failed to soft-delete website: %w", err)
	}

	s.logger.Debug().Str("website_id", id).Msg("Website soft-deleted")
	return nil
}

func (s *WebsiteStorage) GetConfigHistory(ctx context.Context, websiteID string) ([]models.WebsiteConfigHistory, error) {
	var history []models.WebsiteConfigHistory
	query := badgerhold.Where("WebsiteID").Eq(websiteID).SortBy("Version")
	if err := s.db.Store().Find(&history, query); err != nil {
		return nil, fmt.Errorf("failed to get config history: %w", err)
	}
	return history, nil
}

// nameTaken reports whether a live website other than excludeID uses name.
func (s *WebsiteStorage) nameTaken(name, excludeID string) (bool, error) {
	var sites []models.Website
	if err := s.db.Store().Find(&sites, badgerhold.Where("Name").Eq(name)); err != nil {
		return false, fmt.Errorf("failed to check website name: %w", err)
	}
	for _, site := range sites {
		if site.ID != excludeID && !site.IsDeleted() {
			return true, nil
		}
	}
	return false, nil
}

// appendHistory writes the next config history row. Callers hold the mutex.
func (s *WebsiteStorage) appendHistory(websiteID string, config *models.WebsiteConfig, changedBy, reason string) error {
	var latest []models.WebsiteConfigHistory
	query := badgerhold.Where("WebsiteID").Eq(websiteID).SortBy("Version").Reverse().Limit(1)
	if err := s.db.Store().Find(&latest, query); err != nil {
		return fmt.Errorf("failed to read config history: %w", err)
	}

	version := 1
	if len(latest) > 0 {
		version = latest[0].Version + 1
	}

	entry := models.WebsiteConfigHistory{
		ID:           common.NewID(),
		WebsiteID:    websiteID,
		Version:      version,
		Config:       config,
		ChangedBy:    changedBy,
		ChangeReason: reason,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.Store().Insert(entry.ID, &entry); err != nil {
		return fmt.Errorf("failed to append config history: %w", err)
	}
	return nil
}
