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

// DuplicateStorage implements the DuplicateStorage interface for Badger.
// group_size always equals 1 + the group's relationship count; the mutex
// makes relationship inserts and deletes atomic with the size update.
type DuplicateStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

var _ interfaces.DuplicateStorage = (*DuplicateStorage)(nil)

// NewDuplicateStorage creates a new DuplicateStorage instance
func NewDuplicateStorage(db *BadgerDB, logger arbor.ILogger) *DuplicateStorage {
	return &DuplicateStorage{db: db, logger: logger}
}

func (s *DuplicateStorage) CreateGroup(ctx context.Context, canonicalPageID string) (*models.DuplicateGroup, error) {
	if canonicalPageID == "" {
		return nil, models.NewValidationError("canonical page id is required")
	}

	now := time.Now().UTC()
	group := &models.DuplicateGroup{
		ID:              common.NewID(),
		CanonicalPageID: canonicalPageID,
		GroupSize:       1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.Store().Insert(group.ID, group); err != nil {
		return nil, fmt.Errorf("failed to create duplicate group: %w", err)
	}
	return group, nil
}

func (s *DuplicateStorage) GetGroup(ctx context.Context, groupID string) (*models.DuplicateGroup, error) {
	var group models.DuplicateGroup
	if err := s.db.Store().Get(groupID, &group); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get duplicate group: %w", err)
	}
	return &group, nil
}

func (s *DuplicateStorage) GetGroupByCanonicalPage(ctx context.Context, pageID string) (*models.DuplicateGroup, error) {
	var groups []models.DuplicateGroup
	if err := s.db.Store().Find(&groups, badgerhold.Where("CanonicalPageID").Eq(pageID).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to query duplicate groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, models.ErrNotFound
	}
	return &groups[0], nil
}

func (s *DuplicateStorage) GetGroupByMemberPage(ctx context.Context, pageID string) (*models.DuplicateGroup, error) {
	var rels []models.DuplicateRelationship
	if err := s.db.Store().Find(&rels, badgerhold.Where("DuplicatePageID").Eq(pageID).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	if len(rels) == 0 {
		return nil, models.ErrNotFound
	}
	return s.GetGroup(ctx, rels[0].GroupID)
}

// AddDuplicate inserts a relationship and bumps group_size. A failed insert
// leaves group_size untouched.
func (s *DuplicateStorage) AddDuplicate(ctx context.Context, groupID, pageID string, method models.DetectionMethod, similarity *float64, confidenceThreshold *int, detectedBy string) (*models.DuplicateRelationship, error) {
	if !method.IsValid() {
		return nil, models.NewValidationError("unknown detection method %q", method)
	}
	if similarity == nil && method != models.DetectionExactHash {
		return nil, models.NewValidationError("similarity score is required for %s detections", method)
	}
	if similarity != nil && (*similarity < 0 || *similarity > 100) {
		return nil, models.NewValidationError("similarity score %.2f out of range [0,100]", *similarity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if pageID == group.CanonicalPageID {
		return nil, models.NewValidationError("page %s is the group's canonical page", pageID)
	}

	var existing []models.DuplicateRelationship
	query := badgerhold.Where("GroupID").Eq(groupID).And("DuplicatePageID").Eq(pageID)
	if err := s.db.Store().Find(&existing, query); err != nil {
		return nil, fmt.Errorf("failed to check existing relationship: %w", err)
	}
	if len(existing) > 0 {
		return nil, models.NewValidationError("page %s is already in group %s", pageID, groupID)
	}

	rel := &models.DuplicateRelationship{
		ID:                  common.NewID(),
		GroupID:             groupID,
		DuplicatePageID:     pageID,
		DetectionMethod:     method,
		SimilarityScore:     similarity,
		ConfidenceThreshold: confidenceThreshold,
		DetectedBy:          detectedBy,
		DetectedAt:          time.Now().UTC(),
	}
	if err := s.db.Store().Insert(rel.ID, rel); err != nil {
		return nil, fmt.Errorf("failed to insert relationship: %w", err)
	}

	group.GroupSize++
	group.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Update(groupID, group); err != nil {
		// Roll the relationship back so size and membership stay consistent.
		if delErr := s.db.Store().Delete(rel.ID, &models.DuplicateRelationship{}); delErr != nil {
			s.logger.Error().Err(delErr).Str("relationship_id", rel.ID).Msg("Failed to roll back relationship after size update failure")
		}
		return nil, fmt.Errorf("failed to update group size: %w", err)
	}

	return rel, nil
}

func (s *DuplicateStorage) RemoveRelationship(ctx context.Context, relID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rel models.DuplicateRelationship
	if err := s.db.Store().Get(relID, &rel); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to get relationship: %w", err)
	}

	if err := s.db.Store().Delete(relID, &models.DuplicateRelationship{}); err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}

	group, err := s.GetGroup(ctx, rel.GroupID)
	if err != nil {
		if err == models.ErrNotFound {
			return nil
		}
		return err
	}
	group.GroupSize--
	group.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Update(group.ID, group); err != nil {
		return fmt.Errorf("failed to update group size: %w", err)
	}
	return nil
}

// RemoveGroup deletes a group and all its relationships.
func (s *DuplicateStorage) RemoveGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Store().DeleteMatching(&models.DuplicateRelationship{}, badgerhold.Where("GroupID").Eq(groupID)); err != nil {
		return fmt.Errorf("failed to delete group relationships: %w", err)
	}
	if err := s.db.Store().Delete(groupID, &models.DuplicateGroup{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

func (s *DuplicateStorage) UpdateSimilarityScore(ctx context.Context, relID string, score float64) error {
	if score < 0 || score > 100 {
		return models.NewValidationError("similarity score %.2f out of range [0,100]", score)
	}

	var rel models.DuplicateRelationship
	if err := s.db.Store().Get(relID, &rel); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to get relationship: %w", err)
	}

	rel.SimilarityScore = &score
	if err := s.db.Store().Update(relID, &rel); err != nil {
		return fmt.Errorf("failed to update similarity score: %w", err)
	}
	return nil
}

func (s *DuplicateStorage) GetGroupStats(ctx context.Context, groupID string) (*models.GroupStats, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var rels []models.DuplicateRelationship
	if err := s.db.Store().Find(&rels, badgerhold.Where("GroupID").Eq(groupID)); err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}

	stats := &models.GroupStats{
		GroupID:           groupID,
		GroupSize:         group.GroupSize,
		RelationshipCount: len(rels),
	}

	var sum float64
	var scored int
	for _, rel := range rels {
		if rel.SimilarityScore != nil {
			sum += *rel.SimilarityScore
			scored++
		}
		detected := rel.DetectedAt
		if stats.FirstDetectedAt == nil || detected.Before(*stats.FirstDetectedAt) {
			t := detected
			stats.FirstDetectedAt = &t
		}
		if stats.LastDetectedAt == nil || detected.After(*stats.LastDetectedAt) {
			t := detected
			stats.LastDetectedAt = &t
		}
	}
	if scored > 0 {
		avg := sum / float64(scored)
		stats.AverageSimilarity = &avg
	}

	return stats, nil
}

func (s *DuplicateStorage) CountByMethod(ctx context.Context) (map[models.DetectionMethod]int, error) {
	var rels []models.DuplicateRelationship
	if err := s.db.Store().Find(&rels, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to scan relationships: %w", err)
	}

	counts := make(map[models.DetectionMethod]int)
	for _, rel := range rels {
		counts[rel.DetectionMethod]++
	}
	return counts, nil
}
