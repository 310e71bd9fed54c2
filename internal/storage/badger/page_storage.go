package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
	"github.com/ternarybob/trawler/internal/simhash"
)

// PageStorage implements the PageStorage interface for Badger. The mutex
// serializes content-hash upserts so occurrence counts never drift under
// concurrent workers.
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

var _ interfaces.PageStorage = (*PageStorage)(nil)

// NewPageStorage creates a new PageStorage instance
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) *PageStorage {
	return &PageStorage{db: db, logger: logger}
}

func (s *PageStorage) SavePage(ctx context.Context, page *models.CrawledPage) error {
	if page.URL == "" || page.URLHash == "" {
		return models.NewValidationError("page requires url and url_hash")
	}
	if page.IsDuplicate && page.DuplicateOf == "" {
		return models.NewValidationError("duplicate page requires duplicate_of")
	}

	if page.ID == "" {
		page.ID = common.NewID()
	}
	if page.CrawledAt.IsZero() {
		page.CrawledAt = time.Now().UTC()
	}

	if !page.IsDuplicate {
		existing, err := s.GetPageByURLHash(ctx, page.WebsiteID, page.URLHash)
		if err != nil && err != models.ErrNotFound {
			return err
		}
		if existing != nil && existing.ID != page.ID {
			return models.NewValidationError("page already exists for url_hash %s", page.URLHash)
		}
	}

	if err := s.db.Store().Upsert(page.ID, page); err != nil {
		return fmt.Errorf("failed to save page: %w", err)
	}
	return nil
}

func (s *PageStorage) GetPage(ctx context.Context, id string) (*models.CrawledPage, error) {
	var page models.CrawledPage
	if err := s.db.Store().Get(id, &page); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &page, nil
}

// GetPageByURLHash returns the non-duplicate page for (website, url_hash).
func (s *PageStorage) GetPageByURLHash(ctx context.Context, websiteID, urlHash string) (*models.CrawledPage, error) {
	var pages []models.CrawledPage
	query := badgerhold.Where("URLHash").Eq(urlHash).And("WebsiteID").Eq(websiteID)
	if err := s.db.Store().Find(&pages, query); err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	for i := range pages {
		if !pages[i].IsDuplicate {
			return &pages[i], nil
		}
	}
	return nil, models.ErrNotFound
}

// UpsertContentHash registers a content digest. First sighting inserts a row
// with occurrence_count=1; repeats increment the count and refresh
// last_seen_at.
func (s *PageStorage) UpsertContentHash(ctx context.Context, hash string, pageID string, fingerprint uint64) (*models.ContentHash, error) {
	if hash == "" {
		return nil, models.NewValidationError("content hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var row models.ContentHash
	err := s.db.Store().Get(hash, &row)
	switch {
	case err == badgerhold.ErrNotFound:
		row = models.ContentHash{
			Hash:            hash,
			FirstSeenPageID: pageID,
			OccurrenceCount: 1,
			Fingerprint:     simhash.ToSigned(fingerprint),
			LastSeenAt:      now,
			CreatedAt:       now,
		}
		if err := s.db.Store().Insert(hash, &row); err != nil {
			return nil, fmt.Errorf("failed to insert content hash: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read content hash: %w", err)
	default:
		row.OccurrenceCount++
		row.LastSeenAt = now
		if err := s.db.Store().Update(hash, &row); err != nil {
			return nil, fmt.Errorf("failed to update content hash: %w", err)
		}
	}

	return &row, nil
}

func (s *PageStorage) GetContentHash(ctx context.Context, hash string) (*models.ContentHash, error) {
	var row models.ContentHash
	if err := s.db.Store().Get(hash, &row); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content hash: %w", err)
	}
	return &row, nil
}

// FindSimilar scans the content-hash registry for fingerprints within
// maxDistance of the target, ascending by distance. The registry is small
// relative to pages (one row per distinct content), so a full scan is
// acceptable here.
func (s *PageStorage) FindSimilar(ctx context.Context, fingerprint uint64, maxDistance int, excludeHash string, limit int) ([]models.ContentHash, error) {
	var rows []models.ContentHash
	if err := s.db.Store().Find(&rows, badgerhold.Where("Hash").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to scan content hashes: %w", err)
	}

	type scored struct {
		row      models.ContentHash
		distance int
	}
	matches := make([]scored, 0, 16)
	for _, row := range rows {
		if row.Hash == excludeHash {
			continue
		}
		d := simhash.HammingDistance(fingerprint, simhash.FromSigned(row.Fingerprint))
		if d <= maxDistance {
			matches = append(matches, scored{row: row, distance: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].row.Hash < matches[j].row.Hash
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	result := make([]models.ContentHash, len(matches))
	for i, m := range matches {
		result[i] = m.row
	}
	return result, nil
}
