// Package dedup detects exact and near-duplicate page content across crawls.
package dedup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
	"github.com/ternarybob/trawler/internal/simhash"
	"github.com/ternarybob/trawler/internal/urls"
)

// DefaultMaxDistance is the Hamming distance ceiling for fuzzy matches.
const DefaultMaxDistance = 10

// websiteCacheLimit caps the jobID lookup cache; jobs are short-lived, so a
// full flush on overflow is cheaper than tracking completion.
const websiteCacheLimit = 1024

// Detector persists crawled pages and clusters duplicates: exact matches by
// content hash, near matches by simhash distance over the content registry.
type Detector struct {
	pages       interfaces.PageStorage
	groups      interfaces.DuplicateStorage
	jobs        interfaces.JobStorage
	fp          *simhash.Fingerprinter
	canon       *urls.Canonicalizer
	maxDistance int
	logger      arbor.ILogger

	mu         sync.Mutex
	websites   map[string]string // jobID -> websiteID
	cacheLimit int
}

// NewDetector creates a duplicate detector with the default 64-bit
// fingerprinter.
func NewDetector(pages interfaces.PageStorage, groups interfaces.DuplicateStorage, jobs interfaces.JobStorage, logger arbor.ILogger) *Detector {
	fp, _ := simhash.New(simhash.DefaultBits)
	return &Detector{
		pages:       pages,
		groups:      groups,
		jobs:        jobs,
		fp:          fp,
		canon:       urls.NewCanonicalizer(urls.Options{}),
		maxDistance: DefaultMaxDistance,
		logger:      logger,
		websites:    make(map[string]string),
		cacheLimit:  websiteCacheLimit,
	}
}

// ProcessPage registers one fetched page: normalizes its text, records the
// content hash, and attaches the page to a duplicate group when the content
// matches an earlier page exactly or within the fingerprint distance ceiling.
func (d *Detector) ProcessPage(ctx context.Context, jobID, pageURL string, content []byte) error {
	_, err := d.process(ctx, jobID, pageURL, content)
	return err
}

// process does the work of ProcessPage and returns the saved page, or nil
// when the page carried no indexable text.
func (d *Detector) process(ctx context.Context, jobID, pageURL string, content []byte) (*models.CrawledPage, error) {
	text := normalizeText(content)
	if text == "" {
		return nil, nil
	}

	sum := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(sum[:])

	fingerprint, err := d.fp.Fingerprint(text)
	if err != nil {
		return nil, nil
	}

	urlHash, err := d.canon.Digest(pageURL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize page URL: %w", err)
	}

	page := &models.CrawledPage{
		ID:          common.NewID(),
		WebsiteID:   d.websiteOf(ctx, jobID),
		JobID:       jobID,
		URL:         pageURL,
		URLHash:     urlHash,
		ContentHash: contentHash,
		CrawledAt:   time.Now().UTC(),
	}

	canonicalID, method, similarity := d.match(ctx, contentHash, fingerprint)
	if canonicalID != "" {
		page.IsDuplicate = true
		page.DuplicateOf = canonicalID
		page.SimilarityScore = similarity
	}

	if err := d.pages.SavePage(ctx, page); err != nil {
		return nil, fmt.Errorf("save page: %w", err)
	}
	if _, err := d.pages.UpsertContentHash(ctx, contentHash, page.ID, fingerprint); err != nil {
		return nil, fmt.Errorf("register content hash: %w", err)
	}

	if canonicalID == "" {
		return page, nil
	}
	if err := d.attachToGroup(ctx, canonicalID, page, method, similarity); err != nil {
		return nil, err
	}
	return page, nil
}

// match looks for an earlier page with the same or near-identical content.
// Returns the canonical page id, or "" when the content is novel.
func (d *Detector) match(ctx context.Context, contentHash string, fingerprint uint64) (string, models.DetectionMethod, *float64) {
	existing, err := d.pages.GetContentHash(ctx, contentHash)
	if err == nil && existing.FirstSeenPageID != "" {
		return existing.FirstSeenPageID, models.DetectionExactHash, nil
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		d.logger.Warn().Err(err).Msg("Content hash lookup failed, treating page as novel")
		return "", "", nil
	}

	near, err := d.pages.FindSimilar(ctx, fingerprint, d.maxDistance, contentHash, 1)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Fingerprint search failed, treating page as novel")
		return "", "", nil
	}
	if len(near) == 0 {
		return "", "", nil
	}

	score := d.fp.Similarity(fingerprint, simhash.FromSigned(near[0].Fingerprint))
	return near[0].FirstSeenPageID, models.DetectionFuzzyMatch, &score
}

// attachToGroup adds the page to the canonical page's duplicate group,
// creating the group on first duplicate.
func (d *Detector) attachToGroup(ctx context.Context, canonicalID string, page *models.CrawledPage, method models.DetectionMethod, similarity *float64) error {
	group, err := d.groups.GetGroupByCanonicalPage(ctx, canonicalID)
	if errors.Is(err, models.ErrNotFound) {
		// The canonical page may itself be a member of an earlier group.
		group, err = d.groups.GetGroupByMemberPage(ctx, canonicalID)
	}
	if errors.Is(err, models.ErrNotFound) {
		group, err = d.groups.CreateGroup(ctx, canonicalID)
	}
	if err != nil {
		return fmt.Errorf("resolve duplicate group: %w", err)
	}

	var threshold *int
	if method == models.DetectionFuzzyMatch {
		maxDistance := d.maxDistance
		threshold = &maxDistance
	}
	if _, err := d.groups.AddDuplicate(ctx, group.ID, page.ID, method, similarity, threshold, "crawler"); err != nil {
		return fmt.Errorf("record duplicate relationship: %w", err)
	}

	d.logger.Debug().
		Str("page_id", page.ID).
		Str("group_id", group.ID).
		Str("method", string(method)).
		Msg("Page attached to duplicate group")
	return nil
}

// websiteOf resolves the website a job crawls for, cached per job.
func (d *Detector) websiteOf(ctx context.Context, jobID string) string {
	d.mu.Lock()
	id, ok := d.websites[jobID]
	d.mu.Unlock()
	if ok {
		return id
	}

	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return ""
	}

	d.mu.Lock()
	if len(d.websites) >= d.cacheLimit {
		d.websites = make(map[string]string, d.cacheLimit)
	}
	d.websites[jobID] = job.WebsiteID
	d.mu.Unlock()
	return job.WebsiteID
}

// normalizeText extracts the page's visible text and collapses whitespace.
func normalizeText(content []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return strings.Join(strings.Fields(string(content)), " ")
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
