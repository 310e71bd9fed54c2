package models

import "time"

// CrawledPage is the persisted output of crawling one URL.
// (website_id, url_hash) is unique among non-duplicates.
type CrawledPage struct {
	ID               string                 `json:"id" badgerhold:"key"`
	WebsiteID        string                 `json:"website_id" badgerhold:"index"`
	JobID            string                 `json:"job_id" badgerhold:"index"`
	URL              string                 `json:"url"`
	URLHash          string                 `json:"url_hash" badgerhold:"index"`
	ContentHash      string                 `json:"content_hash" badgerhold:"index"`
	Title            string                 `json:"title,omitempty"`
	ExtractedContent string                 `json:"extracted_content,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	BlobPath         string                 `json:"blob_path,omitempty"`
	IsDuplicate      bool                   `json:"is_duplicate"`
	DuplicateOf      string                 `json:"duplicate_of,omitempty"`
	SimilarityScore  *float64               `json:"similarity_score,omitempty"`
	CrawledAt        time.Time              `json:"crawled_at"`
}

// ContentHash is one row of the content digest registry. Fingerprint holds
// the simhash in its signed 64-bit storage encoding; decode with
// simhash.FromSigned before computing distances.
type ContentHash struct {
	Hash            string    `json:"hash" badgerhold:"key"`
	FirstSeenPageID string    `json:"first_seen_page_id,omitempty"`
	OccurrenceCount int       `json:"occurrence_count"`
	Fingerprint     int64     `json:"simhash_fingerprint"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	CreatedAt       time.Time `json:"created_at"`
}
