package models

import "time"

// DetectionMethod records how a duplicate relationship was found.
type DetectionMethod string

const (
	DetectionExactHash  DetectionMethod = "exact_hash"
	DetectionFuzzyMatch DetectionMethod = "fuzzy_match"
	DetectionURLMatch   DetectionMethod = "url_match"
	DetectionManual     DetectionMethod = "manual"
)

// IsValid reports whether m is a known detection method.
func (m DetectionMethod) IsValid() bool {
	switch m {
	case DetectionExactHash, DetectionFuzzyMatch, DetectionURLMatch, DetectionManual:
		return true
	}
	return false
}

// DuplicateGroup clusters pages sharing near-identical content around a
// canonical page. GroupSize always equals 1 + the relationship count and is
// maintained atomically with relationship inserts and deletes.
type DuplicateGroup struct {
	ID              string    `json:"id" badgerhold:"key"`
	CanonicalPageID string    `json:"canonical_page_id" badgerhold:"index"`
	GroupSize       int       `json:"group_size"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DuplicateRelationship is one non-canonical member of a group.
// SimilarityScore may be nil only for exact_hash detections.
type DuplicateRelationship struct {
	ID                  string          `json:"id" badgerhold:"key"`
	GroupID             string          `json:"group_id" badgerhold:"index"`
	DuplicatePageID     string          `json:"duplicate_page_id" badgerhold:"index"`
	DetectionMethod     DetectionMethod `json:"detection_method"`
	SimilarityScore     *float64        `json:"similarity_score,omitempty"`
	ConfidenceThreshold *int            `json:"confidence_threshold,omitempty"`
	DetectedBy          string          `json:"detected_by,omitempty"`
	DetectedAt          time.Time       `json:"detected_at"`
}

// GroupStats summarizes one group for reporting.
type GroupStats struct {
	GroupID           string     `json:"group_id"`
	GroupSize         int        `json:"group_size"`
	RelationshipCount int        `json:"relationship_count"`
	AverageSimilarity *float64   `json:"average_similarity,omitempty"`
	FirstDetectedAt   *time.Time `json:"first_detected_at,omitempty"`
	LastDetectedAt    *time.Time `json:"last_detected_at,omitempty"`
}
