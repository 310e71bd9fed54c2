package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a crawl job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobType distinguishes ad hoc submissions from cron-produced jobs.
type JobType string

const (
	JobTypeOneTime   JobType = "one_time"
	JobTypeScheduled JobType = "scheduled"
)

// JobProgress is the live counters a running job publishes.
type JobProgress struct {
	PagesFetched  int `json:"pages_fetched"`
	URLsExtracted int `json:"urls_extracted"`
	URLsSkipped   int `json:"urls_skipped"`
	Warnings      int `json:"warnings"`
}

// CrawlJob is one unit of crawl work. Exactly one of WebsiteID or
// InlineConfig is set: template-based jobs reference a Website, seed
// submissions carry their config inline.
type CrawlJob struct {
	ID                 string                 `json:"id" badgerhold:"key"`
	WebsiteID          string                 `json:"website_id,omitempty" badgerhold:"index"`
	InlineConfig       *WebsiteConfig         `json:"inline_config,omitempty"`
	SeedURL            string                 `json:"seed_url"`
	JobType            JobType                `json:"job_type"`
	Status             JobStatus              `json:"status" badgerhold:"index"`
	Priority           int                    `json:"priority"`
	ScheduledAt        time.Time              `json:"scheduled_at"`
	StartedAt          *time.Time             `json:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
	CancelledAt        *time.Time             `json:"cancelled_at,omitempty"`
	CancelledBy        string                 `json:"cancelled_by,omitempty"`
	CancellationReason string                 `json:"cancellation_reason,omitempty"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	RetryCount         int                    `json:"retry_count"`
	MaxRetries         int                    `json:"max_retries"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	Variables          map[string]string      `json:"variables,omitempty"`
	Progress           JobProgress            `json:"progress"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// Validate checks the structural invariants of the job.
func (j *CrawlJob) Validate() error {
	if j.SeedURL == "" {
		return NewValidationError("job requires a seed URL")
	}
	hasWebsite := j.WebsiteID != ""
	hasInline := j.InlineConfig != nil
	if hasWebsite == hasInline {
		return NewValidationError("job requires exactly one of website_id or inline_config")
	}
	if j.Priority < 0 || j.Priority > 9 {
		return NewValidationError("priority %d out of range [0,9]", j.Priority)
	}
	switch j.JobType {
	case JobTypeOneTime, JobTypeScheduled:
	default:
		return NewValidationError("unknown job type %q", j.JobType)
	}
	return nil
}

// QueueMessage is the structure stored in the queue.
// Keep it small - just enough to route the job.
type QueueMessage struct {
	JobID    string  `json:"job_id"`
	JobType  JobType `json:"job_type"`
	SeedURL  string  `json:"seed_url,omitempty"`
	Priority int     `json:"priority"`
}

// ToJSON serializes the message for the wire.
func (m QueueMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// QueueMessageFromJSON deserializes a wire message.
func QueueMessageFromJSON(data []byte) (*QueueMessage, error) {
	var msg QueueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &CrawlError{Category: CategoryParseError, Message: "malformed queue message", Err: err}
	}
	return &msg, nil
}
