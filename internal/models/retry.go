package models

import "time"

// BackoffStrategy selects how retry delays grow across attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// RetryPolicy is the per-category retry behavior. One row exists per
// ErrorCategory, seeded at install and mutable through the admin path.
type RetryPolicy struct {
	Category            ErrorCategory   `json:"error_category" badgerhold:"key"`
	IsRetryable         bool            `json:"is_retryable"`
	MaxAttempts         int             `json:"max_attempts"`
	BackoffStrategy     BackoffStrategy `json:"backoff_strategy"`
	InitialDelaySeconds float64         `json:"initial_delay_seconds"`
	MaxDelaySeconds     float64         `json:"max_delay_seconds"`
	BackoffMultiplier   float64         `json:"backoff_multiplier"`
	Description         string          `json:"description,omitempty"`
}

// DefaultRetryPolicies returns the seed rows for a fresh install.
// Client-input failures never retry; transient infrastructure failures back
// off exponentially; rate limits wait the longest.
func DefaultRetryPolicies() []RetryPolicy {
	return []RetryPolicy{
		{
			Category:    CategoryNotFound,
			IsRetryable: false,
			Description: "Resource does not exist, retrying cannot help",
		},
		{
			Category:    CategoryAuthError,
			IsRetryable: false,
			Description: "Credentials rejected, needs operator attention",
		},
		{
			Category:            CategoryRateLimit,
			IsRetryable:         true,
			MaxAttempts:         5,
			BackoffStrategy:     BackoffExponential,
			InitialDelaySeconds: 60,
			MaxDelaySeconds:     3600,
			BackoffMultiplier:   2,
			Description:         "Server throttling, back off hard",
		},
		{
			Category:            CategoryTimeout,
			IsRetryable:         true,
			MaxAttempts:         3,
			BackoffStrategy:     BackoffExponential,
			InitialDelaySeconds: 10,
			MaxDelaySeconds:     300,
			BackoffMultiplier:   2,
			Description:         "Request timed out, likely transient",
		},
		{
			Category:    CategoryClientError,
			IsRetryable: false,
			Description: "Request is malformed for this server",
		},
		{
			Category:            CategoryServerError,
			IsRetryable:         true,
			MaxAttempts:         3,
			BackoffStrategy:     BackoffExponential,
			InitialDelaySeconds: 30,
			MaxDelaySeconds:     600,
			BackoffMultiplier:   2,
			Description:         "Server fault, likely transient",
		},
		{
			Category:            CategoryNetworkError,
			IsRetryable:         true,
			MaxAttempts:         3,
			BackoffStrategy:     BackoffExponential,
			InitialDelaySeconds: 15,
			MaxDelaySeconds:     300,
			BackoffMultiplier:   2,
			Description:         "Connection or DNS failure, likely transient",
		},
		{
			Category:    CategoryParseError,
			IsRetryable: false,
			Description: "Content cannot be parsed, retrying returns the same bytes",
		},
		{
			Category:    CategoryValidationError,
			IsRetryable: false,
			Description: "Input failed validation",
		},
		{
			Category:            CategoryUnknown,
			IsRetryable:         true,
			MaxAttempts:         2,
			BackoffStrategy:     BackoffLinear,
			InitialDelaySeconds: 30,
			MaxDelaySeconds:     120,
			BackoffMultiplier:   1,
			Description:         "Unclassified failure, retry cautiously",
		},
	}
}

// RetryHistory is one append-only attempt record. AttemptNumber is 1-indexed
// and strictly increasing per job.
type RetryHistory struct {
	ID                string        `json:"id" badgerhold:"key"`
	JobID             string        `json:"job_id" badgerhold:"index"`
	AttemptNumber     int           `json:"attempt_number"`
	ErrorCategory     ErrorCategory `json:"error_category"`
	ErrorMessage      string        `json:"error_message"`
	StackTrace        string        `json:"stack_trace,omitempty"`
	RetryDelaySeconds float64       `json:"retry_delay_seconds"`
	AttemptedAt       time.Time     `json:"attempted_at"`
}

// DeadLetterEntry archives a job that exhausted its retries. At most one
// entry exists per job.
type DeadLetterEntry struct {
	ID              string        `json:"id" badgerhold:"key"`
	JobID           string        `json:"job_id" badgerhold:"index"`
	SeedURL         string        `json:"seed_url"`
	WebsiteID       string        `json:"website_id,omitempty"`
	JobType         JobType       `json:"job_type"`
	Priority        int           `json:"priority"`
	ErrorCategory   ErrorCategory `json:"error_category"`
	ErrorMessage    string        `json:"error_message"`
	StackTrace      string        `json:"stack_trace,omitempty"`
	HTTPStatus      int           `json:"http_status,omitempty"`
	TotalAttempts   int           `json:"total_attempts"`
	FirstAttemptAt  time.Time     `json:"first_attempt_at"`
	LastAttemptAt   time.Time     `json:"last_attempt_at"`
	Resolved        bool          `json:"resolved"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	ResolutionNotes string        `json:"resolution_notes,omitempty"`
	RetryAttempted  bool          `json:"retry_attempted"`
	RetrySuccess    *bool         `json:"retry_success,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}
