package models

import "time"

// WebsiteStatus is the lifecycle state of a crawl template.
type WebsiteStatus string

const (
	WebsiteStatusActive   WebsiteStatus = "active"
	WebsiteStatusInactive WebsiteStatus = "inactive"
)

// Website is a reusable crawl template: a base URL plus the step
// configuration used to crawl it. Websites are soft-deleted only; the name
// must be unique among live rows.
type Website struct {
	ID           string         `json:"id" badgerhold:"key"`
	Name         string         `json:"name" badgerhold:"index"`
	BaseURL      string         `json:"base_url"`
	Config       *WebsiteConfig `json:"config"`
	CronSchedule string         `json:"cron_schedule,omitempty"`
	Status       WebsiteStatus  `json:"status" badgerhold:"index"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    *time.Time     `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the website has been soft-deleted.
func (w *Website) IsDeleted() bool {
	return w.DeletedAt != nil
}

// WebsiteConfigHistory is an append-only snapshot of a website's config.
// Versions start at 1 and increase by one per change; the store assigns them.
type WebsiteConfigHistory struct {
	ID           string         `json:"id" badgerhold:"key"`
	WebsiteID    string         `json:"website_id" badgerhold:"index"`
	Version      int            `json:"version"`
	Config       *WebsiteConfig `json:"config"`
	ChangedBy    string         `json:"changed_by,omitempty"`
	ChangeReason string         `json:"change_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
