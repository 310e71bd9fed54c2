package models

import "time"

// ScheduledJob binds a cron expression to a website template. While active,
// next_run_time is always set; the scheduler recomputes it after each fire.
type ScheduledJob struct {
	ID          string            `json:"id" badgerhold:"key"`
	WebsiteID   string            `json:"website_id" badgerhold:"index"`
	CronExpr    string            `json:"cron_expr"`
	Timezone    string            `json:"timezone"`
	NextRunTime *time.Time        `json:"next_run_time,omitempty"`
	LastRunTime *time.Time        `json:"last_run_time,omitempty"`
	IsActive    bool              `json:"is_active" badgerhold:"index"`
	JobConfig   map[string]string `json:"job_config,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// EffectiveTimezone returns the configured zone, defaulting to UTC.
func (s *ScheduledJob) EffectiveTimezone() string {
	if s.Timezone == "" {
		return "UTC"
	}
	return s.Timezone
}
