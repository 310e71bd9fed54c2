// Package metrics exposes the Prometheus instruments shared across services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated counts crawl jobs created, by type.
	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_jobs_created_total",
		Help: "Crawl jobs created, by job type.",
	}, []string{"job_type"})

	// Retries counts retry attempts scheduled, by error category.
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_retries_total",
		Help: "Retry attempts scheduled, by error category.",
	}, []string{"category"})

	// DeadLetterEntries counts jobs archived to the dead letter queue.
	DeadLetterEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_entries_total",
		Help: "Jobs moved to the dead letter queue, by error category and job type.",
	}, []string{"category", "job_type"})

	// PagesFetched counts pages fetched during crawls, by outcome class.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawl_pages_fetched_total",
		Help: "Pages fetched during crawls, by HTTP status class.",
	}, []string{"status_class"})

	// ScheduledFires counts scheduler decisions, by action (catchup, skip,
	// normal).
	ScheduledFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduled_job_fires_total",
		Help: "Scheduler decisions per due scheduled job.",
	}, []string{"action"})
)
