// Package crawler implements the seed-URL crawl step: fetch a listing page,
// walk its pagination, and extract detail URLs.
package crawler

import "fmt"

// Outcome is the terminal classification of one crawl.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeSuccessNoURLs      Outcome = "success_no_urls"
	OutcomeSeedURL404         Outcome = "seed_url_404"
	OutcomeSeedURLError       Outcome = "seed_url_error"
	OutcomeInvalidConfig      Outcome = "invalid_config"
	OutcomePaginationStopped  Outcome = "pagination_stopped"
	OutcomeCircularPagination Outcome = "circular_pagination"
	OutcomeEmptyPages         Outcome = "empty_pages"
	OutcomePartialSuccess     Outcome = "partial_success"
	OutcomeCancelled          Outcome = "cancelled"
)

// Result is what a crawl returns. Crawls never return errors; every failure
// mode maps to an outcome so the worker can reason about it uniformly.
type Result struct {
	Outcome      Outcome
	SeedURL      string
	SeedStatus   int      // HTTP status of the seed response, 0 when none arrived
	RetryAfter   string   // Retry-After header of a failed seed response
	URLs         []string // canonical detail URLs, in extraction order
	URLsSkipped  int      // already present in the dedup cache
	PagesFetched int
	Warnings     []string
}

// AddWarning appends a formatted warning.
func (r *Result) AddWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// page is one fetched pagination page.
type page struct {
	URL        string
	Status     int
	Content    []byte
	RetryAfter string
}

// stopReason explains why the pagination generator halted.
type stopReason string

const (
	stopNone       stopReason = ""
	stopMaxPages   stopReason = "max_pages"
	stopEmptyPages stopReason = "empty_pages"
	stopServerErr  stopReason = "server_error"
	stopCircular   stopReason = "circular"
	stopExhausted  stopReason = "exhausted"
	stopCancelled  stopReason = "cancelled"
)
