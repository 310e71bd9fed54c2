package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/metrics"
	"github.com/ternarybob/trawler/internal/models"
	"github.com/ternarybob/trawler/internal/urls"
)

// maxBodySize caps how much of a response body is read per page.
const maxBodySize = 10 << 20

// Crawler fetches a seed listing page, walks its pagination, and extracts
// canonical detail URLs. Crawls classify every failure mode as an outcome
// rather than returning errors.
type Crawler struct {
	config    *common.CrawlerConfig
	logger    arbor.ILogger
	canon     *urls.Canonicalizer
	limiter   *domainLimiter
	client    *http.Client
	dedup     interfaces.DedupCache
	dedupTTL  time.Duration
	cancel    interfaces.CancellationSignal
	processor PageProcessor
	shared    SharedLimiter
}

// PageProcessor consumes fetched pages, typically for persistence and
// content duplicate detection. Processing failures never affect the crawl.
type PageProcessor interface {
	ProcessPage(ctx context.Context, jobID, pageURL string, content []byte) error
}

// SharedLimiter coordinates request budgets across crawler processes, scoped
// by domain. Allow reports whether the current window has capacity.
type SharedLimiter interface {
	Allow(ctx context.Context, scope string) bool
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) { c.client = client }
}

// WithDedupCache enables cross-job URL deduplication.
func WithDedupCache(cache interfaces.DedupCache, ttl time.Duration) Option {
	return func(c *Crawler) {
		c.dedup = cache
		c.dedupTTL = ttl
	}
}

// WithCancellation enables external cancellation checks between page fetches.
func WithCancellation(signal interfaces.CancellationSignal) Option {
	return func(c *Crawler) { c.cancel = signal }
}

// WithPageProcessor registers a consumer for every successfully fetched page.
func WithPageProcessor(processor PageProcessor) Option {
	return func(c *Crawler) { c.processor = processor }
}

// WithSharedLimiter layers a cross-process rate limit on top of the local
// per-domain limiter.
func WithSharedLimiter(limiter SharedLimiter) Option {
	return func(c *Crawler) { c.shared = limiter }
}

func New(config *common.CrawlerConfig, logger arbor.ILogger, opts ...Option) *Crawler {
	c := &Crawler{
		config:  config,
		logger:  logger,
		canon:   urls.NewCanonicalizer(urls.Options{}),
		limiter: newDomainLimiter(config.RequestsPerSec),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl runs one crawl of seedURL under the given website config and returns
// its result. The returned outcome is always set; Crawl does not error.
func (c *Crawler) Crawl(ctx context.Context, jobID, seedURL string, config *models.WebsiteConfig) *Result {
	result := &Result{SeedURL: seedURL}

	if config == nil || config.Step == nil {
		result.Outcome = OutcomeInvalidConfig
		result.AddWarning("website config missing crawl step")
		return result
	}
	if err := config.Validate(); err != nil {
		result.Outcome = OutcomeInvalidConfig
		result.AddWarning("invalid website config: %v", err)
		return result
	}

	client := c.httpClient(config.Settings)
	cancelled := func() bool { return c.isCancelled(ctx, jobID) }

	if cancelled() {
		result.Outcome = OutcomeCancelled
		return result
	}

	seed, err := c.fetch(ctx, client, seedURL, config.Settings)
	if err != nil {
		result.Outcome = OutcomeSeedURLError
		result.AddWarning("seed fetch failed: %v", err)
		return result
	}
	result.PagesFetched = 1
	result.SeedStatus = seed.Status
	if seed.Status == http.StatusNotFound {
		result.Outcome = OutcomeSeedURL404
		return result
	}
	if seed.Status >= 400 {
		result.Outcome = OutcomeSeedURLError
		result.RetryAfter = seed.RetryAfter
		result.AddWarning("seed returned status %d", seed.Status)
		return result
	}

	// sources maps each canonical URL to the page it was first found on;
	// ordered preserves extraction order.
	ordered := make([]string, 0, 32)
	sources := make(map[string]string)
	c.extractInto(ctx, jobID, seed, config.Step, result, &ordered, sources)

	pagination := effectivePagination(config.Step.Pagination, c.config)
	stream := generateWithStopDetection(ctx, seedURL, seed.Content, pagination, func(ctx context.Context, pageURL string) (*page, error) {
		return c.fetch(ctx, client, pageURL, config.Settings)
	}, cancelled, c.config.MinContentLength, c.config.EmptyPageLimit)

	interrupted := false
	for p := range stream.Pages {
		// Keep draining after interruption so the generator can exit.
		if interrupted || cancelled() {
			interrupted = true
			continue
		}
		result.PagesFetched++
		c.extractInto(ctx, jobID, &p, config.Step, result, &ordered, sources)
	}
	result.Warnings = append(result.Warnings, stream.Warnings()...)

	if pagination != nil && pagination.Type == models.PaginationCursor &&
		result.PagesFetched == 1 && stream.Reason() == stopExhausted {
		result.AddWarning("pagination_selector_not_found: selector %q matched nothing, continuing in single-page mode", pagination.NextSelector)
	}

	result.URLs, result.URLsSkipped = c.applyDedup(ctx, jobID, ordered, sources, result)

	if interrupted || stream.Reason() == stopCancelled || cancelled() {
		result.Outcome = OutcomeCancelled
		return result
	}

	switch stream.Reason() {
	case stopCircular:
		result.Outcome = OutcomeCircularPagination
	case stopEmptyPages:
		result.Outcome = OutcomeEmptyPages
	case stopMaxPages:
		result.Outcome = OutcomePaginationStopped
	case stopServerErr:
		result.Outcome = OutcomePartialSuccess
	default:
		if len(result.URLs) == 0 {
			result.Outcome = OutcomeSuccessNoURLs
		} else {
			result.Outcome = OutcomeSuccess
		}
	}
	return result
}

// extractInto pulls detail URLs out of one page, canonicalizes them, and
// appends first-seen URLs to ordered. The page is also handed to the
// registered page processor for persistence and duplicate detection.
func (c *Crawler) extractInto(ctx context.Context, jobID string, p *page, step *models.StepConfig, result *Result, ordered *[]string, sources map[string]string) {
	if c.processor != nil && p.Status < 400 {
		if err := c.processor.ProcessPage(ctx, jobID, p.URL, p.Content); err != nil {
			c.logger.Warn().Err(err).Str("url", p.URL).Msg("Page processing failed")
		}
	}

	raw, warnings := extractDetailURLs(p.Content, p.URL, step)
	result.Warnings = append(result.Warnings, warnings...)

	for _, candidate := range raw {
		canonical, err := c.canon.Canonicalize(candidate)
		if err != nil {
			result.AddWarning("skipping URL %q: %v", candidate, err)
			continue
		}
		if _, seen := sources[canonical]; seen {
			continue
		}
		sources[canonical] = p.URL
		*ordered = append(*ordered, canonical)
	}
}

// applyDedup filters out URLs already present in the dedup cache and records
// the survivors, keyed by digest with the job and source page as metadata.
func (c *Crawler) applyDedup(ctx context.Context, jobID string, ordered []string, sources map[string]string, result *Result) ([]string, int) {
	if c.dedup == nil || len(ordered) == 0 {
		return ordered, 0
	}

	digests := make([]string, len(ordered))
	for i, canonical := range ordered {
		digests[i] = urls.DigestOf(canonical)
	}
	existing := c.dedup.ExistsBatch(ctx, digests)

	kept := make([]string, 0, len(ordered))
	skipped := 0
	for i, canonical := range ordered {
		if existing[digests[i]] {
			skipped++
			continue
		}
		metadata := map[string]string{
			"job_id":         jobID,
			"extracted_from": sources[canonical],
		}
		if err := c.dedup.Set(ctx, digests[i], metadata, c.dedupTTL); err != nil {
			c.logger.Warn().Err(err).Str("url", canonical).Msg("failed to record URL in dedup cache")
		}
		kept = append(kept, canonical)
	}
	return kept, skipped
}

func (c *Crawler) fetch(ctx context.Context, client *http.Client, rawURL string, settings *models.GlobalSettings) (*page, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return nil, err
	}
	if err := c.waitShared(ctx, rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent(settings))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading body of %s: %w", rawURL, err)
	}

	metrics.PagesFetched.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	c.logger.Debug().Str("url", rawURL).Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("fetched page")
	return &page{URL: rawURL, Status: resp.StatusCode, Content: body, RetryAfter: resp.Header.Get("Retry-After")}, nil
}

// waitShared blocks until the shared window admits a request for the URL's
// domain. Without a shared limiter this is a no-op.
func (c *Crawler) waitShared(ctx context.Context, rawURL string) error {
	if c.shared == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}
	for !c.shared.Allow(ctx, u.Host) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

func (c *Crawler) isCancelled(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.cancel != nil && c.cancel.IsCancelled(ctx, jobID)
}

// httpClient builds the per-crawl client, honoring website-level settings.
func (c *Crawler) httpClient(settings *models.GlobalSettings) *http.Client {
	if c.client != nil {
		return c.client
	}

	timeout := c.config.RequestTimeout
	if settings != nil && settings.RequestTimeoutSeconds > 0 {
		timeout = time.Duration(settings.RequestTimeoutSeconds) * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if settings != nil && settings.FollowRedirects != nil && !*settings.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

func (c *Crawler) userAgent(settings *models.GlobalSettings) string {
	if settings != nil && settings.UserAgent != "" {
		return settings.UserAgent
	}
	if c.config.UserAgent != "" {
		return c.config.UserAgent
	}
	return "trawler/" + common.Version
}

// effectivePagination fills unset pagination limits from the crawler defaults.
func effectivePagination(cfg *models.PaginationConfig, defaults *common.CrawlerConfig) *models.PaginationConfig {
	if cfg == nil || cfg.Type == "" || cfg.Type == models.PaginationDisabled {
		return cfg
	}
	effective := *cfg
	if effective.MaxPages <= 0 {
		effective.MaxPages = defaults.MaxPages
	}
	return &effective
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
