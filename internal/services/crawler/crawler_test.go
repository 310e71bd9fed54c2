package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/models"
	"github.com/ternarybob/trawler/internal/services/cache"
	"github.com/ternarybob/trawler/internal/urls"
)

func testConfig() *common.CrawlerConfig {
	return &common.CrawlerConfig{
		UserAgent:        "trawler-test/1.0",
		RequestTimeout:   5 * time.Second,
		RequestsPerSec:   1000,
		MaxPages:         50,
		MinContentLength: 10,
		EmptyPageLimit:   3,
	}
}

func newTestCrawler(t *testing.T, opts ...Option) *Crawler {
	t.Helper()
	return New(testConfig(), arbor.NewLogger(), opts...)
}

func stepWith(selectors map[string]string, pagination *models.PaginationConfig) *models.WebsiteConfig {
	return &models.WebsiteConfig{
		Step: &models.StepConfig{Selectors: selectors, Pagination: pagination},
	}
}

func listingPage(links ...string) string {
	body := "<html><body><div class='results'>"
	for _, link := range links {
		body += fmt.Sprintf("<a class='item' href=%q>item</a>", link)
	}
	body += "</div><p>listing page with enough filler content</p></body></html>"
	return body
}

func TestSeedURL404StopsImmediately(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := newTestCrawler(t)
	config := stepWith(map[string]string{"detail_urls": "a.item"}, &models.PaginationConfig{Type: models.PaginationPageBased})
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", config)

	assert.Equal(t, OutcomeSeedURL404, result.Outcome)
	assert.Empty(t, result.URLs)
	assert.Equal(t, 1, result.PagesFetched)
	assert.Equal(t, int64(1), requests.Load(), "no requests beyond the seed")
}

func TestSeedServerErrorIsSeedURLError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestCrawler(t)
	result := c.Crawl(context.Background(), "job-1", server.URL, stepWith(map[string]string{"detail_urls": "a.item"}, nil))

	assert.Equal(t, OutcomeSeedURLError, result.Outcome)
	assert.Empty(t, result.URLs)
	assert.Equal(t, http.StatusInternalServerError, result.SeedStatus)
}

func TestRateLimitedSeedCapturesStatusAndRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestCrawler(t)
	result := c.Crawl(context.Background(), "job-1", server.URL, stepWith(map[string]string{"detail_urls": "a.item"}, nil))

	assert.Equal(t, OutcomeSeedURLError, result.Outcome)
	assert.Equal(t, http.StatusTooManyRequests, result.SeedStatus)
	assert.Equal(t, "120", result.RetryAfter)
}

func TestCrawlExtractsAndCanonicalizesCSS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage("/items/1?utm_source=feed", "/items/2", "/items/2"))
	}))
	defer server.Close()

	c := newTestCrawler(t)
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", stepWith(map[string]string{
		"container":   "div.results",
		"detail_urls": "a.item",
	}, nil))

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	// Tracking params stripped, duplicates collapsed, order preserved.
	assert.Equal(t, []string{server.URL + "/items/1", server.URL + "/items/2"}, result.URLs)
	assert.Equal(t, 1, result.PagesFetched)
}

func TestCrawlExtractsXPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage("/items/a", "/items/b"))
	}))
	defer server.Close()

	c := newTestCrawler(t)
	result := c.Crawl(context.Background(), "job-1", server.URL, stepWith(map[string]string{
		"detail_urls": "//a[@class='item']/@href",
	}, nil))

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []string{server.URL + "/items/a", server.URL + "/items/b"}, result.URLs)
}

func TestNoMatchesIsSuccessNoURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage())
	}))
	defer server.Close()

	c := newTestCrawler(t)
	result := c.Crawl(context.Background(), "job-1", server.URL, stepWith(map[string]string{"detail_urls": "a.item"}, nil))

	assert.Equal(t, OutcomeSuccessNoURLs, result.Outcome)
	assert.NotEmpty(t, result.Warnings)
}

func TestInvalidConfig(t *testing.T) {
	c := newTestCrawler(t)

	result := c.Crawl(context.Background(), "job-1", "https://example.com", nil)
	assert.Equal(t, OutcomeInvalidConfig, result.Outcome)

	result = c.Crawl(context.Background(), "job-1", "https://example.com",
		stepWith(map[string]string{"urls": "a"}, nil))
	assert.Equal(t, OutcomeInvalidConfig, result.Outcome)
}

func TestPageBasedPaginationStopsAtMaxPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page == "" {
			page = "1"
		}
		fmt.Fprint(w, listingPage("/items/p"+page))
	}))
	defer server.Close()

	c := newTestCrawler(t)
	config := stepWith(map[string]string{"detail_urls": "a.item"}, &models.PaginationConfig{
		Type:     models.PaginationPageBased,
		MaxPages: 3,
	})
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", config)

	assert.Equal(t, OutcomePaginationStopped, result.Outcome)
	assert.Equal(t, 3, result.PagesFetched)
	assert.Equal(t, []string{
		server.URL + "/items/p1",
		server.URL + "/items/p2",
		server.URL + "/items/p3",
	}, result.URLs)
}

func TestEmptyPagesStopPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			fmt.Fprint(w, listingPage("/items/1"))
			return
		}
		fmt.Fprint(w, "<p></p>") // below min content length
	}))
	defer server.Close()

	c := newTestCrawler(t)
	config := stepWith(map[string]string{"detail_urls": "a.item"}, &models.PaginationConfig{
		Type:          models.PaginationPageBased,
		MaxEmptyPages: 2,
	})
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", config)

	assert.Equal(t, OutcomeEmptyPages, result.Outcome)
	assert.Equal(t, []string{server.URL + "/items/1"}, result.URLs)
}

func TestServerErrorMidPaginationIsPartialSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, listingPage("/items/1"))
	}))
	defer server.Close()

	c := newTestCrawler(t)
	config := stepWith(map[string]string{"detail_urls": "a.item"}, &models.PaginationConfig{
		Type: models.PaginationPageBased,
	})
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", config)

	assert.Equal(t, OutcomePartialSuccess, result.Outcome)
	// URLs gathered before the failure survive.
	assert.Equal(t, []string{server.URL + "/items/1"}, result.URLs)
	assert.NotEmpty(t, result.Warnings)
}

func TestCursorPaginationDetectsCycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list":
			fmt.Fprint(w, listingPage("/items/1")+"<a rel='next' href='/list2'>next</a>")
		default:
			fmt.Fprint(w, listingPage("/items/2")+"<a rel='next' href='/list'>next</a>")
		}
	}))
	defer server.Close()

	c := newTestCrawler(t)
	config := stepWith(map[string]string{"detail_urls": "a.item"}, &models.PaginationConfig{
		Type:         models.PaginationCursor,
		NextSelector: "a[rel=next]",
	})
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", config)

	assert.Equal(t, OutcomeCircularPagination, result.Outcome)
	assert.Equal(t, 2, result.PagesFetched)
	assert.Len(t, result.URLs, 2)
}

func TestCursorSelectorMatchingNothingFallsBackToSinglePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage("/items/1"))
	}))
	defer server.Close()

	c := newTestCrawler(t)
	config := stepWith(map[string]string{"detail_urls": "a.item"}, &models.PaginationConfig{
		Type:         models.PaginationCursor,
		NextSelector: "a.next",
	})
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", config)

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, 1, result.PagesFetched)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "pagination_selector_not_found")
}

func TestOffsetPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		if offset == "" {
			offset = "0"
		}
		if offset == "40" {
			fmt.Fprint(w, "<p></p>")
			return
		}
		fmt.Fprint(w, listingPage("/items/o"+offset))
	}))
	defer server.Close()

	c := newTestCrawler(t)
	config := stepWith(map[string]string{"detail_urls": "a.item"}, &models.PaginationConfig{
		Type:          models.PaginationOffset,
		Step:          20,
		MaxEmptyPages: 1,
	})
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", config)

	assert.Equal(t, OutcomeEmptyPages, result.Outcome)
	assert.Equal(t, []string{
		server.URL + "/items/o0",
		server.URL + "/items/o20",
	}, result.URLs)
}

func TestDedupCacheSkipsKnownURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage("/items/known", "/items/new"))
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	canon := urls.NewCanonicalizer(urls.Options{})
	dedup := cache.NewDedupCache(client, canon, time.Hour, arbor.NewLogger())

	require.NoError(t, dedup.SetURL(context.Background(), server.URL+"/items/known", nil, time.Hour))

	c := newTestCrawler(t, WithDedupCache(dedup, time.Hour))
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", stepWith(map[string]string{"detail_urls": "a.item"}, nil))

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []string{server.URL + "/items/new"}, result.URLs)
	assert.Equal(t, 1, result.URLsSkipped)

	// The surviving URL is now recorded with its provenance.
	digest, err := canon.Digest(server.URL + "/items/new")
	require.NoError(t, err)
	metadata, found := dedup.Get(context.Background(), digest)
	require.True(t, found)
	assert.Equal(t, "job-1", metadata["job_id"])
	assert.Equal(t, server.URL+"/list", metadata["extracted_from"])
}

func TestCancellationBeforeSeedFetch(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, listingPage("/items/1"))
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	signal := cache.NewCancelSignal(client, arbor.NewLogger())
	require.NoError(t, signal.Set(context.Background(), "job-1", "user request"))

	c := newTestCrawler(t, WithCancellation(signal))
	result := c.Crawl(context.Background(), "job-1", server.URL, stepWith(map[string]string{"detail_urls": "a.item"}, nil))

	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.Equal(t, int64(0), requests.Load())
}

func TestCancellationMidPaginationKeepsPartialURLs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	signal := cache.NewCancelSignal(client, arbor.NewLogger())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			// Cancel while pagination is in flight.
			_ = signal.Set(context.Background(), "job-1", "shutdown")
		}
		fmt.Fprint(w, listingPage("/items/p"+r.URL.Query().Get("page")))
	}))
	defer server.Close()

	c := newTestCrawler(t, WithCancellation(signal))
	config := stepWith(map[string]string{"detail_urls": "a.item"}, &models.PaginationConfig{
		Type: models.PaginationPageBased,
	})
	result := c.Crawl(context.Background(), "job-1", server.URL+"/list", config)

	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.NotEmpty(t, result.URLs, "URLs gathered before cancellation survive")
}
