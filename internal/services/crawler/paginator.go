package crawler

import (
	"context"
	"net/url"
	"strconv"

	"github.com/ternarybob/trawler/internal/models"
)

const (
	defaultPageParam   = "page"
	defaultOffsetParam = "offset"
	defaultOffsetStep  = 10
)

// fetchFunc fetches one URL and returns its status and body.
type fetchFunc func(ctx context.Context, pageURL string) (*page, error)

// cancelledFunc reports whether the crawl was cancelled externally.
type cancelledFunc func() bool

// pageStream yields pagination pages through a bounded channel. The stop
// reason is valid once Pages has been drained.
type pageStream struct {
	Pages    chan page
	reason   stopReason
	warnings []string
}

func (s *pageStream) Reason() stopReason { return s.reason }

func (s *pageStream) Warnings() []string { return s.warnings }

// generateWithStopDetection walks pagination URLs derived from the seed,
// fetching each and yielding it until a stop condition fires:
// the page budget is exhausted, too many consecutive near-empty pages
// arrive, the server fails with a 5xx or network error, or a URL repeats.
// The seed itself is never yielded; the caller already fetched it.
func generateWithStopDetection(ctx context.Context, seedURL string, seedContent []byte, cfg *models.PaginationConfig, fetch fetchFunc, cancelled cancelledFunc, minContentLength, maxEmptyPages int) *pageStream {
	stream := &pageStream{Pages: make(chan page, 1)}

	if cfg == nil || cfg.Type == models.PaginationDisabled || cfg.Type == "" {
		stream.reason = stopExhausted
		close(stream.Pages)
		return stream
	}

	if cfg.MinContentLength > 0 {
		minContentLength = cfg.MinContentLength
	}
	if cfg.MaxEmptyPages > 0 {
		maxEmptyPages = cfg.MaxEmptyPages
	}
	if maxEmptyPages <= 0 {
		maxEmptyPages = 3
	}

	go func() {
		defer close(stream.Pages)

		seen := map[string]bool{seedURL: true}
		consecutiveEmpty := 0
		yielded := 0
		lastURL := seedURL
		lastContent := seedContent

		for {
			if cancelled() {
				stream.reason = stopCancelled
				return
			}
			if cfg.MaxPages > 0 && yielded+1 >= cfg.MaxPages {
				stream.reason = stopMaxPages
				return
			}

			nextURL, ok := nextPageURL(seedURL, lastURL, cfg, yielded, lastContent)
			if !ok {
				stream.reason = stopExhausted
				return
			}
			if seen[nextURL] {
				stream.reason = stopCircular
				return
			}
			seen[nextURL] = true

			result, err := fetch(ctx, nextURL)
			if err != nil {
				stream.warnings = append(stream.warnings, "pagination fetch failed: "+err.Error())
				stream.reason = stopServerErr
				return
			}
			if result.Status >= 500 {
				stream.warnings = append(stream.warnings, "pagination page "+nextURL+" returned "+strconv.Itoa(result.Status))
				stream.reason = stopServerErr
				return
			}

			if result.Status >= 400 || len(result.Content) < minContentLength {
				consecutiveEmpty++
				if consecutiveEmpty >= maxEmptyPages {
					stream.reason = stopEmptyPages
					return
				}
			} else {
				consecutiveEmpty = 0
			}

			select {
			case stream.Pages <- *result:
			case <-ctx.Done():
				stream.reason = stopCancelled
				return
			}
			yielded++
			lastURL = result.URL
			lastContent = result.Content
		}
	}()

	return stream
}

// nextPageURL derives the next pagination URL. index is the count of pages
// already yielded (0 for the first page after the seed). Cursor-based
// pagination resolves the next link against the last fetched page.
func nextPageURL(seedURL, lastURL string, cfg *models.PaginationConfig, index int, lastContent []byte) (string, bool) {
	switch cfg.Type {
	case models.PaginationPageBased:
		param := cfg.Param
		if param == "" {
			param = defaultPageParam
		}
		start := cfg.StartValue
		if start <= 0 {
			start = seedParamValue(seedURL, param, 1)
		}
		return setQueryParam(seedURL, param, strconv.Itoa(start+index+1))

	case models.PaginationOffset:
		param := cfg.Param
		if param == "" {
			param = defaultOffsetParam
		}
		step := cfg.Step
		if step <= 0 {
			step = defaultOffsetStep
		}
		start := cfg.StartValue
		if start < 0 {
			start = seedParamValue(seedURL, param, 0)
		}
		return setQueryParam(seedURL, param, strconv.Itoa(start+step*(index+1)))

	case models.PaginationCursor:
		if cfg.NextSelector == "" {
			return "", false
		}
		step := &models.StepConfig{Selectors: map[string]string{"detail_urls": cfg.NextSelector}}
		links, _ := extractDetailURLs(lastContent, lastURL, step)
		if len(links) == 0 {
			return "", false
		}
		return links[0], true

	default:
		return "", false
	}
}

func seedParamValue(seedURL, param string, fallback int) int {
	u, err := url.Parse(seedURL)
	if err != nil {
		return fallback
	}
	if v, err := strconv.Atoi(u.Query().Get(param)); err == nil {
		return v
	}
	return fallback
}

func setQueryParam(rawURL, param, value string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), true
}
