package crawler

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// domainLimiter enforces a per-domain request ceiling so pagination loops
// stay polite to the target site.
type domainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
}

func newDomainLimiter(requestsPerSec float64) *domainLimiter {
	if requestsPerSec <= 0 {
		requestsPerSec = 2
	}
	return &domainLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(requestsPerSec),
	}
}

// Wait blocks until the domain's limiter admits a request or the context is
// cancelled.
func (d *domainLimiter) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}

	d.mu.Lock()
	limiter, ok := d.limiters[u.Host]
	if !ok {
		limiter = rate.NewLimiter(d.perSec, 1)
		d.limiters[u.Host] = limiter
	}
	d.mu.Unlock()

	return limiter.Wait(ctx)
}
