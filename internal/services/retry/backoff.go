package retry

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/trawler/internal/models"
)

// jitterFraction is the default jitter band applied to computed delays.
const jitterFraction = 0.20

// Backoff computes the retry delay in seconds for a 1-indexed attempt under
// the given policy. attempt=1 is the first retry.
//
// With jitter enabled the base delay is multiplied by a factor drawn
// uniformly from [0.8, 1.2] and clamped to [0, max_delay]. A server-supplied
// Retry-After wins when it is larger.
func Backoff(policy *models.RetryPolicy, attempt int, jitter bool, retryAfter float64) float64 {
	if attempt < 1 {
		attempt = 1
	}

	initial := policy.InitialDelaySeconds
	max := policy.MaxDelaySeconds
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	var delay float64
	switch policy.BackoffStrategy {
	case models.BackoffExponential:
		delay = initial * math.Pow(multiplier, float64(attempt-1))
	case models.BackoffLinear:
		delay = initial * float64(attempt)
	default: // fixed
		delay = initial
	}
	if max > 0 && delay > max {
		delay = max
	}

	if jitter {
		factor := 1 - jitterFraction + 2*jitterFraction*rand.Float64()
		delay *= factor
		if max > 0 && delay > max {
			delay = max
		}
		if delay < 0 {
			delay = 0
		}
	}

	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// ParseRetryAfter interprets a Retry-After header value as delay seconds.
// Both delta-seconds and HTTP-date forms are accepted; unparseable values
// yield 0.
func ParseRetryAfter(value string, now time.Time) float64 {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 {
			return 0
		}
		return seconds
	}
	if date, err := http.ParseTime(value); err == nil {
		delta := date.Sub(now).Seconds()
		if delta < 0 {
			return 0
		}
		return delta
	}
	return 0
}
