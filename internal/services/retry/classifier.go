// Package retry implements failure classification, backoff computation, and
// the retry/dead-letter flow for crawl jobs.
package retry

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	"github.com/ternarybob/trawler/internal/models"
)

// Classify maps a failure to its error category. The HTTP status wins when
// present; the error shape is consulted only for transport-level failures
// that never produced a response.
func Classify(err error, httpStatus int) models.ErrorCategory {
	if httpStatus > 0 {
		return classifyStatus(httpStatus)
	}
	return classifyError(err)
}

func classifyStatus(status int) models.ErrorCategory {
	switch {
	case status == 404:
		return models.CategoryNotFound
	case status == 401 || status == 403:
		return models.CategoryAuthError
	case status == 408:
		return models.CategoryTimeout
	case status == 429:
		return models.CategoryRateLimit
	case status >= 500 && status < 600:
		return models.CategoryServerError
	case status >= 400 && status < 500:
		return models.CategoryClientError
	default:
		// 1xx/3xx/non-standard codes carry no useful failure signal.
		return models.CategoryUnknown
	}
}

func classifyError(err error) models.ErrorCategory {
	if err == nil {
		return models.CategoryUnknown
	}

	// Typed errors carry their own category.
	var ce *models.CrawlError
	if errors.As(err, &ce) && ce.Category.IsValid() {
		return ce.Category
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return models.CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.CategoryTimeout
		}
		return models.CategoryNetworkError
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.CategoryNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return models.CategoryTimeout
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network"):
		return models.CategoryNetworkError
	case strings.Contains(msg, "parse") || strings.Contains(msg, "decode") ||
		strings.Contains(msg, "unmarshal") || strings.Contains(msg, "malformed"):
		return models.CategoryParseError
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return models.CategoryValidationError
	default:
		return models.CategoryUnknown
	}
}
