package retry

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/trawler/internal/models"
)

func TestClassifyByStatus(t *testing.T) {
	cases := []struct {
		status int
		want   models.ErrorCategory
	}{
		{404, models.CategoryNotFound},
		{401, models.CategoryAuthError},
		{403, models.CategoryAuthError},
		{408, models.CategoryTimeout},
		{429, models.CategoryRateLimit},
		{500, models.CategoryServerError},
		{503, models.CategoryServerError},
		{400, models.CategoryClientError},
		{418, models.CategoryClientError},
		{301, models.CategoryUnknown},
		{101, models.CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(nil, tc.status), "status %d", tc.status)
	}
}

func TestClassifyStatusWinsOverError(t *testing.T) {
	// A status is authoritative even when the error looks like a timeout.
	got := Classify(context.DeadlineExceeded, 500)
	assert.Equal(t, models.CategoryServerError, got)
}

func TestClassifyByErrorShape(t *testing.T) {
	assert.Equal(t, models.CategoryTimeout, Classify(context.DeadlineExceeded, 0))
	assert.Equal(t, models.CategoryNetworkError, Classify(&net.DNSError{Err: "no such host", Name: "example.com"}, 0))
	assert.Equal(t, models.CategoryNetworkError, Classify(errors.New("dial tcp: connection refused"), 0))
	assert.Equal(t, models.CategoryParseError, Classify(errors.New("failed to parse response body"), 0))
	assert.Equal(t, models.CategoryValidationError, Classify(models.NewValidationError("bad selector"), 0))
	assert.Equal(t, models.CategoryUnknown, Classify(errors.New("something odd"), 0))
	assert.Equal(t, models.CategoryUnknown, Classify(nil, 0))
}

func TestClassifyTypedCrawlError(t *testing.T) {
	err := &models.CrawlError{Category: models.CategoryRateLimit, Message: "throttled"}
	assert.Equal(t, models.CategoryRateLimit, Classify(err, 0))
}
