package models

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies a crawl failure for retry policy lookup.
type ErrorCategory string

const (
	CategoryNotFound        ErrorCategory = "NOT_FOUND"
	CategoryAuthError       ErrorCategory = "AUTH_ERROR"
	CategoryRateLimit       ErrorCategory = "RATE_LIMIT"
	CategoryTimeout         ErrorCategory = "TIMEOUT"
	CategoryClientError     ErrorCategory = "CLIENT_ERROR"
	CategoryServerError     ErrorCategory = "SERVER_ERROR"
	CategoryNetworkError    ErrorCategory = "NETWORK_ERROR"
	CategoryParseError      ErrorCategory = "PARSE_ERROR"
	CategoryValidationError ErrorCategory = "VALIDATION_ERROR"
	CategoryUnknown         ErrorCategory = "UNKNOWN"
)

// AllErrorCategories returns every category, in a stable order.
func AllErrorCategories() []ErrorCategory {
	return []ErrorCategory{
		CategoryNotFound,
		CategoryAuthError,
		CategoryRateLimit,
		CategoryTimeout,
		CategoryClientError,
		CategoryServerError,
		CategoryNetworkError,
		CategoryParseError,
		CategoryValidationError,
		CategoryUnknown,
	}
}

// IsValid reports whether c is a known category.
func (c ErrorCategory) IsValid() bool {
	switch c {
	case CategoryNotFound, CategoryAuthError, CategoryRateLimit, CategoryTimeout,
		CategoryClientError, CategoryServerError, CategoryNetworkError,
		CategoryParseError, CategoryValidationError, CategoryUnknown:
		return true
	}
	return false
}

// ErrNotFound is returned by storage lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// CrawlError carries a category and optional HTTP status alongside the
// underlying cause.
type CrawlError struct {
	Category   ErrorCategory
	HTTPStatus int
	Message    string
	Err        error
}

func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a VALIDATION_ERROR with a formatted message.
func NewValidationError(format string, args ...interface{}) *CrawlError {
	return &CrawlError{
		Category: CategoryValidationError,
		Message:  fmt.Sprintf(format, args...),
	}
}

// CategoryOf extracts the category from an error chain, UNKNOWN if none.
func CategoryOf(err error) ErrorCategory {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnknown
}
