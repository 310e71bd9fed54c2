package models

import (
	"encoding/json"
	"strings"
)

// PaginationType selects how the crawler walks listing pages.
type PaginationType string

const (
	PaginationPageBased PaginationType = "page_based"
	PaginationOffset    PaginationType = "offset"
	PaginationCursor    PaginationType = "cursor"
	PaginationDisabled  PaginationType = "disabled"
)

// PaginationConfig controls listing-page traversal.
type PaginationConfig struct {
	Type PaginationType `json:"type"`
	// Param is the query parameter the generator increments (page_based and
	// offset types).
	Param string `json:"param,omitempty"`
	// StartValue is the first page number or offset.
	StartValue int `json:"start_value,omitempty"`
	// Step is the offset increment per page (offset type only).
	Step int `json:"step,omitempty"`
	// NextSelector locates the next-page link (cursor type).
	NextSelector string `json:"next_selector,omitempty"`
	MaxPages     int    `json:"max_pages,omitempty"`
	// MinContentLength marks a page as empty when the body is shorter.
	MinContentLength int `json:"min_content_length,omitempty"`
	// MaxEmptyPages stops pagination after this many consecutive empty pages.
	MaxEmptyPages int `json:"max_empty_pages,omitempty"`
}

// StepConfig describes one crawl step. Selectors must contain the key
// "detail_urls"; an optional "container" key scopes extraction. Selectors
// starting with "/" or "//" are treated as XPath, everything else as CSS.
type StepConfig struct {
	Name       string            `json:"name,omitempty"`
	Selectors  map[string]string `json:"selectors"`
	Pagination *PaginationConfig `json:"pagination,omitempty"`
}

// GlobalSettings applies across all steps of a website config.
type GlobalSettings struct {
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty"`
	UserAgent             string `json:"user_agent,omitempty"`
	FollowRedirects       *bool  `json:"follow_redirects,omitempty"`
}

// WebsiteConfig is the configuration document stored on a Website.
type WebsiteConfig struct {
	Step     *StepConfig     `json:"step"`
	Settings *GlobalSettings `json:"settings,omitempty"`
}

// selectorAliases are common mistakes for the required detail_urls key.
// They are rejected outright so a typo fails loudly instead of silently
// extracting nothing.
var selectorAliases = []string{"urls", "links", "detail_url"}

// ParseWebsiteConfig decodes a config document, rejecting unknown top-level
// keys.
func ParseWebsiteConfig(data []byte) (*WebsiteConfig, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewValidationError("invalid config document: %v", err)
	}
	for key := range raw {
		if key != "step" && key != "settings" {
			return nil, NewValidationError("unknown config key %q", key)
		}
	}

	var config WebsiteConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewValidationError("invalid config document: %v", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the structural invariants of the config.
func (c *WebsiteConfig) Validate() error {
	if c.Step == nil {
		return NewValidationError("config requires a step definition")
	}
	return c.Step.Validate()
}

// Validate checks selector presence and pagination sanity.
func (s *StepConfig) Validate() error {
	if len(s.Selectors) == 0 {
		return NewValidationError("step requires selectors")
	}
	for _, alias := range selectorAliases {
		if _, ok := s.Selectors[alias]; ok {
			return NewValidationError("selector key %q is not supported, use %q", alias, "detail_urls")
		}
	}
	if _, ok := s.Selectors["detail_urls"]; !ok {
		return NewValidationError("selectors must include %q", "detail_urls")
	}
	for key := range s.Selectors {
		if key != "detail_urls" && key != "container" {
			return NewValidationError("unknown selector key %q", key)
		}
	}
	if s.Pagination != nil {
		switch s.Pagination.Type {
		case PaginationPageBased, PaginationOffset, PaginationCursor, PaginationDisabled:
		case "":
			s.Pagination.Type = PaginationDisabled
		default:
			return NewValidationError("unknown pagination type %q", s.Pagination.Type)
		}
	}
	return nil
}

// IsXPathSelector reports whether a selector string should be evaluated as
// XPath rather than CSS.
func IsXPathSelector(selector string) bool {
	return strings.HasPrefix(selector, "/")
}

