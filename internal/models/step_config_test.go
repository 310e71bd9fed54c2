package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebsiteConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		config, err := ParseWebsiteConfig([]byte(`{
			"step": {
				"selectors": {"detail_urls": "a.listing", "container": "div.results"},
				"pagination": {"type": "page_based", "param": "page", "max_pages": 10}
			},
			"settings": {"request_timeout_seconds": 30}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "a.listing", config.Step.Selectors["detail_urls"])
		assert.Equal(t, PaginationPageBased, config.Step.Pagination.Type)
	})

	t.Run("unknown top-level key rejected", func(t *testing.T) {
		_, err := ParseWebsiteConfig([]byte(`{"step": {"selectors": {"detail_urls": "a"}}, "steps": []}`))
		require.Error(t, err)
		assert.Equal(t, CategoryValidationError, CategoryOf(err))
	})

	t.Run("missing step rejected", func(t *testing.T) {
		_, err := ParseWebsiteConfig([]byte(`{"settings": {}}`))
		assert.Error(t, err)
	})
}

func TestStepConfigValidate(t *testing.T) {
	t.Run("alias selector keys rejected", func(t *testing.T) {
		for _, alias := range []string{"urls", "links", "detail_url"} {
			step := &StepConfig{Selectors: map[string]string{alias: "a"}}
			err := step.Validate()
			require.Error(t, err, alias)
			assert.Contains(t, err.Error(), alias)
		}
	})

	t.Run("missing detail_urls rejected", func(t *testing.T) {
		step := &StepConfig{Selectors: map[string]string{"container": "div"}}
		assert.Error(t, step.Validate())
	})

	t.Run("unknown selector key rejected", func(t *testing.T) {
		step := &StepConfig{Selectors: map[string]string{"detail_urls": "a", "titles": "h2"}}
		assert.Error(t, step.Validate())
	})

	t.Run("empty pagination type defaults to disabled", func(t *testing.T) {
		step := &StepConfig{
			Selectors:  map[string]string{"detail_urls": "a"},
			Pagination: &PaginationConfig{},
		}
		require.NoError(t, step.Validate())
		assert.Equal(t, PaginationDisabled, step.Pagination.Type)
	})

	t.Run("unknown pagination type rejected", func(t *testing.T) {
		step := &StepConfig{
			Selectors:  map[string]string{"detail_urls": "a"},
			Pagination: &PaginationConfig{Type: "spiral"},
		}
		assert.Error(t, step.Validate())
	})
}

func TestIsXPathSelector(t *testing.T) {
	assert.True(t, IsXPathSelector("//a[@class='item']"))
	assert.True(t, IsXPathSelector("/html/body/a"))
	assert.False(t, IsXPathSelector("a.item"))
	assert.False(t, IsXPathSelector("div > a"))
}
