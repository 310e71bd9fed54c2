package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/ternarybob/trawler/internal/models"
)

// extractDetailURLs pulls candidate detail links out of a page using the
// step's detail_urls selector, scoped by the optional container selector.
// Selectors beginning with "/" are evaluated as XPath, everything else as
// CSS. Returned URLs are absolute, resolved against pageURL.
func extractDetailURLs(content []byte, pageURL string, step *models.StepConfig) ([]string, []string) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, []string{"unparseable page URL " + pageURL}
	}

	selector := step.Selectors["detail_urls"]
	container := step.Selectors["container"]

	var raw []string
	var warnings []string
	if models.IsXPathSelector(selector) {
		raw, warnings = extractXPath(content, selector, container)
	} else {
		raw, warnings = extractCSS(content, selector, container)
	}

	resolved := make([]string, 0, len(raw))
	for _, href := range raw {
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			warnings = append(warnings, "skipping unparseable href "+href)
			continue
		}
		resolved = append(resolved, base.ResolveReference(ref).String())
	}
	return resolved, warnings
}

func extractCSS(content []byte, selector, container string) ([]string, []string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, []string{"failed to parse page HTML: " + err.Error()}
	}

	scope := doc.Selection
	if container != "" {
		scope = doc.Find(container)
		if scope.Length() == 0 {
			return nil, []string{"container selector matched nothing: " + container}
		}
	}

	var hrefs []string
	var warnings []string
	matched := scope.Find(selector)
	if matched.Length() == 0 {
		warnings = append(warnings, "detail_urls selector matched nothing: "+selector)
	}
	matched.Each(func(_ int, s *goquery.Selection) {
		if href, ok := hrefOf(s); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs, warnings
}

// hrefOf returns the link target of a matched node: its own href, or the
// href of the first anchor inside it.
func hrefOf(s *goquery.Selection) (string, bool) {
	if href, ok := s.Attr("href"); ok {
		return href, true
	}
	return s.Find("a[href]").First().Attr("href")
}

func extractXPath(content []byte, selector, container string) ([]string, []string) {
	// Compile up front so a bad expression surfaces as one warning instead
	// of one per scope.
	if _, err := xpath.Compile(selector); err != nil {
		return nil, []string{"invalid detail_urls XPath: " + err.Error()}
	}

	doc, err := htmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, []string{"failed to parse page HTML: " + err.Error()}
	}

	scopes := []*html.Node{doc}
	if container != "" {
		if models.IsXPathSelector(container) {
			scopes, err = htmlquery.QueryAll(doc, container)
			if err != nil {
				return nil, []string{"invalid container XPath: " + err.Error()}
			}
		} else {
			return nil, []string{"container selector must be XPath when detail_urls is XPath"}
		}
		if len(scopes) == 0 {
			return nil, []string{"container selector matched nothing: " + container}
		}
	}

	var hrefs []string
	var warnings []string
	for _, scope := range scopes {
		nodes, err := htmlquery.QueryAll(scope, selector)
		if err != nil {
			return nil, []string{"invalid detail_urls XPath: " + err.Error()}
		}
		for _, node := range nodes {
			if href := nodeHref(node); href != "" {
				hrefs = append(hrefs, href)
			}
		}
	}
	if len(hrefs) == 0 && len(warnings) == 0 {
		warnings = append(warnings, "detail_urls selector matched nothing: "+selector)
	}
	return hrefs, warnings
}

// nodeHref extracts a link target from an XPath match: attribute nodes yield
// their value, elements yield their href.
func nodeHref(node *html.Node) string {
	if node.Type == html.TextNode {
		return node.Data
	}
	if href := htmlquery.SelectAttr(node, "href"); href != "" {
		return href
	}
	// Attribute selections (//a/@href) surface as synthetic nodes whose
	// first child holds the text.
	if node.FirstChild != nil && node.FirstChild.Type == html.TextNode {
		return node.FirstChild.Data
	}
	return ""
}
