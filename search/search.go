// Package search finds candidate YouTube videos by scraping a Google result
// page restricted to youtube.com.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultBaseURL = "https://www.google.com"

// redirectPrefix is how the basic-HTML result page wraps outbound links.
const redirectPrefix = "/url?q="

// Result is a single search hit.
type Result struct {
	URL   string
	Title string
}

// PageFetcher retrieves a parsed page for a URL.
type PageFetcher interface {
	Document(ctx context.Context, url string) (*goquery.Document, error)
}

// Client scrapes video search results.
type Client struct {
	fetcher PageFetcher
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom search base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// NewClient creates a search client backed by the given page fetcher.
func NewClient(fetcher PageFetcher, opts ...Option) *Client {
	c := &Client{
		fetcher: fetcher,
		baseURL: defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns up to n video watch-page results in result-page order,
// deduplicated by decoded URL. The gbv=1 parameter requests the basic HTML
// page whose markup carries /url?q= redirect anchors.
func (c *Client) Search(ctx context.Context, query string, n int) ([]Result, error) {
	searchURL := fmt.Sprintf("%s/search?q=%s+site:youtube.com&num=%d&gbv=1",
		c.baseURL, url.QueryEscape(query), n)

	doc, err := c.fetcher.Document(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("fetch search page: %w", err)
	}

	var results []Result
	seen := make(map[string]bool)

	doc.Find("a").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok || !strings.HasPrefix(href, redirectPrefix) {
			return true
		}

		target := decodeRedirect(href)
		if target == "" || !strings.Contains(target, "youtube.com/watch") {
			return true
		}
		if seen[target] {
			return true
		}
		seen[target] = true

		// The result title lives in an h3 two levels up from the anchor.
		title := strings.TrimSpace(s.Parent().Parent().Find("h3").First().Text())

		results = append(results, Result{URL: target, Title: title})
		return len(results) < n
	})

	return results, nil
}

// decodeRedirect extracts and unescapes the destination URL from a /url?q=
// redirect href. Returns "" when no destination can be recovered.
func decodeRedirect(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("q")
}
