package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/IsaacLehman/youtube-ai-chat/fetch"
)

// resultAnchor renders a search hit the way the basic HTML result page does:
// a redirect anchor with the title in an h3 two levels up.
func resultAnchor(target, title string) string {
	href := "/url?q=" + url.QueryEscape(target) + "&sa=U"
	return fmt.Sprintf(`<div><div><h3>%s</h3><span><a href="%s">link</a></span></div></div>`, title, href)
}

func serveResults(t *testing.T, html string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>" + html + "</body></html>"))
	}))
	t.Cleanup(server.Close)

	return NewClient(fetch.NewFetcher(), WithBaseURL(server.URL))
}

func TestSearchExtractsWatchURLs(t *testing.T) {
	c := serveResults(t,
		resultAnchor("https://www.youtube.com/watch?v=abc123", "First Video")+
			resultAnchor("https://www.youtube.com/watch?v=def456", "Second Video"))

	results, err := c.Search(context.Background(), "moon landing", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, "https://www.youtube.com/watch?v=abc123", results[0].URL)
	require.Equal(t, "First Video", results[0].Title)
	require.Equal(t, "https://www.youtube.com/watch?v=def456", results[1].URL)
	require.Equal(t, "Second Video", results[1].Title)
}

func TestSearchFiltersNonWatchLinks(t *testing.T) {
	c := serveResults(t,
		resultAnchor("https://www.youtube.com/watch?v=keep1", "Video")+
			resultAnchor("https://example.com/article", "Article")+
			resultAnchor("https://www.youtube.com/channel/UCxyz", "Channel")+
			`<a href="/search?q=next">next page</a>`)

	results, err := c.Search(context.Background(), "query", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "https://www.youtube.com/watch?v=keep1", results[0].URL)
}

func TestSearchDeduplicates(t *testing.T) {
	c := serveResults(t,
		resultAnchor("https://www.youtube.com/watch?v=dup", "First Occurrence")+
			resultAnchor("https://www.youtube.com/watch?v=dup", "Second Occurrence")+
			resultAnchor("https://www.youtube.com/watch?v=other", "Other"))

	results, err := c.Search(context.Background(), "query", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "First Occurrence", results[0].Title)
	require.Equal(t, "Other", results[1].Title)
}

func TestSearchRespectsLimit(t *testing.T) {
	var html strings.Builder
	for i := 0; i < 8; i++ {
		html.WriteString(resultAnchor(fmt.Sprintf("https://www.youtube.com/watch?v=v%d", i), fmt.Sprintf("Video %d", i)))
	}
	c := serveResults(t, html.String())

	results, err := c.Search(context.Background(), "query", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "https://www.youtube.com/watch?v=v0", results[0].URL)
	require.Equal(t, "https://www.youtube.com/watch?v=v2", results[2].URL)
}

func TestSearchMissingTitle(t *testing.T) {
	href := "/url?q=" + url.QueryEscape("https://www.youtube.com/watch?v=notitle")
	c := serveResults(t, fmt.Sprintf(`<div><div><a href="%s">link</a></div></div>`, href))

	results, err := c.Search(context.Background(), "query", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Empty(t, results[0].Title)
}

func TestSearchQueryEncoding(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	c := NewClient(fetch.NewFetcher(), WithBaseURL(server.URL))
	_, err := c.Search(context.Background(), `moon landing "1969"`, 13)
	require.NoError(t, err)
	require.Contains(t, gotPath, "site:youtube.com")
	require.Contains(t, gotPath, "num=13")
	require.Contains(t, gotPath, "gbv=1")
}

type failingFetcher struct{}

func (failingFetcher) Document(ctx context.Context, url string) (*goquery.Document, error) {
	return nil, errors.New("network down")
}

func TestSearchFetchFailure(t *testing.T) {
	c := NewClient(failingFetcher{})

	_, err := c.Search(context.Background(), "query", 5)
	require.Error(t, err)
}

func TestDecodeRedirect(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"/url?q=https%3A%2F%2Fwww.youtube.com%2Fwatch%3Fv%3Dabc&sa=U", "https://www.youtube.com/watch?v=abc"},
		{"/url?q=https://example.com&sa=U", "https://example.com"},
		{"/url?sa=U", ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, decodeRedirect(tt.href), "href %q", tt.href)
	}
}
