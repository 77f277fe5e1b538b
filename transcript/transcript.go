// Package transcript retrieves time-coded captions for YouTube videos by
// locating the caption track advertised on the watch page and downloading
// its timedtext document.
package transcript

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/IsaacLehman/youtube-ai-chat/chat"
)

const defaultWatchBaseURL = "https://www.youtube.com"

// ErrNoTranscript is returned when a video advertises no caption tracks.
var ErrNoTranscript = errors.New("no transcript available")

// BodyFetcher retrieves the raw body of a URL.
type BodyFetcher interface {
	Body(ctx context.Context, url string) ([]byte, error)
}

// Client fetches video transcripts.
type Client struct {
	fetcher BodyFetcher
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom watch-page base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// NewClient creates a transcript client backed by the given fetcher.
func NewClient(fetcher BodyFetcher, opts ...Option) *Client {
	c := &Client{
		fetcher: fetcher,
		baseURL: defaultWatchBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VideoID extracts the video identifier from a watch-page URL, taking the
// value of the v query parameter.
func VideoID(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	id := parsed.Query().Get("v")
	if id == "" {
		return "", fmt.Errorf("no video id in URL: %s", rawURL)
	}
	return id, nil
}

// WatchURL returns the canonical watch-page URL for a video id.
func WatchURL(videoID string) string {
	return defaultWatchBaseURL + "/watch?v=" + videoID
}

// Fetch returns a video's transcript segments ordered as delivered by the
// timedtext endpoint.
func (c *Client) Fetch(ctx context.Context, videoID string) ([]chat.TranscriptSegment, error) {
	page, err := c.fetcher.Body(ctx, c.baseURL+"/watch?v="+videoID)
	if err != nil {
		return nil, fmt.Errorf("fetch watch page: %w", err)
	}

	trackURL, err := captionTrackURL(page)
	if err != nil {
		return nil, err
	}

	body, err := c.fetcher.Body(ctx, trackURL)
	if err != nil {
		return nil, fmt.Errorf("fetch timedtext: %w", err)
	}

	return parseTimedText(body)
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
}

// captionTrackURL locates the captionTracks array embedded in the watch
// page's player response and returns the first track's URL.
func captionTrackURL(page []byte) (string, error) {
	const marker = `"captionTracks":`
	idx := strings.Index(string(page), marker)
	if idx < 0 {
		return "", ErrNoTranscript
	}

	raw := extractJSONArray(string(page)[idx+len(marker):])
	if raw == "" {
		return "", ErrNoTranscript
	}

	var tracks []captionTrack
	if err := json.Unmarshal([]byte(raw), &tracks); err != nil {
		return "", fmt.Errorf("parse caption tracks: %w", err)
	}
	if len(tracks) == 0 || tracks[0].BaseURL == "" {
		return "", ErrNoTranscript
	}
	return tracks[0].BaseURL, nil
}

// extractJSONArray returns the balanced [...] prefix of s, respecting
// strings and escapes. Leading whitespace before the bracket is skipped.
func extractJSONArray(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case inString && c == '\\':
			i++
		case inString && c == '"':
			inString = false
		case inString:
		case c == '"':
			inString = true
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		case depth == 0:
			// Non-array content before the opening bracket.
			return ""
		}
	}
	return ""
}

type timedText struct {
	XMLName xml.Name        `xml:"transcript"`
	Texts   []timedTextLine `xml:"text"`
}

type timedTextLine struct {
	Start    float64 `xml:"start,attr"`
	Duration float64 `xml:"dur,attr"`
	Body     string  `xml:",chardata"`
}

func parseTimedText(body []byte) ([]chat.TranscriptSegment, error) {
	var doc timedText
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse timedtext: %w", err)
	}
	if len(doc.Texts) == 0 {
		return nil, ErrNoTranscript
	}

	segments := make([]chat.TranscriptSegment, len(doc.Texts))
	for i, line := range doc.Texts {
		segments[i] = chat.TranscriptSegment{
			// The endpoint double-encodes entities (&amp;#39;), so the XML
			// decoder's pass leaves one layer behind.
			Text:     html.UnescapeString(line.Body),
			Start:    line.Start,
			Duration: line.Duration,
		}
	}
	return segments, nil
}
