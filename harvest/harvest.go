// Package harvest turns a search query into a bounded, deduplicated set of
// transcript-bearing context items, tolerating partial failures.
package harvest

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/IsaacLehman/youtube-ai-chat/chat"
	"github.com/IsaacLehman/youtube-ai-chat/transcript"
)

const (
	defaultOverfetchMargin = 10
	defaultConcurrency     = 6
)

// Candidate is one search hit under consideration.
type Candidate struct {
	URL   string
	Title string
}

// Searcher returns up to n candidates in relevance order.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]Candidate, error)
}

// TranscriptSource returns a video's transcript or fails. The title is
// advisory metadata for caching layers, not a lookup key.
type TranscriptSource interface {
	Fetch(ctx context.Context, videoID, title string) ([]chat.TranscriptSegment, error)
}

// Harvester collects transcript contexts for a query.
type Harvester struct {
	searcher    Searcher
	transcripts TranscriptSource
	overfetch   int
	concurrency int
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithOverfetchMargin sets how many extra candidates to request beyond the
// desired count, to cover videos without transcripts.
func WithOverfetchMargin(n int) Option {
	return func(h *Harvester) {
		h.overfetch = n
	}
}

// WithConcurrency bounds the number of transcript fetches in flight.
func WithConcurrency(n int) Option {
	return func(h *Harvester) {
		h.concurrency = n
	}
}

// NewHarvester creates a harvester over the given collaborators.
func NewHarvester(searcher Searcher, transcripts TranscriptSource, opts ...Option) *Harvester {
	h := &Harvester{
		searcher:    searcher,
		transcripts: transcripts,
		overfetch:   defaultOverfetchMargin,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest returns at most n context items, each with a non-empty transcript,
// preserving the relative order of their originating search candidates.
// Search failure and per-candidate transcript failures degrade to fewer (or
// zero) items; the conversation must always be able to proceed context-less.
func (h *Harvester) Harvest(ctx context.Context, query string, n int) []chat.ContextItem {
	if n <= 0 {
		return nil
	}

	candidates, err := h.searcher.Search(ctx, query, n+h.overfetch)
	if err != nil {
		slog.Warn("search failed, proceeding without context", "query", query, "error", err)
		return nil
	}

	candidates = dedupe(candidates)

	items := h.fetchAll(ctx, candidates, n)
	if len(items) > n {
		items = items[:n]
	}
	return items
}

// outcome tracks one candidate's fetch state: pending until its goroutine
// finishes, then either a usable item or a drop.
type outcome struct {
	done bool
	item *chat.ContextItem
}

// fetchAll retrieves transcripts for the candidates with bounded parallelism
// and assembles results in original candidate order. Once the first n
// successes are confirmed (no earlier candidate still pending), remaining
// fetches are cancelled.
func (h *Harvester) fetchAll(ctx context.Context, candidates []Candidate, n int) []chat.ContextItem {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	outcomes := make([]outcome, len(candidates))

	g, fetchCtx := errgroup.WithContext(fetchCtx)
	g.SetLimit(h.concurrency)

	for i, cand := range candidates {
		i, cand := i, cand
		g.Go(func() error {
			item := h.fetchOne(fetchCtx, cand)

			mu.Lock()
			outcomes[i] = outcome{done: true, item: item}
			if confirmed(outcomes) >= n {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	var items []chat.ContextItem
	for _, o := range outcomes {
		if o.done && o.item != nil {
			items = append(items, *o.item)
		}
	}
	return items
}

// confirmed counts successes in the leading fully-resolved stretch of
// candidates. Order-preservation means a success cannot be committed while
// an earlier candidate is still pending.
func confirmed(outcomes []outcome) int {
	count := 0
	for _, o := range outcomes {
		if !o.done {
			break
		}
		if o.item != nil {
			count++
		}
	}
	return count
}

// fetchOne retrieves one candidate's transcript. Any failure drops the
// candidate silently; the observability sink is the only place it surfaces.
func (h *Harvester) fetchOne(ctx context.Context, cand Candidate) *chat.ContextItem {
	videoID, err := transcript.VideoID(cand.URL)
	if err != nil {
		slog.Debug("skipping candidate without video id", "url", cand.URL)
		return nil
	}

	segments, err := h.transcripts.Fetch(ctx, videoID, cand.Title)
	if err != nil {
		slog.Debug("skipping candidate without transcript", "url", cand.URL, "error", err)
		return nil
	}
	if len(segments) == 0 {
		slog.Debug("skipping candidate with empty transcript", "url", cand.URL)
		return nil
	}

	for i := range segments {
		segments[i].Text = NormalizeText(segments[i].Text)
	}

	return &chat.ContextItem{
		URL:        transcript.WatchURL(videoID),
		Title:      cand.Title,
		Transcript: segments,
	}
}

// dedupe removes candidates resolving to the same normalized URL, keeping
// the first occurrence.
func dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]bool)
	out := candidates[:0:0]
	for _, cand := range candidates {
		key := normalizeURL(cand.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cand)
	}
	return out
}

// normalizeURL canonicalizes a candidate URL for deduplication: watch URLs
// reduce to their video id, everything else to lowercase host plus path.
func normalizeURL(rawURL string) string {
	if id, err := transcript.VideoID(rawURL); err == nil {
		return "watch:" + id
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(parsed.Host) + parsed.Path
}

// NormalizeText replaces non-breaking spaces with ordinary spaces, removes
// embedded newlines and tabs, and collapses runs of whitespace. It is
// idempotent.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
