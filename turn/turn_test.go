package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IsaacLehman/youtube-ai-chat/chat"
	"github.com/IsaacLehman/youtube-ai-chat/llm"
)

// Mocks

type genResult struct {
	text string
	err  error
}

type genCall struct {
	msgs    []chat.Message
	tier    llm.Tier
	streams bool
}

type mockGateway struct {
	queue     []genResult
	calls     []genCall
	fragments []string
}

func (m *mockGateway) Generate(ctx context.Context, msgs []chat.Message, tier llm.Tier, sink func(string)) (string, error) {
	m.calls = append(m.calls, genCall{msgs: msgs, tier: tier, streams: sink != nil})
	if len(m.queue) == 0 {
		return "", errors.New("unexpected gateway call")
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	if next.err != nil {
		return "", next.err
	}
	if sink != nil {
		for _, f := range m.fragments {
			sink(f)
		}
	}
	return next.text, nil
}

func (m *mockGateway) Model(tier llm.Tier) string {
	if tier == llm.TierHeavy {
		return "heavy-model"
	}
	return "light-model"
}

type mockHarvester struct {
	items []chat.ContextItem
	query string
	count int
	calls int
}

func (m *mockHarvester) Harvest(ctx context.Context, query string, n int) []chat.ContextItem {
	m.calls++
	m.query = query
	m.count = n
	return m.items
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
}

func newHistory() *chat.History {
	return chat.NewHistory(chat.WithClock(fixedClock))
}

func contextFixture() []chat.ContextItem {
	return []chat.ContextItem{
		{
			URL:   "https://www.youtube.com/watch?v=vid1",
			Title: "Moon Landing Documentary",
			Transcript: []chat.TranscriptSegment{
				{Text: "one small step", Start: 0, Duration: 3},
			},
		},
		{
			URL:   "https://www.youtube.com/watch?v=vid2",
			Title: "Apollo 11",
			Transcript: []chat.TranscriptSegment{
				{Text: "the eagle has landed", Start: 0, Duration: 4},
			},
		},
	}
}

// Tests

func TestRunCommitsUserAndAssistant(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{{text: "a reply"}}}
	history := newHistory()

	r := NewRunner(gateway, &mockHarvester{})
	res, err := r.Run(context.Background(), history, "hello", false, nil)
	require.NoError(t, err)
	require.Equal(t, "a reply", res.Reply)

	msgs := history.Messages()
	require.Equal(t, 3, history.Len())
	require.Equal(t, chat.RoleUser, msgs[1].Role)
	require.Equal(t, "hello", msgs[1].Content)
	require.Equal(t, chat.RoleAssistant, msgs[2].Role)
	require.Equal(t, "a reply", msgs[2].Content)
	require.Empty(t, msgs[2].Context)
}

func TestRunHistoryGrowsTwoPerTurn(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{{text: "r1"}, {text: "r2"}, {text: "r3"}}}
	history := newHistory()
	r := NewRunner(gateway, &mockHarvester{})

	for i, input := range []string{"one", "two", "three"} {
		_, err := r.Run(context.Background(), history, input, false, nil)
		require.NoError(t, err)
		require.Equal(t, 1+2*(i+1), history.Len())
	}
}

func TestRunAugmented(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{
		{text: "\n  apollo 11 \"moon landing\"\t1969  \n"},
		{text: "final answer [1]"},
	}}
	harvester := &mockHarvester{items: contextFixture()}
	history := newHistory()

	r := NewRunner(gateway, harvester)
	res, err := r.Run(context.Background(), history, "What happened in 1969?", true, nil)
	require.NoError(t, err)

	// Derived query is cleaned before searching.
	require.Equal(t, "apollo 11 moon landing 1969", res.Query)
	require.Equal(t, res.Query, harvester.query)
	require.Equal(t, 3, harvester.count)

	// The derivation prompt never persists in conversation state.
	require.Equal(t, 3, history.Len())
	for _, msg := range history.Messages() {
		require.NotContains(t, msg.Content, "Search Query:")
	}

	// The committed assistant message carries the context used.
	last := history.Messages()[2]
	require.Equal(t, "final answer [1]", last.Content)
	require.Equal(t, contextFixture(), last.Context)

	// Two gateway calls: buffered derivation, then streamed-capable reply.
	require.Len(t, gateway.calls, 2)
	require.False(t, gateway.calls[0].streams)

	// Transient augmented history: persisted (system+user) + one context
	// message per item + the final citation prompt.
	transient := gateway.calls[1].msgs
	require.Len(t, transient, 2+2+1)
	require.Contains(t, transient[2].Content, "CONTEXT")
	require.Contains(t, transient[2].Content, "one small step")
	require.Equal(t, chat.RoleAssistant, transient[2].Role)
	require.Contains(t, transient[3].Content, "the eagle has landed")
	require.Contains(t, transient[4].Content, "inline citations")
	require.Equal(t, chat.RoleUser, transient[4].Role)
}

func TestRunDeriveFailureDegradesToNoContext(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{
		{err: errors.New("backend down")},
		{text: "plain reply"},
	}}
	harvester := &mockHarvester{items: contextFixture()}
	history := newHistory()

	r := NewRunner(gateway, harvester)
	res, err := r.Run(context.Background(), history, "hello", true, nil)
	require.NoError(t, err)

	require.Zero(t, harvester.calls)
	require.Empty(t, res.Context)
	require.Equal(t, 3, history.Len())
	require.Empty(t, history.Messages()[2].Context)

	// The reply prompt equals the persisted history, no augmentation.
	require.Len(t, gateway.calls[1].msgs, 2)
}

func TestRunGenerateFailureLeavesUserMessage(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{{err: errors.New("timeout")}}}
	history := newHistory()

	r := NewRunner(gateway, &mockHarvester{})
	_, err := r.Run(context.Background(), history, "hello", false, nil)
	require.Error(t, err)

	msgs := history.Messages()
	require.Equal(t, 2, history.Len())
	require.Equal(t, chat.RoleUser, msgs[1].Role)
}

func TestRunEmptyHarvestStillCommits(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{
		{text: "derived query"},
		{text: "context-less reply"},
	}}
	harvester := &mockHarvester{} // search unavailable: no items
	history := newHistory()

	r := NewRunner(gateway, harvester)
	res, err := r.Run(context.Background(), history, "hello", true, nil)
	require.NoError(t, err)

	require.Empty(t, res.Context)
	require.Equal(t, 3, history.Len())
	require.Empty(t, history.Messages()[2].Context)

	// No context messages, but the citation prompt is still appended.
	transient := gateway.calls[1].msgs
	require.Len(t, transient, 3)
	require.Contains(t, transient[2].Content, "inline citations")
}

func TestTierSelectionBoundary(t *testing.T) {
	history := newHistory()
	input := "hello"
	total := chat.TotalChars(history.Messages()) + len(input)

	// At exactly the threshold the light tier is kept.
	gateway := &mockGateway{queue: []genResult{{text: "r"}}}
	r := NewRunner(gateway, &mockHarvester{}, WithHeavyCharLimit(total))
	res, err := r.Run(context.Background(), history, input, false, nil)
	require.NoError(t, err)
	require.Equal(t, llm.TierLight, res.Tier)
	require.Equal(t, "light-model", res.Model)
	require.Equal(t, total, res.PromptChars)

	// One character over the threshold selects the heavy tier.
	history2 := newHistory()
	gateway2 := &mockGateway{queue: []genResult{{text: "r"}}}
	r2 := NewRunner(gateway2, &mockHarvester{}, WithHeavyCharLimit(total-1))
	res2, err := r2.Run(context.Background(), history2, input, false, nil)
	require.NoError(t, err)
	require.Equal(t, llm.TierHeavy, res2.Tier)
	require.Equal(t, "heavy-model", res2.Model)
	require.Equal(t, llm.TierHeavy, gateway2.calls[0].tier)
}

func TestRunStreamsFragments(t *testing.T) {
	gateway := &mockGateway{
		queue:     []genResult{{text: "streamed reply"}},
		fragments: []string{"streamed ", "reply"},
	}
	history := newHistory()

	var got []string
	r := NewRunner(gateway, &mockHarvester{})
	_, err := r.Run(context.Background(), history, "hello", false, func(f string) {
		got = append(got, f)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"streamed ", "reply"}, got)
	require.True(t, gateway.calls[0].streams)
}

func TestRunReportsProgressBeforeReply(t *testing.T) {
	gateway := &mockGateway{
		queue:     []genResult{{text: "a query"}, {text: "reply"}},
		fragments: []string{"reply"},
	}
	harvester := &mockHarvester{items: contextFixture()}
	history := newHistory()

	var events []string
	r := NewRunner(gateway, harvester,
		WithQueryObserver(func(q string) {
			events = append(events, "query:"+q)
		}),
		WithContextObserver(func(items []chat.ContextItem) {
			events = append(events, fmt.Sprintf("context:%d", len(items)))
		}),
	)

	_, err := r.Run(context.Background(), history, "hello", true, func(string) {
		events = append(events, "fragment")
	})
	require.NoError(t, err)

	// Query and context surface before any streamed fragment.
	require.Equal(t, []string{"query:a query", "context:2", "fragment"}, events)
}

func TestRunObserversSilentWithoutAugmentation(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{{text: "reply"}}}
	history := newHistory()

	called := false
	r := NewRunner(gateway, &mockHarvester{},
		WithQueryObserver(func(string) { called = true }),
		WithContextObserver(func([]chat.ContextItem) { called = true }),
	)

	_, err := r.Run(context.Background(), history, "hello", false, nil)
	require.NoError(t, err)
	require.False(t, called)
}

func TestDeriveQueryUsesLightTier(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{{text: "a query"}}}
	r := NewRunner(gateway, &mockHarvester{})

	query, err := r.DeriveQuery(context.Background(), newHistory().Messages(), "tell me about jazz")
	require.NoError(t, err)
	require.Equal(t, "a query", query)

	require.Len(t, gateway.calls, 1)
	require.Equal(t, llm.TierLight, gateway.calls[0].tier)
	require.False(t, gateway.calls[0].streams)

	prompt := gateway.calls[0].msgs
	require.Contains(t, prompt[len(prompt)-1].Content, "tell me about jazz")
	require.Contains(t, prompt[len(prompt)-1].Content, "search query")
}

func TestCleanQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain query", "plain query"},
		{"  padded  ", "padded"},
		{"multi\nline\tquery", "multi line query"},
		{`with "quoted phrase" inside`, "with quoted phrase inside"},
		{"collapse   runs", "collapse runs"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, CleanQuery(tt.in), "input %q", tt.in)
	}
}

func TestCleanQueryIsUsedForSearch(t *testing.T) {
	gateway := &mockGateway{queue: []genResult{
		{text: `"exact phrase"` + "\n" + "with newline"},
		{text: "reply"},
	}}
	harvester := &mockHarvester{items: nil}
	history := newHistory()

	r := NewRunner(gateway, harvester)
	_, err := r.Run(context.Background(), history, "hi", true, nil)
	require.NoError(t, err)
	require.Equal(t, "exact phrase with newline", harvester.query)
	require.False(t, strings.Contains(harvester.query, `"`))
}
