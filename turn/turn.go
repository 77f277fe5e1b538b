// Package turn orchestrates a single conversation turn: derive a search
// query, harvest transcript context, assemble the augmented prompt, select a
// model tier, generate the reply, and commit it to the conversation log.
package turn

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IsaacLehman/youtube-ai-chat/chat"
	"github.com/IsaacLehman/youtube-ai-chat/llm"
)

const (
	defaultContextCount   = 3
	defaultHeavyCharLimit = 50000
)

// Gateway generates completions for a message history on a given tier.
type Gateway interface {
	Generate(ctx context.Context, msgs []chat.Message, tier llm.Tier, sink func(string)) (string, error)
	Model(tier llm.Tier) string
}

// Harvester collects transcript context for a query.
type Harvester interface {
	Harvest(ctx context.Context, query string, n int) []chat.ContextItem
}

// Result describes a committed turn.
type Result struct {
	Query       string
	Context     []chat.ContextItem
	Reply       string
	Tier        llm.Tier
	Model       string
	PromptChars int
}

// Runner composes the per-turn pipeline.
type Runner struct {
	gateway        Gateway
	harvester      Harvester
	contextCount   int
	heavyCharLimit int
	onQuery        func(string)
	onContext      func([]chat.ContextItem)
}

// Option configures a Runner.
type Option func(*Runner)

// WithContextCount sets the target number of context items per turn.
func WithContextCount(n int) Option {
	return func(r *Runner) {
		r.contextCount = n
	}
}

// WithHeavyCharLimit sets the transient-history character count above which
// the heavy tier is selected.
func WithHeavyCharLimit(n int) Option {
	return func(r *Runner) {
		r.heavyCharLimit = n
	}
}

// WithQueryObserver registers a callback invoked with the derived search
// query before the reply is generated.
func WithQueryObserver(fn func(string)) Option {
	return func(r *Runner) {
		r.onQuery = fn
	}
}

// WithContextObserver registers a callback invoked with the harvested
// context items before the reply is generated.
func WithContextObserver(fn func([]chat.ContextItem)) Option {
	return func(r *Runner) {
		r.onContext = fn
	}
}

// NewRunner creates a turn runner over the given collaborators.
func NewRunner(gateway Gateway, harvester Harvester, opts ...Option) *Runner {
	r := &Runner{
		gateway:        gateway,
		harvester:      harvester,
		contextCount:   defaultContextCount,
		heavyCharLimit: defaultHeavyCharLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one turn. The user message is appended to the history
// immediately, before any fallible step, so history and delete commands see
// it even when the turn fails downstream. The assistant message is appended
// only after generation succeeds; a generation failure leaves the user
// message dangling and returns the error.
//
// Streamed fragments of the reply are passed to sink as they arrive.
func (r *Runner) Run(ctx context.Context, history *chat.History, userInput string, augment bool, sink func(string)) (*Result, error) {
	history.Append(chat.Message{Role: chat.RoleUser, Content: userInput})

	res := &Result{}

	if augment {
		query, err := r.DeriveQuery(ctx, history.Messages(), userInput)
		if err != nil {
			// Degrade to a context-less turn rather than aborting.
			slog.Warn("query derivation failed, proceeding without context", "error", err)
			augment = false
		} else {
			res.Query = query
			if r.onQuery != nil {
				r.onQuery(query)
			}
			res.Context = r.harvester.Harvest(ctx, query, r.contextCount)
			if r.onContext != nil {
				r.onContext(res.Context)
			}
		}
	}

	transient := history.Messages()
	if augment {
		for _, item := range res.Context {
			transient = append(transient, contextMessage(&item))
		}
		transient = append(transient, citedAnswerPrompt(userInput))
	}

	res.PromptChars = chat.TotalChars(transient)
	res.Tier = llm.TierLight
	if res.PromptChars > r.heavyCharLimit {
		res.Tier = llm.TierHeavy
	}
	res.Model = r.gateway.Model(res.Tier)

	reply, err := r.gateway.Generate(ctx, transient, res.Tier, sink)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	res.Reply = reply

	history.Append(chat.Message{
		Role:    chat.RoleAssistant,
		Content: reply,
		Context: res.Context,
	})

	return res, nil
}

// contextMessage folds one harvested source into an assistant-role message
// for the transient prompt. The item itself is never sent to the backend;
// only this rendered text is.
func contextMessage(item *chat.ContextItem) chat.Message {
	content := fmt.Sprintf(`CONTEXT
- YouTube URL: %s
- Video Title: %s
- Video Duration: %.2f seconds
- YouTube Transcript:
%s`, item.URL, item.Title, item.DurationSeconds(), item.TranscriptText())

	return chat.Message{Role: chat.RoleAssistant, Content: content}
}

// citedAnswerPrompt asks the model to answer using the injected context with
// inline [n] citations and a trailing source list.
func citedAnswerPrompt(userInput string) chat.Message {
	content := fmt.Sprintf(`Please respond to the following user input with the context provided:
%s

Please cite the context in your response and provide inline citations with a source list at the bottom of your response.
Example inline citation: [1]
Example source list: [1] https://www.youtube.com/watch?v=JWzDZ7wo0XQ "The History of the World: Every Year"`, userInput)

	return chat.Message{Role: chat.RoleUser, Content: content}
}
