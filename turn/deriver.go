package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/IsaacLehman/youtube-ai-chat/chat"
	"github.com/IsaacLehman/youtube-ai-chat/llm"
)

// DeriveQuery asks the light tier to turn the latest user input into a
// compact single-line search query. The derivation prompt is appended only
// to a transient copy of the history and never persists in the conversation
// log. Gateway failure propagates; the caller decides how to degrade.
func (r *Runner) DeriveQuery(ctx context.Context, history []chat.Message, userInput string) (string, error) {
	transient := append(history, searchQueryPrompt(userInput))

	raw, err := r.gateway.Generate(ctx, transient, llm.TierLight, nil)
	if err != nil {
		return "", fmt.Errorf("derive query: %w", err)
	}

	return CleanQuery(raw), nil
}

// searchQueryPrompt builds the derivation instruction for the model.
func searchQueryPrompt(userInput string) chat.Message {
	content := fmt.Sprintf(`Please generate a concise natural language search query for the following user input which would be used to search google:
%s

Do not include any intro or exit text, only return only the natural language search query.
Search Query:`, userInput)

	return chat.Message{Role: chat.RoleUser, Content: content}
}

// CleanQuery collapses internal whitespace to single spaces, trims, and
// strips double quotes, which truncate result sets in the search engine.
func CleanQuery(raw string) string {
	cleaned := strings.Join(strings.Fields(raw), " ")
	return strings.TrimSpace(strings.ReplaceAll(cleaned, `"`, ""))
}
