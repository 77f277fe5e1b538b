package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/IsaacLehman/youtube-ai-chat/chat"
	"github.com/IsaacLehman/youtube-ai-chat/config"
	"github.com/IsaacLehman/youtube-ai-chat/fetch"
	"github.com/IsaacLehman/youtube-ai-chat/harvest"
	"github.com/IsaacLehman/youtube-ai-chat/llm"
	"github.com/IsaacLehman/youtube-ai-chat/search"
	"github.com/IsaacLehman/youtube-ai-chat/storage"
	"github.com/IsaacLehman/youtube-ai-chat/transcript"
	"github.com/IsaacLehman/youtube-ai-chat/turn"
)

func main() {
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// The transcript cache is an optimization; run without it if it fails.
	var db *storage.DB
	if db, err = storage.NewDB(cfg.CachePath); err != nil {
		slog.Warn("transcript cache unavailable", "path", cfg.CachePath, "error", err)
		db = nil
	} else {
		defer db.Close()
		pruneCache(db, cacheMaxAge(cfg))
	}

	fetcher := fetch.NewFetcher(
		fetch.WithTimeout(time.Duration(cfg.FetchTimeoutSecs) * time.Second),
	)
	searchClient := search.NewClient(fetcher)
	transcriptClient := transcript.NewClient(fetcher)

	harvester := harvest.NewHarvester(
		&searcherAdapter{searchClient},
		&cachedTranscripts{client: transcriptClient, db: db, maxAge: cacheMaxAge(cfg)},
		harvest.WithOverfetchMargin(cfg.OverfetchMargin),
		harvest.WithConcurrency(cfg.FetchConcurrency),
	)

	gateway := llm.NewClient(
		cfg.OpenAIAPIKey,
		llm.WithBaseURL(cfg.OpenAIBaseURL),
		llm.WithModels(cfg.LightModel, cfg.HeavyModel),
		llm.WithTemperature(cfg.Temperature),
	)

	runner := turn.NewRunner(
		gateway,
		harvester,
		turn.WithContextCount(cfg.ContextCount),
		turn.WithHeavyCharLimit(cfg.HeavyCharLimit),
		turn.WithQueryObserver(printSearchQuery),
		turn.WithContextObserver(printContextSources),
	)

	app := &App{
		runner:    runner,
		history:   chat.NewHistory(),
		youtubeOn: true,
	}
	app.run(context.Background())
}

// App holds the interactive session state.
type App struct {
	runner    *turn.Runner
	history   *chat.History
	youtubeOn bool
}

func (a *App) run(ctx context.Context) {
	fmt.Println("Welcome to the AI YouTube Chatbot!")
	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		printLine('=', 50)
		fmt.Printf("You %s: ", a.modeLabel())
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "quit", "q":
			fmt.Println("Goodbye!")
			return
		case "help":
			printHelp()
		case "history", "h":
			printHistory(a.history)
		case "delete", "d":
			a.history.Reset()
			printLine('=', 50)
			fmt.Println("CHAT HISTORY DELETED!")
		case "clear", "c":
			fmt.Print("\033[2J\033[H")
		case "youtube", "y":
			a.youtubeOn = !a.youtubeOn
			printLine('=', 50)
			fmt.Println("YOUTUBE MODE: ", a.youtubeOn)
		default:
			a.converse(ctx, input)
		}
	}
}

// converse runs one conversation turn, streaming the reply to the terminal.
func (a *App) converse(ctx context.Context, input string) {
	announced := false
	sink := func(fragment string) {
		if !announced {
			printLine('-', 25)
			fmt.Print("AI: ")
			announced = true
		}
		fmt.Print(fragment)
	}

	res, err := a.runner.Run(ctx, a.history, input, a.youtubeOn, sink)
	if err != nil {
		fmt.Println()
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println()
	printLine('-', 5)
	fmt.Printf("Used model: %s - %d prompt characters\n", res.Model, res.PromptChars)
}

func printSearchQuery(query string) {
	printLine('-', 25)
	fmt.Println("SEARCH QUERY:", query)
}

func printContextSources(items []chat.ContextItem) {
	if len(items) == 0 {
		return
	}
	fmt.Println("CONTEXT(s):")
	for _, item := range items {
		fmt.Printf("\t- %s - %s\n", item.URL, item.Title)
	}
}

func (a *App) modeLabel() string {
	if a.youtubeOn {
		return "[YouTube On]"
	}
	return "[YouTube Off]"
}

func printLine(char rune, n int) {
	fmt.Println(strings.Repeat(string(char), n))
}

func printHelp() {
	printLine('=', 50)
	fmt.Println("HELP MENU: ")
	printLine('-', 50)
	fmt.Println("q | quit: Quit the program")
	fmt.Println("h | history: Show the chat history")
	fmt.Println("d | delete: Delete the chat history")
	fmt.Println("c | clear: Clear the terminal")
	fmt.Println("y | youtube: Toggle youtube mode")
}

func printHistory(history *chat.History) {
	printLine('=', 50)
	fmt.Println("CHAT HISTORY: ")
	for _, msg := range history.Messages() {
		fmt.Println(strings.ToUpper(string(msg.Role)) + ": " + msg.Content)
		if len(msg.Context) == 0 {
			continue
		}

		printLine('-', 25)
		fmt.Println("CONTEXT: ")
		for i, item := range msg.Context {
			duration := item.DurationSeconds()
			fmt.Println("\t- YouTube URL: ", item.URL)
			fmt.Println("\t- Video Title: ", item.Title)
			fmt.Printf("\t- Video Duration:  %.2f seconds  -  %.2f minutes\n", duration, duration/60)
			fmt.Println("\t- Transcript Excerpt: ", excerpt(item.TranscriptText(), 250)+"...")
			if i < len(msg.Context)-1 {
				printLine('-', 15)
			}
		}
	}
}

// excerpt truncates s to at most n bytes without splitting a rune.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func cacheMaxAge(cfg *config.Config) time.Duration {
	return time.Duration(cfg.CacheMaxAgeHours) * time.Hour
}

// pruneCache drops stale rows at startup. Failures are logged, not fatal.
func pruneCache(db *storage.DB, maxAge time.Duration) {
	if pruned, err := db.PruneOlderThan(context.Background(), maxAge); err != nil {
		slog.Warn("failed to prune transcript cache", "error", err)
	} else if pruned > 0 {
		slog.Debug("pruned stale cached transcripts", "count", pruned)
	}
}

// Adapter types bridging concrete clients to the harvester's interfaces.

type searcherAdapter struct {
	client *search.Client
}

func (s *searcherAdapter) Search(ctx context.Context, query string, n int) ([]harvest.Candidate, error) {
	results, err := s.client.Search(ctx, query, n)
	if err != nil {
		return nil, err
	}
	candidates := make([]harvest.Candidate, len(results))
	for i, r := range results {
		candidates[i] = harvest.Candidate{URL: r.URL, Title: r.Title}
	}
	return candidates, nil
}

// cachedTranscripts reads through the SQLite cache before hitting the
// network. Cache failures degrade to direct fetches.
type cachedTranscripts struct {
	client *transcript.Client
	db     *storage.DB
	maxAge time.Duration
}

func (c *cachedTranscripts) Fetch(ctx context.Context, videoID, title string) ([]chat.TranscriptSegment, error) {
	if c.db != nil {
		if cached, err := c.db.GetTranscript(ctx, videoID, c.maxAge); err == nil {
			return cached.Segments, nil
		} else if err != storage.ErrNotFound {
			slog.Debug("transcript cache read failed", "video_id", videoID, "error", err)
		}
	}

	segments, err := c.client.Fetch(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if c.db != nil {
		if err := c.db.PutTranscript(ctx, videoID, title, segments); err != nil {
			slog.Debug("transcript cache write failed", "video_id", videoID, "error", err)
		}
	}
	return segments, nil
}
