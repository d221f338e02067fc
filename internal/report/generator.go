// Package report turns a diff report into the human-readable alert text.
//
// Generation is an external collaborator from the core's point of view: a
// function from (diff, snapshot, history context) to text or nothing. The
// bundled implementation assembles a deterministic prompt and asks an
// OpenAI-compatible chat-completions endpoint to write the story.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
	"rankwatch/internal/diff"
)

// Generator produces the alert text for a run. An empty string means
// "nothing worth alerting" and is not an error.
type Generator interface {
	Generate(ctx context.Context, rep *diff.Report, current board.Snapshot, historyContext string) (string, error)
}

const fallbackSystemPrompt = "You are an AI News Anchor covering LLM leaderboards. " +
	"Write a short, punchy update about the changes you are given. " +
	"Use Telegram HTML (<b>, <i>) sparingly and never invent data."

const defaultMaxChars = 4000

type Config struct {
	// BaseURL of an OpenAI-compatible API, e.g. "https://api.openai.com/v1".
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
	// PromptFile overrides the built-in system prompt.
	PromptFile string `json:"prompt_file,omitempty"`
	MaxChars   int    `json:"max_chars,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// LLM is the chat-completions backed Generator.
type LLM struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func NewLLM(cfg Config, timeout time.Duration, log zerolog.Logger) *LLM {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLM{cfg: cfg, http: &http.Client{Timeout: timeout}, log: log}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *LLM) Generate(ctx context.Context, rep *diff.Report, current board.Snapshot, historyContext string) (string, error) {
	// Score-only runs are not newsworthy on their own.
	if rep == nil || (len(rep.NewEntries) == 0 && len(rep.RankChanges) == 0) {
		g.log.Info().Msg("no significant changes to report")
		return "", nil
	}

	if strings.TrimSpace(g.cfg.BaseURL) == "" || strings.TrimSpace(g.cfg.Model) == "" {
		return "", errors.New("reporting not configured (base_url and model required)")
	}

	user := fmt.Sprintf("CONTEXT (CSV):\n```csv\n%s\n```\n\nCHANGES (MARKDOWN):\n```markdown\n%s\n```",
		buildCSVContext(current), formatChangesMarkdown(rep))
	if historyContext != "" {
		user += "\n\nRECENT HISTORY:\n" + historyContext
	}

	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: g.systemPrompt()},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("chat completion: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("chat completion: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	text := strings.TrimSpace(cr.Choices[0].Message.Content)
	maxChars := g.cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	if len(text) > maxChars {
		text = truncate(text, maxChars) + "...\n(Report truncated)"
	}
	g.log.Info().Int("chars", len(text)).Msg("report generated")
	return text, nil
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (g *LLM) systemPrompt() string {
	if g.cfg.PromptFile == "" {
		return fallbackSystemPrompt
	}
	b, err := os.ReadFile(g.cfg.PromptFile)
	if err != nil {
		g.log.Warn().Err(err).Str("path", g.cfg.PromptFile).Msg("prompt file unreadable, using fallback")
		return fallbackSystemPrompt
	}
	return string(b)
}
