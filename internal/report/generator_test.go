package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
	"rankwatch/internal/diff"
)

func reportWithNewEntry() *diff.Report {
	return &diff.Report{NewEntries: []diff.NewEntry{{
		Source: "arena_text", Model: "x", Rank: 2, EntryType: diff.EntryTypeNewFamily,
	}}}
}

func chatServer(t *testing.T, reply string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		resp := chatResponse{}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: reply}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGenerateSkipsQuietRuns(t *testing.T) {
	g := NewLLM(Config{}, time.Second, zerolog.Nop())

	if out, err := g.Generate(context.Background(), nil, nil, ""); err != nil || out != "" {
		t.Fatalf("nil report: out=%q err=%v", out, err)
	}

	// Score-only changes do not trigger generation at all, so the missing
	// endpoint configuration is never an issue.
	rep := &diff.Report{ScoreChanges: []diff.ScoreChange{{Source: "vellum", Model: "a"}}}
	if out, err := g.Generate(context.Background(), rep, nil, ""); err != nil || out != "" {
		t.Fatalf("score-only report: out=%q err=%v", out, err)
	}
}

func TestGenerateRequiresConfiguration(t *testing.T) {
	g := NewLLM(Config{}, time.Second, zerolog.Nop())
	if _, err := g.Generate(context.Background(), reportWithNewEntry(), nil, ""); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestGenerateBuildsPromptAndReturnsText(t *testing.T) {
	var captured chatRequest
	srv := chatServer(t, "  <b>Big news</b>  ", &captured)
	defer srv.Close()

	g := NewLLM(Config{BaseURL: srv.URL, Model: "reporter-1"}, time.Second, zerolog.Nop())
	current := board.Snapshot{"arena_text": {{Model: "x", Rank: 2, Score: board.Float(1400)}}}

	out, err := g.Generate(context.Background(), reportWithNewEntry(), current, "- arena_text:x | first_seen=2026-08-01")
	if err != nil {
		t.Fatal(err)
	}
	if out != "<b>Big news</b>" {
		t.Errorf("out = %q", out)
	}

	if captured.Model != "reporter-1" {
		t.Errorf("model = %q", captured.Model)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", captured.Messages)
	}
	user := captured.Messages[1].Content
	for _, want := range []string{"CONTEXT (CSV):", "CHANGES (MARKDOWN):", "### new_entry", "RECENT HISTORY:", "first_seen=2026-08-01"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

func TestGenerateTruncatesLongReplies(t *testing.T) {
	srv := chatServer(t, strings.Repeat("x", 300), nil)
	defer srv.Close()

	g := NewLLM(Config{BaseURL: srv.URL, Model: "m", MaxChars: 100}, time.Second, zerolog.Nop())
	out, err := g.Generate(context.Background(), reportWithNewEntry(), nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out, "...\n(Report truncated)") {
		t.Errorf("missing truncation marker: %q", out)
	}
	if !strings.HasPrefix(out, strings.Repeat("x", 100)) {
		t.Errorf("truncated body wrong: %q", out)
	}
}

func TestGenerateTruncatesOnRuneBoundary(t *testing.T) {
	// 98 ASCII bytes then a 3-byte rune straddling the 100-byte cut.
	srv := chatServer(t, strings.Repeat("x", 98)+"€€€", nil)
	defer srv.Close()

	g := NewLLM(Config{BaseURL: srv.URL, Model: "m", MaxChars: 100}, time.Second, zerolog.Nop())
	out, err := g.Generate(context.Background(), reportWithNewEntry(), nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(out) {
		t.Fatalf("output is not valid UTF-8: %q", out)
	}
	if !strings.HasPrefix(out, strings.Repeat("x", 98)+"...") {
		t.Errorf("cut fell inside a rune: %q", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 100); got != "héllo" {
		t.Errorf("short string changed: %q", got)
	}
	// é is two bytes starting at index 1; cutting at 2 must back off to 1.
	if got := truncate("héllo", 2); got != "h" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("héllo", 3); got != "hé" {
		t.Errorf("truncate = %q", got)
	}
}

func TestGenerateSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewLLM(Config{BaseURL: srv.URL, Model: "m"}, time.Second, zerolog.Nop())
	if _, err := g.Generate(context.Background(), reportWithNewEntry(), nil, ""); err == nil {
		t.Fatal("expected error on non-2xx status")
	}
}
