package config

import (
	"fmt"
	"strings"
)

// Config is the whole config file. Unknown fields are rejected so typos
// fail loudly at startup instead of silently disabling a section.
type Config struct {
	// StateDir holds all persisted state (snapshot, history, outbox).
	// Default: "./state".
	StateDir string `json:"state_dir,omitempty"`

	Logging LoggingConfig  `json:"logging,omitempty"`
	Sources []SourceConfig `json:"sources"`

	Diff    DiffConfig    `json:"diff,omitempty"`
	History HistoryConfig `json:"history,omitempty"`

	Publish   PublishConfig   `json:"publish,omitempty"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp,omitempty"`
	Reporting ReportingConfig `json:"reporting,omitempty"`

	Watch WatchConfig `json:"watch,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SourceConfig declares one leaderboard feed.
type SourceConfig struct {
	// Name is the source key used across state files and reports.
	Name string `json:"name"`
	// Kind selects the collector: "arena", "openrouter", "llmstats",
	// "vellum", "artificial_analysis" or "file".
	Kind string `json:"kind"`
	// Category selects the arena leaderboard ("text", "vision", "code").
	// Default: "text". Only meaningful for kind "arena".
	Category string `json:"category,omitempty"`
	// Path is required for kind "file".
	Path string `json:"path,omitempty"`
}

// ArenaCategory returns the configured arena category, defaulting to "text".
func (s SourceConfig) ArenaCategory() string {
	if c := strings.TrimSpace(s.Category); c != "" {
		return c
	}
	return "text"
}

// DiffConfig overrides the noise-suppression tuning. Zero values fall back
// to the built-in defaults.
type DiffConfig struct {
	MaxRank               int                `json:"max_rank,omitempty"`
	MinRankDelta          int                `json:"min_rank_delta,omitempty"`
	RankFloor             int                `json:"rank_floor,omitempty"`
	CascadeTolerance      int                `json:"cascade_tolerance,omitempty"`
	ScoreThresholds       map[string]float64 `json:"score_thresholds,omitempty"`
	DefaultScoreThreshold float64            `json:"default_score_threshold,omitempty"`
}

type HistoryConfig struct {
	LookbackDays      int `json:"lookback_days,omitempty"`
	MaxEventsPerModel int `json:"max_events_per_model,omitempty"`
	MaxModels         int `json:"max_models,omitempty"`
}

// PublishConfig controls delivery fan-out and the retry policy shared by all
// channels. Durations are Go duration strings.
type PublishConfig struct {
	// Targets lists the enabled channels in delivery order.
	// Default: ["telegram"].
	Targets    []string `json:"targets,omitempty"`
	RetryMax   int      `json:"retry_max,omitempty"`
	RetryDelay string   `json:"retry_delay,omitempty"`
	RatePerSec int      `json:"rate_per_sec,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID string `json:"chat_id,omitempty"`
}

type WhatsAppConfig struct {
	APIURL     string `json:"api_url,omitempty"`
	Token      string `json:"token,omitempty"`
	ChannelJID string `json:"channel_jid,omitempty"`
}

type ReportingConfig struct {
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Model      string `json:"model,omitempty"`
	PromptFile string `json:"prompt_file,omitempty"`
	MaxChars   int    `json:"max_chars,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// WatchConfig enables the long-running mode. One-shot stays the default.
type WatchConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a standard 5-field cron expression (or @every descriptor).
	Schedule string `json:"schedule,omitempty"`
}

var (
	knownChannels    = map[string]struct{}{"telegram": {}, "whatsapp": {}}
	knownSourceKinds = map[string]struct{}{
		"arena":               {},
		"openrouter":          {},
		"llmstats":            {},
		"vellum":              {},
		"artificial_analysis": {},
		"file":                {},
	}
	arenaCategories = map[string]struct{}{"text": {}, "vision": {}, "code": {}}
)

func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources: at least one source is required")
	}
	seen := map[string]struct{}{}
	for i, s := range c.Sources {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("sources[%d]: duplicate source %q", i, name)
		}
		seen[name] = struct{}{}
		if _, ok := knownSourceKinds[s.Kind]; !ok {
			return fmt.Errorf("sources[%d]: unknown kind %q", i, s.Kind)
		}
		if s.Kind == "arena" {
			if _, ok := arenaCategories[s.ArenaCategory()]; !ok {
				return fmt.Errorf("sources[%d]: unknown arena category %q", i, s.Category)
			}
		}
		if s.Kind != "arena" && strings.TrimSpace(s.Category) != "" {
			return fmt.Errorf("sources[%d]: category only applies to kind \"arena\"", i)
		}
		if s.Kind == "file" && strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("sources[%d]: kind %q requires path", i, s.Kind)
		}
	}
	for i, t := range c.Targets() {
		if _, ok := knownChannels[t]; !ok {
			return fmt.Errorf("publish.targets[%d]: unknown channel %q", i, t)
		}
	}
	if _, err := parseDuration("publish.retry_delay", c.Publish.RetryDelay); err != nil {
		return err
	}
	if _, err := parseDuration("reporting.timeout", c.Reporting.Timeout); err != nil {
		return err
	}
	if c.Watch.Enabled && strings.TrimSpace(c.Watch.Schedule) == "" {
		return fmt.Errorf("watch.schedule is required when watch is enabled")
	}
	return nil
}

// Targets returns the enabled channels, normalized; defaults to telegram.
func (c *Config) Targets() []string {
	raw := c.Publish.Targets
	if len(raw) == 0 {
		return []string{"telegram"}
	}
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// StateDirOrDefault returns the configured state dir or "./state".
func (c *Config) StateDirOrDefault() string {
	if strings.TrimSpace(c.StateDir) == "" {
		return "state"
	}
	return c.StateDir
}
