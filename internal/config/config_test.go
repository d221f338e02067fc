package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
state_dir: /tmp/rankwatch
sources:
  - name: arena_text
    kind: llmstats
  - name: openrouter
    kind: openrouter
  - name: fixture
    kind: file
    path: ./fixture.json
diff:
  max_rank: 15
publish:
  targets: [telegram, whatsapp]
  retry_delay: 5s
telegram:
  token: "123:abc"
  chat_id: "@channel"
watch:
  enabled: true
  schedule: "0 */6 * * *"
`

func TestLoadValidYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML), zerolog.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateDir != "/tmp/rankwatch" {
		t.Errorf("state_dir = %q", cfg.StateDir)
	}
	if len(cfg.Sources) != 3 || cfg.Sources[2].Path != "./fixture.json" {
		t.Errorf("sources = %+v", cfg.Sources)
	}
	if cfg.Diff.MaxRank != 15 {
		t.Errorf("max_rank = %d", cfg.Diff.MaxRank)
	}
	if got := cfg.Targets(); len(got) != 2 || got[1] != "whatsapp" {
		t.Errorf("targets = %v", got)
	}
	if !cfg.Watch.Enabled || cfg.Watch.Schedule != "0 */6 * * *" {
		t.Errorf("watch = %+v", cfg.Watch)
	}

	if got := m.Get(); got != cfg {
		t.Error("Get should return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", `
sources:
  - name: arena_text
    kind: llmstats
sorces_typo: []
`), zerolog.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Sources: []SourceConfig{{Name: "a", Kind: "llmstats"}}}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
	arena := &Config{Sources: []SourceConfig{{Name: "arena_vision", Kind: "arena", Category: "vision"}}}
	if err := arena.Validate(); err != nil {
		t.Fatalf("arena config should validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no sources", func(c *Config) { c.Sources = nil }, "at least one source"},
		{"blank name", func(c *Config) { c.Sources[0].Name = " " }, "name is required"},
		{"bad kind", func(c *Config) { c.Sources[0].Kind = "csv" }, "unknown kind"},
		{"file without path", func(c *Config) { c.Sources[0].Kind = "file" }, "requires path"},
		{"dup source", func(c *Config) {
			c.Sources = append(c.Sources, SourceConfig{Name: "a", Kind: "openrouter"})
		}, "duplicate source"},
		{"bad arena category", func(c *Config) {
			c.Sources[0] = SourceConfig{Name: "a", Kind: "arena", Category: "audio"}
		}, "unknown arena category"},
		{"category on non-arena", func(c *Config) { c.Sources[0].Category = "text" }, "category only applies"},
		{"bad channel", func(c *Config) { c.Publish.Targets = []string{"pager"} }, "unknown channel"},
		{"bad duration", func(c *Config) { c.Publish.RetryDelay = "soon" }, "invalid duration"},
		{"watch without schedule", func(c *Config) { c.Watch.Enabled = true }, "schedule is required"},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestTargetsDefaultAndNormalization(t *testing.T) {
	c := &Config{}
	if got := c.Targets(); len(got) != 1 || got[0] != "telegram" {
		t.Errorf("default targets = %v", got)
	}
	c.Publish.Targets = []string{" Telegram ", "", "WHATSAPP"}
	got := c.Targets()
	if len(got) != 2 || got[0] != "telegram" || got[1] != "whatsapp" {
		t.Errorf("normalized targets = %v", got)
	}
}

func TestDurationFields(t *testing.T) {
	if d, err := parseDuration("x", ""); err != nil || d != 0 {
		t.Errorf("empty: d=%v err=%v", d, err)
	}
	if d, err := parseDuration("x", "1m30s"); err != nil || d != 90*time.Second {
		t.Errorf("1m30s: d=%v err=%v", d, err)
	}
	if _, err := parseDuration("x", "-5s"); err == nil {
		t.Error("negative duration should error")
	}

	c := &Config{}
	if d := c.RetryDelay(7 * time.Second); d != 7*time.Second {
		t.Errorf("default retry delay = %v", d)
	}
	c.Publish.RetryDelay = "5s"
	if d := c.RetryDelay(7 * time.Second); d != 5*time.Second {
		t.Errorf("retry delay = %v", d)
	}
	if d := c.ReportTimeout(time.Minute); d != time.Minute {
		t.Errorf("default report timeout = %v", d)
	}
	c.Reporting.Timeout = "2m"
	if d := c.ReportTimeout(time.Minute); d != 2*time.Minute {
		t.Errorf("report timeout = %v", d)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"sources":[{"name":"a","kind":"llmstats"}]} {"extra":1}`), zerolog.Nop())
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestReloadOnceRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path, zerolog.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("sources: []"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reloadOnce()
	if m.Get() != cfg {
		t.Fatal("invalid reload must keep the running config")
	}

	updated := strings.Replace(validYAML, "max_rank: 15", "max_rank: 10", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reloadOnce()
	if got := m.Get().Diff.MaxRank; got != 10 {
		t.Fatalf("max_rank after reload = %d", got)
	}
}
