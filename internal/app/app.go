// Package app wires one full rankwatch cycle:
// collect -> diff -> history update -> report -> publish -> persist.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rankwatch/internal/board"
	"rankwatch/internal/collect"
	"rankwatch/internal/config"
	"rankwatch/internal/diff"
	"rankwatch/internal/history"
	"rankwatch/internal/outbox"
	"rankwatch/internal/publish"
	"rankwatch/internal/report"
	"rankwatch/internal/transport/telegram"
	"rankwatch/internal/transport/whatsapp"
)

type App struct {
	cfgm *config.Manager
	log  zerolog.Logger

	// gen overrides the report generator (tests).
	gen report.Generator
}

func New(cfgm *config.Manager, log zerolog.Logger) *App {
	return &App{cfgm: cfgm, log: log}
}

// RunOnce executes one full cycle against the currently committed config.
// Components are rebuilt per cycle; at batch cadence that is cheap and it
// makes config hot-reload in watch mode trivial.
func (a *App) RunOnce(ctx context.Context) error {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return fmt.Errorf("no config loaded")
	}
	c, err := a.buildCycle(cfg)
	if err != nil {
		return err
	}
	return c.run(ctx)
}

func (a *App) buildCycle(cfg *config.Config) (*cycle, error) {
	stateDir := cfg.StateDirOrDefault()

	retry := publish.RetryPolicy{MaxAttempts: cfg.Publish.RetryMax, Delay: cfg.RetryDelay(2 * time.Second)}

	box := outbox.New(stateDir, a.log.With().Str("comp", "outbox").Logger())
	pub := publish.New(box, cfg.Targets(), cfg.Publish.RatePerSec, a.log.With().Str("comp", "publish").Logger())
	pub.Register(
		telegram.New(telegram.Config{
			Token:  cfg.Telegram.Token,
			ChatID: cfg.Telegram.ChatID,
		}, retry, a.log.With().Str("comp", "telegram").Logger()),
		whatsapp.New(whatsapp.Config{
			APIURL:     cfg.WhatsApp.APIURL,
			Token:      cfg.WhatsApp.Token,
			ChannelJID: cfg.WhatsApp.ChannelJID,
		}, retry, a.log.With().Str("comp", "whatsapp").Logger()),
	)

	collectors, err := a.buildCollectors(cfg)
	if err != nil {
		return nil, err
	}

	gen := a.gen
	if gen == nil {
		gen = report.NewLLM(report.Config{
			BaseURL:    cfg.Reporting.BaseURL,
			APIKey:     cfg.Reporting.APIKey,
			Model:      cfg.Reporting.Model,
			PromptFile: cfg.Reporting.PromptFile,
			MaxChars:   cfg.Reporting.MaxChars,
		}, cfg.ReportTimeout(60*time.Second), a.log.With().Str("comp", "report").Logger())
	}

	collectLog := a.log.With().Str("comp", "collect").Logger()
	return &cycle{
		log:   a.log.With().Str("comp", "cycle").Logger(),
		state: board.NewStateStore(stateDir, a.log.With().Str("comp", "state").Logger()),
		hist:  history.NewStore(stateDir, cfg.History.LookbackDays, a.log.With().Str("comp", "history").Logger()),
		histOpts: history.ContextOptions{
			MaxEventsPerModel: cfg.History.MaxEventsPerModel,
			LookbackDays:      cfg.History.LookbackDays,
			MaxModels:         cfg.History.MaxModels,
		},
		engine: diff.New(diff.Options{
			MaxRank:               cfg.Diff.MaxRank,
			MinRankDelta:          cfg.Diff.MinRankDelta,
			RankFloor:             cfg.Diff.RankFloor,
			CascadeTolerance:      cfg.Diff.CascadeTolerance,
			ScoreThresholds:       cfg.Diff.ScoreThresholds,
			DefaultScoreThreshold: cfg.Diff.DefaultScoreThreshold,
		}, a.log.With().Str("comp", "diff").Logger()),
		collect: func(ctx context.Context) board.Snapshot {
			return collect.Run(ctx, collectors, collectLog)
		},
		gen: gen,
		pub: pub,
	}, nil
}

func (a *App) buildCollectors(cfg *config.Config) ([]collect.Collector, error) {
	log := a.log.With().Str("comp", "collect").Logger()
	out := make([]collect.Collector, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		switch src.Kind {
		case "arena":
			out = append(out, collect.NewArena(src.Name, src.ArenaCategory(), log))
		case "openrouter":
			out = append(out, collect.NewOpenRouter(src.Name, log))
		case "llmstats":
			out = append(out, collect.NewLLMStats(src.Name, log))
		case "vellum":
			out = append(out, collect.NewVellum(src.Name, log))
		case "artificial_analysis":
			out = append(out, collect.NewArtificialAnalysis(src.Name, log))
		case "file":
			out = append(out, collect.NewFile(src.Name, src.Path))
		default:
			return nil, fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
		}
	}
	return out, nil
}

// cycle carries everything one run needs; the pieces are plain fields so
// tests can assemble one with fakes.
type cycle struct {
	log      zerolog.Logger
	state    *board.StateStore
	hist     *history.Store
	histOpts history.ContextOptions
	engine   *diff.Engine
	collect  func(ctx context.Context) board.Snapshot
	gen      report.Generator
	pub      *publish.Publisher
}

func (c *cycle) run(ctx context.Context) error {
	// Recover anything a previous run failed to deliver before producing
	// new content.
	c.pub.DrainAll(ctx)

	current := c.collect(ctx)
	previous := c.state.Load()

	rep := c.engine.Diff(current, previous)

	// The ledger is updated no matter what the diff engine decided.
	if err := c.hist.Update(current, previous); err != nil {
		c.log.Error().Err(err).Msg("history update failed")
	}

	switch {
	case rep == nil:
		c.log.Info().Msg("first run, saving state without alerting")
	case rep.Empty():
		c.log.Info().Msg("no significant changes detected")
	default:
		c.log.Info().
			Int("new_entries", len(rep.NewEntries)).
			Int("rank_changes", len(rep.RankChanges)).
			Int("score_changes", len(rep.ScoreChanges)).
			Msg("changes detected")
		c.publishReport(ctx, rep, current)
	}

	// The report (if any) is durable in the outbox by now, so the new
	// snapshot always becomes the baseline for the next run.
	if err := c.state.Save(current); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	c.log.Info().Msg("state saved")
	return nil
}

func (c *cycle) publishReport(ctx context.Context, rep *diff.Report, current board.Snapshot) {
	historyContext := c.hist.BuildContext(rep, c.histOpts)
	text, err := c.gen.Generate(ctx, rep, current, historyContext)
	if err != nil {
		c.log.Error().Err(err).Msg("report generation failed, skipping alert")
		return
	}
	if text == "" {
		c.log.Info().Msg("changes deemed insignificant by reporter")
		return
	}
	c.pub.Publish(ctx, text)
}
