package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"rankwatch/internal/app"
	"rankwatch/internal/board"
	"rankwatch/internal/config"
	"rankwatch/internal/logging"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the config file")
	dropModels := flag.String("drop-model", "", "comma-separated model names to remove from the saved snapshot, then exit")
	flag.Parse()

	if err := run(*configPath, *dropModels); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, dropModels string) error {
	// The manager gets the real logger once logging is up; config load
	// errors before that surface through the returned error.
	cfgm := config.NewManager(configPath, zerolog.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	log, closeLog, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logging.File{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()
	cfgm.SetLogger(log.With().Str("comp", "config").Logger())

	// Removing a model from the saved snapshot makes the next run treat it
	// as a fresh debut; handy for exercising the alert path end to end.
	if dropModels != "" {
		var names []string
		for _, n := range strings.Split(dropModels, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		state := board.NewStateStore(cfg.StateDirOrDefault(), log)
		removed, err := state.DropModels(names)
		if err != nil {
			return err
		}
		log.Info().Int("removed", removed).Strs("models", names).Msg("models dropped from saved state")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfgm, log)
	if cfg.Watch.Enabled {
		return a.Watch(ctx)
	}
	return a.RunOnce(ctx)
}
