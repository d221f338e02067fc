// Package logging configures the process-wide zerolog root logger.
//
// The returned logger is created once at startup and passed down explicitly;
// components derive their own with log.With().Str("comp", ...).Logger().
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	// Level is one of trace, debug, info, warn, error. Default: info.
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    File   `json:"file,omitempty"`
}

type File struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// New builds the root logger. The returned closer releases the file sink
// (no-op when file logging is disabled).
func New(cfg Config) (zerolog.Logger, func(), error) {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	level := parseLevel(cfg.Level, zerolog.InfoLevel)

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat})
	}

	closer := func() {}
	if cfg.File.Enabled && strings.TrimSpace(cfg.File.Path) != "" {
		f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = func() { _ = f.Close() }
	}

	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat})
	}

	root := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return root, closer, nil
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return def
	default:
		return def
	}
}
