// Package logging configures the engine's zerolog output: a console
// writer for interactive use and a rotated file for the session record.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log destinations and retention.
type Config struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultConfig logs to the console and a rotated file under the
// user's config directory.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "das-bridge", "logs", "das-bridge.log"),
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
	}
}

// NewLogger builds a logger from the default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultConfig())
}

// NewLoggerWithConfig builds a logger writing to the configured sinks.
// A config with no sinks falls back to stdout.
func NewLoggerWithConfig(cfg Config) zerolog.Logger {
	var sinks []io.Writer

	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		})
	}
	if cfg.File {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err == nil {
			sinks = append(sinks, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
			})
		}
	}

	var out io.Writer = os.Stdout
	switch len(sinks) {
	case 0:
	case 1:
		out = sinks[0]
	default:
		out = zerolog.MultiLevelWriter(sinks...)
	}

	if lvl, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// SetDebugLevel drops the global level to debug, typically from a
// --debug CLI flag after the logger is already built.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// LogLocate records a locate decision with its full reasoning so a
// rejected locate can be audited after the fact.
func LogLocate(logger zerolog.Logger, symbol string, shares int64, rate float64, approved bool, reasons []string) {
	logger.Info().
		Str("event", "locate").
		Str("symbol", symbol).
		Int64("shares", shares).
		Float64("rate", rate).
		Bool("approved", approved).
		Strs("reasons", reasons).
		Msg("Locate analysis")
}
