// Package logging builds the zerolog loggers used by every component.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "INSTRUMENT_RPC_LOG_LEVEL"
	EnvLogFormat  = "INSTRUMENT_RPC_LOG_FORMAT"
	EnvLogNoColor = "INSTRUMENT_RPC_LOG_NOCOLOR"
)

// Config selects level and output format. Format is "console" or "json".
type Config struct {
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"`
	NoColor bool   `toml:"no_color" yaml:"no_color"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

// New builds a logger for app writing to stderr. Environment variables override cfg.
func New(app string, cfg Config) zerolog.Logger {
	return NewWithWriter(app, cfg, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(app string, cfg Config, out io.Writer) zerolog.Logger {
	applyEnvOverrides(&cfg)

	level, ok := parseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	w := out
	if !strings.EqualFold(cfg.Format, "json") {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", app).Logger()
}

// Init builds the logger and installs it as the global zerolog logger.
func Init(app string, cfg Config) zerolog.Logger {
	logger := New(app, cfg)
	log.Logger = logger
	return logger
}

// ForTests routes log output through t.Log so it only shows for failing tests.
func ForTests(t zerolog.TestingLog) zerolog.Logger {
	w := zerolog.NewConsoleWriter(zerolog.ConsoleTestWriter(t))
	w.NoColor = true
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Format = v
	}
	if v, err := strconv.ParseBool(os.Getenv(EnvLogNoColor)); err == nil {
		cfg.NoColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "off", "disabled":
		return zerolog.Disabled, true
	}
	return zerolog.InfoLevel, false
}

// ValidLevel reports whether raw names a known level.
func ValidLevel(raw string) bool {
	_, ok := parseLevel(raw)
	return ok || strings.TrimSpace(raw) == ""
}
