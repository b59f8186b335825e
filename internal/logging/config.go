// Package logging owns process-wide structured logging setup.
//
// Ownership boundary:
// - zerolog global logger construction
// - env-driven level/format overrides
//
// It does not decide what gets logged; manager and nsio each call L()
// and log at their own call sites.
package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "FLOWSOCK_LOG_LEVEL"
	EnvLogTimestamp = "FLOWSOCK_LOG_TIMESTAMP"
	EnvLogNoColor   = "FLOWSOCK_LOG_NOCOLOR"
)

// Profile selects a logging default appropriate for the calling context.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config controls the global logger's verbosity and formatting.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
}

var (
	configureOnce sync.Once
	logger        zerolog.Logger
	mu            sync.RWMutex
)

func init() {
	logger = build(defaultConfig(ProfileRuntime))
}

// Configure builds the global logger for profile exactly once per
// process; subsequent calls are no-ops.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		set(build(cfg))
	})
}

// ConfigureRuntime configures the logger for normal process execution.
func ConfigureRuntime() { Configure(ProfileRuntime) }

// ConfigureTests configures the logger for `go test` output: debug
// level, no timestamps (keeps test output diffable).
func ConfigureTests() { Configure(ProfileTest) }

// L returns the current global logger.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

func set(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func build(cfg Config) zerolog.Logger {
	out := os.Stdout
	noColor := cfg.NoColor || !isatty.IsTerminal(out.Fd())
	writer := zerolog.ConsoleWriter{
		Out:     colorable.NewColorable(out),
		NoColor: noColor,
	}
	if cfg.Timestamp {
		writer.TimeFormat = time.RFC3339
	}
	ctx := zerolog.New(writer).Level(cfg.Level).With().Str("app", "flowsock")
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
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
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
