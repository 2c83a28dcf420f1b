package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel     = "APIBUS_LOG_LEVEL"
	EnvLogTimestamp = "APIBUS_LOG_TIMESTAMP"
	EnvLogNoColor   = "APIBUS_LOG_NOCOLOR"
	EnvLogBypass    = "APIBUS_LOG_BYPASS"
	EnvLogFile      = "APIBUS_LOG_FILE"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger setup.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// Bypass skips console formatting and writes raw JSON lines.
	Bypass bool
	// File routes output to a rotating log file instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Option adjusts the profile defaults before env overrides apply.
type Option func(*Config)

// WithLevel sets the level from its text name. Unknown names are ignored.
func WithLevel(raw string) Option {
	return func(cfg *Config) {
		if lvl, ok := ParseLevel(raw); ok {
			cfg.Level = lvl
		}
	}
}

// WithFile routes output to path through lumberjack.
func WithFile(path string) Option {
	return func(cfg *Config) {
		cfg.File = strings.TrimSpace(path)
	}
}

var configureOnce sync.Once

func ConfigureRuntime(opts ...Option) {
	Configure(ProfileRuntime, opts...)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile, opts ...Option) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		for _, opt := range opts {
			opt(&cfg)
		}
		applyEnvOverrides(&cfg)
		log.Logger = New(cfg)
	})
}

// New builds a logger from cfg without touching the global logger.
func New(cfg Config) zerolog.Logger {
	logger := zerolog.New(writer(cfg)).Level(cfg.Level)
	if cfg.Timestamp {
		logger = logger.With().Timestamp().Logger()
	}
	return logger
}

func writer(cfg Config) io.Writer {
	if cfg.File != "" {
		return &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	if cfg.Bypass {
		return os.Stderr
	}
	cw := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	return cw
}

func defaultConfig(profile Profile) Config {
	cfg := Config{
		MaxSizeMB:  64,
		MaxBackups: 4,
		MaxAgeDays: 14,
	}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.File = v
	}
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
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
