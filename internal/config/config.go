package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/apibus/internal/logging"
	"github.com/danmuck/apibus/internal/registry"
)

var ErrInvalid = errors.New("config: invalid")

// MaxTraceItems bounds the capacity of one trace direction.
const MaxTraceItems = 1 << 20

// Config is the apibusd configuration file.
type Config struct {
	FirstMsgID    uint16 `toml:"first_msg_id"`
	RxTraceItems  int    `toml:"rx_trace_items"`
	TxTraceItems  int    `toml:"tx_trace_items"`
	TraceEnabled  bool   `toml:"trace_enabled"`
	PrintMessages bool   `toml:"print_messages"`
	EventLog      bool   `toml:"event_log"`
	PostMortem    bool   `toml:"post_mortem"`
	QueueDepth    int    `toml:"queue_depth"`
	SocketPath    string `toml:"socket_path"`
	MetricsAddr   string `toml:"metrics_addr"`
	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
}

func DefaultConfig() Config {
	return Config{
		FirstMsgID:   registry.DefaultFirstAvailableID,
		RxTraceItems: 1024,
		TxTraceItems: 1024,
		TraceEnabled: true,
		PostMortem:   true,
		QueueDepth:   256,
		SocketPath:   "/run/apibus/api.sock",
		MetricsAddr:  "127.0.0.1:9190",
		LogLevel:     "info",
	}
}

// Load reads path over DefaultConfig: only keys present in the file
// replace defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("first_msg_id") {
		cfg.FirstMsgID = raw.FirstMsgID
	}
	if meta.IsDefined("rx_trace_items") {
		cfg.RxTraceItems = raw.RxTraceItems
	}
	if meta.IsDefined("tx_trace_items") {
		cfg.TxTraceItems = raw.TxTraceItems
	}
	if meta.IsDefined("trace_enabled") {
		cfg.TraceEnabled = raw.TraceEnabled
	}
	if meta.IsDefined("print_messages") {
		cfg.PrintMessages = raw.PrintMessages
	}
	if meta.IsDefined("event_log") {
		cfg.EventLog = raw.EventLog
	}
	if meta.IsDefined("post_mortem") {
		cfg.PostMortem = raw.PostMortem
	}
	if meta.IsDefined("queue_depth") {
		cfg.QueueDepth = raw.QueueDepth
	}
	if meta.IsDefined("socket_path") {
		cfg.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.FirstMsgID == 0 || cfg.FirstMsgID == registry.InvalidID {
		return fmt.Errorf("%w: first_msg_id %d", ErrInvalid, cfg.FirstMsgID)
	}
	if cfg.RxTraceItems < 0 || cfg.RxTraceItems > MaxTraceItems {
		return fmt.Errorf("%w: rx_trace_items %d", ErrInvalid, cfg.RxTraceItems)
	}
	if cfg.TxTraceItems < 0 || cfg.TxTraceItems > MaxTraceItems {
		return fmt.Errorf("%w: tx_trace_items %d", ErrInvalid, cfg.TxTraceItems)
	}
	if cfg.QueueDepth <= 0 {
		return fmt.Errorf("%w: queue_depth must be positive", ErrInvalid)
	}
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("%w: metrics_addr %q: %v", ErrInvalid, cfg.MetricsAddr, err)
		}
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("%w: log_level %q", ErrInvalid, cfg.LogLevel)
		}
	}
	return nil
}
