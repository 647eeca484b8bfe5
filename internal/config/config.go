// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

// Package config loads passy configuration from defaults, an optional YAML
// file, and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/passy/passy/internal/bridge"
	"github.com/passy/passy/internal/bus"
	"github.com/passy/passy/internal/logging"
)

// Transport kinds.
const (
	TransportMemory   = "memory"
	TransportPostgres = "postgres"
)

// CodeInvalidConfig marks a configuration that failed validation.
const CodeInvalidConfig = "INVALID_CONFIG"

// Config is the full passy configuration.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Bridge    BridgeConfig    `koanf:"bridge"`
	Transport TransportConfig `koanf:"transport"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Host      HostConfig      `koanf:"host"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// BridgeConfig controls topics and the default call budget.
type BridgeConfig struct {
	RequestTopic  string        `koanf:"request_topic"`
	ResponseTopic string        `koanf:"response_topic"`
	Timeout       time.Duration `koanf:"timeout"`
}

// TransportConfig selects the broadcast transport.
type TransportConfig struct {
	Kind        string `koanf:"kind"`
	DatabaseURL string `koanf:"database_url"`
	// BufferSize is the per-subscriber queue length of the memory transport.
	BufferSize int `koanf:"buffer_size"`
}

// MetricsConfig controls the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// HostConfig controls the plugin host.
type HostConfig struct {
	AppdataDir     string        `koanf:"appdata_dir"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
}

// defaults keyed by config path.
var defaults = map[string]any{
	"log.format":             "json",
	"log.level":              "info",
	"bridge.request_topic":   bridge.DefaultRequestTopic,
	"bridge.response_topic":  bridge.DefaultResponseTopic,
	"bridge.timeout":         bridge.DefaultTimeout,
	"transport.kind":         TransportMemory,
	"transport.database_url": "",
	"transport.buffer_size":  bus.DefaultBufferSize,
	"metrics.addr":           "127.0.0.1:9100",
	"host.appdata_dir":       "",
	"host.handler_timeout":   30 * time.Second,
}

// flagKeys maps CLI flag names to config paths.
var flagKeys = map[string]string{
	"log-format":      "log.format",
	"log-level":       "log.level",
	"request-topic":   "bridge.request_topic",
	"response-topic":  "bridge.response_topic",
	"timeout":         "bridge.timeout",
	"transport":       "transport.kind",
	"database-url":    "transport.database_url",
	"buffer-size":     "transport.buffer_size",
	"metrics-addr":    "metrics.addr",
	"appdata-dir":     "host.appdata_dir",
	"handler-timeout": "host.handler_timeout",
}

// BindFlags registers the config flags on fs with their default values.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("log-format", defaults["log.format"].(string), "log format (json or text)")
	flags.String("log-level", defaults["log.level"].(string), "log level (debug, info, warn, error)")
	flags.String("request-topic", bridge.DefaultRequestTopic, "topic plugin requests are published on")
	flags.String("response-topic", bridge.DefaultResponseTopic, "topic plugin responses are published on")
	flags.Duration("timeout", bridge.DefaultTimeout, "default plugin call timeout")
	flags.String("transport", TransportMemory, "broadcast transport (memory or postgres)")
	flags.String("database-url", "", "postgres URL for the postgres transport (default: $DATABASE_URL)")
	flags.Int("buffer-size", bus.DefaultBufferSize, "per-subscriber queue length of the memory transport")
	flags.String("metrics-addr", defaults["metrics.addr"].(string), "metrics/health HTTP address (empty = disabled)")
	flags.String("appdata-dir", "", "directory handed to plugins as AppdataPath (default: XDG_DATA_HOME/passy/appdata)")
	flags.Duration("handler-timeout", 30*time.Second, "host handler timeout")
}

// Load builds a Config. path names a YAML file; a missing file is an error
// only when required is true. flags may be nil; only flags that were set on
// the command line override the file.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.With("key", key).Wrapf(err, "set default")
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.With("path", path).Wrapf(err, "load config file")
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Wrapf(err, "unmarshal config")
	}
	if cfg.Transport.DatabaseURL == "" {
		cfg.Transport.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := oops.Code(CodeInvalidConfig)

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid.With("log.format", c.Log.Format).Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid.With("log.level", c.Log.Level).Errorf("log.level %q is not a level", c.Log.Level)
	}
	if strings.TrimSpace(c.Bridge.RequestTopic) == "" || strings.TrimSpace(c.Bridge.ResponseTopic) == "" {
		return invalid.Errorf("bridge topics cannot be empty")
	}
	if c.Bridge.RequestTopic == c.Bridge.ResponseTopic {
		return invalid.With("topic", c.Bridge.RequestTopic).Errorf("request and response topics must differ")
	}
	if c.Bridge.Timeout <= 0 {
		return invalid.With("bridge.timeout", c.Bridge.Timeout.String()).Errorf("bridge.timeout must be positive")
	}
	if c.Host.HandlerTimeout <= 0 {
		return invalid.With("host.handler_timeout", c.Host.HandlerTimeout.String()).Errorf("host.handler_timeout must be positive")
	}

	switch c.Transport.Kind {
	case TransportMemory:
		if c.Transport.BufferSize <= 0 {
			return invalid.With("transport.buffer_size", c.Transport.BufferSize).Errorf("transport.buffer_size must be positive")
		}
	case TransportPostgres:
		if c.Transport.DatabaseURL == "" {
			return invalid.Errorf("transport.database_url (or DATABASE_URL) is required for the postgres transport")
		}
	default:
		return invalid.With("transport.kind", c.Transport.Kind).Errorf("transport.kind must be 'memory' or 'postgres', got %q", c.Transport.Kind)
	}
	return nil
}

// LogLevel returns the parsed log level. Call Validate first.
func (c *Config) LogLevel() slog.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}
