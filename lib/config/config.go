// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/objectgraph/lib/transport"
	"github.com/bureau-foundation/objectgraph/lib/transport/disktransport"
	"github.com/bureau-foundation/objectgraph/lib/transport/redistransport"
	"github.com/bureau-foundation/objectgraph/lib/transport/remotetransport"
	"github.com/bureau-foundation/objectgraph/lib/transport/sqlitetransport"
)

// EnvironmentVariable names the config file for [Load].
const EnvironmentVariable = "OBJECTGRAPH_CONFIG"

// Kind selects a transport backend.
type Kind string

const (
	Memory Kind = "memory"
	Disk   Kind = "disk"
	SQLite Kind = "sqlite"
	Remote Kind = "remote"
	Redis  Kind = "redis"
)

// Config is the configuration of the objectgraph command.
type Config struct {
	// Log configures the command's logger.
	Log LogConfig `yaml:"log" json:"log"`

	// Concurrency bounds simultaneous record transfers in copy and
	// compose. Zero means the library defaults.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Local names the transport used as the local cache by receive.
	Local string `yaml:"local" json:"local"`

	// Remote names the transport receive falls back to and send
	// targets after the local cache.
	Remote string `yaml:"remote" json:"remote"`

	// Transports are the named stores this configuration can open.
	Transports map[string]TransportConfig `yaml:"transports" json:"transports"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `yaml:"level" json:"level"`

	// Format is text, json, or auto. Auto writes text to a terminal
	// and JSON otherwise. Default: auto.
	Format string `yaml:"format" json:"format"`
}

// TransportConfig describes one store. Which fields apply depends on
// Kind.
type TransportConfig struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// Path is the disk store root or the SQLite database file.
	Path string `yaml:"path" json:"path"`

	// Compression is none, lz4, or zstd (disk). Default: lz4.
	Compression string `yaml:"compression" json:"compression"`

	// Sync fsyncs every record file (disk).
	Sync bool `yaml:"sync" json:"sync"`

	// PoolSize is the connection pool size (sqlite).
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// URL is the server base URL (remote) or connection string (redis).
	URL string `yaml:"url" json:"url"`

	// Namespace partitions the remote server's store (remote).
	Namespace string `yaml:"namespace" json:"namespace"`

	// Token is the bearer token (remote). Usually "${SOME_VARIABLE}".
	Token string `yaml:"token" json:"token"`

	// KeyPrefix prefixes record keys (redis).
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// BatchCount bounds records per upload or flush (remote, sqlite,
	// redis). Zero means the backend default.
	BatchCount int `yaml:"batch_count" json:"batch_count"`

	// MaxAttempts bounds tries per request (remote) or network retries
	// per command (redis).
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// Default returns a configuration with one disk store named "local"
// under the user cache directory, used as the local cache.
func Default() *Config {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return &Config{
		Log:   LogConfig{Level: "info", Format: "auto"},
		Local: "local",
		Transports: map[string]TransportConfig{
			"local": {Kind: Disk, Path: filepath.Join(cacheDir, "objectgraph", "objects"), Compression: "lz4"},
		},
	}
}

// Load loads configuration from the file named by OBJECTGRAPH_CONFIG.
// There is no search path: if the variable is unset, Load fails.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your objectgraph config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path. Files ending in .json or
// .jsonc are read as JSON with comments and trailing commas; anything
// else as YAML. Values from the file replace the defaults; a file that
// declares transports replaces the default transport set entirely.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration data. extension selects the format as
// in [LoadFile].
func Parse(data []byte, extension string) (*Config, error) {
	cfg := Default()
	var file Config
	switch extension {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg.merge(&file)
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(file *Config) {
	if file.Log.Level != "" {
		c.Log.Level = file.Log.Level
	}
	if file.Log.Format != "" {
		c.Log.Format = file.Log.Format
	}
	if file.Concurrency != 0 {
		c.Concurrency = file.Concurrency
	}
	if file.Transports != nil {
		c.Transports = file.Transports
		c.Local = ""
	}
	if file.Local != "" {
		c.Local = file.Local
	}
	if file.Remote != "" {
		c.Remote = file.Remote
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in paths, URLs,
// and tokens.
func (c *Config) expandVariables() {
	for name, transportConfig := range c.Transports {
		transportConfig.Path = expandVars(transportConfig.Path)
		transportConfig.URL = expandVars(transportConfig.URL)
		transportConfig.Token = expandVars(transportConfig.Token)
		c.Transports[name] = transportConfig
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json", "auto":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, json, or auto, got %q", c.Log.Format))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative"))
	}
	for _, reference := range []struct{ field, name string }{{"local", c.Local}, {"remote", c.Remote}} {
		if reference.name == "" {
			continue
		}
		if _, ok := c.Transports[reference.name]; !ok {
			errs = append(errs, fmt.Errorf("%s: no transport named %q", reference.field, reference.name))
		}
	}

	for _, name := range c.TransportNames() {
		transportConfig := c.Transports[name]
		switch transportConfig.Kind {
		case Memory:
		case Disk, SQLite:
			if transportConfig.Path == "" {
				errs = append(errs, fmt.Errorf("transports.%s: path is required for %s", name, transportConfig.Kind))
			}
			if transportConfig.Kind == Disk {
				if _, err := disktransport.ParseCompression(transportConfig.Compression); err != nil {
					errs = append(errs, fmt.Errorf("transports.%s: %w", name, err))
				}
			}
		case Remote:
			if transportConfig.URL == "" {
				errs = append(errs, fmt.Errorf("transports.%s: url is required for remote", name))
			}
		case Redis:
		default:
			errs = append(errs, fmt.Errorf("transports.%s: unknown kind %q", name, transportConfig.Kind))
		}
	}

	return errors.Join(errs...)
}

// TransportNames returns the configured transport names, sorted.
func (c *Config) TransportNames() []string {
	names := make([]string, 0, len(c.Transports))
	for name := range c.Transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Logger builds the logger Log describes, writing to stderr. In auto
// format a terminal gets text and anything else (CI, pipes, log
// collectors) gets JSON.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Log.Level))
	options := &slog.HandlerOptions{Level: level}
	format := c.Log.Format
	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

// Open builds the named transport. The caller closes the result when
// it implements io.Closer.
func (c *Config) Open(ctx context.Context, name string, logger *slog.Logger) (transport.Transport, error) {
	transportConfig, ok := c.Transports[name]
	if !ok {
		return nil, fmt.Errorf("no transport named %q", name)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("transport_config", name)

	switch transportConfig.Kind {
	case Memory:
		return transport.NewMemory(name), nil
	case Disk:
		compression, err := disktransport.ParseCompression(transportConfig.Compression)
		if err != nil {
			return nil, err
		}
		return disktransport.New(disktransport.Config{
			Root:        transportConfig.Path,
			Name:        name,
			Compression: compression,
			Sync:        transportConfig.Sync,
			Logger:      logger,
		})
	case SQLite:
		if err := os.MkdirAll(filepath.Dir(transportConfig.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", transportConfig.Path, err)
		}
		return sqlitetransport.Open(sqlitetransport.Config{
			Path:       transportConfig.Path,
			Name:       name,
			PoolSize:   transportConfig.PoolSize,
			FlushCount: transportConfig.BatchCount,
			Logger:     logger,
		})
	case Remote:
		return remotetransport.New(remotetransport.Config{
			BaseURL:     transportConfig.URL,
			Namespace:   transportConfig.Namespace,
			Token:       transportConfig.Token,
			Name:        name,
			BatchCount:  transportConfig.BatchCount,
			MaxAttempts: transportConfig.MaxAttempts,
			Logger:      logger,
		})
	case Redis:
		return redistransport.Open(ctx, redistransport.Config{
			URL:        transportConfig.URL,
			KeyPrefix:  transportConfig.KeyPrefix,
			Name:       name,
			FlushCount: transportConfig.BatchCount,
			MaxRetries: transportConfig.MaxAttempts,
			Logger:     logger,
		})
	}
	return nil, fmt.Errorf("transport %q: unknown kind %q", name, transportConfig.Kind)
}
