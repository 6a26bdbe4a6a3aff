// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/castdeck/castdeck/lib/state"
)

// EnvConfig names the environment variable read by [Load].
const EnvConfig = "CASTDECK_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development enables slow-call warnings and allows unauthenticated
	// local listeners.
	Development Environment = "development"
	// Production disables slow-call warnings and requires auth on every
	// listener unless the file says otherwise.
	Production Environment = "production"
)

// Duration is a time.Duration that decodes from strings like "50ms"
// in both YAML and JSON.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for a castdeck worker.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	// Root is the base directory for runtime files. It is available to
	// other path fields as ${CASTDECK_ROOT}.
	Root string `yaml:"root" json:"root"`

	Log       LogConfig       `yaml:"log" json:"log"`
	Worker    WorkerConfig    `yaml:"worker" json:"worker"`
	Listeners ListenersConfig `yaml:"listeners" json:"listeners"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *Overrides `yaml:"development,omitempty" json:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// Overrides contains the fields that can be overridden per environment.
type Overrides struct {
	Log       *LogConfig       `yaml:"log,omitempty" json:"log,omitempty"`
	Worker    *WorkerConfig    `yaml:"worker,omitempty" json:"worker,omitempty"`
	Listeners *ListenersConfig `yaml:"listeners,omitempty" json:"listeners,omitempty"`
	Auth      *AuthConfig      `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is text or json.
	Format string `yaml:"format" json:"format"`
}

// WorkerConfig configures the canonical store and call executor.
type WorkerConfig struct {
	// MutationLogSize is how many mutations are retained for catch-up.
	MutationLogSize int `yaml:"mutation_log_size" json:"mutation_log_size"`

	// SlowCallThreshold triggers a warning for synchronous calls that
	// take longer. Zero disables the warning.
	SlowCallThreshold Duration `yaml:"slow_call_threshold" json:"slow_call_threshold"`

	// PushQueueSize bounds each window's queued pushes.
	PushQueueSize int `yaml:"push_queue_size" json:"push_queue_size"`

	// SnapshotCompression is none, lz4, or zstd.
	SnapshotCompression string `yaml:"snapshot_compression" json:"snapshot_compression"`
}

// ListenersConfig configures the external listener servers.
type ListenersConfig struct {
	TCP       TCPConfig       `yaml:"tcp" json:"tcp"`
	Unix      UnixConfig      `yaml:"unix" json:"unix"`
	WebSocket WebSocketConfig `yaml:"websocket" json:"websocket"`

	// RequireAuth gates the TCP and Unix listeners. WebSocket listeners
	// with allow_remote always require auth.
	RequireAuth *bool `yaml:"require_auth,omitempty" json:"require_auth,omitempty"`

	// IdleTimeout closes connections that have no subscriptions and
	// send nothing for this long. Zero disables it.
	IdleTimeout Duration `yaml:"idle_timeout" json:"idle_timeout"`

	MaxFrameBytes      int `yaml:"max_frame_bytes" json:"max_frame_bytes"`
	MaxMalformedFrames int `yaml:"max_malformed_frames" json:"max_malformed_frames"`
}

// TCPConfig configures the newline-delimited JSON TCP listener.
type TCPConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Address string `yaml:"address" json:"address"`
}

// UnixConfig configures the Unix socket listener.
type UnixConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Path    string `yaml:"path" json:"path"`
}

// WebSocketConfig configures the WebSocket listener.
type WebSocketConfig struct {
	Enabled     *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Address     string `yaml:"address" json:"address"`
	Path        string `yaml:"path" json:"path"`
	AllowRemote *bool  `yaml:"allow_remote,omitempty" json:"allow_remote,omitempty"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// SecretPath holds the hex-encoded HMAC secret. The worker creates
	// it on first start.
	SecretPath string `yaml:"secret_path" json:"secret_path"`

	// TokenTTL is the default lifetime of minted tokens.
	TokenTTL Duration `yaml:"token_ttl" json:"token_ttl"`
}

// Default returns the default configuration. The config file is merged
// on top of it, so every field has a usable value even when the file
// only names a few keys.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "state", "castdeck")

	return &Config{
		Environment: Development,
		Root:        defaultRoot,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Worker: WorkerConfig{
			MutationLogSize:     100,
			SlowCallThreshold:   Duration(50 * time.Millisecond),
			PushQueueSize:       256,
			SnapshotCompression: string(state.CompressionZstd),
		},
		Listeners: ListenersConfig{
			TCP: TCPConfig{
				Enabled: boolPtr(false),
				Address: "127.0.0.1:4455",
			},
			Unix: UnixConfig{
				Enabled: boolPtr(true),
				Path:    "${CASTDECK_ROOT}/worker.sock",
			},
			WebSocket: WebSocketConfig{
				Enabled:     boolPtr(false),
				Address:     "127.0.0.1:4456",
				Path:        "/api/websocket",
				AllowRemote: boolPtr(false),
			},
			RequireAuth:        boolPtr(false),
			IdleTimeout:        Duration(5 * time.Minute),
			MaxFrameBytes:      1 << 20,
			MaxMalformedFrames: 8,
		},
		Auth: AuthConfig{
			SecretPath: "${CASTDECK_ROOT}/auth.secret",
			TokenTTL:   Duration(24 * time.Hour),
		},
	}
}

// Load loads configuration from the file named by CASTDECK_CONFIG.
// There is no discovery: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvConfig)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your castdeck config file, or use --config flag", EnvConfig)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are parsed as JSON with comments; everything else
// is parsed as YAML.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: slow-call warnings off, auth everywhere.
		if overrides == nil {
			overrides = &Overrides{
				Worker:    &WorkerConfig{SlowCallThreshold: -1},
				Listeners: &ListenersConfig{RequireAuth: boolPtr(true)},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}

	if overrides.Worker != nil {
		if overrides.Worker.MutationLogSize != 0 {
			c.Worker.MutationLogSize = overrides.Worker.MutationLogSize
		}
		// A negative threshold in an override means "disable".
		if overrides.Worker.SlowCallThreshold < 0 {
			c.Worker.SlowCallThreshold = 0
		} else if overrides.Worker.SlowCallThreshold != 0 {
			c.Worker.SlowCallThreshold = overrides.Worker.SlowCallThreshold
		}
		if overrides.Worker.PushQueueSize != 0 {
			c.Worker.PushQueueSize = overrides.Worker.PushQueueSize
		}
		if overrides.Worker.SnapshotCompression != "" {
			c.Worker.SnapshotCompression = overrides.Worker.SnapshotCompression
		}
	}

	if o := overrides.Listeners; o != nil {
		if o.TCP.Enabled != nil {
			c.Listeners.TCP.Enabled = o.TCP.Enabled
		}
		if o.TCP.Address != "" {
			c.Listeners.TCP.Address = o.TCP.Address
		}
		if o.Unix.Enabled != nil {
			c.Listeners.Unix.Enabled = o.Unix.Enabled
		}
		if o.Unix.Path != "" {
			c.Listeners.Unix.Path = o.Unix.Path
		}
		if o.WebSocket.Enabled != nil {
			c.Listeners.WebSocket.Enabled = o.WebSocket.Enabled
		}
		if o.WebSocket.Address != "" {
			c.Listeners.WebSocket.Address = o.WebSocket.Address
		}
		if o.WebSocket.Path != "" {
			c.Listeners.WebSocket.Path = o.WebSocket.Path
		}
		if o.WebSocket.AllowRemote != nil {
			c.Listeners.WebSocket.AllowRemote = o.WebSocket.AllowRemote
		}
		if o.RequireAuth != nil {
			c.Listeners.RequireAuth = o.RequireAuth
		}
		if o.IdleTimeout != 0 {
			c.Listeners.IdleTimeout = o.IdleTimeout
		}
		if o.MaxFrameBytes != 0 {
			c.Listeners.MaxFrameBytes = o.MaxFrameBytes
		}
		if o.MaxMalformedFrames != 0 {
			c.Listeners.MaxMalformedFrames = o.MaxMalformedFrames
		}
	}

	if overrides.Auth != nil {
		if overrides.Auth.SecretPath != "" {
			c.Auth.SecretPath = overrides.Auth.SecretPath
		}
		if overrides.Auth.TokenTTL != 0 {
			c.Auth.TokenTTL = overrides.Auth.TokenTTL
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"CASTDECK_ROOT": c.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["CASTDECK_ROOT"] = c.Root

	c.Listeners.Unix.Path = expandVars(c.Listeners.Unix.Path, vars)
	c.Auth.SecretPath = expandVars(c.Auth.SecretPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if c.Worker.MutationLogSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.mutation_log_size must be positive"))
	}
	if c.Worker.PushQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.push_queue_size must be positive"))
	}
	if c.Worker.SlowCallThreshold < 0 {
		errs = append(errs, fmt.Errorf("worker.slow_call_threshold must not be negative"))
	}
	if _, err := state.ParseCompression(c.Worker.SnapshotCompression); err != nil {
		errs = append(errs, fmt.Errorf("worker.snapshot_compression: %w", err))
	}

	l := c.Listeners
	if !enabled(l.TCP.Enabled) && !enabled(l.Unix.Enabled) && !enabled(l.WebSocket.Enabled) {
		errs = append(errs, fmt.Errorf("at least one listener must be enabled"))
	}
	if enabled(l.TCP.Enabled) && l.TCP.Address == "" {
		errs = append(errs, fmt.Errorf("listeners.tcp.address is required"))
	}
	if enabled(l.Unix.Enabled) && l.Unix.Path == "" {
		errs = append(errs, fmt.Errorf("listeners.unix.path is required"))
	}
	if enabled(l.WebSocket.Enabled) {
		if l.WebSocket.Address == "" {
			errs = append(errs, fmt.Errorf("listeners.websocket.address is required"))
		}
		if !strings.HasPrefix(l.WebSocket.Path, "/") {
			errs = append(errs, fmt.Errorf("listeners.websocket.path must start with /"))
		}
	}
	if l.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("listeners.idle_timeout must not be negative"))
	}
	if l.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("listeners.max_frame_bytes must be positive"))
	}
	if l.MaxMalformedFrames <= 0 {
		errs = append(errs, fmt.Errorf("listeners.max_malformed_frames must be positive"))
	}

	if c.Auth.SecretPath == "" {
		errs = append(errs, fmt.Errorf("auth.secret_path is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be positive"))
	}

	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Compression returns the parsed snapshot compression. Call Validate first.
func (c *Config) Compression() state.Compression {
	compression, err := state.ParseCompression(c.Worker.SnapshotCompression)
	if err != nil {
		return state.CompressionNone
	}
	return compression
}

// RequireAuth reports whether local listeners require auth.
func (c *Config) RequireAuth() bool { return enabled(c.Listeners.RequireAuth) }

// TCPEnabled reports whether the TCP listener should start.
func (c *Config) TCPEnabled() bool { return enabled(c.Listeners.TCP.Enabled) }

// UnixEnabled reports whether the Unix socket listener should start.
func (c *Config) UnixEnabled() bool { return enabled(c.Listeners.Unix.Enabled) }

// WebSocketEnabled reports whether the WebSocket listener should start.
func (c *Config) WebSocketEnabled() bool { return enabled(c.Listeners.WebSocket.Enabled) }

// AllowRemote reports whether the WebSocket listener accepts
// non-loopback peers.
func (c *Config) AllowRemote() bool { return enabled(c.Listeners.WebSocket.AllowRemote) }

// EnsurePaths creates the root directory and the parents of the
// configured socket and secret files.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Root, filepath.Dir(c.Auth.SecretPath)}
	if c.UnixEnabled() {
		paths = append(paths, filepath.Dir(c.Listeners.Unix.Path))
	}
	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func enabled(value *bool) bool { return value != nil && *value }

func boolPtr(value bool) *bool { return &value }
