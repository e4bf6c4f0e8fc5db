// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads the config path
// from.
const EnvVar = "ARENA_CONFIG"

// Config is the configuration for the master, its workers and clients.
type Config struct {
	// ServerHost and ServerPort are the master's listen address. Workers
	// and clients connect back to it.
	ServerHost string `yaml:"server_host"`
	ServerPort uint16 `yaml:"server_port"`

	// MaxConcurrentSessions is the worker budget.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	PartySize      int `yaml:"party_size"`
	TicksPerSecond int `yaml:"ticks_per_second"`

	// HeartbeatInterval is the ping period; HeartbeatTimeout is the
	// silence after which a peer is evicted. Timeout must exceed
	// interval.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`

	// WorkerExecutablePath is the arena-worker binary the master spawns.
	// A bare name is resolved through PATH.
	WorkerExecutablePath string `yaml:"worker_executable_path"`

	// WorkerHost is the address workers listen on and clients reach
	// them at. Slot i listens on WorkerBasePort+i; zero lets each
	// worker pick a port.
	WorkerHost     string `yaml:"worker_host"`
	WorkerBasePort uint16 `yaml:"worker_base_port"`

	// WorkerShutdownGrace is how long a worker has to exit after
	// shutdown before it is killed.
	WorkerShutdownGrace time.Duration `yaml:"worker_shutdown_grace"`

	// RequeueDelay is how long a cancelled party waits before the master
	// tries to match it again.
	RequeueDelay time.Duration `yaml:"requeue_delay"`

	// ConnectAttempts and ConnectRetryDelay bound every dial.
	ConnectAttempts   int           `yaml:"connect_attempts"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay"`

	// Compression is none, lz4 or zstd, applied to frame bodies of at
	// least CompressionThreshold bytes.
	Compression          string `yaml:"compression"`
	CompressionThreshold int    `yaml:"compression_threshold"`

	// LogLevel is debug, info, warn or error; LogFormat is auto, text or
	// json.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the development defaults every loaded file is merged
// over.
func Default() *Config {
	return &Config{
		ServerHost:            "127.0.0.1",
		ServerPort:            7777,
		MaxConcurrentSessions: 4,
		PartySize:             4,
		TicksPerSecond:        20,
		HeartbeatInterval:     2 * time.Second,
		HeartbeatTimeout:      10 * time.Second,
		WorkerExecutablePath:  "arena-worker",
		WorkerHost:            "127.0.0.1",
		WorkerBasePort:        7800,
		WorkerShutdownGrace:   5 * time.Second,
		RequeueDelay:          time.Second,
		ConnectAttempts:       5,
		ConnectRetryDelay:     500 * time.Millisecond,
		Compression:           "none",
		CompressionThreshold:  512,
		LogLevel:              "info",
		LogFormat:             "auto",
	}
}

// Load loads configuration from the file named by ARENA_CONFIG. An
// unset variable is an error: there is no fallback.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your arena.yaml config file, or use --config flag", EnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merged over Default. The
// result is not validated; callers apply flag overrides first and then
// call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
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
		// JSON is a YAML subset once comments and trailing commas are
		// gone.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) expandVariables() {
	c.WorkerExecutablePath = expandVars(c.WorkerExecutablePath)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	compressionNames = []string{"none", "lz4", "zstd"}
	logLevels        = []string{"debug", "info", "warn", "error"}
	logFormats       = []string{"auto", "text", "json"}
)

// Validate checks the configuration for errors. Every problem is
// reported, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerHost == "" {
		errs = append(errs, fmt.Errorf("server_host is required"))
	}
	if c.MaxConcurrentSessions <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_sessions must be positive, got %d", c.MaxConcurrentSessions))
	}
	if c.PartySize <= 0 {
		errs = append(errs, fmt.Errorf("party_size must be positive, got %d", c.PartySize))
	}
	if c.TicksPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("ticks_per_second must be positive, got %d", c.TicksPerSecond))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat_interval must be positive, got %v", c.HeartbeatInterval))
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("heartbeat_timeout %v must exceed heartbeat_interval %v", c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.WorkerExecutablePath == "" {
		errs = append(errs, fmt.Errorf("worker_executable_path is required"))
	}
	if c.WorkerBasePort != 0 && int(c.WorkerBasePort)+c.MaxConcurrentSessions-1 > 65535 {
		errs = append(errs, fmt.Errorf("worker_base_port %d leaves no room for %d workers", c.WorkerBasePort, c.MaxConcurrentSessions))
	}
	if c.ConnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf("connect_attempts must be positive, got %d", c.ConnectAttempts))
	}
	if c.ConnectRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("connect_retry_delay must not be negative, got %v", c.ConnectRetryDelay))
	}
	if !contains(compressionNames, c.Compression) {
		errs = append(errs, fmt.Errorf("compression must be one of: %v", compressionNames))
	}
	if c.CompressionThreshold < 0 {
		errs = append(errs, fmt.Errorf("compression_threshold must not be negative, got %d", c.CompressionThreshold))
	}
	if !contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevels))
	}
	if !contains(logFormats, c.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format must be one of: %v", logFormats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MasterAddress returns the master's host:port.
func (c *Config) MasterAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(int(c.ServerPort)))
}

// WorkerBinary resolves WorkerExecutablePath. Paths containing a
// separator are used as given; bare names are looked up in PATH.
func (c *Config) WorkerBinary() (string, error) {
	if strings.ContainsRune(c.WorkerExecutablePath, filepath.Separator) {
		if _, err := os.Stat(c.WorkerExecutablePath); err != nil {
			return "", fmt.Errorf("worker executable: %w", err)
		}
		return c.WorkerExecutablePath, nil
	}
	path, err := exec.LookPath(c.WorkerExecutablePath)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", c.WorkerExecutablePath)
	}
	return path, nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
