// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "HVKIT_CONFIG"

// MonitorSuffix is appended to an instance name to form its monitor
// socket file name.
const MonitorSuffix = ".qmp"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for hvkit.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Monitor configures QMP monitor connections.
	Monitor MonitorConfig `yaml:"monitor"`

	// Agent configures the hot-plug agent.
	Agent AgentConfig `yaml:"agent"`

	// NIC configures host-side tap devices for hot-added NICs.
	NIC NICConfig `yaml:"nic"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Monitor *MonitorConfig `yaml:"monitor,omitempty"`
	Agent   *AgentConfig   `yaml:"agent,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base runtime directory.
	// Default: /run/hvkit
	Root string `yaml:"root"`

	// MonitorDir holds one QMP socket per instance, named
	// <instance>.qmp.
	// Default: ${HVKIT_ROOT}/monitors
	MonitorDir string `yaml:"monitor_dir"`
}

// MonitorConfig configures QMP monitor connections.
type MonitorConfig struct {
	// ReceiveTimeout bounds every read from a monitor socket.
	// Default: 5s
	ReceiveTimeout string `yaml:"receive_timeout"`

	// ConnectAttempts is how many times the agent tries to connect to a
	// monitor before failing a request. The library itself never
	// retries.
	// Default: 3 (development), 2 (production)
	ConnectAttempts int `yaml:"connect_attempts"`

	// ConnectBackoff is the initial delay between connect attempts.
	// Default: 200ms
	ConnectBackoff string `yaml:"connect_backoff"`
}

// AgentConfig configures the hot-plug agent.
type AgentConfig struct {
	// SocketPath is the Unix socket the agent listens on.
	// Default: ${HVKIT_ROOT}/hotplugd.sock
	SocketPath string `yaml:"socket_path"`

	// MetricsAddress is the TCP address serving /metrics. Empty
	// disables the metrics listener.
	// Default: 127.0.0.1:9471
	MetricsAddress string `yaml:"metrics_address"`

	// LogLevel is one of debug, info, warn, error.
	// Default: debug (development), info (production)
	LogLevel string `yaml:"log_level"`
}

// NICConfig configures host-side tap devices.
type NICConfig struct {
	// VnetHdr requests IFF_VNET_HDR on new tap devices.
	// Default: true
	VnetHdr bool `yaml:"vnet_hdr"`

	// Vhost enables vhost-net for hot-added NICs.
	// Default: false
	Vhost bool `yaml:"vhost"`

	// Queues is the default number of queue pairs. Values above one
	// enable multi-queue.
	// Default: 1
	Queues int `yaml:"queues"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       "/run/hvkit",
			MonitorDir: "${HVKIT_ROOT}/monitors",
		},
		Monitor: MonitorConfig{
			ReceiveTimeout:  "5s",
			ConnectAttempts: 3,
			ConnectBackoff:  "200ms",
		},
		Agent: AgentConfig{
			SocketPath:     "${HVKIT_ROOT}/hotplugd.sock",
			MetricsAddress: "127.0.0.1:9471",
			LogLevel:       "debug",
		},
		NIC: NICConfig{
			VnetHdr: true,
			Queues:  1,
		},
	}
}

// Builtin returns the defaults with path variables expanded, for
// commands that run without a config file.
func Builtin() *Config {
	cfg := Default()
	cfg.expandVariables()
	return cfg
}

// Load loads configuration from the HVKIT_CONFIG environment variable.
//
// There are no fallbacks: if HVKIT_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your hvkit.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// Environment variables do not override config values. The only
// expansion performed is ${HVKIT_ROOT} and similar path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
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
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Monitor: &MonitorConfig{ConnectAttempts: 2},
				Agent:   &AgentConfig{LogLevel: "info"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.MonitorDir != "" {
			c.Paths.MonitorDir = overrides.Paths.MonitorDir
		}
	}

	if overrides.Monitor != nil {
		if overrides.Monitor.ReceiveTimeout != "" {
			c.Monitor.ReceiveTimeout = overrides.Monitor.ReceiveTimeout
		}
		if overrides.Monitor.ConnectAttempts != 0 {
			c.Monitor.ConnectAttempts = overrides.Monitor.ConnectAttempts
		}
		if overrides.Monitor.ConnectBackoff != "" {
			c.Monitor.ConnectBackoff = overrides.Monitor.ConnectBackoff
		}
	}

	if overrides.Agent != nil {
		if overrides.Agent.SocketPath != "" {
			c.Agent.SocketPath = overrides.Agent.SocketPath
		}
		if overrides.Agent.MetricsAddress != "" {
			c.Agent.MetricsAddress = overrides.Agent.MetricsAddress
		}
		if overrides.Agent.LogLevel != "" {
			c.Agent.LogLevel = overrides.Agent.LogLevel
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HVKIT_ROOT": c.Paths.Root,
		"HOME":       os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["HVKIT_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.MonitorDir = expandVars(c.Paths.MonitorDir, vars)
	c.Agent.SocketPath = expandVars(c.Agent.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
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

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.MonitorDir == "" {
		errs = append(errs, fmt.Errorf("paths.monitor_dir is required"))
	}

	if _, err := c.ReceiveTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ConnectBackoff(); err != nil {
		errs = append(errs, err)
	}
	if c.Monitor.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("monitor.connect_attempts must be at least 1, got %d", c.Monitor.ConnectAttempts))
	}

	if c.Agent.SocketPath == "" {
		errs = append(errs, fmt.Errorf("agent.socket_path is required"))
	}
	logLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(logLevels, c.Agent.LogLevel) {
		errs = append(errs, fmt.Errorf("agent.log_level must be one of: %v", logLevels))
	}

	if c.NIC.Queues < 1 {
		errs = append(errs, fmt.Errorf("nic.queues must be at least 1, got %d", c.NIC.Queues))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ReceiveTimeout parses Monitor.ReceiveTimeout.
func (c *Config) ReceiveTimeout() (time.Duration, error) {
	return parsePositiveDuration("monitor.receive_timeout", c.Monitor.ReceiveTimeout)
}

// ConnectBackoff parses Monitor.ConnectBackoff.
func (c *Config) ConnectBackoff() (time.Duration, error) {
	return parsePositiveDuration("monitor.connect_backoff", c.Monitor.ConnectBackoff)
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

// MonitorSocket returns the QMP socket path for instance. Instance
// names are plain file name components.
func (c *Config) MonitorSocket(instance string) (string, error) {
	if instance == "" || instance == "." || instance == ".." || strings.ContainsAny(instance, "/\x00") {
		return "", fmt.Errorf("invalid instance name %q", instance)
	}
	return filepath.Join(c.Paths.MonitorDir, instance+MonitorSuffix), nil
}

// EnsurePaths creates the runtime directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.MonitorDir,
		filepath.Dir(c.Agent.SocketPath),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
