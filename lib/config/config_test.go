// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "hvkit.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestDefault(t *testing.T) {
	cfg := Builtin()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Paths.MonitorDir != "/run/hvkit/monitors" {
		t.Errorf("expected monitor_dir=/run/hvkit/monitors, got %s", cfg.Paths.MonitorDir)
	}
	if cfg.Agent.SocketPath != "/run/hvkit/hotplugd.sock" {
		t.Errorf("expected socket_path=/run/hvkit/hotplugd.sock, got %s", cfg.Agent.SocketPath)
	}
	if timeout, err := cfg.ReceiveTimeout(); err != nil || timeout != 5*time.Second {
		t.Errorf("expected receive_timeout=5s, got %v (%v)", timeout, err)
	}
	if !cfg.NIC.VnetHdr {
		t.Error("expected vnet_hdr=true by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("builtin config does not validate: %v", err)
	}
}

func TestLoad_RequiresConfigVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when HVKIT_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "HVKIT_CONFIG environment variable not set") {
		t.Errorf("unexpected error message %q", err.Error())
	}
}

func TestLoad_WithConfigVariable(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging
paths:
  root: /test/root
`)
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	// Dependent paths follow the root.
	if cfg.Paths.MonitorDir != "/test/root/monitors" {
		t.Errorf("expected monitor_dir=/test/root/monitors, got %s", cfg.Paths.MonitorDir)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging

paths:
  monitor_dir: /var/lib/instances/sockets

monitor:
  receive_timeout: 750ms
  connect_attempts: 5

agent:
  socket_path: /custom/hotplugd.sock
  metrics_address: ""
  log_level: warn

nic:
  vnet_hdr: false
  vhost: true
  queues: 4
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.MonitorDir != "/var/lib/instances/sockets" {
		t.Errorf("expected custom monitor_dir, got %s", cfg.Paths.MonitorDir)
	}
	if timeout, _ := cfg.ReceiveTimeout(); timeout != 750*time.Millisecond {
		t.Errorf("expected receive_timeout=750ms, got %v", timeout)
	}
	if cfg.Monitor.ConnectAttempts != 5 {
		t.Errorf("expected connect_attempts=5, got %d", cfg.Monitor.ConnectAttempts)
	}
	if cfg.Agent.MetricsAddress != "" {
		t.Errorf("expected metrics disabled, got %q", cfg.Agent.MetricsAddress)
	}
	if cfg.Agent.LogLevel != "warn" {
		t.Errorf("expected log_level=warn, got %s", cfg.Agent.LogLevel)
	}
	if cfg.NIC.VnetHdr || !cfg.NIC.Vhost || cfg.NIC.Queues != 4 {
		t.Errorf("unexpected nic config %+v", cfg.NIC)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileMalformed(t *testing.T) {
	configPath := writeConfig(t, "monitor: [unterminated\n")
	if _, err := LoadFile(configPath); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, `
environment: production

paths:
  root: /default/root

agent:
  log_level: debug

production:
  paths:
    root: /prod/root
  monitor:
    receive_timeout: 10s
  agent:
    log_level: error
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Root != "/prod/root" {
		t.Errorf("expected root=/prod/root, got %s", cfg.Paths.Root)
	}
	if cfg.Agent.SocketPath != "/prod/root/hotplugd.sock" {
		t.Errorf("expected agent socket under the production root, got %s", cfg.Agent.SocketPath)
	}
	if cfg.Monitor.ReceiveTimeout != "10s" {
		t.Errorf("expected receive_timeout=10s, got %s", cfg.Monitor.ReceiveTimeout)
	}
	if cfg.Agent.LogLevel != "error" {
		t.Errorf("expected log_level=error, got %s", cfg.Agent.LogLevel)
	}
}

func TestProductionDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "environment: production\n"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Agent.LogLevel != "info" {
		t.Errorf("expected production log_level=info, got %s", cfg.Agent.LogLevel)
	}
	if cfg.Monitor.ConnectAttempts != 2 {
		t.Errorf("expected production connect_attempts=2, got %d", cfg.Monitor.ConnectAttempts)
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	t.Setenv("HVKIT_ROOT", "/env/root")
	t.Setenv("HVKIT_ENVIRONMENT", "staging")

	cfg, err := LoadFile(writeConfig(t, `
environment: development
paths:
  root: /file/root
`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Development {
		t.Errorf("expected environment=development from file, got %s", cfg.Environment)
	}
	if cfg.Paths.Root != "/file/root" {
		t.Errorf("expected root=/file/root from file, got %s", cfg.Paths.Root)
	}
	if cfg.Paths.MonitorDir != "/file/root/monitors" {
		t.Errorf("expected monitor_dir under the file root, got %s", cfg.Paths.MonitorDir)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{"${HOME}/hvkit", map[string]string{"HOME": "/home/user"}, "/home/user/hvkit"},
		{"${HVKIT_TEST_MISSING:-default}", map[string]string{}, "default"},
		{"${PRESENT:-default}", map[string]string{"PRESENT": "value"}, "value"},
		{"${A}/${B}", map[string]string{"A": "first", "B": "second"}, "first/second"},
		{"no variables here", map[string]string{}, "no variables here"},
	}

	for _, tt := range tests {
		if result := expandVars(tt.input, tt.vars); result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid builtin config", func(c *Config) {}, false},
		{"invalid environment", func(c *Config) { c.Environment = "invalid" }, true},
		{"empty monitor dir", func(c *Config) { c.Paths.MonitorDir = "" }, true},
		{"bad timeout", func(c *Config) { c.Monitor.ReceiveTimeout = "soon" }, true},
		{"negative timeout", func(c *Config) { c.Monitor.ReceiveTimeout = "-1s" }, true},
		{"no connect attempts", func(c *Config) { c.Monitor.ConnectAttempts = 0 }, true},
		{"empty agent socket", func(c *Config) { c.Agent.SocketPath = "" }, true},
		{"bad log level", func(c *Config) { c.Agent.LogLevel = "verbose" }, true},
		{"zero queues", func(c *Config) { c.NIC.Queues = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Builtin()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMonitorSocket(t *testing.T) {
	cfg := Builtin()

	path, err := cfg.MonitorSocket("web-01.example.com")
	if err != nil {
		t.Fatalf("MonitorSocket: %v", err)
	}
	if path != "/run/hvkit/monitors/web-01.example.com.qmp" {
		t.Errorf("MonitorSocket = %s", path)
	}

	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b"} {
		if _, err := cfg.MonitorSocket(name); err == nil {
			t.Errorf("MonitorSocket(%q) accepted an invalid name", name)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	cfg := Builtin()
	cfg.Paths.Root = filepath.Join(t.TempDir(), "hvkit")
	cfg.Paths.MonitorDir = filepath.Join(cfg.Paths.Root, "monitors")
	cfg.Agent.SocketPath = filepath.Join(cfg.Paths.Root, "agent", "hotplugd.sock")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	for _, path := range []string{cfg.Paths.Root, cfg.Paths.MonitorDir, filepath.Dir(cfg.Agent.SocketPath)} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("path %s not created: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("path %s is not a directory", path)
		}
	}
}
