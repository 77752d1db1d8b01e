/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config loads and validates node configuration: identity, bind
addresses, the persistent log location, and bootstrap behavior.

Configuration can come from a TOML-like file, environment variables, or
defaults, with environment variables taking precedence over the file and
the file taking precedence over built-in defaults.
*/
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Environment variable names recognized by LoadFromEnv.
const (
	EnvNodeID        = "FLYRAFT_NODE_ID"
	EnvBindAddr      = "FLYRAFT_BIND_ADDR"
	EnvClusterAddr   = "FLYRAFT_CLUSTER_ADDR"
	EnvPort          = "FLYRAFT_PORT"
	EnvRaftLogPath   = "FLYRAFT_RAFTLOG_PATH"
	EnvJoin          = "FLYRAFT_JOIN"
	EnvInit          = "FLYRAFT_INIT"
	EnvRole          = "FLYRAFT_ROLE"
	EnvLogLevel      = "FLYRAFT_LOG_LEVEL"
	EnvLogJSON       = "FLYRAFT_LOG_JSON"
	EnvAdminPassword = "FLYRAFT_ADMIN_PASSWORD"
	EnvTLSEnabled    = "FLYRAFT_TLS_ENABLED"
	EnvTLSCertPath   = "FLYRAFT_TLS_CERT_PATH"
	EnvTLSKeyPath    = "FLYRAFT_TLS_KEY_PATH"
)

// Config holds a node's complete runtime configuration.
type Config struct {
	NodeID        string
	BindAddr      string
	Port          int
	ClusterPort   int
	RaftLogPath   string
	Role          string // "init", "join", or "standalone"
	Join          string // address of an existing cluster member, when Role == "join"
	Peers         []string
	LogLevel      string
	LogJSON       bool
	AdminPassword string
	ConfigFile    string
	TLSEnabled    bool
	TLSCertPath   string
	TLSKeyPath    string
}

// DefaultConfig returns a Config with standalone-node defaults.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "",
		BindAddr:    "127.0.0.1",
		Port:        7000,
		ClusterPort: 7001,
		RaftLogPath: "flyraft.log",
		Role:        "standalone",
		LogLevel:    "info",
		LogJSON:     false,
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ClusterPort <= 0 || c.ClusterPort > 65535 {
		return fmt.Errorf("invalid cluster_port: %d", c.ClusterPort)
	}
	if c.Port == c.ClusterPort {
		return fmt.Errorf("port and cluster_port must differ, both are %d", c.Port)
	}
	switch c.Role {
	case "standalone", "init", "join":
	default:
		return fmt.Errorf("invalid role: %q", c.Role)
	}
	if c.Role == "join" && c.Join == "" {
		return fmt.Errorf("role 'join' requires a join address")
	}
	if c.RaftLogPath == "" {
		return fmt.Errorf("raftlog_path must not be empty")
	}
	if c.TLSEnabled && (c.TLSCertPath == "" || c.TLSKeyPath == "") {
		return fmt.Errorf("tls_enabled requires both tls_cert_path and tls_key_path")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	return nil
}

// String renders a short human-readable summary.
func (c *Config) String() string {
	return fmt.Sprintf("Config{NodeID: %s, Role: %s, BindAddr: %s, Port: %d, ClusterPort: %d}",
		c.NodeID, c.Role, c.BindAddr, c.Port, c.ClusterPort)
}

// ToTOML renders the configuration in the same key = value format
// LoadFromFile parses.
func (c *Config) ToTOML() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "node_id = %q\n", c.NodeID)
	fmt.Fprintf(&sb, "bind_addr = %q\n", c.BindAddr)
	fmt.Fprintf(&sb, "port = %d\n", c.Port)
	fmt.Fprintf(&sb, "cluster_port = %d\n", c.ClusterPort)
	fmt.Fprintf(&sb, "raftlog_path = %q\n", c.RaftLogPath)
	fmt.Fprintf(&sb, "role = %q\n", c.Role)
	if c.Join != "" {
		fmt.Fprintf(&sb, "join = %q\n", c.Join)
	}
	if len(c.Peers) > 0 {
		fmt.Fprintf(&sb, "peers = %q\n", strings.Join(c.Peers, ","))
	}
	fmt.Fprintf(&sb, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&sb, "log_json = %t\n", c.LogJSON)
	fmt.Fprintf(&sb, "tls_enabled = %t\n", c.TLSEnabled)
	if c.TLSCertPath != "" {
		fmt.Fprintf(&sb, "tls_cert_path = %q\n", c.TLSCertPath)
	}
	if c.TLSKeyPath != "" {
		fmt.Fprintf(&sb, "tls_key_path = %q\n", c.TLSKeyPath)
	}
	return sb.String()
}

// SaveToFile writes the configuration to path, creating parent directories
// as needed.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0644)
}

// Manager owns the active Config and notifies registered callbacks on
// Reload.
type Manager struct {
	mu        sync.RWMutex
	cfg       *Config
	callbacks []func(*Config)
}

// NewManager returns a Manager holding DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns the currently active configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnReload registers a callback invoked after Reload successfully
// re-reads the backing file.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Reload re-reads the file the Manager was last loaded from.
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.cfg.ConfigFile
	m.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("manager has no config file to reload")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}
	m.mu.RLock()
	cfg := m.cfg
	callbacks := m.callbacks
	m.mu.RUnlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

// LoadFromFile parses a simple `key = value` config file and replaces the
// active Config with the result, starting from defaults.
func (m *Manager) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitKV(line)
		if !ok {
			continue
		}
		applyKV(cfg, key, value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	cfg.ConfigFile = path

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// LoadFromEnv overlays recognized FLYRAFT_* environment variables onto the
// active Config.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v := os.Getenv(EnvNodeID); v != "" {
		m.cfg.NodeID = v
	}
	if v := os.Getenv(EnvBindAddr); v != "" {
		m.cfg.BindAddr = v
	}
	if v := os.Getenv(EnvClusterAddr); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			m.cfg.ClusterPort = p
		}
	}
	if v := os.Getenv(EnvPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			m.cfg.Port = p
		}
	}
	if v := os.Getenv(EnvRaftLogPath); v != "" {
		m.cfg.RaftLogPath = v
	}
	if v := os.Getenv(EnvJoin); v != "" {
		m.cfg.Join = v
		m.cfg.Role = "join"
	}
	if v := os.Getenv(EnvInit); v == "true" || v == "1" {
		m.cfg.Role = "init"
	}
	if v := os.Getenv(EnvRole); v != "" {
		m.cfg.Role = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		m.cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		m.cfg.LogJSON = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvAdminPassword); v != "" {
		m.cfg.AdminPassword = v
	}
	if v := os.Getenv(EnvTLSEnabled); v != "" {
		m.cfg.TLSEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvTLSCertPath); v != "" {
		m.cfg.TLSCertPath = v
	}
	if v := os.Getenv(EnvTLSKeyPath); v != "" {
		m.cfg.TLSKeyPath = v
	}
}

func splitKV(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	value = strings.Trim(value, `"`)
	return key, value, true
}

func applyKV(cfg *Config, key, value string) {
	switch key {
	case "node_id":
		cfg.NodeID = value
	case "bind_addr":
		cfg.BindAddr = value
	case "port":
		if p, err := strconv.Atoi(value); err == nil {
			cfg.Port = p
		}
	case "cluster_port":
		if p, err := strconv.Atoi(value); err == nil {
			cfg.ClusterPort = p
		}
	case "raftlog_path":
		cfg.RaftLogPath = value
	case "role":
		cfg.Role = value
	case "join":
		cfg.Join = value
	case "peers":
		if value != "" {
			cfg.Peers = strings.Split(value, ",")
		}
	case "log_level":
		cfg.LogLevel = value
	case "log_json":
		cfg.LogJSON = value == "true" || value == "1"
	case "admin_password":
		cfg.AdminPassword = value
	case "tls_enabled":
		cfg.TLSEnabled = value == "true" || value == "1"
	case "tls_cert_path":
		cfg.TLSCertPath = value
	case "tls_key_path":
		cfg.TLSKeyPath = value
	}
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide Manager singleton.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
