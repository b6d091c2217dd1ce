// Package config provides configuration loading for wtmuxd.
//
// Configuration is loaded from:
//  1. ~/.wtmux/config.json ($WTMUX_CONFIG_DIR/config.json when that is set)
//  2. Environment variables (override file values)
//
// Environment variables:
//   - WTMUX_DATA_DIR: override the persistence root (see internal/store)
//   - WTMUX_SOCKET_PATH: override the UNIX socket path
//   - WTMUX_WORKTREE_BASE: base directory new worktrees are created under
//   - WTMUX_DEFAULT_PROVIDER: default AI provider name
//   - WTMUX_CONFIG_DIR: override the config directory (for tests)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds daemon-wide configuration.
type Config struct {
	// SocketPath is the UNIX-domain socket the daemon listens on.
	SocketPath string `json:"socket_path"`

	// DataDir is the root of the persisted state tree (see internal/store).
	DataDir string `json:"data_dir"`

	// WorktreeBase is the default directory new worktrees are created under
	// when a caller does not specify one explicitly.
	WorktreeBase string `json:"worktree_base"`

	// DefaultProvider is the provider name used when CreateSession omits one.
	DefaultProvider string `json:"default_provider"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}

	root := filepath.Join(home, ".wtmux")
	return &Config{
		SocketPath:      defaultSocketPath(home),
		DataDir:         root,
		WorktreeBase:    filepath.Join(home, "wtmux-worktrees"),
		DefaultProvider: "claude",
	}
}

func defaultSocketPath(home string) string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "wtmux", "daemon.sock")
	}
	return filepath.Join(home, ".wtmux", "daemon.sock")
}

// ConfigDir returns the configuration directory, creating it if necessary.
// Respects WTMUX_CONFIG_DIR for testing.
func ConfigDir() (string, error) {
	if testDir := os.Getenv("WTMUX_CONFIG_DIR"); testDir != "" {
		if err := os.MkdirAll(testDir, 0o700); err != nil {
			return "", fmt.Errorf("could not create config directory: %w", err)
		}
		return testDir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	dir := filepath.Join(home, ".wtmux")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("could not create config directory: %w", err)
	}
	return dir, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration from file and applies environment overrides.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(); err != nil {
		// Missing or invalid file is not an error; defaults stand.
		_ = err
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) loadFromFile() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, c)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WTMUX_SOCKET_PATH"); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv("WTMUX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("WTMUX_WORKTREE_BASE"); v != "" {
		c.WorktreeBase = v
	}
	if v := os.Getenv("WTMUX_DEFAULT_PROVIDER"); v != "" {
		c.DefaultProvider = v
	}
}

// Save writes configuration to the config file.
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}
	return nil
}
