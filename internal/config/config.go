// Package config loads the application's on-disk JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Config holds the recognized options of spec §6.5.
type Config struct {
	// DataDirectory is where autorec.db and legacy recordings live. Must
	// already exist; the store will not create it.
	DataDirectory string `json:"dataDirectory"`

	// MIDIDevice is matched, case-sensitively, as a substring against a
	// newly-connected device's client name to decide whether to attach.
	MIDIDevice string `json:"midiDevice"`

	// LogLevel selects the base logger's verbosity ("debug", "info",
	// "warn", "error"). Empty defaults to "info". This is config-driven
	// rather than a command-line flag since argument parsing is an
	// out-of-scope external collaborator per spec §1.
	LogLevel string `json:"logLevel,omitempty"`
}

// ZapLevel parses LogLevel, defaulting to info on an empty or unrecognized
// value rather than failing startup over a cosmetic setting.
func (c *Config) ZapLevel() zapcore.Level {
	if c.LogLevel == "" {
		return zapcore.InfoLevel
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(c.LogLevel))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// ConfigDir returns the directory config.json lives in.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "autorec"), nil
}

// ConfigPath returns the full path to config.json.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads config.json from the default path.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates a config file at an explicit path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.DataDirectory == "" {
		return nil, fmt.Errorf("config: dataDirectory must be set")
	}
	if info, err := os.Stat(cfg.DataDirectory); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("config: dataDirectory %q does not exist", cfg.DataDirectory)
	}

	return &cfg, nil
}
