package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadFromValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"dataDirectory": "`+dir+`",
		"midiDevice": "Keystation"
	}`), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDirectory)
	assert.Equal(t, "Keystation", cfg.MIDIDevice)
}

func TestLoadFromRejectsMissingDataDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"midiDevice": "Keystation"}`), 0o644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestLoadFromRejectsNonexistentDataDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dataDirectory": "`+filepath.Join(dir, "nope")+`"}`), 0o644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Error(t, err)
}

func TestZapLevelDefaultsToInfo(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, zapcore.InfoLevel, cfg.ZapLevel())

	cfg.LogLevel = "not-a-level"
	assert.Equal(t, zapcore.InfoLevel, cfg.ZapLevel())
}

func TestZapLevelParsesRecognizedLevels(t *testing.T) {
	cfg := Config{LogLevel: "DEBUG"}
	assert.Equal(t, zapcore.DebugLevel, cfg.ZapLevel())

	cfg.LogLevel = "error"
	assert.Equal(t, zapcore.ErrorLevel, cfg.ZapLevel())
}
