package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithEnv(t *testing.T, env map[string]string, configFile string) (*Config, error) {
	t.Helper()
	Reset()
	t.Cleanup(Reset)
	// Clear any ambient bindings so only the test's values apply.
	for _, key := range []string{
		"DATABASE_URL", "POSTGRES_URL",
		"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY",
		"LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	for key, value := range env {
		t.Setenv(key, value)
	}
	return Load(configFile)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWithEnv(t, map[string]string{
		"DATABASE_URL":   "postgres://localhost/watchdog",
		"GEMINI_API_KEY": "test-key",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/watchdog", cfg.Database.URL)
	assert.Equal(t, "test-key", cfg.AI.Gemini.APIKey)
	assert.Equal(t, "60s", cfg.Database.CommandTimeout)
	assert.Equal(t, float32(0.1), cfg.AI.Gemini.Temperature)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, "336h", cfg.Cache.TTL)
	assert.Equal(t, 100000, cfg.Cache.MaxSize)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	_, err := loadWithEnv(t, map[string]string{
		"GEMINI_API_KEY": "test-key",
	}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestLoadRequiresGeminiKey(t *testing.T) {
	_, err := loadWithEnv(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/watchdog",
	}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Gemini API key is required")
}

func TestLoadAlternateEnvKeys(t *testing.T) {
	cfg, err := loadWithEnv(t, map[string]string{
		"POSTGRES_URL":      "postgres://alt/watchdog",
		"GOOGLE_AI_API_KEY": "alt-key",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "postgres://alt/watchdog", cfg.Database.URL)
	assert.Equal(t, "alt-key", cfg.AI.Gemini.APIKey)
}

func TestLoadFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watchdog.yaml")
	content := `
database:
  url: postgres://file/watchdog
ai:
  gemini:
    api_key: file-key
    model: gemini-2.0-pro
fetch:
  max_retries: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadWithEnv(t, nil, path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file/watchdog", cfg.Database.URL)
	assert.Equal(t, "gemini-2.0-pro", cfg.AI.Gemini.Model)
	assert.Equal(t, 5, cfg.Fetch.MaxRetries)
	// Unset fields keep their defaults.
	assert.Equal(t, "30s", cfg.Fetch.Timeout)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watchdog.yaml")
	content := `
database:
  url: postgres://localhost/watchdog
ai:
  gemini:
    api_key: test-key
fetch:
  timeout: soon
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := loadWithEnv(t, nil, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration for fetch.timeout")
}

func TestLoadCachesGlobal(t *testing.T) {
	first, err := loadWithEnv(t, map[string]string{
		"DATABASE_URL":   "postgres://localhost/watchdog",
		"GEMINI_API_KEY": "test-key",
	}, "")
	require.NoError(t, err)

	second, err := Load("")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback time.Duration
		want     time.Duration
	}{
		{"parses value", "90s", time.Minute, 90 * time.Second},
		{"empty falls back", "", time.Minute, time.Minute},
		{"invalid falls back", "soon", time.Minute, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Duration(tt.value, tt.fallback))
		})
	}
}
