package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labforge/labforge/providers"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.Endpoint)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
provider: gemini
api_key: secret
model: gemini-2.5-flash
timeout: 90s
log:
  level: debug
  encoding: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "gemini-2.5-flash", cfg.Model)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
provider: gemini
api_key: from-file
`)
	t.Setenv("LABFORGE_PROVIDER", "openai")
	t.Setenv("LABFORGE_API_KEY", "from-env")
	t.Setenv("LABFORGE_MODEL", "gpt-4o")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Model)
}

func TestLoad_UnknownProviderRejected(t *testing.T) {
	path := writeConfig(t, "provider: watson\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watson")
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestProviderConfig_Conversion(t *testing.T) {
	cfg := &Config{
		Provider: "openai",
		APIKey:   "k",
		Model:    "m",
		Endpoint: "https://api.example.com",
		Timeout:  time.Minute,
	}
	pc := cfg.ProviderConfig()
	assert.Equal(t, providers.KindOpenAI, pc.Provider)
	assert.Equal(t, "k", pc.APIKey)
	assert.Equal(t, "m", pc.Model)
	assert.Equal(t, "https://api.example.com", pc.Endpoint)
	assert.Equal(t, time.Minute, pc.Timeout)
}

func TestBuildLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	log, err := cfg.BuildLogger()
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(0)) // info is below warn
	assert.True(t, log.Core().Enabled(1))  // warn itself

	cfg.Log.Level = "not-a-level"
	log, err = cfg.BuildLogger()
	require.NoError(t, err, "bad level falls back to info")
	assert.True(t, log.Core().Enabled(0))
}
