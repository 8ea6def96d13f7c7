package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noDotenv keeps a developer's .env out of the tests.
func noDotenv(t *testing.T) {
	t.Helper()
	orig := loadDotenv
	loadDotenv = func() {}
	t.Cleanup(func() { loadDotenv = orig })
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	noDotenv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 15*time.Second, cfg.ProviderTimeout())
	assert.Equal(t, 64, cfg.MaxCachedPages)
	assert.Equal(t, 5*time.Minute, cfg.HealthInterval)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, DefaultSites(), cfg.Sites)
	assert.Empty(t, cfg.Feeds)
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	noDotenv(t)
	path := writeFile(t, "metastream.yaml", `
server_addr: ":9090"
provider_timeout_seconds: 5
max_cached_pages: 0
health_interval: 30s
youtube:
  api_key: file-key
sites:
  - name: Example
    base_url: https://videos.example.com
    card_selector: .result
feeds:
  - name: Podcasts
    url: https://feeds.example.com/search?q={query}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout())
	assert.Equal(t, 0, cfg.MaxCachedPages)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Equal(t, "file-key", cfg.YouTube.APIKey)
	assert.Equal(t, int64(DefaultYouTubePageSize), cfg.YouTube.PageSize)

	require.Len(t, cfg.Sites, 1)
	assert.Equal(t, "Example", cfg.Sites[0].Name)
	assert.Equal(t, ".result", cfg.Sites[0].CardSelector)

	require.Len(t, cfg.Feeds, 1)
	assert.Equal(t, DefaultFeedPageSize, cfg.Feeds[0].PageSize)
}

func TestLoad_EmptySiteListDisablesDefault(t *testing.T) {
	noDotenv(t)
	path := writeFile(t, "metastream.yaml", "sites: []\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Sites)
}

func TestLoad_MissingFile(t *testing.T) {
	noDotenv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_ReadsEnvVars(t *testing.T) {
	noDotenv(t)
	t.Setenv("METASTREAM_SERVER_ADDR", ":7070")
	t.Setenv("METASTREAM_LOG_LEVEL", "debug")
	t.Setenv("METASTREAM_PROVIDER_TIMEOUT_SECONDS", "3")
	t.Setenv("METASTREAM_MAX_CACHED_PAGES", "8")
	t.Setenv("METASTREAM_HEALTH_INTERVAL", "1m")
	t.Setenv("METASTREAM_TRACING_ENABLED", "yes")
	t.Setenv("METASTREAM_YOUTUBE_API_KEY", "env-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeout())
	assert.Equal(t, 8, cfg.MaxCachedPages)
	assert.Equal(t, time.Minute, cfg.HealthInterval)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "env-key", cfg.YouTube.APIKey)
}

func TestLoad_EnvVarsTakePrecedenceOverFile(t *testing.T) {
	noDotenv(t)
	path := writeFile(t, "metastream.yaml", "server_addr: \":9090\"\nyoutube:\n  api_key: file-key\n")
	t.Setenv("METASTREAM_SERVER_ADDR", ":7070")
	t.Setenv("YOUTUBE_API_KEY", "plain-env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ServerAddr)
	assert.Equal(t, "plain-env-key", cfg.YouTube.APIKey)
}

func TestLoad_InvalidEnvValuesAreReported(t *testing.T) {
	noDotenv(t)
	t.Setenv("METASTREAM_PROVIDER_TIMEOUT_SECONDS", "soon")
	t.Setenv("METASTREAM_TRACING_ENABLED", "maybe")
	t.Setenv("METASTREAM_HEALTH_INTERVAL", "daily")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METASTREAM_PROVIDER_TIMEOUT_SECONDS")
	assert.Contains(t, err.Error(), "METASTREAM_TRACING_ENABLED")
	assert.Contains(t, err.Error(), "METASTREAM_HEALTH_INTERVAL")
}

func TestLoad_CallsLoadDotenv(t *testing.T) {
	called := false
	orig := loadDotenv
	loadDotenv = func() { called = true }
	t.Cleanup(func() { loadDotenv = orig })

	_, _ = Load("")
	assert.True(t, called, "Load() must call loadDotenv()")
}

func TestLoad_DotenvFilePopulatesConfig(t *testing.T) {
	envPath := writeFile(t, ".env", "METASTREAM_YOUTUBE_API_KEY=dotenv-key\nMETASTREAM_LOG_FORMAT=json\n")

	orig := loadDotenv
	loadDotenv = func() { _ = godotenv.Load(envPath) }
	t.Cleanup(func() { loadDotenv = orig })

	// Register for cleanup, then unset so godotenv can set them.
	t.Setenv("METASTREAM_YOUTUBE_API_KEY", "")
	os.Unsetenv("METASTREAM_YOUTUBE_API_KEY")
	t.Setenv("METASTREAM_LOG_FORMAT", "")
	os.Unsetenv("METASTREAM_LOG_FORMAT")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-key", cfg.YouTube.APIKey)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_EnvVarsTakePrecedenceOverDotenv(t *testing.T) {
	envPath := writeFile(t, ".env", "METASTREAM_YOUTUBE_API_KEY=dotenv-key\n")

	orig := loadDotenv
	loadDotenv = func() { _ = godotenv.Load(envPath) }
	t.Cleanup(func() { loadDotenv = orig })

	t.Setenv("METASTREAM_YOUTUBE_API_KEY", "real-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "real-key", cfg.YouTube.APIKey)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		ProviderTimeoutSeconds: 0,
		MaxCachedPages:         -1,
		Tracing:                Tracing{SamplingRate: 1.5},
		YouTube:                YouTube{PageSize: 200},
		Sites:                  []Site{{Name: ""}},
		Feeds:                  []Feed{{Name: "f", URL: "https://f.example/{query}", PageSize: 0}},
	}

	errs := cfg.Validate()
	joined := errors.Join(errs...)
	assert.ErrorIs(t, joined, ErrInvalidTimeout)
	assert.ErrorIs(t, joined, ErrInvalidMaxPages)
	assert.ErrorIs(t, joined, ErrInvalidSamplingRate)
	assert.ErrorIs(t, joined, ErrInvalidPageSize)
	assert.ErrorIs(t, joined, ErrMissingName)
	assert.ErrorIs(t, joined, ErrMissingURL)
}

func TestValidate_RejectsDuplicateProviderNames(t *testing.T) {
	cfg := &Config{
		ProviderTimeoutSeconds: 15,
		Tracing:                Tracing{SamplingRate: 1},
		YouTube:                YouTube{PageSize: 20},
		Sites: []Site{
			{Name: "Tube", BaseURL: "https://a.example"},
			{Name: "tube", BaseURL: "https://b.example"},
			{Name: "Tube", BaseURL: "https://c.example", Disabled: true},
		},
	}

	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrDuplicateName)
}

func TestLogSummary_MasksAPIKey(t *testing.T) {
	cfg := &Config{YouTube: YouTube{APIKey: "AIzaSyVerySecret"}}
	summary := cfg.LogSummary()
	assert.Contains(t, summary, "AIza****")
	assert.NotContains(t, summary, "AIzaSyVerySecret")
}
