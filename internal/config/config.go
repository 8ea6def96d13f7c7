// Package config loads settings from defaults, an optional YAML file, a .env
// file and METASTREAM_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Defaults.
const (
	DefaultServerAddr             = ":8000"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultProviderTimeoutSeconds = 15
	DefaultMaxCachedPages         = 64
	DefaultHealthInterval         = 5 * time.Minute
	DefaultYouTubePageSize        = 20
	DefaultFeedPageSize           = 20
	DefaultServiceName            = "metastream"
	DefaultSamplingRate           = 1.0
)

// Validation errors.
var (
	ErrInvalidTimeout      = errors.New("provider_timeout_seconds must be positive")
	ErrInvalidMaxPages     = errors.New("max_cached_pages must not be negative")
	ErrInvalidInterval     = errors.New("health_interval must not be negative")
	ErrInvalidSamplingRate = errors.New("tracing.sampling_rate must be between 0 and 1")
	ErrInvalidPageSize     = errors.New("page_size must be between 1 and 50")
	ErrMissingName         = errors.New("name is required")
	ErrMissingURL          = errors.New("url is required")
	ErrDuplicateName       = errors.New("provider name used twice")
)

// Config holds every setting of the service.
type Config struct {
	ServerAddr             string        `koanf:"server_addr"`
	LogLevel               string        `koanf:"log_level"`
	LogFormat              string        `koanf:"log_format"`
	ProviderTimeoutSeconds int           `koanf:"provider_timeout_seconds"`
	MaxCachedPages         int           `koanf:"max_cached_pages"`
	HealthInterval         time.Duration `koanf:"health_interval"`
	Tracing                Tracing       `koanf:"tracing"`
	YouTube                YouTube       `koanf:"youtube"`
	Sites                  []Site        `koanf:"sites"`
	Feeds                  []Feed        `koanf:"feeds"`
}

// Tracing configures span export.
type Tracing struct {
	Enabled      bool    `koanf:"enabled"`
	ServiceName  string  `koanf:"service_name"`
	Endpoint     string  `koanf:"endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
	Insecure     bool    `koanf:"insecure"`
}

// YouTube configures the YouTube Data API provider. It is enabled when an
// API key is set.
type YouTube struct {
	APIKey   string `koanf:"api_key"`
	PageSize int64  `koanf:"page_size"`
}

// Site configures one scraped listing site. Empty selectors fall back to the
// scraper's defaults.
type Site struct {
	Name              string `koanf:"name"`
	BaseURL           string `koanf:"base_url"`
	Disabled          bool   `koanf:"disabled"`
	UserAgent         string `koanf:"user_agent"`
	CardSelector      string `koanf:"card_selector"`
	LinkSelector      string `koanf:"link_selector"`
	ThumbnailSelector string `koanf:"thumbnail_selector"`
	DurationSelector  string `koanf:"duration_selector"`
	RatingSelector    string `koanf:"rating_selector"`
	ViewsSelector     string `koanf:"views_selector"`
	SourceSelector    string `koanf:"source_selector"`
	UploaderSelector  string `koanf:"uploader_selector"`
}

// Feed configures one RSS or Atom search feed. URL contains {query}.
type Feed struct {
	Name     string `koanf:"name"`
	URL      string `koanf:"url"`
	PageSize int    `koanf:"page_size"`
	Disabled bool   `koanf:"disabled"`
}

// DefaultSites is used when the file does not list any sites.
func DefaultSites() []Site {
	return []Site{{Name: "DinoTube", BaseURL: "https://www.dinotube.com"}}
}

// loadDotenv is a package-level var so tests can replace it.
var loadDotenv = func() { _ = godotenv.Load() }

// Load reads the configuration. configFilePath may be empty. All validation
// problems are returned together.
func Load(configFilePath string) (*Config, error) {
	loadDotenv()

	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configFilePath, err)
		}
	}

	cfg := &Config{
		ServerAddr:             DefaultServerAddr,
		LogLevel:               DefaultLogLevel,
		LogFormat:              DefaultLogFormat,
		ProviderTimeoutSeconds: DefaultProviderTimeoutSeconds,
		MaxCachedPages:         DefaultMaxCachedPages,
		HealthInterval:         DefaultHealthInterval,
		Tracing: Tracing{
			ServiceName:  DefaultServiceName,
			SamplingRate: DefaultSamplingRate,
		},
		YouTube: YouTube{PageSize: DefaultYouTubePageSize},
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !k.Exists("sites") {
		cfg.Sites = DefaultSites()
	}
	for i := range cfg.Feeds {
		if cfg.Feeds[i].PageSize == 0 {
			cfg.Feeds[i].PageSize = DefaultFeedPageSize
		}
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.ServerAddr = envOr([]string{"METASTREAM_SERVER_ADDR"}, cfg.ServerAddr)
	cfg.LogLevel = envOr([]string{"METASTREAM_LOG_LEVEL"}, cfg.LogLevel)
	cfg.LogFormat = envOr([]string{"METASTREAM_LOG_FORMAT"}, cfg.LogFormat)
	cfg.YouTube.APIKey = envOr([]string{"METASTREAM_YOUTUBE_API_KEY", "YOUTUBE_API_KEY"}, cfg.YouTube.APIKey)
	cfg.Tracing.Endpoint = envOr([]string{"METASTREAM_TRACING_ENDPOINT"}, cfg.Tracing.Endpoint)

	var err error
	cfg.ProviderTimeoutSeconds, err = envInt("METASTREAM_PROVIDER_TIMEOUT_SECONDS", cfg.ProviderTimeoutSeconds)
	collect(err)
	cfg.MaxCachedPages, err = envInt("METASTREAM_MAX_CACHED_PAGES", cfg.MaxCachedPages)
	collect(err)
	cfg.Tracing.Enabled, err = envBool("METASTREAM_TRACING_ENABLED", cfg.Tracing.Enabled)
	collect(err)
	if v := os.Getenv("METASTREAM_HEALTH_INTERVAL"); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			collect(fmt.Errorf("METASTREAM_HEALTH_INTERVAL must be a duration: %w", perr))
		} else {
			cfg.HealthInterval = d
		}
	}

	errs = append(errs, cfg.Validate()...)
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

// ProviderTimeout returns the per-provider timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// Validate reports every invalid setting.
func (c *Config) Validate() []error {
	var errs []error

	if c.ProviderTimeoutSeconds <= 0 {
		errs = append(errs, ErrInvalidTimeout)
	}
	if c.MaxCachedPages < 0 {
		errs = append(errs, ErrInvalidMaxPages)
	}
	if c.HealthInterval < 0 {
		errs = append(errs, ErrInvalidInterval)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}
	if c.YouTube.PageSize < 1 || c.YouTube.PageSize > 50 {
		errs = append(errs, fmt.Errorf("youtube: %w", ErrInvalidPageSize))
	}

	seen := map[string]bool{}
	if c.YouTube.APIKey != "" {
		seen["youtube"] = true
	}
	for i, s := range c.Sites {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sites[%d]: %w", i, ErrMissingName))
		}
		if s.BaseURL == "" {
			errs = append(errs, fmt.Errorf("sites[%d]: %w", i, ErrMissingURL))
		}
		if s.Name != "" && !s.Disabled {
			if seen[strings.ToLower(s.Name)] {
				errs = append(errs, fmt.Errorf("sites[%d] %q: %w", i, s.Name, ErrDuplicateName))
			}
			seen[strings.ToLower(s.Name)] = true
		}
	}
	for i, f := range c.Feeds {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: %w", i, ErrMissingName))
		}
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: %w", i, ErrMissingURL))
		}
		if f.PageSize < 1 || f.PageSize > 50 {
			errs = append(errs, fmt.Errorf("feeds[%d]: %w", i, ErrInvalidPageSize))
		}
		if f.Name != "" && !f.Disabled {
			if seen[strings.ToLower(f.Name)] {
				errs = append(errs, fmt.Errorf("feeds[%d] %q: %w", i, f.Name, ErrDuplicateName))
			}
			seen[strings.ToLower(f.Name)] = true
		}
	}

	return errs
}

// LogSummary returns the settings worth logging at start-up, secrets masked.
func (c *Config) LogSummary() []any {
	return []any{
		"server_addr", c.ServerAddr,
		"log_level", c.LogLevel,
		"provider_timeout", c.ProviderTimeout(),
		"max_cached_pages", c.MaxCachedPages,
		"health_interval", c.HealthInterval,
		"tracing", c.Tracing.Enabled,
		"youtube_api_key", maskSecret(c.YouTube.APIKey),
		"sites", len(c.Sites),
		"feeds", len(c.Feeds),
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// envOr returns the first non-empty variable among keys, or fallback.
func envOr(keys []string, fallback string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return i, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return fallback, fmt.Errorf("%s must be a boolean, got %q", key, v)
}
