package config

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/claimguard/internal/logging"
	"github.com/rcourtman/claimguard/internal/source"
)

// DefaultClaimsPath is where the claim document is read from unless
// CLAIMGUARD_CLAIMS_PATH says otherwise.
const DefaultClaimsPath = "/etc/claimguard/claims.yaml"

// Environment variables.
const (
	EnvClaimsPath        = "CLAIMGUARD_CLAIMS_PATH"
	EnvPublicKey         = "CLAIMGUARD_PUBLIC_KEY"
	EnvCacheDir          = "CLAIMGUARD_CACHE_DIR"
	EnvCacheMaxAge       = "CLAIMGUARD_CACHE_MAX_AGE"
	EnvAutoRefresh       = "CLAIMGUARD_AUTOREFRESH"
	EnvRefreshInterval   = "CLAIMGUARD_REFRESH_INTERVAL"
	EnvFailOnWaitTimeout = "CLAIMGUARD_FAIL_ON_WAIT_TIMEOUT"
	EnvDebug             = "CLAIMGUARD_DEBUG"
	EnvLogLevel          = "CLAIMGUARD_LOG_LEVEL"
	EnvLogFormat         = "CLAIMGUARD_LOG_FORMAT"
	EnvMetricsAddr       = "CLAIMGUARD_METRICS_ADDR"
)

// Config holds the runtime settings of claimguard.
type Config struct {
	ClaimsPath string
	PublicKey  ed25519.PublicKey

	// CacheDir enables the last-known-good claim cache when set.
	CacheDir    string
	CacheMaxAge time.Duration

	AutoRefresh       bool
	RefreshInterval   time.Duration
	FailOnWaitTimeout bool

	Debug     bool
	LogLevel  string
	LogFormat string

	MetricsAddr string

	// EnvOverrides records which settings came from the environment.
	EnvOverrides map[string]bool
}

// Load reads envFile (when non-empty and present) into the process
// environment and builds a Config from the environment. Variables that are
// already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
			log.Debug().Str("file", envFile).Msg("Loaded .env file")
		}
	}

	cfg := &Config{
		ClaimsPath:      DefaultClaimsPath,
		AutoRefresh:     true,
		RefreshInterval: time.Hour,
		LogLevel:        "info",
		LogFormat:       "auto",
		EnvOverrides:    make(map[string]bool),
	}

	if v := os.Getenv(EnvClaimsPath); v != "" {
		cfg.ClaimsPath = v
		cfg.EnvOverrides["claimsPath"] = true
	}
	if v := os.Getenv(EnvPublicKey); v != "" {
		key, err := source.DecodePublicKey(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvPublicKey, err)
		}
		cfg.PublicKey = key
		cfg.EnvOverrides["publicKey"] = true
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.CacheDir = v
		cfg.EnvOverrides["cacheDir"] = true
	}
	if v := os.Getenv(EnvCacheMaxAge); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvCacheMaxAge, err)
		}
		cfg.CacheMaxAge = d
		cfg.EnvOverrides["cacheMaxAge"] = true
	}
	if v := os.Getenv(EnvAutoRefresh); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvAutoRefresh, err)
		}
		cfg.AutoRefresh = b
		cfg.EnvOverrides["autoRefresh"] = true
	}
	if v := os.Getenv(EnvRefreshInterval); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvRefreshInterval, err)
		}
		cfg.RefreshInterval = d
		cfg.EnvOverrides["refreshInterval"] = true
	}
	if v := os.Getenv(EnvFailOnWaitTimeout); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvFailOnWaitTimeout, err)
		}
		cfg.FailOnWaitTimeout = b
		cfg.EnvOverrides["failOnWaitTimeout"] = true
	}
	if v := os.Getenv(EnvDebug); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvDebug, err)
		}
		cfg.Debug = b
		if b {
			cfg.LogLevel = "debug"
		}
		cfg.EnvOverrides["debug"] = true
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
		cfg.EnvOverrides["logLevel"] = true
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(v))
		cfg.EnvOverrides["logFormat"] = true
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.MetricsAddr = v
		cfg.EnvOverrides["metricsAddr"] = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClaimsPath) == "" {
		return fmt.Errorf("claims path is required")
	}
	if c.RefreshInterval < time.Second {
		return fmt.Errorf("refresh interval must be at least 1 second")
	}
	if c.CacheMaxAge < 0 {
		return fmt.Errorf("cache max age must not be negative")
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("invalid log format: %q", c.LogFormat)
	}
	return nil
}

// TrustUnsigned reports whether an unsigned claim document is trusted. Only
// the default location is; a relocated document needs a public key.
func (c *Config) TrustUnsigned() bool {
	return len(c.PublicKey) == 0 && !c.EnvOverrides["claimsPath"]
}

// parseDuration accepts a Go duration or a plain number of seconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
