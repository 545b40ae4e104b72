package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "TRIALWATCH_CONFIG"
	portEnv           = "PORT"
	logLevelEnv       = "LOG_LEVEL"
	registryURLEnv    = "CTGOV_BASE_URL"
	cacheFreshnessEnv = "CACHE_FRESHNESS"

	maxPageSize = 1000
)

// Config holds the settings of the server and the fetch command
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Cache    CacheConfig    `yaml:"cache"`
	Queries  []QueryConfig  `yaml:"queries"`
	Filters  FilterConfig   `yaml:"filters"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// RegistryConfig describes how to reach ClinicalTrials.gov
type RegistryConfig struct {
	BaseURL    string        `yaml:"base_url"`
	PageSize   int           `yaml:"page_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	UserAgent  string        `yaml:"user_agent"`
}

type CacheConfig struct {
	Freshness    time.Duration `yaml:"freshness"`
	MaxSnapshots int           `yaml:"max_snapshots"`
}

// QueryConfig is a dashboard query warmed at startup. The first one is the
// default query of the web pages.
type QueryConfig struct {
	Condition string `yaml:"condition"`
	Term      string `yaml:"term"`
}

type FilterConfig struct {
	MissingPhase string `yaml:"missing_phase"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path, or at $TRIALWATCH_CONFIG when path is
// empty, over the defaults and then applies environment overrides.
// Without a file the defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080"},
		Registry: RegistryConfig{
			BaseURL:    "https://clinicaltrials.gov/api/v2",
			PageSize:   100,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "trialwatch/1.0",
		},
		Cache: CacheConfig{
			Freshness:    15 * time.Minute,
			MaxSnapshots: 64,
		},
		Queries: []QueryConfig{
			{Condition: "breast cancer"},
		},
		Filters: FilterConfig{MissingPhase: "exclude"},
		Logging: LoggingConfig{Level: "info"},
	}
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(portEnv); v != "" {
		c.Server.Port = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(registryURLEnv); v != "" {
		c.Registry.BaseURL = v
	}

	if v := os.Getenv(cacheFreshnessEnv); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", cacheFreshnessEnv, v, err)
		}
		c.Cache.Freshness = d
	}

	return nil
}

// Validate rejects settings the pipeline cannot run with
func (c Config) Validate() error {
	var errs []error

	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server.port %q is not a number", c.Server.Port))
	}
	if strings.TrimSpace(c.Registry.BaseURL) == "" {
		errs = append(errs, errors.New("registry.base_url must not be empty"))
	}
	if c.Registry.PageSize < 1 || c.Registry.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("registry.page_size %d out of range 1..%d", c.Registry.PageSize, maxPageSize))
	}
	if c.Registry.Timeout <= 0 {
		errs = append(errs, errors.New("registry.timeout must be positive"))
	}
	if c.Registry.MaxRetries < 1 {
		errs = append(errs, errors.New("registry.max_retries must be at least 1"))
	}
	if c.Cache.Freshness <= 0 {
		errs = append(errs, errors.New("cache.freshness must be positive"))
	}
	if c.Cache.MaxSnapshots < len(c.Queries) || c.Cache.MaxSnapshots < 1 {
		errs = append(errs, errors.New("cache.max_snapshots must be positive and cover every configured query"))
	}
	if len(c.Queries) == 0 {
		errs = append(errs, errors.New("at least one query is required"))
	}
	for i, q := range c.Queries {
		if strings.TrimSpace(q.Condition) == "" {
			errs = append(errs, fmt.Errorf("queries[%d].condition must not be empty", i))
		}
	}
	switch strings.ToLower(c.Filters.MissingPhase) {
	case "", "exclude", "include":
	default:
		errs = append(errs, fmt.Errorf("filters.missing_phase %q must be exclude or include", c.Filters.MissingPhase))
	}

	return errors.Join(errs...)
}
