// Package bumpconfig loads the optional ambient TOML configuration shared
// by the miner and reproducer binaries.
package bumpconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the ambient runtime configuration. Every field has a documented
// default, so an absent config file (or an absent section within it) is
// always valid.
type Config struct {
	Reproduction Reproduction `toml:"reproduction"`
	HTTP         HTTP         `toml:"http"`
	Mining       Mining       `toml:"mining"`
}

type Reproduction struct {
	BaseMavenImage      string `toml:"base_maven_image"`
	JavaVersion         string `toml:"java_version"`
	MaxAttempts         int    `toml:"max_attempts"`
	RegistryRepository  string `toml:"registry_repository"`
	CacheRepository     string `toml:"cache_repository"`
	CacheBranch         string `toml:"cache_branch"`
}

type HTTP struct {
	ConnectTimeout Duration `toml:"connect_timeout"`
	ReadTimeout    Duration `toml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
}

type Mining struct {
	SearchCutoffYear int `toml:"search_cutoff_year"`
}

// Default returns the configuration that applies when no file is loaded.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and validates a TOML configuration file, filling in defaults
// for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Reproduction.BaseMavenImage == "" {
		cfg.Reproduction.BaseMavenImage = "maven:3.8.6-eclipse-temurin-11"
	}
	if cfg.Reproduction.JavaVersion == "" {
		cfg.Reproduction.JavaVersion = "11"
	}
	if cfg.Reproduction.MaxAttempts == 0 {
		cfg.Reproduction.MaxAttempts = 3
	}
	if cfg.Reproduction.RegistryRepository == "" {
		cfg.Reproduction.RegistryRepository = "ghcr.io/chains-project/breaking-updates"
	}
	if cfg.Reproduction.CacheRepository == "" {
		cfg.Reproduction.CacheRepository = "chains-project/breaking-updates-cache"
	}
	if cfg.Reproduction.CacheBranch == "" {
		cfg.Reproduction.CacheBranch = "main"
	}
	if cfg.HTTP.ConnectTimeout.Duration == 0 {
		cfg.HTTP.ConnectTimeout.Duration = 60 * time.Second
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 60 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 120 * time.Second
	}
	if cfg.Mining.SearchCutoffYear == 0 {
		cfg.Mining.SearchCutoffYear = 2010
	}
}
