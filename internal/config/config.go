// Package config provides centralized configuration management using Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for reelsmith.
type Config struct {
	APIURL            string        `mapstructure:"api_url"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	DataDir           string        `mapstructure:"data_dir"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFile           string        `mapstructure:"log_file"`
	StudioAddr        string        `mapstructure:"studio_addr"`
}

// fileConfig is the on-disk shape; durations are written as strings ("2s").
type fileConfig struct {
	APIURL            string  `yaml:"api_url"`
	PollInterval      string  `yaml:"poll_interval"`
	FetchTimeout      string  `yaml:"fetch_timeout"`
	MaxBackoff        string  `yaml:"max_backoff"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	DataDir           string  `yaml:"data_dir"`
	LogLevel          string  `yaml:"log_level"`
	LogFile           string  `yaml:"log_file"`
	StudioAddr        string  `yaml:"studio_addr"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		APIURL:       "http://localhost:8080",
		PollInterval: 2 * time.Second,
		FetchTimeout: 30 * time.Second,
		DataDir:      ".reelsmith",
		LogLevel:     "info",
		StudioAddr:   ":8080",
	}
}

var envKeys = []string{
	"api_url",
	"poll_interval",
	"fetch_timeout",
	"max_backoff",
	"requests_per_second",
	"data_dir",
	"log_level",
	"log_file",
	"studio_addr",
}

// Load loads configuration with full precedence:
// ENV vars > project config > XDG global config > defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("reelsmith")

	d := Defaults()
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("fetch_timeout", d.FetchTimeout)
	v.SetDefault("max_backoff", d.MaxBackoff)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("studio_addr", d.StudioAddr)

	v.SetEnvPrefix("REELSMITH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit bindings so Unmarshal sees env-only keys.
	for _, key := range envKeys {
		if err := v.BindEnv(key, "REELSMITH_"+strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("binding %s env: %w", key, err)
		}
	}

	globalPath := GlobalPath()
	if fileExists(globalPath) {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
	}

	projectPath := ProjectPath()
	if fileExists(projectPath) {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the tracker and client cannot work with.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.MaxBackoff < 0 {
		return fmt.Errorf("max_backoff must be >= 0, got %s", c.MaxBackoff)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0, got %v", c.RequestsPerSecond)
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("api_url cannot be empty")
	}
	return nil
}

// Exists returns true if any config file exists (global or project).
func Exists() bool {
	return fileExists(GlobalPath()) || fileExists(ProjectPath())
}

// GlobalPath returns the XDG global config path.
// Returns ~/.config/reelsmith/reelsmith.yml or $XDG_CONFIG_HOME/reelsmith/reelsmith.yml.
func GlobalPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "reelsmith", "reelsmith.yml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "reelsmith", "reelsmith.yml")
}

// ProjectPath returns the project-local config path.
func ProjectPath() string {
	return "reelsmith.yml"
}

// WriteGlobal writes the config to the XDG global location.
func WriteGlobal(cfg *Config) error {
	path := GlobalPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return write(path, cfg)
}

// WriteProject writes the config to the project-local location.
func WriteProject(cfg *Config) error {
	return write(ProjectPath(), cfg)
}

func write(path string, cfg *Config) error {
	out := fileConfig{
		APIURL:            cfg.APIURL,
		PollInterval:      cfg.PollInterval.String(),
		FetchTimeout:      cfg.FetchTimeout.String(),
		MaxBackoff:        cfg.MaxBackoff.String(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		DataDir:           cfg.DataDir,
		LogLevel:          cfg.LogLevel,
		LogFile:           cfg.LogFile,
		StudioAddr:        cfg.StudioAddr,
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
