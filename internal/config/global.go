package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in ~/.config/bmlib/config.yml
// (or config.toml).
type GlobalConfig struct {
	Database    string            `yaml:"database,omitempty" toml:"database,omitempty"`
	Email       string            `yaml:"email,omitempty" toml:"email,omitempty"`
	Sources     []string          `yaml:"sources,omitempty" toml:"sources,omitempty"`
	APIKeys     map[string]string `yaml:"api_keys,omitempty" toml:"api_keys,omitempty"`
	RecheckDays int               `yaml:"recheck_days,omitempty" toml:"recheck_days,omitempty"`
	LogMode     string            `yaml:"log_mode,omitempty" toml:"log_mode,omitempty"`
	LogLevel    string            `yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	HTTPTimeout Duration          `yaml:"http_timeout,omitempty" toml:"http_timeout,omitempty"`
	MetricsFile string            `yaml:"metrics_file,omitempty" toml:"metrics_file,omitempty"`
}

const (
	// GlobalConfigFile is the YAML config file name.
	GlobalConfigFile = "config.yml"
	// GlobalConfigTOMLFile is the TOML config file name, read when no YAML file exists.
	GlobalConfigTOMLFile = "config.toml"

	// DefaultHTTPTimeout applies when http_timeout is unset.
	DefaultHTTPTimeout = 60 * time.Second
)

// Environment variables that override file settings.
const (
	EnvDatabase    = "BMLIB_DATABASE"
	EnvEmail       = "BMLIB_EMAIL"
	EnvNCBIAPIKey  = "NCBI_API_KEY"
	EnvOpenAlexKey = "OPENALEX_API_KEY"
	EnvRecheckDays = "BMLIB_RECHECK_DAYS"
	EnvLogLevel    = "BMLIB_LOG_LEVEL"
)

const (
	sourcePubMed   = "pubmed"
	sourceOpenAlex = "openalex"

	logModeDev  = "development"
	logModeProd = "production"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration read from strings such as "30s".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigDir returns $XDG_CONFIG_HOME/bmlib, defaulting to ~/.config/bmlib.
func GlobalConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, AppDir)
}

// GlobalConfigPath returns the path to the YAML config file.
func GlobalConfigPath() string {
	dir := GlobalConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration, applies environment
// overrides and fills defaults. A missing file is not an error.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	cfg, err := LoadFile(GlobalConfigDir())
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	globalConfigCache = cfg
	return cfg, nil
}

// LoadFile reads config.yml, or config.toml if no YAML file exists, from
// dir. Neither file existing yields an empty config.
func LoadFile(dir string) (*GlobalConfig, error) {
	var cfg GlobalConfig
	if dir == "" {
		return &cfg, nil
	}

	yamlPath := filepath.Join(dir, GlobalConfigFile)
	data, err := os.ReadFile(yamlPath)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", yamlPath, err)
		}
		return &cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading global config: %w", err)
	}

	tomlPath := filepath.Join(dir, GlobalConfigTOMLFile)
	data, err = os.ReadFile(tomlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading global config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", tomlPath, err)
	}
	return &cfg, nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

func (c *GlobalConfig) applyEnv() error {
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := os.Getenv(EnvEmail); v != "" {
		c.Email = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvRecheckDays); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvRecheckDays, v)
		}
		c.RecheckDays = n
	}

	for env, src := range map[string]string{EnvNCBIAPIKey: sourcePubMed, EnvOpenAlexKey: sourceOpenAlex} {
		if v := os.Getenv(env); v != "" {
			if c.APIKeys == nil {
				c.APIKeys = make(map[string]string)
			}
			c.APIKeys[src] = v
		}
	}
	return nil
}

func (c *GlobalConfig) applyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabasePath()
	} else {
		c.Database = ExpandTilde(c.Database)
	}
	if c.MetricsFile != "" {
		c.MetricsFile = ExpandTilde(c.MetricsFile)
	}
	if c.LogMode == "" {
		c.LogMode = logModeProd
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = Duration(DefaultHTTPTimeout)
	}
}

// Validate checks the configuration for the given sources. OpenAlex
// requires a contact email for its polite pool.
func (c *GlobalConfig) Validate(sources []string) error {
	if c.RecheckDays < 0 {
		return fmt.Errorf("%w: recheck_days must be >= 0, got %d", ErrInvalidConfig, c.RecheckDays)
	}
	switch c.LogMode {
	case "", logModeDev, logModeProd:
	default:
		return fmt.Errorf("%w: log_mode must be %q or %q, got %q", ErrInvalidConfig, logModeDev, logModeProd, c.LogMode)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("%w: http_timeout must not be negative", ErrInvalidConfig)
	}
	for _, s := range sources {
		if s == sourceOpenAlex && c.Email == "" {
			return fmt.Errorf("%w: email is required for openalex (set email in %s or %s)",
				ErrInvalidConfig, GlobalConfigPath(), EnvEmail)
		}
	}
	return nil
}

// Timeout returns the HTTP timeout as a time.Duration.
func (c *GlobalConfig) Timeout() time.Duration {
	return time.Duration(c.HTTPTimeout)
}
