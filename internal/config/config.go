// ABOUTME: Configuration loading and parsing for the registration bot
// ABOUTME: Supports YAML or TOML files with env var expansion and env overrides

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is used when neither flag nor CONFIG_PATH is set.
	DefaultPath = "config.yml"

	defaultTimeout    = 10 * time.Second
	defaultExpiryDays = 7
	defaultDeviceID   = "matrix-registration-bot"
	defaultMetrics    = "/metrics"
	defaultMetricAddr = "127.0.0.1:9100"
)

// Config is the complete bot configuration.
type Config struct {
	Bot     BotConfig     `yaml:"bot" toml:"bot"`
	API     APIConfig     `yaml:"api" toml:"api"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Audit   AuditConfig   `yaml:"audit" toml:"audit"`
}

// BotConfig holds the Matrix account the bot runs as.
type BotConfig struct {
	Server        string   `yaml:"server" toml:"server"`
	Username      string   `yaml:"username" toml:"username"`
	Password      string   `yaml:"password" toml:"password"`
	AccessToken   string   `yaml:"access_token" toml:"access_token"`
	DeviceID      string   `yaml:"device_id" toml:"device_id"`
	CommandPrefix string   `yaml:"command_prefix" toml:"command_prefix"`
	AllowedUsers  []string `yaml:"allowed_users" toml:"allowed_users"`
	AutoJoin      *bool    `yaml:"auto_join" toml:"auto_join"`
	RecoveryKey   string   `yaml:"recovery_key" toml:"recovery_key"`
	DataDir       string   `yaml:"data_dir" toml:"data_dir"`
}

// APIConfig holds the admin API endpoint and credentials.
type APIConfig struct {
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	Token      string `yaml:"token" toml:"token"`
	Username   string `yaml:"username" toml:"username"`
	Password   string `yaml:"password" toml:"password"`
	ExpiryDays int    `yaml:"expiry_days" toml:"expiry_days"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// AuditConfig holds the audit log location. An empty path disables auditing.
type AuditConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ShouldAutoJoin reports whether invites are accepted; defaults to true.
func (b BotConfig) ShouldAutoJoin() bool {
	return b.AutoJoin == nil || *b.AutoJoin
}

// ResolvePath picks the config file: flag, then CONFIG_PATH, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return DefaultPath
}

// Load reads, expands, decodes, overrides, defaults and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(path, expandEnvVars(string(data)))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Parse decodes content according to the extension of path and applies
// environment overrides and defaults. It does not validate.
func Parse(path, content string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(content, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment values; unset
// variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"BOT_SERVER", &cfg.Bot.Server},
		{"BOT_USERNAME", &cfg.Bot.Username},
		{"BOT_PASSWORD", &cfg.Bot.Password},
		{"BOT_ACCESS_TOKEN", &cfg.Bot.AccessToken},
		{"API_BASE_URL", &cfg.API.BaseURL},
		{"API_TOKEN", &cfg.API.Token},
		{"API_USERNAME", &cfg.API.Username},
		{"API_PASSWORD", &cfg.API.Password},
		{"LOGGING_LEVEL", &cfg.Logging.Level},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok {
			*o.target = v
		}
	}
}

func applyDefaults(cfg *Config) error {
	if cfg.API.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.API.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing api.timeout %q: %w", cfg.API.TimeoutRaw, err)
		}
		cfg.API.Timeout = d
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = defaultTimeout
	}
	if cfg.API.ExpiryDays == 0 {
		cfg.API.ExpiryDays = defaultExpiryDays
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = cfg.Bot.Server
	}
	// Without a static API token the bot account logs in to the admin API.
	if cfg.API.Token == "" && cfg.API.Username == "" && cfg.API.Password == "" {
		cfg.API.Username = cfg.Bot.Username
		cfg.API.Password = cfg.Bot.Password
	}
	if cfg.Bot.DeviceID == "" {
		cfg.Bot.DeviceID = defaultDeviceID
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetrics
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = defaultMetricAddr
	}
	return nil
}

// Validate checks the fields every entry point needs: the admin API.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if err := validateHTTPURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if c.API.Token == "" && (c.API.Username == "" || c.API.Password == "") {
		return fmt.Errorf("api.token or api.username and api.password are required")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if c.API.ExpiryDays < 0 {
		return fmt.Errorf("api.expiry_days must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// ValidateBot additionally checks what the chat bot needs.
func (c *Config) ValidateBot() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Bot.Server == "" {
		return fmt.Errorf("bot.server is required")
	}
	if err := validateHTTPURL("bot.server", c.Bot.Server); err != nil {
		return err
	}
	if c.Bot.Username == "" {
		return fmt.Errorf("bot.username is required")
	}
	if c.Bot.AccessToken == "" && c.Bot.Password == "" {
		return fmt.Errorf("no access token or password for the bot provided")
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}
