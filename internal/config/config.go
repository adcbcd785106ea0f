// ABOUTME: Configuration loading and parsing for gitplan-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gitplan-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Repos    ReposConfig    `yaml:"repos"`
	Project  ProjectConfig  `yaml:"project"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled        bool   `yaml:"enabled"`
	JWTSecret      string `yaml:"jwt_secret"`
	GoogleClientID string `yaml:"google_client_id"`

	SessionTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SessionTTLRaw string `yaml:"session_ttl"`
}

// ReposConfig holds the git remotes the gateway syncs from
type ReposConfig struct {
	UsersURL   string `yaml:"users_url"`
	ProjectURL string `yaml:"project_url"`

	PollInterval time.Duration `yaml:"-"`

	PollIntervalRaw string `yaml:"poll_interval"`
}

// ProjectConfig holds local project directory configuration.
// When LocalPath is set the gateway serves that directory directly
// instead of cloning repos.project_url.
type ProjectConfig struct {
	LocalPath string `yaml:"local_path"`
}

// DatabaseConfig holds audit database configuration
type DatabaseConfig struct {
	AuditPath string `yaml:"audit_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	// The project content comes from exactly one place.
	if c.Project.LocalPath == "" && c.Repos.ProjectURL == "" {
		return fmt.Errorf("either repos.project_url or project.local_path is required")
	}
	if c.Project.LocalPath != "" && c.Repos.ProjectURL != "" {
		return fmt.Errorf("repos.project_url and project.local_path are mutually exclusive")
	}

	// google_client_id stays optional: without it the login endpoint is
	// disabled and the gateway runs API-key-only.
	if c.Auth.Enabled && c.Repos.UsersURL == "" {
		return fmt.Errorf("repos.users_url is required when auth is enabled")
	}

	if c.Repos.PollInterval < 0 {
		return fmt.Errorf("repos.poll_interval must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Repos.PollIntervalRaw != "" {
		cfg.Repos.PollInterval, err = time.ParseDuration(cfg.Repos.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Repos.PollIntervalRaw, err)
		}
	}

	if cfg.Auth.SessionTTLRaw != "" {
		cfg.Auth.SessionTTL, err = time.ParseDuration(cfg.Auth.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Auth.SessionTTLRaw, err)
		}
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 24 * time.Hour
	}

	return nil
}
