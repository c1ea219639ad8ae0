// Package config loads cloudaux settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/anirudhbiyani/cloudaux/pkg/iam"
	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
	"github.com/anirudhbiyani/cloudaux/pkg/providers/aws"
)

// Config holds cloudaux configuration.
type Config struct {
	// Connection is the default target account and credentials.
	Connection aws.ConnectionParams `yaml:"connection"`

	// Output is the key style of printed documents.
	Output string `yaml:"output"` // camelized, underscored

	// Flags selects what `user` builds out. Empty means ALL.
	Flags []string `yaml:"flags,omitempty"`

	// BulkFlags selects what `users` builds out per user. Empty means the
	// library default.
	BulkFlags []string `yaml:"bulk_flags,omitempty"`

	// Concurrency bounds parallel IAM calls per user.
	Concurrency int `yaml:"concurrency"`

	// UserConcurrency bounds how many users are built at once.
	UserConcurrency int `yaml:"user_concurrency"`

	// PartialResults keeps bulk runs going past per-user failures.
	PartialResults bool `yaml:"partial_results"`

	// SnapshotDir enables snapshots when set.
	SnapshotDir string `yaml:"snapshot_dir,omitempty"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Connection: aws.ConnectionParams{
			Region: aws.DefaultRegion,
		},
		Output:          string(orchestration.Camelized),
		Concurrency:     orchestration.DefaultConcurrency,
		UserConcurrency: iam.DefaultUserConcurrency,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cloudaux", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CLOUDAUX_REGION"); v != "" {
		c.Connection.Region = v
	}
	if v := os.Getenv("CLOUDAUX_PROFILE"); v != "" {
		c.Connection.Profile = v
	}
	if v := os.Getenv("CLOUDAUX_ASSUME_ROLE"); v != "" {
		c.Connection.AssumeRole = v
	}
	if v := os.Getenv("CLOUDAUX_ACCOUNT_NUMBER"); v != "" {
		c.Connection.AccountNumber = v
	}
	if v := os.Getenv("CLOUDAUX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return orchestration.ErrValidation("CLOUDAUX_CONCURRENCY must be an integer, got %q", v).
				WithField("concurrency")
		}
		c.Concurrency = n
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := orchestration.ParseKeyStyle(c.Output); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return orchestration.ErrValidation("must be at least 1").WithField("concurrency")
	}
	if c.UserConcurrency < 1 {
		return orchestration.ErrValidation("must be at least 1").WithField("user_concurrency")
	}
	if _, err := c.UserFlags(); err != nil {
		return err
	}
	if _, err := c.BulkUserFlags(); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return orchestration.ErrValidation("unknown log level %q", c.Logging.Level).WithField("logging.level")
	}
	return nil
}

// OutputStyle returns the parsed output key style.
func (c *Config) OutputStyle() (orchestration.KeyStyle, error) {
	return orchestration.ParseKeyStyle(c.Output)
}

// UserFlags resolves Flags against the user flag set.
func (c *Config) UserFlags() (orchestration.Flag, error) {
	if len(c.Flags) == 0 {
		return iam.UserFlags.All(), nil
	}
	return iam.UserFlags.Parse(c.Flags)
}

// BulkUserFlags resolves BulkFlags against the user flag set.
func (c *Config) BulkUserFlags() (orchestration.Flag, error) {
	if len(c.BulkFlags) == 0 {
		return iam.DefaultBulkFlags, nil
	}
	return iam.UserFlags.Parse(c.BulkFlags)
}
