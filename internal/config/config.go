package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Install-tree layout below the configured root.
const (
	GameDirName = "PHANTASYSTARONLINE2_JP"
	BinDirName  = "pso2_bin"
)

// DefaultManagementURL is where the root descriptor lives.
const DefaultManagementURL = "https://patch01.pso2gs.net/patch_prod/patches/management_beta.txt"

// Config defines configuration for the stardriver CLI.
type Config struct {
	// InstallRoot is the directory the game tree lives under.
	InstallRoot string `yaml:"install_root"`

	// ManagementURL is the root descriptor URL.
	ManagementURL string `yaml:"management_url"`

	// Selection picks the dataset: full, main or launcher.
	Selection string `yaml:"selection"`

	// Timeout overrides the request timeout. Zero defers to the
	// server advisory.
	Timeout time.Duration `yaml:"timeout"`

	// Retries overrides the server-advised retry count when > 0.
	Retries int `yaml:"retries"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Progress enables the console progress reporter.
	Progress bool `yaml:"progress"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ManagementURL: DefaultManagementURL,
		Selection:     "full",
		LogLevel:      "info",
		Progress:      true,
	}
}

// BinDir returns the absolute pso2_bin directory files install under.
func (c *Config) BinDir() string {
	return filepath.Join(c.InstallRoot, GameDirName, BinDirName)
}

// yamlConfig is used for YAML unmarshaling with a string timeout.
type yamlConfig struct {
	InstallRoot   string `yaml:"install_root"`
	ManagementURL string `yaml:"management_url"`
	Selection     string `yaml:"selection"`
	Timeout       string `yaml:"timeout"`
	Retries       int    `yaml:"retries"`
	LogLevel      string `yaml:"log_level"`
	Progress      *bool  `yaml:"progress"`
}

// LoadFromFile loads configuration from a YAML file over defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.InstallRoot != "" {
		cfg.InstallRoot = yc.InstallRoot
	}
	if yc.ManagementURL != "" {
		cfg.ManagementURL = yc.ManagementURL
	}
	if yc.Selection != "" {
		cfg.Selection = yc.Selection
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.Retries != 0 {
		cfg.Retries = yc.Retries
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.Progress != nil {
		cfg.Progress = *yc.Progress
	}
	return cfg, nil
}

// LoadFromEnv applies environment overrides. Variables use the
// STARDRIVER_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("STARDRIVER_INSTALL_ROOT"); v != "" {
		c.InstallRoot = v
	}
	if v := os.Getenv("STARDRIVER_MANAGEMENT_URL"); v != "" {
		c.ManagementURL = v
	}
	if v := os.Getenv("STARDRIVER_SELECTION"); v != "" {
		c.Selection = v
	}
	if v := os.Getenv("STARDRIVER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse STARDRIVER_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("STARDRIVER_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse STARDRIVER_RETRIES: %w", err)
		}
		c.Retries = n
	}
	if v := os.Getenv("STARDRIVER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("STARDRIVER_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.InstallRoot == "" {
		return errors.New("config: install_root is required")
	}
	if c.ManagementURL == "" {
		return errors.New("config: management_url is required")
	}
	switch c.Selection {
	case "full", "main", "launcher":
	default:
		return fmt.Errorf("config: unknown selection %q", c.Selection)
	}
	if c.Retries < 0 {
		return errors.New("config: retries must not be negative")
	}
	return nil
}
