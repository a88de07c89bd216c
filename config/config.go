package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultServer       = "https://secure.gooddata.com"
	defaultWebDAVServer = "https://secure-di.gooddata.com/uploads"
	defaultPollInterval = 2 * time.Second
	defaultHistorySize  = 500
)

// DefaultFileName is the name of the configuration file looked for in the user's home
// directory when no --config flag is given.
const DefaultFileName = ".gdcli.yaml"

// Config represents the entire application configuration.
type Config struct {
	Server             string `yaml:"server"`
	WebDAVServer       string `yaml:"webdav_server"`
	DatabasePath       string `yaml:"database_path"`
	SQLPath            string `yaml:"sql_path"` // overrides the embedded sql files when set
	User               string `yaml:"user"`
	Project            string `yaml:"project"`
	AuthorizationToken string `yaml:"authorization_token"`
	PollIntervalStr    string `yaml:"poll_interval"`
	HistorySize        int    `yaml:"history_size"`
	PollInterval       time.Duration // Parsed from PollIntervalStr
}

// DefaultPath returns the path of the configuration file in the user's home
// directory, or the bare file name if the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

// Load loads and validates the configuration from the given file path. If the file
// does not exist and mustExist is false, a default configuration is returned.
func Load(filePath string, mustExist bool) (*Config, error) {
	var cfg Config

	configFile, err := os.ReadFile(filePath)
	switch {
	case errors.Is(err, os.ErrNotExist) && !mustExist:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
		}
	}

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateAndPrepare checks fields, fills in defaults and sets up derived values.
func validateAndPrepare(c *Config) error {
	if c.Server == "" {
		c.Server = defaultServer
	}
	c.Server = strings.TrimRight(c.Server, "/")
	if u, err := url.Parse(c.Server); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid server url %q", c.Server)
	}

	if c.WebDAVServer == "" {
		c.WebDAVServer = defaultWebDAVServer
	}
	c.WebDAVServer = strings.TrimRight(c.WebDAVServer, "/")
	if u, err := url.Parse(c.WebDAVServer); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid webdav_server url %q", c.WebDAVServer)
	}

	if c.DatabasePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.New("database_path is missing and no home directory found")
		}
		c.DatabasePath = filepath.Join(home, ".gdcli.db")
	}

	c.PollInterval = defaultPollInterval
	if c.PollIntervalStr != "" {
		d, err := time.ParseDuration(c.PollIntervalStr)
		if err != nil {
			return fmt.Errorf("invalid poll_interval format: %w", err)
		}
		if d <= 0 {
			return errors.New("poll_interval must be positive")
		}
		c.PollInterval = d
	}

	if c.HistorySize < 0 {
		return errors.New("history_size cannot be negative")
	}
	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}
	return nil
}
