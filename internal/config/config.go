// Package config collapses file, environment and flag inputs into one Config value.
// The private key source is resolved to raw PEM bytes here, once, before the pipeline runs.
package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the public GitHub REST API
const DefaultBaseURL = "https://api.github.com"

// DefaultTimeout bounds each HTTP call
const DefaultTimeout = 30 * time.Second

// Environment variables read by Load
const (
	EnvAppID          = "APP_ID"
	EnvOrg            = "GITHUB_ORG"
	EnvBaseURL        = "GITHUB_API_URL"
	EnvPrivateKey     = "PRIVATE_KEY"
	EnvPrivateKeyPath = "PRIVATE_KEY_PATH"
	EnvIssueTime      = "ISSUE_TIME"
)

// ErrConflictingKeySources is returned when one layer sets both an inline key and a key path
var ErrConflictingKeySources = errors.New("config: private key and private key path are mutually exclusive")

// KeySource says how Config.PrivateKey is interpreted
type KeySource int

const (
	KeySourceUnset KeySource = iota
	// KeySourceInlineEncoded means PrivateKey holds base64-encoded PEM
	KeySourceInlineEncoded
	// KeySourceFilePath means PrivateKey is a path to a PEM file
	KeySourceFilePath
)

func (k KeySource) String() string {
	switch k {
	case KeySourceInlineEncoded:
		return "inline"
	case KeySourceFilePath:
		return "file"
	default:
		return "unset"
	}
}

// Config for one token run
type Config struct {
	// AppID is the GitHub App ID, used verbatim as the JWT issuer
	AppID string

	// Org is the organization name as it appears in github.com URLs
	Org string

	// BaseURL is the fully qualified API base URL, scheme included
	BaseURL string

	// KeySource and PrivateKey together describe where the App key lives
	KeySource  KeySource
	PrivateKey string

	// IssueTime is the reference time in epoch seconds; 0 means now
	IssueTime int64

	// Timeout bounds each HTTP call
	Timeout time.Duration

	// MetricsFile, when set, receives Prometheus metrics in textfile format
	MetricsFile string
}

// fileConfig is the YAML shape of a config file
type fileConfig struct {
	AppID          string        `yaml:"app_id"`
	Org            string        `yaml:"org"`
	BaseURL        string        `yaml:"base_url"`
	PrivateKey     string        `yaml:"private_key"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	IssueTime      int64         `yaml:"issue_time"`
	Timeout        time.Duration `yaml:"timeout"`
	MetricsFile    string        `yaml:"metrics_file"`
}

// Default returns a Config holding only defaults
func Default() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// Load builds a Config from defaults, the optional YAML file at path, then environment variables.
// Flags are applied on top by the caller.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var fc fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	setString(&c.AppID, fc.AppID)
	setString(&c.Org, fc.Org)
	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.MetricsFile, fc.MetricsFile)
	if fc.IssueTime != 0 {
		c.IssueTime = fc.IssueTime
	}
	if fc.Timeout != 0 {
		c.Timeout = fc.Timeout
	}
	return c.SetKey(fc.PrivateKey, fc.PrivateKeyPath)
}

func (c *Config) applyEnv() error {
	setString(&c.AppID, os.Getenv(EnvAppID))
	setString(&c.Org, os.Getenv(EnvOrg))
	setString(&c.BaseURL, os.Getenv(EnvBaseURL))

	if v := os.Getenv(EnvIssueTime); v != "" {
		issueTime, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s must be epoch seconds: %w", EnvIssueTime, err)
		}
		c.IssueTime = issueTime
	}

	return c.SetKey(os.Getenv(EnvPrivateKey), os.Getenv(EnvPrivateKeyPath))
}

// SetKey overrides the key source when either value is non-empty.
// Setting both in the same call is an error.
func (c *Config) SetKey(inline, path string) error {
	switch {
	case inline != "" && path != "":
		return ErrConflictingKeySources
	case inline != "":
		c.KeySource = KeySourceInlineEncoded
		c.PrivateKey = inline
	case path != "":
		c.KeySource = KeySourceFilePath
		c.PrivateKey = path
	}
	return nil
}

// Validate checks that all required config fields are set
func (c *Config) Validate() error {
	if c.AppID == "" {
		return fmt.Errorf("config: app id is required")
	}
	if c.Org == "" {
		return fmt.Errorf("config: org is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("config: base url is required")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("config: base url %q must be an absolute http(s) URL", c.BaseURL)
	}
	if c.KeySource == KeySourceUnset || c.PrivateKey == "" {
		return fmt.Errorf("config: a private key or private key path is required")
	}
	if c.IssueTime < 0 {
		return fmt.Errorf("config: issue time must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative")
	}
	return nil
}

// ResolvePrivateKey returns the PEM bytes named by the key source
func (c *Config) ResolvePrivateKey() ([]byte, error) {
	switch c.KeySource {
	case KeySourceInlineEncoded:
		trimmed := strings.TrimSpace(c.PrivateKey)
		if strings.HasPrefix(trimmed, "-----BEGIN") {
			return []byte(trimmed), nil
		}
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("config: private key is not valid base64: %w", err)
		}
		return decoded, nil
	case KeySourceFilePath:
		data, err := os.ReadFile(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read private key file: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("config: no private key source configured")
	}
}

// ReferenceTime returns IssueTime, or now when it is unset
func (c *Config) ReferenceTime(now func() time.Time) int64 {
	if c.IssueTime != 0 {
		return c.IssueTime
	}
	return now().Unix()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
