package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/john/slackignore/internal/rules"
)

// Config holds the application configuration
type Config struct {
	Slack   SlackConfig   `yaml:"slack" envPrefix:"SLACK_"`
	Session SessionConfig `yaml:"session"`
	CatchUp CatchUpConfig `yaml:"catch_up"`
	Health  HealthConfig  `yaml:"health"`
	Rules   []rules.Spec  `yaml:"rules"`
	Journal JournalConfig `yaml:"journal"`
}

// SlackConfig holds credentials and transport options
type SlackConfig struct {
	Token    string `yaml:"token" env:"TOKEN"`
	Cookie   string `yaml:"cookie" env:"COOKIE"`
	APIURL   string `yaml:"api_url" env:"API_URL"`
	ProxyURL string `yaml:"proxy_url" env:"PROXY_URL"` // Opt-in interception proxy, certificates still verified
}

// SessionConfig tunes the realtime connection
type SessionConfig struct {
	PingIntervalSeconds  int `yaml:"ping_interval_seconds"`
	EndpointRetrySeconds int `yaml:"endpoint_retry_seconds"` // Negative retries immediately
	FrameBuffer          int `yaml:"frame_buffer"`
}

// CatchUpConfig holds the catch-up check tolerance
type CatchUpConfig struct {
	Window int `yaml:"window"` // How many of the newest history entries count as caught up
}

// HealthConfig holds the health endpoint address; empty disables it
type HealthConfig struct {
	Addr string `yaml:"addr" env:"HEALTH_ADDR"`
}

// JournalConfig holds the suppression journal configuration
type JournalConfig struct {
	Enabled         bool           `yaml:"enabled"`
	OutputDir       string         `yaml:"output_dir"`
	RotateMinutes   int            `yaml:"rotate_minutes"`
	RotateMegabytes int            `yaml:"rotate_megabytes"`
	BufferSize      int            `yaml:"buffer_size"`
	S3              S3Config       `yaml:"s3"`
	Uploader        UploaderConfig `yaml:"uploader"`
}

// S3Config holds S3 upload configuration. An empty bucket keeps journal
// files local.
type S3Config struct {
	Bucket               string `yaml:"bucket" env:"S3_BUCKET"`
	Region               string `yaml:"region" env:"S3_REGION"`
	RoleARN              string `yaml:"role_arn" env:"AWS_ROLE_ARN"`                               // IAM role assumed with a web identity token
	WebIdentityTokenFile string `yaml:"web_identity_token_file" env:"AWS_WEB_IDENTITY_TOKEN_FILE"` // Token file for RoleARN
	AccessKeyID          string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`                      // Static credentials
	SecretAccessKey      string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"`              // Static credentials
	Endpoint             string `yaml:"endpoint" env:"S3_ENDPOINT"`                                // For S3-compatible services
}

// UploaderConfig holds uploader configuration
type UploaderConfig struct {
	DeleteAfterUpload bool `yaml:"delete_after_upload"`
	MaxRetries        int  `yaml:"max_retries"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file, then applies environment
// overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Only variables that are set replace file values.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Session.PingIntervalSeconds == 0 {
		c.Session.PingIntervalSeconds = 60
	}
	if c.Session.EndpointRetrySeconds == 0 {
		c.Session.EndpointRetrySeconds = 5
	}
	if c.Session.FrameBuffer == 0 {
		c.Session.FrameBuffer = 256
	}
	if c.CatchUp.Window == 0 {
		c.CatchUp.Window = 2
	}
	if c.Journal.OutputDir == "" {
		c.Journal.OutputDir = "./data"
	}
	if c.Journal.RotateMinutes == 0 {
		c.Journal.RotateMinutes = 60
	}
	if c.Journal.RotateMegabytes == 0 {
		c.Journal.RotateMegabytes = 100
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = 100
	}
	if c.Journal.Uploader.MaxRetries == 0 {
		c.Journal.Uploader.MaxRetries = 3
	}
}

// Validate checks required fields. It runs after command-line overrides.
func (c *Config) Validate() error {
	if c.Slack.Token == "" {
		return fmt.Errorf("slack.token is required (or set SLACK_TOKEN env var)")
	}
	if c.Slack.Cookie == "" {
		return fmt.Errorf("slack.cookie is required (or set SLACK_COOKIE env var)")
	}
	if c.CatchUp.Window < 1 {
		return fmt.Errorf("catch_up.window must be at least 1")
	}
	if c.Session.PingIntervalSeconds < 1 {
		return fmt.Errorf("session.ping_interval_seconds must be at least 1")
	}

	if !c.Journal.Enabled || c.Journal.S3.Bucket == "" {
		return nil
	}
	if c.Journal.S3.Region == "" {
		return fmt.Errorf("journal.s3.region is required when journal.s3.bucket is set")
	}
	if c.Journal.S3.RoleARN != "" && c.Journal.S3.WebIdentityTokenFile == "" {
		return fmt.Errorf("journal.s3.web_identity_token_file is required when using role_arn")
	}
	// If using static credentials, both key and secret are required
	if c.Journal.S3.AccessKeyID != "" && c.Journal.S3.SecretAccessKey == "" {
		return fmt.Errorf("journal.s3.secret_access_key is required when using access_key_id")
	}
	return nil
}

func (c SessionConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// EndpointRetry is the pause before requesting a new endpoint after a failed
// request. A negative setting retries immediately.
func (c SessionConfig) EndpointRetry() time.Duration {
	if c.EndpointRetrySeconds < 0 {
		return 0
	}
	return time.Duration(c.EndpointRetrySeconds) * time.Second
}
