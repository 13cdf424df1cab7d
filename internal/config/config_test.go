package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
slack:
  token: xoxc-file
  cookie: xoxd-file
catch_up:
  window: 3
rules:
  - channel_name: "^general$"
    author_is_bot: true
  - message_text: ".*lunch.*"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "xoxc-file", cfg.Slack.Token)
	assert.Equal(t, 3, cfg.CatchUp.Window)
	assert.Equal(t, 60, cfg.Session.PingIntervalSeconds)
	assert.Equal(t, 5, cfg.Session.EndpointRetrySeconds)
	assert.Equal(t, "./data", cfg.Journal.OutputDir)

	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "^general$", cfg.Rules[0].ChannelName)
	require.NotNil(t, cfg.Rules[0].AuthorIsBot)
	assert.True(t, *cfg.Rules[0].AuthorIsBot)
	assert.Nil(t, cfg.Rules[1].AuthorIsBot)
	assert.Equal(t, ".*lunch.*", cfg.Rules[1].MessageText)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
slack:
  token: xoxc-file
  cookie: xoxd-file
health:
  addr: ":9090"
`)
	t.Setenv("SLACK_TOKEN", "xoxc-env")
	t.Setenv("S3_BUCKET", "journal-bucket")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "xoxc-env", cfg.Slack.Token)
	assert.Equal(t, "xoxd-file", cfg.Slack.Cookie, "unset variables keep file values")
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, "journal-bucket", cfg.Journal.S3.Bucket)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("SLACK_TOKEN", "xoxc-env")
	t.Setenv("SLACK_COOKIE", "xoxd-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "slack: [not, a, map"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Slack.Token = "xoxc"
		cfg.Slack.Cookie = "xoxd"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Slack.Token = "" }, "slack.token"},
		{"missing cookie", func(c *Config) { c.Slack.Cookie = "" }, "slack.cookie"},
		{"bad window", func(c *Config) { c.CatchUp.Window = -1 }, "catch_up.window"},
		{"journal without bucket is local only", func(c *Config) { c.Journal.Enabled = true }, ""},
		{"bucket without region", func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.S3.Bucket = "b"
		}, "journal.s3.region"},
		{"role without token file", func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.S3.Bucket = "b"
			c.Journal.S3.Region = "us-east-1"
			c.Journal.S3.RoleARN = "arn:aws:iam::1:role/x"
		}, "web_identity_token_file"},
		{"key without secret", func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.S3.Bucket = "b"
			c.Journal.S3.Region = "us-east-1"
			c.Journal.S3.AccessKeyID = "AKIA"
		}, "secret_access_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSessionDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Minute, cfg.Session.PingInterval())
	assert.Equal(t, 5*time.Second, cfg.Session.EndpointRetry())

	cfg.Session.EndpointRetrySeconds = -1
	assert.Equal(t, time.Duration(0), cfg.Session.EndpointRetry(), "negative retries immediately")
}
