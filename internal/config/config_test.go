package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profile:
  name: Dana Reyes
  meeting_link: https://cal.example.com/dana
email:
  provider: smtp
  from: dana@example.com
  smtp:
    host: smtp.example.com
    username: dana@example.com
    password: secret
inbox:
  provider: gmail
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NotEmpty(t, cfg.Database.DSN)
	assert.Equal(t, 587, cfg.Email.SMTP.Port)
	assert.Equal(t, "Dana Reyes", cfg.Email.FromName)
	assert.Equal(t, "imap.gmail.com", cfg.Inbox.Server)
	assert.Equal(t, 993, cfg.Inbox.Port)
	assert.Equal(t, "INBOX", cfg.Inbox.Folder)
	assert.Equal(t, "dana@example.com", cfg.Inbox.Email, "inbox credentials fall back to smtp")
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, int64(defaultMaxUploadBytes), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.AI)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "smtp", cfg.Email.Provider)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: [unterminated"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL":       "postgres://u:p@db.example.com:5432/crm",
		"SMTP_PORT":          "465",
		"OPENROUTER_API_KEY": "or-key",
		"GEMINI_API_KEY":     "gm-key",
		"S3_BUCKET":          "attachments",
		"REDIS_URL":          "redis://localhost:6379/0",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	var cfg Config
	cfg.applyEnv(lookup)
	cfg.applyDefaults()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 465, cfg.Email.SMTP.Port)
	assert.Equal(t, "openrouter", cfg.AI.Provider)
	assert.Equal(t, "gemini", cfg.AI.Fallback)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "redis", cfg.Lock.Backend)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Email: EmailConfig{
				Provider: "smtp",
				From:     "dana@example.com",
				SMTP:     SMTPConfig{Host: "smtp.example.com"},
			},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing from", func(c *Config) { c.Email.From = "" }, true},
		{"unknown email provider", func(c *Config) { c.Email.Provider = "pigeon" }, true},
		{"sendgrid without key", func(c *Config) { c.Email.Provider = "sendgrid" }, true},
		{"resend with key", func(c *Config) { c.Email.Provider = "resend"; c.Email.ResendAPIKey = "re_x" }, false},
		{"openrouter without key", func(c *Config) { c.AI.Provider = "openrouter" }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }, true},
		{"redis without url", func(c *Config) { c.Lock.Backend = "redis" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
