package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddr           = ":8000"
	defaultMaxUploadBytes = 10 << 20
	defaultSendRatePerMin = 30
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Profile  Profile        `yaml:"profile"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Email    EmailConfig    `yaml:"email"`
	Inbox    InboxConfig    `yaml:"inbox,omitempty"`
	AI       AIConfig       `yaml:"ai"`
	Storage  StorageConfig  `yaml:"storage"`
	Lock     LockConfig     `yaml:"lock"`
	Timeouts Timeouts       `yaml:"timeouts"`
	Sync     SyncConfig     `yaml:"sync,omitempty"`
	Log      LogConfig      `yaml:"log"`
}

// Profile describes the person replies are sent on behalf of.
type Profile struct {
	Name        string `yaml:"name"`
	Company     string `yaml:"company,omitempty"`
	Title       string `yaml:"title,omitempty"`
	MeetingLink string `yaml:"meeting_link,omitempty"`
	Signature   string `yaml:"signature,omitempty"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendRatePerMin int      `yaml:"send_rate_per_min"` // per client, applies to send endpoints
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection URL for postgres
}

type EmailConfig struct {
	Provider       string     `yaml:"provider"` // "smtp", "sendgrid", "resend"
	From           string     `yaml:"from"`
	FromName       string     `yaml:"from_name,omitempty"`
	SMTP           SMTPConfig `yaml:"smtp,omitempty"`
	SendGridAPIKey string     `yaml:"sendgrid_api_key,omitempty"`
	ResendAPIKey   string     `yaml:"resend_api_key,omitempty"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// InboxConfig holds IMAP settings for polling lead replies
type InboxConfig struct {
	Provider    string `yaml:"provider"` // "gmail", "outlook", "imap"
	Server      string `yaml:"server"`
	Port        int    `yaml:"port"`
	Email       string `yaml:"email"`
	Password    string `yaml:"password"`     // App password (not main password)
	Folder      string `yaml:"folder"`       // default: "INBOX"
	MaxMessages int    `yaml:"max_messages"` // upper bound per sync pass
}

type AIConfig struct {
	Provider    string         `yaml:"provider"` // "openrouter", "gemini", "rules"
	Fallback    string         `yaml:"fallback,omitempty"`
	Temperature float32        `yaml:"temperature"`
	OpenRouter  ProviderConfig `yaml:"openrouter,omitempty"`
	Gemini      ProviderConfig `yaml:"gemini,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type StorageConfig struct {
	Backend        string `yaml:"backend"` // "local" or "s3"
	Dir            string `yaml:"dir,omitempty"`
	Bucket         string `yaml:"bucket,omitempty"`
	Endpoint       string `yaml:"endpoint,omitempty"`
	Region         string `yaml:"region,omitempty"`
	AccessKeyID    string `yaml:"access_key_id,omitempty"`
	SecretKey      string `yaml:"secret_access_key,omitempty"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type LockConfig struct {
	Backend  string `yaml:"backend"` // "memory" or "redis"
	RedisURL string `yaml:"redis_url,omitempty"`
}

// Timeouts bound every call to an external collaborator.
type Timeouts struct {
	Database  time.Duration `yaml:"database"`
	Mailbox   time.Duration `yaml:"mailbox"`
	Transport time.Duration `yaml:"transport"`
	AI        time.Duration `yaml:"ai"`
	Storage   time.Duration `yaml:"storage"`
}

// SyncConfig enables a scheduled reply sync in addition to the explicit trigger.
type SyncConfig struct {
	Schedule string `yaml:"schedule,omitempty"` // cron expression, empty disables
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leadflow"
	}
	return filepath.Join(home, ".leadflow")
}

func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Load reads the YAML config at path, applies .env and environment
// overrides, then fills defaults. A missing file is not an error so the
// service can run from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := checkFilePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env is optional; values already in the environment win.
	_ = godotenv.Load()
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Database.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Database.Driver = "postgres"
		}
	}

	str("SMTP_HOST", &c.Email.SMTP.Host)
	num("SMTP_PORT", &c.Email.SMTP.Port)
	str("SMTP_USER", &c.Email.SMTP.Username)
	str("SMTP_PASS", &c.Email.SMTP.Password)
	str("SMTP_FROM_EMAIL", &c.Email.From)
	str("SENDGRID_API_KEY", &c.Email.SendGridAPIKey)
	str("RESEND_API_KEY", &c.Email.ResendAPIKey)

	str("IMAP_HOST", &c.Inbox.Server)
	num("IMAP_PORT", &c.Inbox.Port)
	str("IMAP_USER", &c.Inbox.Email)
	str("IMAP_PASS", &c.Inbox.Password)
	str("IMAP_MAILBOX", &c.Inbox.Folder)

	str("OPENROUTER_API_KEY", &c.AI.OpenRouter.APIKey)
	str("OPENROUTER_MODEL", &c.AI.OpenRouter.Model)
	str("GEMINI_API_KEY", &c.AI.Gemini.APIKey)
	str("GEMINI_MODEL", &c.AI.Gemini.Model)

	str("S3_ENDPOINT", &c.Storage.Endpoint)
	str("S3_BUCKET", &c.Storage.Bucket)
	str("S3_REGION", &c.Storage.Region)
	str("S3_ACCESS_KEY_ID", &c.Storage.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.Storage.SecretKey)

	str("REDIS_URL", &c.Lock.RedisURL)
	str("MEETING_LINK", &c.Profile.MeetingLink)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if c.Server.SendRatePerMin == 0 {
		c.Server.SendRatePerMin = defaultSendRatePerMin
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(DataDir(), "leadflow.db")
	}

	if c.Email.Provider == "" {
		c.Email.Provider = "smtp"
	}
	if c.Email.SMTP.Port == 0 {
		c.Email.SMTP.Port = 587
	}
	if c.Email.FromName == "" {
		c.Email.FromName = c.Profile.Name
	}

	// Set inbox defaults
	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.MaxMessages == 0 {
		c.Inbox.MaxMessages = 200
	}
	if c.Inbox.Provider == "gmail" && c.Inbox.Server == "" {
		c.Inbox.Server = "imap.gmail.com"
	}
	if c.Inbox.Provider == "outlook" && c.Inbox.Server == "" {
		c.Inbox.Server = "outlook.office365.com"
	}
	if c.Inbox.Port == 0 {
		c.Inbox.Port = 993
	}
	if c.Inbox.Email == "" {
		c.Inbox.Email = c.Email.SMTP.Username
	}
	if c.Inbox.Password == "" {
		c.Inbox.Password = c.Email.SMTP.Password
	}

	if c.AI.Provider == "" {
		switch {
		case c.AI.OpenRouter.APIKey != "":
			c.AI.Provider = "openrouter"
		case c.AI.Gemini.APIKey != "":
			c.AI.Provider = "gemini"
		default:
			c.AI.Provider = "rules"
		}
	}
	if c.AI.Fallback == "" && c.AI.Provider == "openrouter" && c.AI.Gemini.APIKey != "" {
		c.AI.Fallback = "gemini"
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = 0.3
	}
	if c.AI.OpenRouter.Model == "" {
		c.AI.OpenRouter.Model = "openai/gpt-4o"
	}
	if c.AI.OpenRouter.BaseURL == "" {
		c.AI.OpenRouter.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.AI.Gemini.Model == "" {
		c.AI.Gemini.Model = "gemini-1.5-flash"
	}
	if c.AI.Gemini.BaseURL == "" {
		c.AI.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}

	if c.Storage.Backend == "" {
		if c.Storage.Bucket != "" {
			c.Storage.Backend = "s3"
		} else {
			c.Storage.Backend = "local"
		}
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(DataDir(), "attachments")
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.MaxUploadBytes == 0 {
		c.Storage.MaxUploadBytes = defaultMaxUploadBytes
	}

	if c.Lock.Backend == "" {
		if c.Lock.RedisURL != "" {
			c.Lock.Backend = "redis"
		} else {
			c.Lock.Backend = "memory"
		}
	}

	if c.Timeouts.Database == 0 {
		c.Timeouts.Database = 10 * time.Second
	}
	if c.Timeouts.Mailbox == 0 {
		c.Timeouts.Mailbox = 60 * time.Second
	}
	if c.Timeouts.Transport == 0 {
		c.Timeouts.Transport = 30 * time.Second
	}
	if c.Timeouts.AI == 0 {
		c.Timeouts.AI = 45 * time.Second
	}
	if c.Timeouts.Storage == 0 {
		c.Timeouts.Storage = 30 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database: dsn is required")
	}

	if err := c.ValidateEmail(); err != nil {
		return err
	}

	switch c.AI.Provider {
	case "rules":
	case "openrouter":
		if c.AI.OpenRouter.APIKey == "" {
			return fmt.Errorf("ai.openrouter: api_key is required")
		}
	case "gemini":
		if c.AI.Gemini.APIKey == "" {
			return fmt.Errorf("ai.gemini: api_key is required")
		}
	default:
		return fmt.Errorf("ai: unknown provider %q", c.AI.Provider)
	}
	if c.AI.Fallback == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("ai.gemini: api_key is required for fallback")
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage: bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.RedisURL == "" {
			return fmt.Errorf("lock: redis_url is required for redis backend")
		}
	default:
		return fmt.Errorf("lock: unknown backend %q", c.Lock.Backend)
	}

	return nil
}

// ValidateEmail validates the outbound transport section.
func (c *Config) ValidateEmail() error {
	if c.Email.From == "" {
		return fmt.Errorf("email: from address is required")
	}
	switch c.Email.Provider {
	case "smtp":
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("email.smtp: host is required")
		}
		if c.Email.SMTP.Port == 0 {
			return fmt.Errorf("email.smtp: port is required")
		}
	case "sendgrid":
		if c.Email.SendGridAPIKey == "" {
			return fmt.Errorf("email: sendgrid_api_key is required")
		}
	case "resend":
		if c.Email.ResendAPIKey == "" {
			return fmt.Errorf("email: resend_api_key is required")
		}
	default:
		return fmt.Errorf("email: unknown provider %q", c.Email.Provider)
	}
	return nil
}

// ValidateInbox validates inbox configuration (only called when replies are synced)
func (c *Config) ValidateInbox() error {
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required")
	}
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	if c.Inbox.Port == 0 {
		return fmt.Errorf("inbox: IMAP port is required")
	}
	return nil
}
