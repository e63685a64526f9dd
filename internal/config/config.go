// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Captcha CaptchaConfig `mapstructure:"captcha" yaml:"captcha"`
	Inbox   InboxConfig   `mapstructure:"inbox" yaml:"inbox"`
	Slack   SlackConfig   `mapstructure:"slack" yaml:"slack"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// CaptchaConfig selects and configures the external challenge-solving service.
type CaptchaConfig struct {
	// Provider is either "capsolver" or "anticaptcha".
	Provider     string        `mapstructure:"provider" yaml:"provider"`
	ClientKey    string        `mapstructure:"client_key" yaml:"-"`
	SiteKey      string        `mapstructure:"site_key" yaml:"site_key"`
	PageURL      string        `mapstructure:"page_url" yaml:"page_url"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// InboxConfig configures the email provider used to retrieve one-time codes.
type InboxConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file" yaml:"credentials_file"`
	TokenFile       string        `mapstructure:"token_file" yaml:"token_file"`
	SenderDomain    string        `mapstructure:"sender_domain" yaml:"sender_domain"`
	SubjectContains string        `mapstructure:"subject_contains" yaml:"subject_contains"`
	RedirectPort    int           `mapstructure:"redirect_port" yaml:"redirect_port"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxWait         time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// SlackConfig identifies the workspace whose session should be captured.
type SlackConfig struct {
	Workspace    string        `mapstructure:"workspace" yaml:"workspace"`
	WorkspaceURL string        `mapstructure:"workspace_url" yaml:"workspace_url"`
	SigninURL    string        `mapstructure:"signin_url" yaml:"signin_url"`
	CaptureWait  time.Duration `mapstructure:"capture_wait" yaml:"capture_wait"`
	FlowTimeout  time.Duration `mapstructure:"flow_timeout" yaml:"flow_timeout"`
}

// StoreConfig locates the cookie blob store.
type StoreConfig struct {
	// BucketURL follows the gocloud.dev scheme, e.g. "file://./data".
	BucketURL string `mapstructure:"bucket_url" yaml:"bucket_url"`
	CookieKey string `mapstructure:"cookie_key" yaml:"cookie_key"`
}

// ServerConfig tunes the HTTP facade.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "sessionsmith")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")

	// -- Captcha --
	v.SetDefault("captcha.provider", "capsolver")
	// Empty default so the env-bound key survives Unmarshal.
	v.SetDefault("captcha.client_key", "")
	v.SetDefault("captcha.max_attempts", 60)
	v.SetDefault("captcha.poll_interval", "3s")

	// -- Inbox --
	v.SetDefault("inbox.credentials_file", "credentials.json")
	v.SetDefault("inbox.token_file", "gmail_token.json")
	v.SetDefault("inbox.sender_domain", "slack.com")
	v.SetDefault("inbox.subject_contains", "confirmation code")
	v.SetDefault("inbox.redirect_port", 8089)
	v.SetDefault("inbox.poll_interval", "5s")
	v.SetDefault("inbox.max_wait", "5m")

	// -- Slack --
	v.SetDefault("slack.signin_url", "https://slack.com/signin")
	v.SetDefault("slack.capture_wait", "30s")
	v.SetDefault("slack.flow_timeout", "10m")

	// -- Store --
	v.SetDefault("store.bucket_url", "file://./data")
	v.SetDefault("store.cookie_key", "cookies.json")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("captcha.client_key", "SESSIONSMITH_CAPTCHA_CLIENT_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
// Missing required settings are fatal at startup; nothing here is retried.
func (c *Config) Validate() error {
	if c.Slack.Workspace == "" {
		return fmt.Errorf("slack.workspace is a required configuration field")
	}
	if c.Slack.WorkspaceURL == "" {
		return fmt.Errorf("slack.workspace_url is a required configuration field")
	}
	if c.Store.BucketURL == "" {
		return fmt.Errorf("store.bucket_url is a required configuration field")
	}
	switch c.Captcha.Provider {
	case "capsolver", "anticaptcha":
	default:
		return fmt.Errorf("captcha.provider must be %q or %q, got %q", "capsolver", "anticaptcha", c.Captcha.Provider)
	}
	if c.Captcha.MaxAttempts <= 0 {
		return fmt.Errorf("captcha.max_attempts must be a positive integer")
	}
	if c.Captcha.PollInterval <= 0 {
		return fmt.Errorf("captcha.poll_interval must be a positive duration")
	}
	if c.Inbox.PollInterval <= 0 {
		return fmt.Errorf("inbox.poll_interval must be a positive duration")
	}
	return nil
}
