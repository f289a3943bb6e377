// Package config provides environment-variable-first configuration loading
// with optional YAML file and .env fallback for the SMTP relay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by PROVIDER.
const (
	ProviderResend   = "resend"
	ProviderPostmark = "postmark"
	ProviderSES      = "ses"
	ProviderGraph    = "graph"
	ProviderStdout   = "stdout"
)

// Attachment backends accepted by ATTACHMENT_BACKEND.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

const (
	defaultHost            = "127.0.0.1"
	defaultPort            = 2525
	defaultMaxMessageSize  = 26214400 // 25 MiB
	defaultMaxRecipients   = 100
	defaultReadTimeout     = 60 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultDeliveryTimeout = 60 * time.Second
	defaultAttachmentDir   = "attachments"
)

// detectionOrder is the order providers are tried when PROVIDER is empty.
var detectionOrder = []string{ProviderResend, ProviderPostmark, ProviderSES, ProviderGraph}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	SMTP       SMTPConfig       `yaml:"smtp" envPrefix:"SMTP_"`
	Delivery   DeliveryConfig   `yaml:"delivery" envPrefix:"DELIVERY_"`
	Attachment AttachmentConfig `yaml:"attachment" envPrefix:"ATTACHMENT_"`
	Provider   string           `yaml:"provider" env:"PROVIDER"`
	Resend     ResendConfig     `yaml:"resend" envPrefix:"RESEND_"`
	Postmark   PostmarkConfig   `yaml:"postmark" envPrefix:"POSTMARK_"`
	SES        SESConfig        `yaml:"ses" envPrefix:"SES_"`
	Graph      GraphConfig      `yaml:"graph" envPrefix:"GRAPH_"`
	Logging    LoggingConfig    `yaml:"logging"`
	Sentry     SentryConfig     `yaml:"sentry" envPrefix:"SENTRY_"`
}

// SMTPConfig holds SMTP listener configuration.
type SMTPConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	Domain          string        `yaml:"domain" env:"DOMAIN"`
	MaxMessageSize  int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	MaxRecipients   int           `yaml:"max_recipients" env:"MAX_RECIPIENTS"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DeliveryConfig bounds the work done for one message.
type DeliveryConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// AttachmentConfig selects where attachment bytes are persisted.
type AttachmentConfig struct {
	Backend    string `yaml:"backend" env:"BACKEND"`
	Dir        string `yaml:"dir" env:"DIR"`
	S3Bucket   string `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Region   string `yaml:"s3_region" env:"S3_REGION"`
	S3Prefix   string `yaml:"s3_prefix" env:"S3_PREFIX"`
	S3Endpoint string `yaml:"s3_endpoint" env:"S3_ENDPOINT"`

	// Static S3 credentials. When either is empty the default AWS
	// credential chain is used.
	S3AccessKeyID     string `yaml:"s3_access_key_id" env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
}

// ResendConfig holds Resend API credentials.
type ResendConfig struct {
	APIKey string `yaml:"api_key" env:"API_KEY"`
}

// PostmarkConfig holds Postmark API credentials.
type PostmarkConfig struct {
	ServerToken  string `yaml:"server_token" env:"SERVER_TOKEN"`
	AccountToken string `yaml:"account_token" env:"ACCOUNT_TOKEN"`
}

// SESConfig holds AWS SES configuration. Static keys are optional; the default
// AWS credential chain is used without them.
type SESConfig struct {
	Region           string `yaml:"region" env:"REGION"`
	AccessKeyID      string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey  string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	ConfigurationSet string `yaml:"configuration_set" env:"CONFIGURATION_SET"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id" env:"TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	Sender       string `yaml:"sender" env:"SENDER"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn" env:"DSN"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// given) into the process environment. Variables already set are not
// overridden and missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ListenAddr returns the host:port the SMTP listener binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.SMTP.Host, strconv.Itoa(c.SMTP.Port))
}

// ResendConfigured returns true if a Resend API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// PostmarkConfigured returns true if a Postmark server token is set.
func (c *Config) PostmarkConfigured() bool {
	return c.Postmark.ServerToken != ""
}

// SESConfigured returns true if an SES region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SelectedProvider returns the provider to deliver with: PROVIDER when set,
// otherwise the first provider with credentials, falling back to stdout.
func (c *Config) SelectedProvider() string {
	if c.Provider != "" {
		return c.Provider
	}
	for _, name := range detectionOrder {
		if c.credentialsFor(name) {
			return name
		}
	}
	return ProviderStdout
}

// CredentialsConfigured reports whether the selected provider has credentials.
// It is always true for stdout.
func (c *Config) CredentialsConfigured() bool {
	name := c.SelectedProvider()
	return name == ProviderStdout || c.credentialsFor(name)
}

func (c *Config) credentialsFor(name string) bool {
	switch name {
	case ProviderResend:
		return c.ResendConfigured()
	case ProviderPostmark:
		return c.PostmarkConfigured()
	case ProviderSES:
		return c.SESConfigured()
	case ProviderGraph:
		return c.GraphConfigured()
	}
	return false
}

// Validate checks the configuration for values the relay cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if !isLoopback(c.SMTP.Host) {
		errs = append(errs, fmt.Errorf("SMTP_HOST %q must be a loopback address", c.SMTP.Host))
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("SMTP_PORT %d out of range", c.SMTP.Port))
	}
	if c.SMTP.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("SMTP_MAX_MESSAGE_SIZE must be positive"))
	}
	if c.SMTP.MaxRecipients < 0 {
		errs = append(errs, errors.New("SMTP_MAX_RECIPIENTS must not be negative"))
	}

	switch c.Attachment.Backend {
	case BackendLocal:
		if c.Attachment.Dir == "" {
			errs = append(errs, errors.New("ATTACHMENT_DIR is required for the local backend"))
		}
	case BackendS3:
		if c.Attachment.S3Bucket == "" {
			errs = append(errs, errors.New("ATTACHMENT_S3_BUCKET is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ATTACHMENT_BACKEND %q", c.Attachment.Backend))
	}

	name := c.SelectedProvider()
	switch {
	case name == ProviderStdout:
	case !slices.Contains(detectionOrder, name):
		errs = append(errs, fmt.Errorf("unknown PROVIDER %q", name))
	case !c.credentialsFor(name):
		errs = append(errs, fmt.Errorf("PROVIDER %q selected but its credentials are not configured", name))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Host = defaultHost
	c.SMTP.Port = defaultPort
	c.SMTP.Domain = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.SMTP.MaxRecipients = defaultMaxRecipients
	c.SMTP.ReadTimeout = defaultReadTimeout
	c.SMTP.WriteTimeout = defaultWriteTimeout
	c.SMTP.ShutdownTimeout = defaultShutdownTimeout
	c.Delivery.Timeout = defaultDeliveryTimeout
	c.Attachment.Backend = BackendLocal
	c.Attachment.Dir = defaultAttachmentPath()
	c.Logging.Level = "info"
	c.Sentry.Environment = "production"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Attachment.Backend = strings.ToLower(c.Attachment.Backend)
	return nil
}

// defaultAttachmentPath places attachments next to the executable.
func defaultAttachmentPath() string {
	exe, err := os.Executable()
	if err != nil {
		return defaultAttachmentDir
	}
	return filepath.Join(filepath.Dir(exe), defaultAttachmentDir)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
