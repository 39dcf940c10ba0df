package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	} `mapstructure:"http"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`

	Workflow WorkflowConfig `mapstructure:"workflow"`

	NATS struct {
		URL    string `mapstructure:"url"`
		Bucket string `mapstructure:"bucket"`
	} `mapstructure:"nats"`

	Auth struct {
		Issuer             string `mapstructure:"issuer"`
		Audience           string `mapstructure:"audience"`
		OrganizationsClaim string `mapstructure:"organizations_claim"`
	} `mapstructure:"auth"`

	Log LogConfig `mapstructure:"log"`

	Tracing TracingConfig `mapstructure:"tracing"`

	MCP struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"mcp"`
}

// WorkflowConfig configures the client for the remote workflow engine.
type WorkflowConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	TokenURL     string        `mapstructure:"token_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scopes       []string      `mapstructure:"scopes"`
	Breaker      struct {
		MaxFailures uint32        `mapstructure:"max_failures"`
		Timeout     time.Duration `mapstructure:"timeout"`
		Interval    time.Duration `mapstructure:"interval"`
	} `mapstructure:"breaker"`
}

// TracingConfig selects the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output is stdout, stderr or a file path.
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DSN returns the Postgres connection string for the db section.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path searches ./config.yaml and ./config/config.yaml; a missing
// file is not an error since every key has a default.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("PIPELINES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)
	config.Workflow.URL = strings.TrimRight(strings.TrimSpace(config.Workflow.URL), "/")

	return &config, nil
}

// Validate reports configuration that would leave the service unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Workflow.URL == "" {
		errs = append(errs, errors.New("workflow.url is required"))
	}
	if c.Workflow.Timeout <= 0 {
		errs = append(errs, errors.New("workflow.timeout must be positive"))
	}
	if c.Workflow.TokenURL != "" && c.Workflow.ClientID == "" {
		errs = append(errs, errors.New("workflow.client_id is required with workflow.token_url"))
	}
	if c.NATS.Bucket == "" {
		errs = append(errs, errors.New("nats.bucket is required"))
	}
	if c.Auth.Issuer == "" && !(c.IsDev() && c.DevModeBypass) {
		errs = append(errs, errors.New("auth.issuer is required outside DEV bypass mode"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("dev_mode_bypass", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 5*time.Minute)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_upload_bytes", int64(1<<30))

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "pipelines")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)

	v.SetDefault("workflow.url", "http://localhost:8000")
	v.SetDefault("workflow.timeout", 30*time.Second)
	v.SetDefault("workflow.token_url", "")
	v.SetDefault("workflow.client_id", "")
	v.SetDefault("workflow.client_secret", "")
	v.SetDefault("workflow.scopes", []string{})
	v.SetDefault("workflow.breaker.max_failures", 5)
	v.SetDefault("workflow.breaker.timeout", 30*time.Second)
	v.SetDefault("workflow.breaker.interval", time.Minute)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.bucket", "pipeline-input-files")

	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.organizations_claim", "organizations")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")

	v.SetDefault("mcp.enabled", true)
}

// normalizeIssuer strips a trailing slash so a URL pasted from an identity
// provider console matches the iss claim.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
