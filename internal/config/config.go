package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Notification NotificationConfig `mapstructure:"notification"`
	Workflows    WorkflowsConfig    `mapstructure:"workflows"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// EngineConfig holds workflow engine configuration
type EngineConfig struct {
	MaxAutoChain        int           `mapstructure:"max_auto_chain"`
	TimeoutPollInterval time.Duration `mapstructure:"timeout_poll_interval"`
}

// NotificationConfig holds notification dispatch configuration
type NotificationConfig struct {
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	Email            EmailConfig   `mapstructure:"email"`
	SMS              SMSConfig     `mapstructure:"sms"`
	Webhook          WebhookConfig `mapstructure:"webhook"`
}

// EmailConfig holds the email channel configuration
type EmailConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	From      string `mapstructure:"from"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// SMSConfig holds the SMS channel configuration
type SMSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// WebhookConfig holds the webhook channel configuration
type WebhookConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	URL            string            `mapstructure:"url"`
	Method         string            `mapstructure:"method"`
	Headers        map[string]string `mapstructure:"headers"`
	AuthToken      string            `mapstructure:"auth_token"`
	SuccessCodes   []int             `mapstructure:"success_codes"`
	RetryableCodes []int             `mapstructure:"retryable_codes"`
	Timeout        time.Duration     `mapstructure:"timeout"`
}

// WorkflowsConfig locates workflow definition files
type WorkflowsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("database.path", "data/stateflow.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("engine.max_auto_chain", 10)
	viper.SetDefault("engine.timeout_poll_interval", 30*time.Second)

	viper.SetDefault("notification.retry_max_attempts", 3)
	viper.SetDefault("notification.retry_base_delay", time.Second)
	viper.SetDefault("notification.retry_max_delay", 30*time.Second)
	viper.SetDefault("notification.webhook.method", "POST")
	viper.SetDefault("notification.webhook.timeout", 10*time.Second)

	viper.SetDefault("workflows.dir", "configs/workflows")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("notification.email.app_id", "LARK_APP_ID")
	viper.BindEnv("notification.email.app_secret", "LARK_APP_SECRET")
	viper.BindEnv("notification.sms.token", "SMS_GATEWAY_TOKEN")
	viper.BindEnv("notification.webhook.auth_token", "WEBHOOK_AUTH_TOKEN")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Notification.Email.Enabled {
		if c.Notification.Email.AppID == "" {
			return fmt.Errorf("notification.email.app_id is required when email is enabled")
		}
		if c.Notification.Email.AppSecret == "" {
			return fmt.Errorf("notification.email.app_secret is required when email is enabled")
		}
	}
	if c.Notification.SMS.Enabled && c.Notification.SMS.Endpoint == "" {
		return fmt.Errorf("notification.sms.endpoint is required when sms is enabled")
	}
	if c.Notification.Webhook.Enabled && c.Notification.Webhook.URL == "" {
		return fmt.Errorf("notification.webhook.url is required when webhook is enabled")
	}
	if c.Workflows.Dir == "" {
		return fmt.Errorf("workflows.dir is required")
	}
	return nil
}
