// Package config loads the server configuration from a YAML file with
// environment-variable overrides for secrets. A .env file in the working
// directory is picked up automatically.
package config

import (
	"fmt"
	"os"
	"strconv"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors-origins"`
}

// DatabaseConfig holds the database connection string. Both PostgreSQL and
// SQLite DSNs are accepted.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds the task store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt-secret"`
	TokenTTLDays int    `yaml:"token-ttl-days"`
}

// StripeConfig holds the billing integration settings.
type StripeConfig struct {
	SecretKey      string `yaml:"secret-key"`
	WebhookSecret  string `yaml:"webhook-secret"`
	MonthlyPriceID string `yaml:"monthly-price-id"`
	YearlyPriceID  string `yaml:"yearly-price-id"`
	SuccessURL     string `yaml:"success-url"`
	CancelURL      string `yaml:"cancel-url"`
	PortalReturn   string `yaml:"portal-return-url"`
}

// ProvidersConfig carries the upstream vendor credentials.
type ProvidersConfig struct {
	DeepSeekAPIKey string `yaml:"deepseek-api-key"`
	QwenAPIKey     string `yaml:"qwen-api-key"`
	ZhipuAPIKey    string `yaml:"zhipu-api-key"`
	OpenAIAPIKey   string `yaml:"openai-api-key"`
	KimiAPIKey     string `yaml:"kimi-api-key"`
	StepAPIKey     string `yaml:"step-api-key"`

	TencentSecretID  string `yaml:"tencent-secret-id"`
	TencentSecretKey string `yaml:"tencent-secret-key"`
	TencentRegion    string `yaml:"tencent-region"`

	AliyunAccessKeyID     string `yaml:"aliyun-access-key-id"`
	AliyunAccessKeySecret string `yaml:"aliyun-access-key-secret"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads the configuration file at path, fills in environment overrides
// and applies defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, errRead := os.ReadFile(path)
		if errRead != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, errRead)
		}
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("config: database dsn is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("config: auth jwt secret is required")
	}
	return cfg, nil
}

// applyEnv overrides secrets from the environment so they can be kept out of
// the config file.
func (c *Config) applyEnv() {
	setIfPresent(&c.Server.Addr, "SERVER_ADDR")
	setIfPresent(&c.Database.DSN, "DATABASE_DSN")
	setIfPresent(&c.Redis.Addr, "REDIS_ADDR")
	setIfPresent(&c.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, errAtoi := strconv.Atoi(v); errAtoi == nil {
			c.Redis.DB = n
		}
	}
	setIfPresent(&c.Auth.JWTSecret, "JWT_SECRET")
	setIfPresent(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setIfPresent(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setIfPresent(&c.Stripe.MonthlyPriceID, "STRIPE_MONTHLY_PRICE_ID")
	setIfPresent(&c.Stripe.YearlyPriceID, "STRIPE_YEARLY_PRICE_ID")
	setIfPresent(&c.Providers.DeepSeekAPIKey, "DEEPSEEK_API_KEY")
	setIfPresent(&c.Providers.QwenAPIKey, "QWEN_API_KEY")
	setIfPresent(&c.Providers.ZhipuAPIKey, "ZHIPU_API_KEY")
	setIfPresent(&c.Providers.OpenAIAPIKey, "OPENAI_API_KEY")
	setIfPresent(&c.Providers.KimiAPIKey, "KIMI_API_KEY")
	setIfPresent(&c.Providers.StepAPIKey, "STEP_API_KEY")
	setIfPresent(&c.Providers.TencentSecretID, "TENCENT_SECRET_ID")
	setIfPresent(&c.Providers.TencentSecretKey, "TENCENT_SECRET_KEY")
	setIfPresent(&c.Providers.AliyunAccessKeyID, "ALIYUN_ACCESS_KEY_ID")
	setIfPresent(&c.Providers.AliyunAccessKeySecret, "ALIYUN_ACCESS_KEY_SECRET")
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Auth.TokenTTLDays <= 0 {
		c.Auth.TokenTTLDays = 7
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func setIfPresent(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
