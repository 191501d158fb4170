package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort        = 8080
	defaultAccessCode  = "PIVOT2025"
	defaultGeminiModel = "gemini-2.0-flash"
	defaultSQLitePath  = "careerpivot.db"
	defaultMaxUploadMB = 10
	defaultRatePerMin  = 10
)

type StoreConfig struct {
	Driver           string `yaml:"driver"` // memory, sqlite or postgres
	SQLitePath       string `yaml:"sqlite_path"`
	DBURL            string `yaml:"db_url"`
	SeedDemoAccounts bool   `yaml:"seed_demo_accounts"`
}

// Config is read from an optional YAML file and then overridden by the
// environment (and .env through godotenv).
type Config struct {
	Port               int         `yaml:"port"`
	AccessCode         string      `yaml:"access_code"`
	GoogleAPIKey       string      `yaml:"google_api_key"`
	GeminiModel        string      `yaml:"gemini_model"`
	Store              StoreConfig `yaml:"store"`
	R2                 R2Config    `yaml:"r2"`
	RabbitMQURL        string      `yaml:"rabbitmq_url"`
	MaxUploadMB        int64       `yaml:"max_upload_mb"`
	RateLimitPerMinute int         `yaml:"rate_limit_per_minute"`
	LogLevel           string      `yaml:"log_level"`
	LogFormat          string      `yaml:"log_format"`
}

func defaultConfig() Config {
	return Config{
		Port:        defaultPort,
		AccessCode:  defaultAccessCode,
		GeminiModel: defaultGeminiModel,
		Store: StoreConfig{
			Driver:     "memory",
			SQLitePath: defaultSQLitePath,
		},
		MaxUploadMB:        defaultMaxUploadMB,
		RateLimitPerMinute: defaultRatePerMin,
		LogLevel:           "info",
		LogFormat:          "auto",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("ACCESS_CODE", &c.AccessCode)
	envString("GOOGLE_API_KEY", &c.GoogleAPIKey)
	envString("GEMINI_API_KEY", &c.GoogleAPIKey)
	envString("GEMINI_MODEL", &c.GeminiModel)
	envString("STORE_DRIVER", &c.Store.Driver)
	envString("SQLITE_PATH", &c.Store.SQLitePath)
	envString("DB_URL", &c.Store.DBURL)
	envString("R2_ACCCOUNT_ID", &c.R2.AccountID)
	envString("R2_ACCOUNT_ID", &c.R2.AccountID)
	envString("R2_BUCKET", &c.R2.Bucket)
	envString("R2_ACCESS_KEY", &c.R2.AccessKey)
	envString("R2_SECRET_KEY", &c.R2.SecretKey)
	envString("RABBITMQ_URL", &c.RabbitMQURL)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)

	if err := envInt("PORT", &c.Port); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute); err != nil {
		return err
	}
	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_MB: %w", err)
		}
		c.MaxUploadMB = n
	}
	if v := os.Getenv("SEED_DEMO_ACCOUNTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SEED_DEMO_ACCOUNTS: %w", err)
		}
		c.Store.SeedDemoAccounts = b
	}
	return nil
}

// validate checks the config. requireAI is false for commands that never
// call the model.
func (c Config) validate(requireAI bool) error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if c.AccessCode == "" {
		errs = append(errs, errors.New("empty ACCESS_CODE"))
	}
	if requireAI && c.GoogleAPIKey == "" {
		errs = append(errs, errors.New("empty GOOGLE_API_KEY in env"))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("empty SQLITE_PATH"))
		}
	case "postgres":
		if c.Store.DBURL == "" {
			errs = append(errs, errors.New("empty DB_URL in environment"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}
	if c.R2.partial() {
		errs = append(errs, errors.New("R2 needs R2_ACCOUNT_ID, R2_BUCKET, R2_ACCESS_KEY and R2_SECRET_KEY together"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
