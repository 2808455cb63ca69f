package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/erp/mabang/internal/mabang"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Mabang    MabangConfig
	Log       LogConfig
	Templates TemplateConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// MabangConfig holds the web-client account and endpoint settings
type MabangConfig struct {
	Username       string
	Password       string
	BusinessNumber string
	UserID         string
	PrimaryBaseURL string
	AuxBaseURL     string
	VotoboBaseURL  string
	BiaojuBaseURL  string
	Timeout        time.Duration
	SessionTTL     time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// TemplateConfig holds ids of the import templates and shops the order
// uploads target
type TemplateConfig struct {
	OrderTemplateID string
	ShopID          string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with MABANG_ prefix (e.g., MABANG_MABANG_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.mabang")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("MABANG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Mabang: MabangConfig{
			Username:       v.GetString("mabang.username"),
			Password:       v.GetString("mabang.password"),
			BusinessNumber: v.GetString("mabang.business_number"),
			UserID:         v.GetString("mabang.user_id"),
			PrimaryBaseURL: v.GetString("mabang.primary_base_url"),
			AuxBaseURL:     v.GetString("mabang.aux_base_url"),
			VotoboBaseURL:  v.GetString("mabang.votobo_base_url"),
			BiaojuBaseURL:  v.GetString("mabang.biaoju_base_url"),
			Timeout:        v.GetDuration("mabang.timeout"),
			SessionTTL:     v.GetDuration("mabang.session_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Templates: TemplateConfig{
			OrderTemplateID: v.GetString("templates.order_template_id"),
			ShopID:          v.GetString("templates.shop_id"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "mabang-client"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Mabang.Username == "" {
		return fmt.Errorf("mabang.username is required")
	}
	if c.Mabang.Password == "" {
		return fmt.Errorf("mabang.password is required")
	}
	if c.Mabang.BusinessNumber == "" {
		return fmt.Errorf("mabang.business_number is required")
	}
	if c.Mabang.UserID == "" {
		return fmt.Errorf("mabang.user_id is required")
	}
	return nil
}

// ClientConfig maps the loaded settings onto the web-client configuration
func (c *Config) ClientConfig() mabang.Config {
	return mabang.Config{
		Username:       c.Mabang.Username,
		Password:       c.Mabang.Password,
		BusinessNumber: c.Mabang.BusinessNumber,
		UserID:         c.Mabang.UserID,
		PrimaryBaseURL: c.Mabang.PrimaryBaseURL,
		AuxBaseURL:     c.Mabang.AuxBaseURL,
		VotoboBaseURL:  c.Mabang.VotoboBaseURL,
		BiaojuBaseURL:  c.Mabang.BiaojuBaseURL,
		TimeoutSeconds: int(c.Mabang.Timeout / time.Second),
		SessionTTL:     c.Mabang.SessionTTL,
	}
}
