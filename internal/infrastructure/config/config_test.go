package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars and restore after tests
	originalEnv := map[string]string{
		"MABANG_APP_NAME":                    os.Getenv("MABANG_APP_NAME"),
		"MABANG_APP_ENV":                     os.Getenv("MABANG_APP_ENV"),
		"MABANG_MABANG_USERNAME":             os.Getenv("MABANG_MABANG_USERNAME"),
		"MABANG_MABANG_PASSWORD":             os.Getenv("MABANG_MABANG_PASSWORD"),
		"MABANG_MABANG_BUSINESS_NUMBER":      os.Getenv("MABANG_MABANG_BUSINESS_NUMBER"),
		"MABANG_MABANG_USER_ID":              os.Getenv("MABANG_MABANG_USER_ID"),
		"MABANG_MABANG_SESSION_TTL":          os.Getenv("MABANG_MABANG_SESSION_TTL"),
		"MABANG_LOG_LEVEL":                   os.Getenv("MABANG_LOG_LEVEL"),
		"MABANG_TEMPLATES_ORDER_TEMPLATE_ID": os.Getenv("MABANG_TEMPLATES_ORDER_TEMPLATE_ID"),
		"MABANG_TEMPLATES_SHOP_ID":           os.Getenv("MABANG_TEMPLATES_SHOP_ID"),
	}
	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()
	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}
	setRequired := func() {
		os.Setenv("MABANG_MABANG_USERNAME", "tester")
		os.Setenv("MABANG_MABANG_PASSWORD", "secret")
		os.Setenv("MABANG_MABANG_BUSINESS_NUMBER", "BN01")
		os.Setenv("MABANG_MABANG_USER_ID", "U01")
	}

	t.Run("defaults applied", func(t *testing.T) {
		clearEnv()
		setRequired()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "mabang-client", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "console", cfg.Log.Format)
		assert.Equal(t, "stdout", cfg.Log.Output)
	})

	t.Run("env overrides", func(t *testing.T) {
		clearEnv()
		setRequired()
		os.Setenv("MABANG_APP_NAME", "mabang-batch")
		os.Setenv("MABANG_LOG_LEVEL", "debug")
		os.Setenv("MABANG_MABANG_SESSION_TTL", "5m")
		os.Setenv("MABANG_TEMPLATES_ORDER_TEMPLATE_ID", "T12")
		os.Setenv("MABANG_TEMPLATES_SHOP_ID", "S34")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "mabang-batch", cfg.App.Name)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 5*time.Minute, cfg.Mabang.SessionTTL)
		assert.Equal(t, "T12", cfg.Templates.OrderTemplateID)
		assert.Equal(t, "S34", cfg.Templates.ShopID)
	})

	t.Run("missing credentials rejected", func(t *testing.T) {
		clearEnv()
		os.Setenv("MABANG_MABANG_USERNAME", "tester")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mabang.password")
	})
}

func TestClientConfig(t *testing.T) {
	cfg := &Config{
		Mabang: MabangConfig{
			Username:       "tester",
			Password:       "secret",
			BusinessNumber: "BN01",
			UserID:         "U01",
			Timeout:        45 * time.Second,
			SessionTTL:     5 * time.Minute,
		},
	}
	cc := cfg.ClientConfig()
	assert.Equal(t, "tester", cc.Username)
	assert.Equal(t, 45, cc.TimeoutSeconds)
	assert.Equal(t, 5*time.Minute, cc.SessionTTL)
	assert.Equal(t, "md_MABANG_ERP_PRIVATE_LOGIN_BN01_U01_M0010806", cc.VotoboKey())
}
