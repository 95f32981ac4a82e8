package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/waste")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 7090, cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSAllowedOrigins)
	assert.Equal(t, "50", cfg.Pricing.FallbackRate.String())
	assert.Equal(t, "0.01", cfg.Pricing.Epsilon.String())
	assert.Equal(t, "lkr", cfg.Pricing.Currency)
	assert.Equal(t, 30*time.Second, cfg.Pricing.RulesRefresh)
	assert.Equal(t, []string{"PENDING", "SCHEDULED"}, cfg.Requests.EditableStatuses)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/waste")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("PRICING_FALLBACK_RATE", "0")
	t.Setenv("PRICING_EPSILON", "0.5")
	t.Setenv("PRICING_CURRENCY", " USD ")
	t.Setenv("REQUESTS_EDITABLE_STATUSES", "PENDING, ,DRAFT")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Pricing.FallbackRate.IsZero())
	assert.Equal(t, "0.5", cfg.Pricing.Epsilon.String())
	assert.Equal(t, "usd", cfg.Pricing.Currency)
	assert.Equal(t, []string{"PENDING", "DRAFT"}, cfg.Requests.EditableStatuses)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.CORSAllowedOrigins)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{name: "missing dsn", env: map[string]string{"JWT_ACCESS_SECRET": "s"}, msg: "DB_DSN"},
		{name: "missing secret", env: map[string]string{"DB_DSN": "dsn"}, msg: "JWT_ACCESS_SECRET"},
		{
			name: "negative fallback",
			env:  map[string]string{"DB_DSN": "dsn", "JWT_ACCESS_SECRET": "s", "PRICING_FALLBACK_RATE": "-1"},
			msg:  "PRICING_FALLBACK_RATE",
		},
		{
			name: "malformed epsilon",
			env:  map[string]string{"DB_DSN": "dsn", "JWT_ACCESS_SECRET": "s", "PRICING_EPSILON": "abc"},
			msg:  "PRICING_EPSILON",
		},
		{
			name: "stripe without urls",
			env:  map[string]string{"DB_DSN": "dsn", "JWT_ACCESS_SECRET": "s", "STRIPE_SECRET_KEY": "sk_test"},
			msg:  "STRIPE_SUCCESS_URL",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DB_DSN", "")
			t.Setenv("JWT_ACCESS_SECRET", "")
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}
