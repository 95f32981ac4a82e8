package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

type AuthConfig struct {
	AccessSecret string
}

type PricingConfig struct {
	FallbackRate decimal.Decimal
	Epsilon      decimal.Decimal
	Currency     string
	RulesFile    string
	RulesRefresh time.Duration
}

type RequestsConfig struct {
	EditableStatuses []string
}

type StripeConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Pricing     PricingConfig
	Requests    RequestsConfig
	Stripe      StripeConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.AutomaticEnv()

	v.SetDefault("PRICING_FALLBACK_RATE", "50")
	v.SetDefault("PRICING_EPSILON", "0.01")
	v.SetDefault("PRICING_CURRENCY", "lkr")
	v.SetDefault("PRICING_RULES_REFRESH", "30s")

	_ = v.ReadInConfig()

	fallbackRate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("PRICING_FALLBACK_RATE")))
	if err != nil {
		return nil, fmt.Errorf("PRICING_FALLBACK_RATE: %w", err)
	}
	epsilon, err := decimal.NewFromString(strings.TrimSpace(v.GetString("PRICING_EPSILON")))
	if err != nil {
		return nil, fmt.Errorf("PRICING_EPSILON: %w", err)
	}
	refresh, err := time.ParseDuration(strings.TrimSpace(v.GetString("PRICING_RULES_REFRESH")))
	if err != nil {
		return nil, fmt.Errorf("PRICING_RULES_REFRESH: %w", err)
	}

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host:               v.GetString("HTTP_HOST"),
			Port:               v.GetInt("HTTP_PORT"),
			CORSAllowedOrigins: parseList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetString("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Pricing: PricingConfig{
			FallbackRate: fallbackRate,
			Epsilon:      epsilon,
			Currency:     strings.ToLower(strings.TrimSpace(v.GetString("PRICING_CURRENCY"))),
			RulesFile:    v.GetString("PRICING_RULES_FILE"),
			RulesRefresh: refresh,
		},
		Requests: RequestsConfig{
			EditableStatuses: parseList(v.GetString("REQUESTS_EDITABLE_STATUSES")),
		},
		Stripe: StripeConfig{
			SecretKey:  v.GetString("STRIPE_SECRET_KEY"),
			SuccessURL: v.GetString("STRIPE_SUCCESS_URL"),
			CancelURL:  v.GetString("STRIPE_CANCEL_URL"),
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7090
	}
	if len(cfg.HTTP.CORSAllowedOrigins) == 0 {
		cfg.HTTP.CORSAllowedOrigins = []string{"*"}
	}
	if len(cfg.Requests.EditableStatuses) == 0 {
		cfg.Requests.EditableStatuses = []string{"PENDING", "SCHEDULED"}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Pricing.FallbackRate.IsNegative() {
		return fmt.Errorf("PRICING_FALLBACK_RATE must not be negative")
	}
	if cfg.Pricing.Epsilon.IsNegative() {
		return fmt.Errorf("PRICING_EPSILON must not be negative")
	}
	if cfg.Pricing.RulesRefresh <= 0 {
		return fmt.Errorf("PRICING_RULES_REFRESH must be positive")
	}
	if cfg.Stripe.SecretKey != "" && (cfg.Stripe.SuccessURL == "" || cfg.Stripe.CancelURL == "") {
		return fmt.Errorf("STRIPE_SUCCESS_URL and STRIPE_CANCEL_URL are required when STRIPE_SECRET_KEY is set")
	}
	return nil
}

func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}
