package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is read once at startup and passed down explicitly.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	DatabaseDSN string
	RedisAddr   string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret         string
	OAuthIssuer       string
	OAuthPublicKeyPEM string

	PublicBaseURL string
	FrontendURL   string
	Currency      string

	Stripe     StripeConfig
	SSLCommerz SSLCommerzConfig
	Pricing    PricingConfig

	GatewayTimeout time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type SSLCommerzConfig struct {
	StoreID       string
	StorePassword string
	Currency      string
	Sandbox       bool
}

// BaseURL returns the SSLCommerz host for the configured environment.
func (c SSLCommerzConfig) BaseURL() string {
	if c.Sandbox {
		return "https://sandbox.sslcommerz.com"
	}
	return "https://securepay.sslcommerz.com"
}

// PricingConfig holds the fallback tax and shipping rules.
type PricingConfig struct {
	DefaultTaxRate        decimal.Decimal // used when a region has no configured rate
	FlatTaxRate           decimal.Decimal // used when no region is supplied at all
	FreeShippingThreshold decimal.Decimal
	FlatShippingCost      decimal.Decimal
	DeliveryBufferDays    int
}

func DefaultPricing() PricingConfig {
	return PricingConfig{
		DefaultTaxRate:        decimal.NewFromInt(5),
		FlatTaxRate:           decimal.NewFromInt(10),
		FreeShippingThreshold: decimal.NewFromInt(50),
		FlatShippingCost:      decimal.RequireFromString("9.99"),
		DeliveryBufferDays:    2,
	}
}

// Load reads the environment and fails if any required key is missing.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Env:               env("ENV", "development"),
		Port:              env("PORT", "8082"),
		LogLevel:          env("LOG_LEVEL", "info"),
		DatabaseDSN:       getenv("DB_DSN"),
		RedisAddr:         env("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:      getKafkaBrokerURLs(getenv("KAFKA_BROKERS")),
		KafkaTopic:        env("KAFKA_TOPIC", "order-topic"),
		JWTSecret:         getenv("JWT_SECRET"),
		OAuthIssuer:       getenv("OAUTH_ISSUER"),
		OAuthPublicKeyPEM: getenv("OAUTH_PUBLIC_KEY_PEM"),
		PublicBaseURL:     strings.TrimRight(getenv("PUBLIC_BASE_URL"), "/"),
		FrontendURL:       strings.TrimRight(getenv("FRONTEND_URL"), "/"),
		Currency:          strings.ToLower(env("CURRENCY", "usd")),
		Stripe: StripeConfig{
			SecretKey:     getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: getenv("STRIPE_WEBHOOK_SECRET"),
		},
		SSLCommerz: SSLCommerzConfig{
			StoreID:       getenv("SSLCOMMERZ_STORE_ID"),
			StorePassword: getenv("SSLCOMMERZ_STORE_PASSWORD"),
			Currency:      strings.ToUpper(env("SSLCOMMERZ_CURRENCY", "BDT")),
		},
		Pricing: DefaultPricing(),
	}

	if cfg.DatabaseDSN == "" && getenv("DB_HOST") != "" {
		cfg.DatabaseDSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
			getenv("DB_USER"), getenv("DB_PASS"), getenv("DB_HOST"), env("DB_PORT", "3306"), getenv("DB_NAME"))
	}

	var errs []error
	required := map[string]string{
		"DB_DSN or DB_HOST":         cfg.DatabaseDSN,
		"JWT_SECRET":                cfg.JWTSecret,
		"STRIPE_SECRET_KEY":         cfg.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET":     cfg.Stripe.WebhookSecret,
		"SSLCOMMERZ_STORE_ID":       cfg.SSLCommerz.StoreID,
		"SSLCOMMERZ_STORE_PASSWORD": cfg.SSLCommerz.StorePassword,
		"PUBLIC_BASE_URL":           cfg.PublicBaseURL,
		"FRONTEND_URL":              cfg.FrontendURL,
	}
	for key, value := range required {
		if value == "" {
			errs = append(errs, fmt.Errorf("missing required config %s", key))
		}
	}
	if (cfg.OAuthIssuer == "") != (cfg.OAuthPublicKeyPEM == "") {
		errs = append(errs, errors.New("OAUTH_ISSUER and OAUTH_PUBLIC_KEY_PEM must be set together"))
	}

	var err error
	if cfg.SSLCommerz.Sandbox, err = strconv.ParseBool(env("SSLCOMMERZ_SANDBOX", "true")); err != nil {
		errs = append(errs, fmt.Errorf("SSLCOMMERZ_SANDBOX: %w", err))
	}
	if cfg.GatewayTimeout, err = time.ParseDuration(env("GATEWAY_TIMEOUT", "15s")); err != nil {
		errs = append(errs, fmt.Errorf("GATEWAY_TIMEOUT: %w", err))
	}

	decimals := []struct {
		key    string
		target *decimal.Decimal
	}{
		{"DEFAULT_TAX_RATE", &cfg.Pricing.DefaultTaxRate},
		{"FLAT_TAX_RATE", &cfg.Pricing.FlatTaxRate},
		{"FREE_SHIPPING_THRESHOLD", &cfg.Pricing.FreeShippingThreshold},
		{"FLAT_SHIPPING_COST", &cfg.Pricing.FlatShippingCost},
	}
	for _, d := range decimals {
		raw := getenv(d.key)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		*d.target = v
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getKafkaBrokerURLs(brokers string) []string {
	if brokers == "" {
		brokers = "localhost:9092,localhost:9093,localhost:9094" // Default brokers
	}
	return strings.Split(brokers, ",")
}
