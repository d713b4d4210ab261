package config

import (
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// Shared secret for internal (service-to-service) endpoints.
	InternalAPIKey string

	// Currency applied to lazily created billing accounts.
	Currency string

	// Base URL used to build invite links returned by the summary endpoint.
	SiteURL string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	XorPay XorPayConfig
	Alipay AlipayConfig
}

// XorPayConfig configures the XorPay payment provider adapter.
type XorPayConfig struct {
	AID       string
	AppSecret string
	NotifyURL string
	BaseURL   string
}

// AlipayConfig configures the Alipay payment provider adapter.
type AlipayConfig struct {
	AppID           string
	AlipayPublicKey string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "tally"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		InternalAPIKey: strings.TrimSpace(getenv("INTERNAL_API_KEY", "")),
		Currency:       strings.ToUpper(getenv("LEDGER_CURRENCY", "CNY")),
		SiteURL:        strings.TrimRight(getenv("SITE_URL", ""), "/"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tally"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		XorPay: XorPayConfig{
			AID:       strings.TrimSpace(getenv("XORPAY_AID", "")),
			AppSecret: strings.TrimSpace(getenv("XORPAY_APP_SECRET", "")),
			NotifyURL: strings.TrimSpace(getenv("XORPAY_NOTIFY_URL", "")),
			BaseURL:   strings.TrimRight(getenv("XORPAY_BASE_URL", "https://xorpay.com"), "/"),
		},
		Alipay: AlipayConfig{
			AppID:           strings.TrimSpace(getenv("ALIPAY_APP_ID", "")),
			AlipayPublicKey: getenv("ALIPAY_PUBLIC_KEY", ""),
		},
	}
}
