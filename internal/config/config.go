/**
 * @description
 * Configuration management for the billing service.
 */
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AppBaseURL  string `mapstructure:"APP_BASE_URL"`

	// PublicBaseURL is where gateways reach this service; webhooks are built from it.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	BillingEventsExchange string `mapstructure:"BILLING_EVENTS_EXCHANGE"`
	NotificationQueue     string `mapstructure:"NOTIFICATION_QUEUE"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	JWKSURL        string `mapstructure:"JWKS_URL"`
	JWTAudience    string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer      string `mapstructure:"JWT_ISSUER"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	MercadoPagoAPIBaseURL  string `mapstructure:"MERCADOPAGO_API_BASE_URL"`
	MercadoPagoAccessToken string `mapstructure:"MERCADOPAGO_ACCESS_TOKEN"`
	PagBankAPIBaseURL      string `mapstructure:"PAGBANK_API_BASE_URL"`
	PagBankToken           string `mapstructure:"PAGBANK_TOKEN"`

	ResendAPIBaseURL string `mapstructure:"RESEND_API_BASE_URL"`
	ResendAPIKey     string `mapstructure:"RESEND_API_KEY"`
	EmailFrom        string `mapstructure:"EMAIL_FROM"`

	CardValidationAttemptLimit  int  `mapstructure:"CARD_VALIDATION_ATTEMPT_LIMIT"`
	CardValidationWindowMinutes int  `mapstructure:"CARD_VALIDATION_WINDOW_MINUTES"`
	WebhookRateLimitPerMinute   int  `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
	TrustProxyHeaders           bool `mapstructure:"TRUST_PROXY_HEADERS"`

	PendingPaymentSweepSchedule string `mapstructure:"PENDING_PAYMENT_SWEEP_SCHEDULE"`
	GraceExpirySchedule         string `mapstructure:"GRACE_EXPIRY_SCHEDULE"`
	PendingPaymentMinAgeMinutes int    `mapstructure:"PENDING_PAYMENT_MIN_AGE_MINUTES"`
}

var envKeys = []string{
	"SERVER_PORT",
	"PORT",
	"DATABASE_URL",
	"APP_BASE_URL",
	"PUBLIC_BASE_URL",
	"REDIS_URL",
	"REDIS_RATE_LIMIT_PREFIX",
	"RABBITMQ_URL",
	"BILLING_EVENTS_EXCHANGE",
	"NOTIFICATION_QUEUE",
	"JWT_SECRET",
	"JWKS_URL",
	"JWT_AUDIENCE",
	"JWT_ISSUER",
	"INTERNAL_API_KEY",
	"MERCADOPAGO_API_BASE_URL",
	"MERCADOPAGO_ACCESS_TOKEN",
	"PAGBANK_API_BASE_URL",
	"PAGBANK_TOKEN",
	"RESEND_API_BASE_URL",
	"RESEND_API_KEY",
	"EMAIL_FROM",
	"CARD_VALIDATION_ATTEMPT_LIMIT",
	"CARD_VALIDATION_WINDOW_MINUTES",
	"WEBHOOK_RATE_LIMIT_PER_MINUTE",
	"TRUST_PROXY_HEADERS",
	"PENDING_PAYMENT_SWEEP_SCHEDULE",
	"GRACE_EXPIRY_SCHEDULE",
	"PENDING_PAYMENT_MIN_AGE_MINUTES",
}

// LoadConfig reads configuration from environment variables and an optional
// .env file under path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "billing:rate_limit")
	viper.SetDefault("BILLING_EVENTS_EXCHANGE", "billing.events")
	viper.SetDefault("NOTIFICATION_QUEUE", "billing.notifications")
	viper.SetDefault("MERCADOPAGO_API_BASE_URL", "https://api.mercadopago.com")
	viper.SetDefault("PAGBANK_API_BASE_URL", "https://api.pagseguro.com")
	viper.SetDefault("RESEND_API_BASE_URL", "https://api.resend.com")
	viper.SetDefault("EMAIL_FROM", "Cobranças <cobranca@shopdrive.com.br>")
	viper.SetDefault("CARD_VALIDATION_ATTEMPT_LIMIT", 5)
	viper.SetDefault("CARD_VALIDATION_WINDOW_MINUTES", 60)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("PENDING_PAYMENT_SWEEP_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("GRACE_EXPIRY_SCHEDULE", "15 * * * *")
	viper.SetDefault("PENDING_PAYMENT_MIN_AGE_MINUTES", 10)

	viper.AutomaticEnv()
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if readErr := viper.ReadInConfig(); readErr != nil {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", readErr)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return config, fmt.Errorf("missing required configuration: DATABASE_URL")
	}
	if config.CardValidationWindowMinutes <= 0 {
		return config, fmt.Errorf("CARD_VALIDATION_WINDOW_MINUTES must be positive")
	}
	if config.PendingPaymentMinAgeMinutes < 0 {
		return config, fmt.Errorf("PENDING_PAYMENT_MIN_AGE_MINUTES must not be negative")
	}
	return config, nil
}
