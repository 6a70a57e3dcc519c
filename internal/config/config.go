/**
 * @description
 * This package handles configuration for the settlement service. Values come from
 * environment variables first, then an optional .env file in the given path.
 *
 * @dependencies
 * - github.com/spf13/viper: environment and .env binding.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all the configuration variables for the settlement service.
type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	StoreDriver  string `mapstructure:"STORE_DRIVER"`
	RunMigration bool   `mapstructure:"RUN_MIGRATIONS"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	EventsExchange     string `mapstructure:"EVENTS_EXCHANGE"`
	FeedEventQueue     string `mapstructure:"FEED_EVENT_QUEUE"`
	CheckoutEventQueue string `mapstructure:"CHECKOUT_EVENT_QUEUE"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWKSURL            string `mapstructure:"JWKS_URL"`
	JWTAudience        string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	CheckoutAPIBaseURL    string `mapstructure:"CHECKOUT_API_BASE_URL"`
	CheckoutSecretKey     string `mapstructure:"CHECKOUT_SECRET_KEY"`
	CheckoutWebhookSecret string `mapstructure:"CHECKOUT_WEBHOOK_SECRET"`
	CheckoutCurrency      string `mapstructure:"CHECKOUT_CURRENCY"`
	PublicSiteURL         string `mapstructure:"PUBLIC_SITE_URL"`

	PriceAPIBaseURL      string `mapstructure:"PRICE_API_BASE_URL"`
	PriceAPIKey          string `mapstructure:"PRICE_API_KEY"`
	PriceCacheTTLSeconds int    `mapstructure:"PRICE_CACHE_TTL_SECONDS"`
	PriceFiatCurrency    string `mapstructure:"PRICE_FIAT_CURRENCY"`
	PriceRefreshSchedule string `mapstructure:"PRICE_REFRESH_SCHEDULE"`

	AssetTablePath        string `mapstructure:"ASSET_TABLE_PATH"`
	EVMRPCURL             string `mapstructure:"EVM_RPC_URL"`
	SolanaBridgeURL       string `mapstructure:"SOLANA_BRIDGE_URL"`
	TreasuryEVMAddress    string `mapstructure:"TREASURY_EVM_ADDRESS"`
	TreasurySolanaAddress string `mapstructure:"TREASURY_SOLANA_ADDRESS"`
	TreasuryWalletEnabled bool   `mapstructure:"TREASURY_WALLET_ENABLED"`
	VerifyCryptoDonations bool   `mapstructure:"VERIFY_CRYPTO_DONATIONS"`

	DonationRateLimitPerMinute int    `mapstructure:"DONATION_RATE_LIMIT_PER_MINUTE"`
	ReconcileSchedule          string `mapstructure:"RECONCILE_SCHEDULE"`
}

var keys = []string{
	"SERVER_PORT", "DATABASE_URL", "STORE_DRIVER", "RUN_MIGRATIONS",
	"REDIS_URL", "REDIS_KEY_PREFIX",
	"RABBITMQ_URL", "EVENTS_EXCHANGE", "FEED_EVENT_QUEUE", "CHECKOUT_EVENT_QUEUE",
	"JWT_SECRET", "JWKS_URL", "JWT_AUDIENCE", "JWT_ISSUER", "CORS_ALLOWED_ORIGINS",
	"CHECKOUT_API_BASE_URL", "CHECKOUT_SECRET_KEY", "CHECKOUT_WEBHOOK_SECRET", "CHECKOUT_CURRENCY", "PUBLIC_SITE_URL",
	"PRICE_API_BASE_URL", "PRICE_API_KEY", "PRICE_CACHE_TTL_SECONDS", "PRICE_FIAT_CURRENCY", "PRICE_REFRESH_SCHEDULE",
	"ASSET_TABLE_PATH", "EVM_RPC_URL", "SOLANA_BRIDGE_URL",
	"TREASURY_EVM_ADDRESS", "TREASURY_SOLANA_ADDRESS", "TREASURY_WALLET_ENABLED", "VERIFY_CRYPTO_DONATIONS",
	"DONATION_RATE_LIMIT_PER_MINUTE", "RECONCILE_SCHEDULE",
}

// LoadConfig reads configuration from environment variables and an optional .env in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RUN_MIGRATIONS", false)
	viper.SetDefault("REDIS_KEY_PREFIX", "rapidfund")
	viper.SetDefault("EVENTS_EXCHANGE", "rapidfund.events")
	viper.SetDefault("CHECKOUT_EVENT_QUEUE", "settlement_service.checkout_sessions")
	viper.SetDefault("CHECKOUT_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("CHECKOUT_CURRENCY", "usd")
	viper.SetDefault("PUBLIC_SITE_URL", "http://localhost:5173")
	viper.SetDefault("PRICE_API_BASE_URL", "https://api.coingecko.com")
	viper.SetDefault("PRICE_CACHE_TTL_SECONDS", 60)
	viper.SetDefault("PRICE_FIAT_CURRENCY", "usd")
	viper.SetDefault("PRICE_REFRESH_SCHEDULE", "@every 1m")
	viper.SetDefault("TREASURY_WALLET_ENABLED", false)
	viper.SetDefault("VERIFY_CRYPTO_DONATIONS", true)
	viper.SetDefault("DONATION_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 15m")

	for _, key := range keys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SETTLEMENT_REDIS_URL")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "rapidfund"
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	switch config.StoreDriver {
	case "":
		config.StoreDriver = StoreDriverPostgres
		if config.DatabaseURL == "" {
			config.StoreDriver = StoreDriverMemory
		}
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		log.Printf("level=warn component=config msg=\"unknown STORE_DRIVER; using postgres\" value=%q", config.StoreDriver)
		config.StoreDriver = StoreDriverPostgres
	}

	if strings.TrimSpace(config.EventsExchange) == "" {
		config.EventsExchange = "rapidfund.events"
	}
	config.CheckoutCurrency = strings.ToLower(strings.TrimSpace(config.CheckoutCurrency))
	if config.CheckoutCurrency == "" {
		config.CheckoutCurrency = "usd"
	}
	config.PriceFiatCurrency = strings.ToLower(strings.TrimSpace(config.PriceFiatCurrency))
	if config.PriceFiatCurrency == "" {
		config.PriceFiatCurrency = "usd"
	}
	config.PublicSiteURL = strings.TrimRight(strings.TrimSpace(config.PublicSiteURL), "/")

	if config.PriceCacheTTLSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive price cache ttl; coercing to default\" ttl_seconds=%d", config.PriceCacheTTLSeconds)
		config.PriceCacheTTLSeconds = 60
	}
	if config.DonationRateLimitPerMinute <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive donation rate limit; coercing to default\" limit=%d", config.DonationRateLimitPerMinute)
		config.DonationRateLimitPerMinute = 30
	}
	config.ReconcileSchedule = strings.TrimSpace(config.ReconcileSchedule)
	config.PriceRefreshSchedule = strings.TrimSpace(config.PriceRefreshSchedule)

	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS, defaulting to the public site.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 && c.PublicSiteURL != "" {
		out = append(out, c.PublicSiteURL)
	}
	return out
}
