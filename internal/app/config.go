package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/pricing"
	"github.com/xenking/kart-orders/internal/domain/shipment"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, a .env file or YAML config
// files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `default:"redis://localhost:6379/0" usage:"Redis URL for anonymous carts and rate limits" flag:"redis-url"`
	Auth        AuthConfig
	Kafka       KafkaConfig
	Pricing     PricingConfig
	Stripe      StripeConfig
	Razorpay    RazorpayConfig
	Carrier     CarrierConfig
	AnonCart    AnonCartConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// AuthConfig holds the bearer token signing secret.
type AuthConfig struct {
	JWTSecret string `usage:"HMAC secret for bearer tokens" flag:"jwt-secret"`
}

// KafkaConfig selects where order events go. Events are dropped when no
// brokers are configured.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"kart.orders" usage:"Topic for order lifecycle events"`
}

// PricingConfig is the shipping policy.
type PricingConfig struct {
	FreeShippingThreshold float64 `default:"999" usage:"Subtotal from which shipping is free"`
	FlatShippingFee       float64 `default:"99" usage:"Shipping fee below the threshold"`
}

// StripeConfig enables the card gateway when SecretKey is set.
type StripeConfig struct {
	SecretKey string `usage:"Stripe secret key"`
	Currency  string `default:"inr" usage:"Charge currency"`
}

// RazorpayConfig enables the webhook confirmed gateway when the key pair is
// set.
type RazorpayConfig struct {
	KeyID         string `usage:"Razorpay key id"`
	KeySecret     string `usage:"Razorpay key secret"`
	WebhookSecret string `usage:"Secret the Razorpay webhook body is signed with"`
	Currency      string `default:"INR" usage:"Order currency"`
}

// CarrierConfig enables shipment booking when BaseURL and Token are set.
type CarrierConfig struct {
	BaseURL        string        `default:"https://track.delhivery.com" usage:"Carrier API base URL"`
	Token          string        `usage:"Carrier API token"`
	Timeout        time.Duration `default:"15s" usage:"Carrier request timeout"`
	PickupLocation string        `usage:"Registered pickup location name"`
	DefaultCourier string        `default:"Delhivery" usage:"Courier name when the carrier reply has none"`
	WeightKg       float64       `default:"0.5" usage:"Default parcel weight in kg"`
	LengthCm       float64       `default:"30" usage:"Default parcel length in cm"`
	BreadthCm      float64       `default:"25" usage:"Default parcel breadth in cm"`
	HeightCm       float64       `default:"5" usage:"Default parcel height in cm"`
}

// AnonCartConfig controls anonymous cart retention.
type AnonCartConfig struct {
	TTL time.Duration `default:"168h" usage:"Idle time after which an anonymous cart expires"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from a .env file, environment variables and
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required: set KART_AUTH_JWT_SECRET")
	}
	if c.Razorpay.KeyID != "" && c.Razorpay.WebhookSecret == "" {
		return errors.New("razorpay webhook secret is required when razorpay is enabled")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "redis://localhost:6379/0" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c PricingConfig) engine() pricing.Config {
	return pricing.Config{
		FreeShippingThreshold: decimal.NewFromFloat(c.FreeShippingThreshold),
		FlatShippingFee:       decimal.NewFromFloat(c.FlatShippingFee),
	}
}

func (c CarrierConfig) enabled() bool { return c.BaseURL != "" && c.Token != "" }

func (c CarrierConfig) shipment() shipment.Config {
	return shipment.Config{
		PickupLocation: c.PickupLocation,
		DefaultCourier: c.DefaultCourier,
		WeightKg:       decimal.NewFromFloat(c.WeightKg),
		Length:         decimal.NewFromFloat(c.LengthCm),
		Breadth:        decimal.NewFromFloat(c.BreadthCm),
		Height:         decimal.NewFromFloat(c.HeightCm),
	}
}
