package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppSettings    `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Security SecurityConfig `mapstructure:"security"`
}

type AppSettings struct {
	Name         string `mapstructure:"name"`
	CanonicalURL string `mapstructure:"canonical_url"`
}

type ServerConfig struct {
	ListenIP   string `mapstructure:"listen_ip"`
	ListenPort int    `mapstructure:"listen_port"`
	// Secure marks cookies Secure and turns on CSRF origin checks for HTTPS.
	Secure bool `mapstructure:"secure"`
}

type SessionConfig struct {
	Key string `mapstructure:"key"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 or pgx
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// ViewTTLSeconds bounds how long a cached pet list may be served.
	ViewTTLSeconds int `mapstructure:"view_ttl_seconds"`
}

type PaymentConfig struct {
	StripeSecretKey string `mapstructure:"stripe_secret_key"`
	PriceID         string `mapstructure:"price_id"`
	WebhookSecret   string `mapstructure:"webhook_secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecurityConfig struct {
	BcryptCost    int      `mapstructure:"bcrypt_cost"`
	SignupCaptcha bool     `mapstructure:"signup_captcha"`
	CORSOrigins   []string `mapstructure:"cors_origins"`
	// TrustProxyHeaders takes the client IP from X-Forwarded-For/X-Real-IP.
	// Only enable it behind a reverse proxy that overwrites those headers.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

const placeholderKey = "CHANGE_ME_IN_PRODUCTION"

var AppConfig Config

// LoadConfig reads path (or config.yaml from the usual places when path is
// empty), applies environment overrides and stores the result in AppConfig.
func LoadConfig(path string) error {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("PETSOFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the hosted deployment, kept unprefixed.
	_ = v.BindEnv("payment.stripe_secret_key", "PETSOFT_PAYMENT_STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY")
	_ = v.BindEnv("payment.price_id", "PETSOFT_PAYMENT_PRICE_ID", "STRIPE_PRICE_KEY")
	_ = v.BindEnv("payment.webhook_secret", "PETSOFT_PAYMENT_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET")
	_ = v.BindEnv("app.canonical_url", "PETSOFT_APP_CANONICAL_URL", "CANONICAL_URL")
	_ = v.BindEnv("session.key", "PETSOFT_SESSION_KEY")
	_ = v.BindEnv("database.dsn", "PETSOFT_DATABASE_DSN", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Session.Key == "" || cfg.Session.Key == placeholderKey {
		log.Println("WARNING: No session key configured. Generating a random key. Sessions will be invalidated on restart.")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		cfg.Session.Key = hex.EncodeToString(randomKey)
	}

	cfg.App.CanonicalURL = strings.TrimRight(cfg.App.CanonicalURL, "/")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	AppConfig = cfg
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "PetSoft")
	v.SetDefault("app.canonical_url", "http://localhost:8080")
	v.SetDefault("server.listen_ip", "0.0.0.0")
	v.SetDefault("server.listen_port", 8080)
	v.SetDefault("server.secure", false)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./petsoft.db")
	v.SetDefault("redis.view_ttl_seconds", 300)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("security.bcrypt_cost", 10)
	v.SetDefault("security.signup_captcha", false)
	v.SetDefault("security.trust_proxy_headers", false)
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or pgx, got %q", c.Database.Driver)
	}
	if c.Server.ListenPort <= 0 || c.Server.ListenPort > 65535 {
		return fmt.Errorf("server.listen_port out of range: %d", c.Server.ListenPort)
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		return fmt.Errorf("security.bcrypt_cost out of range: %d", c.Security.BcryptCost)
	}
	return nil
}

// Warnings lists settings that let the server start but leave a feature
// unusable or unsafe.
func (c Config) Warnings() []string {
	var out []string
	if c.Payment.StripeSecretKey == "" {
		out = append(out, "payment.stripe_secret_key is empty: checkout will fail")
	}
	if c.Payment.WebhookSecret == "" {
		out = append(out, "payment.webhook_secret is empty: the Stripe webhook is disabled and no payment can grant access")
	}
	return out
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.ListenIP, c.Server.ListenPort)
}
