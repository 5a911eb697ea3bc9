package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	Auth        AuthConfig        `json:"auth" yaml:"auth"`
	Marketplace MarketplaceConfig `json:"marketplace" yaml:"marketplace"`
	Payment     PaymentConfig     `json:"payment" yaml:"payment"`
	Redis       RedisConfig       `json:"redis" yaml:"redis"`
	RateLimit   RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// ServerConfig contains server related configurations
type ServerConfig struct {
	Port           int      `json:"port" yaml:"port" env:"SERVER_PORT"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" env:"CORS_ORIGINS"`
}

// DatabaseConfig contains database related configurations
type DatabaseConfig struct {
	Driver       string `json:"driver" yaml:"driver" env:"DB_DRIVER"` // "postgres" or "memory"
	Host         string `json:"host" yaml:"host" env:"DB_HOST"`
	Port         int    `json:"port" yaml:"port" env:"DB_PORT"`
	User         string `json:"user" yaml:"user" env:"DB_USER"`
	Password     string `json:"password" yaml:"password" env:"DB_PASSWORD"`
	Name         string `json:"name" yaml:"name" env:"DB_NAME"`
	SSLMode      string `json:"ssl_mode" yaml:"ssl_mode" env:"DB_SSLMODE"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
}

// DSN returns the lib/pq connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// AuthConfig contains authentication related configurations
type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret" yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTExpiration int    `json:"jwt_expiration" yaml:"jwt_expiration" env:"JWT_EXPIRATION"` // in hours
	Issuer        string `json:"issuer" yaml:"issuer" env:"JWT_ISSUER"`

	// SecretGenerated is set when no secret was configured and a random one
	// was generated for this process. Tokens signed with it die with it.
	SecretGenerated bool `json:"-" yaml:"-"`
}

// MarketplaceConfig contains fee and auction settings
type MarketplaceConfig struct {
	PlatformFeeBps    int64  `json:"platform_fee_bps" yaml:"platform_fee_bps" env:"PLATFORM_FEE_BPS"`
	DefaultRoyaltyBps int64  `json:"default_royalty_bps" yaml:"default_royalty_bps" env:"DEFAULT_ROYALTY_BPS"`
	DefaultCurrency   string `json:"default_currency" yaml:"default_currency" env:"DEFAULT_CURRENCY"`
	SweepInterval     string `json:"sweep_interval" yaml:"sweep_interval" env:"AUCTION_SWEEP_INTERVAL"`
}

// SweepEvery parses the auction sweep interval
func (c MarketplaceConfig) SweepEvery() (time.Duration, error) {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("sweep interval %q: %w", c.SweepInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("sweep interval must be positive, got %s", d)
	}
	return d, nil
}

// PaymentConfig configures verification of payment confirmations
type PaymentConfig struct {
	// VerifierPubKey is the hex x-only public key of the payment provider.
	// Confirmations are trusted without a signature when it is empty.
	VerifierPubKey string `json:"verifier_pubkey" yaml:"verifier_pubkey" env:"PAYMENT_PUBKEY"`
}

// RedisConfig configures event publication. Disabled when Addr is empty.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Password string `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"REDIS_DB"`
	Channel  string `json:"channel" yaml:"channel" env:"REDIS_CHANNEL"`
}

// RateLimitConfig configures per-caller request limits
type RateLimitConfig struct {
	RequestsPerSecond int `json:"requests_per_second" yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int `json:"burst" yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Development bool   `json:"development" yaml:"development" env:"LOG_DEVELOPMENT"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         5432,
			Name:         "nftledger",
			SSLMode:      "disable",
			MaxOpenConns: 25,
		},
		Auth: AuthConfig{
			JWTExpiration: 24,
			Issuer:        "nftledger",
		},
		Marketplace: MarketplaceConfig{
			PlatformFeeBps:    250,
			DefaultRoyaltyBps: 1000,
			DefaultCurrency:   "AETH",
			SweepInterval:     "30s",
		},
		Redis: RedisConfig{
			Channel: "nftledger.events",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads the configuration from .env, the config file and the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// Look for config file
	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = filepath.Join("configs", "config.json")
	}

	return LoadFromPath(configFile)
}

// LoadFromPath loads defaults, then path if it exists, then environment overrides
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// Override with environment variables if present
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		// Generate a random JWT secret if not provided
		randomBytes := make([]byte, 32)
		if _, err := rand.Read(randomBytes); err != nil {
			return nil, err
		}
		cfg.Auth.JWTSecret = base64.StdEncoding.EncodeToString(randomBytes)
		cfg.Auth.SecretGenerated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail at runtime
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	fee := c.Marketplace.PlatformFeeBps
	if fee < 0 || fee > 10000 {
		return fmt.Errorf("platform fee must be within 0..10000 bps, got %d", fee)
	}
	royalty := c.Marketplace.DefaultRoyaltyBps
	if royalty < 0 || royalty+fee > 10000 {
		return fmt.Errorf("default royalty %d bps plus platform fee %d bps exceeds 100%%", royalty, fee)
	}

	if _, err := c.Marketplace.SweepEvery(); err != nil {
		return err
	}

	return nil
}
