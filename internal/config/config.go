package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFile     string `mapstructure:"LOG_FILE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	NodeID      int64  `mapstructure:"NODE_ID"`

	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	FrontendURL string   `mapstructure:"FRONTEND_URL"`
	CSRFEnabled bool     `mapstructure:"CSRF_ENABLED"`

	MessageEncryptionKey string `mapstructure:"MESSAGE_ENCRYPTION_KEY"`

	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	SMTPFrom string `mapstructure:"SMTP_FROM"`

	RateLimitWindow    time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitGlobal    int           `mapstructure:"RATE_LIMIT_GLOBAL"`
	RateLimitLogin     int           `mapstructure:"RATE_LIMIT_LOGIN"`
	RateLimitSensitive int           `mapstructure:"RATE_LIMIT_SENSITIVE"`
	RateLimitPost      int           `mapstructure:"RATE_LIMIT_POST"`
	RateLimitAdmin     int           `mapstructure:"RATE_LIMIT_ADMIN"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "LOG_FILE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "NODE_ID",
	"JWT_SECRET", "CORS_ORIGINS", "FRONTEND_URL", "CSRF_ENABLED",
	"MESSAGE_ENCRYPTION_KEY",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_FROM",
	"RATE_LIMIT_WINDOW", "RATE_LIMIT_GLOBAL", "RATE_LIMIT_LOGIN",
	"RATE_LIMIT_SENSITIVE", "RATE_LIMIT_POST", "RATE_LIMIT_ADMIN",
	"REQUEST_TIMEOUT", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("CSRF_ENABLED", true)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_GLOBAL", 1000)
	v.SetDefault("RATE_LIMIT_LOGIN", 50)
	v.SetDefault("RATE_LIMIT_SENSITIVE", 5)
	v.SetDefault("RATE_LIMIT_POST", 20)
	v.SetDefault("RATE_LIMIT_ADMIN", 10)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SMTPConfigured reports whether outbound mail should go through SMTP rather
// than the log sender.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != ""
}

// EncryptionKey decodes MESSAGE_ENCRYPTION_KEY. It returns nil when the key
// is unset.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.MessageEncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.MessageEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("MESSAGE_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MESSAGE_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a signing secret and a message encryption key are mandatory.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
		}
		if c.MessageEncryptionKey == "" {
			return fmt.Errorf("MESSAGE_ENCRYPTION_KEY is required when ENV=%q", c.Env)
		}
	}
	if _, err := c.EncryptionKey(); err != nil {
		return err
	}

	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}
	for name, v := range map[string]int{
		"RATE_LIMIT_GLOBAL":    c.RateLimitGlobal,
		"RATE_LIMIT_LOGIN":     c.RateLimitLogin,
		"RATE_LIMIT_SENSITIVE": c.RateLimitSensitive,
		"RATE_LIMIT_POST":      c.RateLimitPost,
		"RATE_LIMIT_ADMIN":     c.RateLimitAdmin,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("NODE_ID must be between 0 and 1023, got %d", c.NodeID)
	}

	return nil
}
