package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                    string        `mapstructure:"PORT"`
	Env                     string        `mapstructure:"ENV"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL                string        `mapstructure:"REDIS_URL"`
	InstanceID              string        `mapstructure:"INSTANCE_ID"`
	AuthIssuer              string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL             string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience            string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey          string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins             []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS            float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst          int           `mapstructure:"RATE_LIMIT_BURST"`
	MediaStore              string        `mapstructure:"MEDIA_STORE"`
	MediaBucket             string        `mapstructure:"MEDIA_BUCKET"`
	AWSRegion               string        `mapstructure:"AWS_REGION"`
	MediaMaxBytes           int64         `mapstructure:"MEDIA_MAX_BYTES"`
	UnreadReconcileInterval time.Duration `mapstructure:"UNREAD_RECONCILE_INTERVAL"`
	MigrationsDir           string        `mapstructure:"MIGRATIONS_DIR"`
	AppointmentTimezone     string        `mapstructure:"APPOINTMENT_TIMEZONE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"INSTANCE_ID", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "MEDIA_STORE", "MEDIA_BUCKET",
	"AWS_REGION", "MEDIA_MAX_BYTES", "UNREAD_RECONCILE_INTERVAL", "MIGRATIONS_DIR",
	"APPOINTMENT_TIMEZONE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:8081")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("MEDIA_STORE", "memory")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("MEDIA_MAX_BYTES", 25<<20)
	v.SetDefault("UNREAD_RECONCILE_INTERVAL", "10m")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("APPOINTMENT_TIMEZONE", "UTC")

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

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests are authenticated from the X-User-ID header.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthMode returns "external" when a JWKS issuer is configured, "hmac" when a
// shared signing key is configured and "development" otherwise.
func (c *Config) AuthMode() string {
	switch {
	case c.AuthIssuer != "":
		return "external"
	case c.AuthSigningKey != "":
		return "hmac"
	default:
		return "development"
	}
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set when ENV=production")
		}
		if c.AuthSigningKey != "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is not allowed when ENV=production")
		}
	}
	if !c.IsDev() && c.AuthMode() == "development" {
		return fmt.Errorf("authentication is not configured for ENV=%q: set AUTH_ISSUER or AUTH_SIGNING_KEY", c.Env)
	}

	switch c.MediaStore {
	case "memory":
	case "s3":
		if c.MediaBucket == "" {
			return fmt.Errorf("MEDIA_BUCKET is required when MEDIA_STORE is \"s3\"")
		}
	default:
		return fmt.Errorf("MEDIA_STORE must be \"memory\" or \"s3\", got %q", c.MediaStore)
	}

	if c.MediaMaxBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_BYTES must be positive, got %d", c.MediaMaxBytes)
	}
	if c.UnreadReconcileInterval <= 0 {
		return fmt.Errorf("UNREAD_RECONCILE_INTERVAL must be positive, got %s", c.UnreadReconcileInterval)
	}
	if _, err := c.AppointmentLocation(); err != nil {
		return err
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// AppointmentLocation is the zone appointment dates and times are written in.
func (c *Config) AppointmentLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.AppointmentTimezone)
	if err != nil {
		return nil, fmt.Errorf("APPOINTMENT_TIMEZONE %q: %w", c.AppointmentTimezone, err)
	}
	return loc, nil
}
