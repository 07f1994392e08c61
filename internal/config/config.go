package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	AppURL         string   `mapstructure:"APP_URL"`
	AppTimezone    string   `mapstructure:"APP_TIMEZONE"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AMQPURL        string   `mapstructure:"AMQP_URL"`
	NotifyQueue    string   `mapstructure:"NOTIFY_QUEUE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	RequestTimeoutSeconds int `mapstructure:"REQUEST_TIMEOUT_SECONDS"`

	// Session provider. Access tokens are HS256 JWTs signed with the
	// project secret; AuthURL/AuthAnonKey are used for the code exchange.
	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AuthURL       string `mapstructure:"AUTH_URL"`
	AuthAnonKey   string `mapstructure:"AUTH_ANON_KEY"`
	AuthCookie    string `mapstructure:"AUTH_COOKIE"`

	RazorpayKeyID         string `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `mapstructure:"RAZORPAY_KEY_SECRET"`
	GatewayTimeoutSeconds int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	GatewayMaxRetries     int    `mapstructure:"GATEWAY_MAX_RETRIES"`

	TwilioAccountSID   string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber   string `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioWhatsAppFrom string `mapstructure:"TWILIO_WHATSAPP_FROM"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`
}

var keys = []string{
	"PORT", "ENV", "APP_URL", "APP_TIMEZONE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AMQP_URL", "NOTIFY_QUEUE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT_SECONDS",
	"AUTH_JWT_SECRET", "AUTH_URL", "AUTH_ANON_KEY", "AUTH_COOKIE",
	"RAZORPAY_KEY_ID", "RAZORPAY_KEY_SECRET", "GATEWAY_TIMEOUT_SECONDS", "GATEWAY_MAX_RETRIES",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "TWILIO_WHATSAPP_FROM",
	"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL",
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("APP_URL", "http://localhost:3000")
	v.SetDefault("APP_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("NOTIFY_QUEUE", "medibook_notifications")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("AUTH_COOKIE", "sb-access-token")
	v.SetDefault("GATEWAY_TIMEOUT_SECONDS", 10)
	v.SetDefault("GATEWAY_MAX_RETRIES", 3)
	v.SetDefault("MINIO_BUCKET", "prescriptions")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.RazorpayKeySecret == "" {
		log.Println("WARNING: RAZORPAY_KEY_SECRET is empty; payment verification will reject every callback.")
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

func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) GatewayTimeout() time.Duration {
	if c.GatewayTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// Location returns the zone used to interpret appointment dates and
// wall-clock times. Falls back to UTC if the zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.AppTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run. Outside
// development every secret that gates identity or money must be present.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\", \"staging\", or \"production\", got %q", c.Env)
	}
	if c.IsDev() {
		return nil
	}
	if c.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required when ENV=%s", c.Env)
	}
	if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
		return fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required when ENV=%s", c.Env)
	}
	if c.GatewayMaxRetries < 0 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES must not be negative")
	}
	if c.IsProduction() && !strings.HasPrefix(c.AppURL, "https://") {
		return fmt.Errorf("APP_URL must use https in production, got %q", c.AppURL)
	}
	return nil
}
