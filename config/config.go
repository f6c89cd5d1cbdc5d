package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds application configuration loaded from environment.
type Config struct {
	App         AppConfig         `env:",prefix=APP_"`
	Server      ServerConfig      `env:",prefix=SERVER_"`
	Database    DatabaseConfig    `env:",prefix=DB_"`
	Redis       RedisConfig       `env:",prefix=REDIS_"`
	JWT         JWTConfig         `env:",prefix=JWT_"`
	QR          QRConfig          `env:",prefix=QR_"`
	Attribution AttributionConfig `env:",prefix=ATTRIBUTION_"`
	AWS         AWSConfig         `env:",prefix=AWS_"`
	Kafka       KafkaConfig       `env:",prefix=KAFKA_"`
	Tracing     TracingConfig     `env:",prefix=TRACING_"`
	Rate        RateConfig        `env:",prefix=RATE_"`
	Worker      WorkerConfig      `env:",prefix=WORKER_"`
}

// AppConfig holds application-wide settings.
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	Debug       bool   `env:"DEBUG,default=false"`
	PublicURL   string `env:"PUBLIC_URL,default=http://localhost:3000"` // claim landing page host
	NodeID      int64  `env:"NODE_ID,default=1"`                        // snowflake node for reference numbers
}

// IsDevelopment returns true if running in development environment.
func (c AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `env:"PORT,default=8080"`
	ReadTimeout        int    `env:"READ_TIMEOUT_SEC,default=30"`
	WriteTimeout       int    `env:"WRITE_TIMEOUT_SEC,default=30"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"` // comma-separated, or "*"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `env:"URL"` // if set, used as-is
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=coupons"`
	SSLMode  string `env:"SSLMODE,default=disable"`
	MaxConns int32  `env:"MAX_CONNS,default=25"`
	MinConns int32  `env:"MIN_CONNS,default=2"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `env:"ADDR,default=localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB,default=0"`
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string `env:"SECRET,default=change-me-in-production"`
	ExpireHours int    `env:"EXPIRE_HOURS,default=24"`
}

// QRConfig holds the redemption token settings.
type QRConfig struct {
	Secret       string `env:"SECRET"`
	LegacyDigest bool   `env:"LEGACY_DIGEST,default=false"` // also accept unkeyed sha256 digests
}

// AttributionConfig holds the key for referral context tokens. It must differ from JWT_SECRET.
type AttributionConfig struct {
	Secret string `env:"SECRET"`
}

// AWSConfig holds AWS credentials and the bucket for voucher QR images.
type AWSConfig struct {
	Region               string `env:"REGION"`
	AccessKeyID          string `env:"ACCESS_KEY_ID"`
	SecretAccessKey      string `env:"SECRET_ACCESS_KEY"`
	AssetsBucket         string `env:"S3_ASSETS_BUCKET,default=coupon-assets"`
	PresignExpireMinutes int    `env:"PRESIGN_EXPIRE_MINUTES,default=15"`
}

// KafkaConfig holds the domain event producer settings. Empty brokers disables publishing.
type KafkaConfig struct {
	Brokers     string `env:"BROKERS"` // comma-separated
	TopicPrefix string `env:"TOPIC_PREFIX,default=coupons."`
}

// BrokerList splits Brokers.
func (c KafkaConfig) BrokerList() []string {
	return splitTrim(c.Brokers, ",")
}

// TracingConfig holds the Jaeger collector endpoint. Empty disables export.
type TracingConfig struct {
	JaegerEndpoint string `env:"JAEGER_ENDPOINT"`
	ServiceName    string `env:"SERVICE_NAME,default=coupon-api"`
}

// RateConfig limits public attribution routes per client IP.
type RateConfig struct {
	PerSecond float64 `env:"PER_SECOND,default=5"`
	Burst     int     `env:"BURST,default=10"`
}

// WorkerConfig holds background process settings.
type WorkerConfig struct {
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL,default=5m"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	if cfg.QR.Secret == "" {
		if !cfg.App.IsDevelopment() {
			return nil, fmt.Errorf("QR_SECRET is required in %s", cfg.App.Environment)
		}
		cfg.QR.Secret = cfg.JWT.Secret
	}
	if cfg.Attribution.Secret == "" {
		if !cfg.App.IsDevelopment() {
			return nil, fmt.Errorf("ATTRIBUTION_SECRET is required in %s", cfg.App.Environment)
		}
		cfg.Attribution.Secret = cfg.JWT.Secret + ":attribution"
	}
	if cfg.Attribution.Secret == cfg.JWT.Secret {
		return nil, fmt.Errorf("ATTRIBUTION_SECRET must differ from JWT_SECRET")
	}
	return &cfg, nil
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
