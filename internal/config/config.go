package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

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
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SnowflakeNode int64

	DefaultCurrency string

	// PaymentProviderConfigSecret derives the AES key used for processor credentials at rest.
	PaymentProviderConfigSecret string

	// PublicBaseURL is used to build links inside notification emails.
	PublicBaseURL string

	Email        EmailConfig
	Notification NotificationConfig
	Bootstrap    BootstrapConfig
	RateLimit    RateLimitConfig
	Scheduler    SchedulerConfig
	Telemetry    TelemetryConfig
}

// TelemetryConfig carries the log and trace settings read by the
// observability module.
type TelemetryConfig struct {
	LogLevel       string
	LogFormat      string
	TracingEnabled bool
	OTLPProtocol   string
	SamplingRatio  float64
	// UntracedPaths are request paths served without a server span.
	UntracedPaths []string
}

// RateLimitConfig sets per-client token buckets for the public endpoints.
// Rates are tokens per second.
type RateLimitConfig struct {
	Enabled     bool
	OTPRate     float64
	OTPBurst    int
	IntentRate  float64
	IntentBurst int
}

// SchedulerConfig drives the background overdue sweep.
type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type NotificationConfig struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
}

type BootstrapConfig struct {
	EnsureDefaultBusiness bool
	BusinessName          string
	BusinessTimezone      string
	OwnerUserID           string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:                     getenv("APP_SERVICE", "appointly"),
		AppVersion:                  getenv("APP_VERSION", "0.1.0"),
		Environment:                 getenv("ENVIRONMENT", "development"),
		HTTPAddr:                    getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:                getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		DBType:                      getenv("DATABASE_TYPE", "postgres"),
		DBHost:                      getenv("DATABASE_HOST", "localhost"),
		DBPort:                      getenv("DATABASE_PORT", "5432"),
		DBName:                      getenv("DATABASE_NAME", "appointly"),
		DBUser:                      getenv("DATABASE_USER", "postgres"),
		DBPassword:                  getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:                   getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:               getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:               getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime:           getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:           getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RedisAddr:                   strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:               getenv("REDIS_PASSWORD", ""),
		RedisDB:                     getenvInt("REDIS_DB", 0),
		SnowflakeNode:               getenvInt64("SNOWFLAKE_NODE", 1),
		DefaultCurrency:             strings.ToLower(getenv("DEFAULT_CURRENCY", "usd")),
		PaymentProviderConfigSecret: strings.TrimSpace(getenv("PAYMENT_PROVIDER_CONFIG_SECRET", "")),
		PublicBaseURL:               strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 1025),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@appointly.local"),
		},
		Notification: NotificationConfig{
			QueueSize:   getenvInt("NOTIFICATION_QUEUE_SIZE", 256),
			Workers:     getenvInt("NOTIFICATION_WORKERS", 2),
			MaxAttempts: getenvInt("NOTIFICATION_MAX_ATTEMPTS", 5),
		},
		Bootstrap: BootstrapConfig{
			EnsureDefaultBusiness: getenvBool("BOOTSTRAP_DEFAULT_BUSINESS", false),
			BusinessName:          getenv("BOOTSTRAP_BUSINESS_NAME", "Main Studio"),
			BusinessTimezone:      getenv("BOOTSTRAP_BUSINESS_TIMEZONE", "UTC"),
			OwnerUserID:           strings.TrimSpace(getenv("BOOTSTRAP_OWNER_USER_ID", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getenvBool("RATE_LIMIT_ENABLED", false),
			OTPRate:     getenvFloat("RATE_LIMIT_OTP_RATE", 0.2),
			OTPBurst:    getenvInt("RATE_LIMIT_OTP_BURST", 5),
			IntentRate:  getenvFloat("RATE_LIMIT_INTENT_RATE", 1),
			IntentBurst: getenvInt("RATE_LIMIT_INTENT_BURST", 10),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_INTERVAL", 15*time.Minute),
			BatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 50),
		},
		Telemetry: TelemetryConfig{
			LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(getenv("LOG_FORMAT", "json")),
			TracingEnabled: getenvBool("OTEL_ENABLED", true),
			OTLPProtocol:   strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			UntracedPaths:  getenvList("OTEL_UNTRACED_PATHS", []string{"/health", "/metrics"}),
		},
	}

	if cfg.PaymentProviderConfigSecret == "" && cfg.IsProduction() {
		log.Println("[config] PAYMENT_PROVIDER_CONFIG_SECRET is empty; processor credentials cannot be decrypted")
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, value, def)
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, value, def)
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, value, def)
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, value, def)
		return def
	}
	return parsed
}

func getenvList(key string, def []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
