package config

import (
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
	PublicURL   string

	LogLevel  string
	LogFormat string

	OTLPEndpoint      string
	OTLPProtocol      string
	OTLPEnabled       bool
	OTLPSamplingRatio float64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis     RedisConfig
	RateLimit RateLimitConfig

	CatalogPath string

	PaymentProvider string
	Stripe          StripeConfig
	Braintree       BraintreeConfig

	SMTP SMTPConfig

	// StaffTokens maps bearer tokens to casbin roles.
	StaffTokens map[string]string

	WizardSteps      string
	WizardSessionTTL time.Duration

	Reminder   ReminderConfig
	NewFlagTTL time.Duration

	SeedDemo bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig bounds the public lookup and submit endpoints. Limits are
// only enforced when Redis is enabled.
type RateLimitConfig struct {
	Enabled       bool
	LookupRate    float64
	LookupBurst   int
	SubmitRate    float64
	SubmitBurst   int
	SubmitLockTTL time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

type BraintreeConfig struct {
	Environment string
	MerchantID  string
	PublicKey   string
	PrivateKey  string
}

type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type ReminderConfig struct {
	Enabled      bool
	Interval     time.Duration
	LeadDays     int
	JobTimeout   time.Duration
	NewFlagSweep time.Duration
	MaxPerBatch  int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "tumblebus"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		PublicURL:    strings.TrimRight(getenv("PUBLIC_URL", "http://localhost:8080"), "/"),
		LogLevel:     strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:    strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol: strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
		OTLPEnabled:  getenvBool("OTLP_ENABLED", false),

		OTLPSamplingRatio: getenvFloat("OTLP_SAMPLING_RATIO", 0.1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tumblebus"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "tumblebus.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", false),

		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", true),
			LookupRate:    getenvFloat("RATE_LIMIT_LOOKUP_RATE", 0.5),
			LookupBurst:   getenvInt("RATE_LIMIT_LOOKUP_BURST", 10),
			SubmitRate:    getenvFloat("RATE_LIMIT_SUBMIT_RATE", 0.2),
			SubmitBurst:   getenvInt("RATE_LIMIT_SUBMIT_BURST", 5),
			SubmitLockTTL: getenvDuration("RATE_LIMIT_SUBMIT_LOCK_TTL", 30*time.Second),
		},

		CatalogPath: getenv("CATALOG_PATH", "catalog.yml"),

		PaymentProvider: strings.ToLower(strings.TrimSpace(getenv("PAYMENT_PROVIDER", "manual"))),
		Stripe: StripeConfig{
			SecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			BaseURL:       getenv("STRIPE_BASE_URL", "https://api.stripe.com"),
		},
		Braintree: BraintreeConfig{
			Environment: strings.ToLower(getenv("BRAINTREE_ENVIRONMENT", "sandbox")),
			MerchantID:  strings.TrimSpace(getenv("BRAINTREE_MERCHANT_ID", "")),
			PublicKey:   strings.TrimSpace(getenv("BRAINTREE_PUBLIC_KEY", "")),
			PrivateKey:  strings.TrimSpace(getenv("BRAINTREE_PRIVATE_KEY", "")),
		},

		SMTP: SMTPConfig{
			Enabled:  getenvBool("SMTP_ENABLED", false),
			Host:     getenv("SMTP_HOST", "localhost"),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "TumbleBus <no-reply@tumblebus.local>"),
		},

		StaffTokens: parseStaffTokens(getenv("STAFF_TOKENS", "")),

		WizardSteps:      getenv("WIZARD_STEPS", ""),
		WizardSessionTTL: getenvDuration("WIZARD_SESSION_TTL", 2*time.Hour),

		Reminder: ReminderConfig{
			Enabled:      getenvBool("REMINDER_ENABLED", true),
			Interval:     getenvDuration("REMINDER_INTERVAL", time.Hour),
			LeadDays:     getenvInt("REMINDER_LEAD_DAYS", 3),
			JobTimeout:   getenvDuration("REMINDER_JOB_TIMEOUT", 2*time.Minute),
			NewFlagSweep: getenvDuration("REMINDER_NEW_FLAG_SWEEP", 15*time.Minute),
			MaxPerBatch:  getenvInt("REMINDER_MAX_PER_BATCH", 200),
		},
		NewFlagTTL: getenvDuration("NEW_FLAG_TTL", 72*time.Hour),

		SeedDemo: getenvBool("SEED_DEMO", false),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// parseStaffTokens reads "token:role,token2:role2". Entries without a role
// default to staff.
func parseStaffTokens(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		token, role, ok := strings.Cut(part, ":")
		token = strings.TrimSpace(token)
		role = strings.ToLower(strings.TrimSpace(role))
		if !ok || role == "" {
			role = "staff"
		}
		if token == "" {
			continue
		}
		out[token] = role
	}
	return out
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
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
