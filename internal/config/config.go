package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	UseMemoryStore bool

	RedisAddr         string
	RedisPassword     string
	RedisTLS          bool
	DirectoryBaseURL  string
	DirectoryToken    string
	DirectorySeedFile string
	DirectoryCacheTTL time.Duration

	HoldDuration            time.Duration
	ExpirySweepInterval     time.Duration
	CompletionSweepInterval time.Duration
	SweepBatchSize          int
	SlotTimezone            string
	DefaultCurrency         string
	ReserveRatePerSecond    float64
	ReserveBurst            int
	LoginAttemptsPerMinute  int

	StripeSecretKey        string
	StripePublishableKey   string
	StripeWebhookSecret    string
	StripeBaseURL          string
	RazorpayKeyID          string
	RazorpayKeySecret      string
	RazorpayWebhookSecret  string
	RazorpayBaseURL        string
	GatewayRetryMaxElapsed time.Duration

	JWTSecret         string
	JWTTTL            time.Duration
	AdminEmail        string
	AdminPasswordHash string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESConfigSet      string
	ReceiptsBucket    string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisTLS:          getEnvAsBool("REDIS_TLS", false),
		DirectoryBaseURL:  getEnv("DIRECTORY_BASE_URL", ""),
		DirectoryToken:    getEnv("DIRECTORY_TOKEN", ""),
		DirectorySeedFile: getEnv("DIRECTORY_SEED_FILE", ""),
		DirectoryCacheTTL: getEnvAsDuration("DIRECTORY_CACHE_TTL", 5*time.Minute),

		HoldDuration:            getEnvAsDuration("HOLD_DURATION", 10*time.Minute),
		ExpirySweepInterval:     getEnvAsDuration("EXPIRY_SWEEP_INTERVAL", 30*time.Second),
		CompletionSweepInterval: getEnvAsDuration("COMPLETION_SWEEP_INTERVAL", 5*time.Minute),
		SweepBatchSize:          getEnvAsInt("SWEEP_BATCH_SIZE", 100),
		SlotTimezone:            getEnv("SLOT_TIMEZONE", "UTC"),
		DefaultCurrency:         strings.ToUpper(getEnv("DEFAULT_CURRENCY", "USD")),
		ReserveRatePerSecond:    getEnvAsFloat("RESERVE_RATE_PER_SECOND", 2),
		ReserveBurst:            getEnvAsInt("RESERVE_BURST", 5),
		LoginAttemptsPerMinute:  getEnvAsInt("LOGIN_ATTEMPTS_PER_MINUTE", 10),

		StripeSecretKey:        getEnv("STRIPE_SECRET_KEY", ""),
		StripePublishableKey:   getEnv("STRIPE_PUBLISHABLE_KEY", ""),
		StripeWebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeBaseURL:          getEnv("STRIPE_BASE_URL", ""),
		RazorpayKeyID:          getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:      getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret:  getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		RazorpayBaseURL:        getEnv("RAZORPAY_BASE_URL", ""),
		GatewayRetryMaxElapsed: getEnvAsDuration("GATEWAY_RETRY_MAX_ELAPSED", 30*time.Second),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTTTL:            getEnvAsDuration("JWT_TTL", 12*time.Hour),
		AdminEmail:        getEnv("ADMIN_EMAIL", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),

		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 25),

		// Email and receipts
		EmailProvider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "stub")),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "MediCareX"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),
		ReceiptsBucket:    getEnv("RECEIPTS_BUCKET", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" && !c.UseMemoryStore {
		errs = append(errs, errors.New("DATABASE_URL is required unless USE_MEMORY_STORE=true"))
	}
	if c.HoldDuration <= 0 {
		errs = append(errs, fmt.Errorf("HOLD_DURATION must be positive, got %s", c.HoldDuration))
	}
	if c.ExpirySweepInterval <= 0 || c.CompletionSweepInterval <= 0 {
		errs = append(errs, errors.New("sweep intervals must be positive"))
	}
	if _, err := time.LoadLocation(c.SlotTimezone); err != nil {
		errs = append(errs, fmt.Errorf("SLOT_TIMEZONE: %w", err))
	}
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY must be an ISO 4217 code, got %q", c.DefaultCurrency))
	}
	if c.StripeSecretKey == "" && c.RazorpayKeyID == "" {
		errs = append(errs, errors.New("at least one payment gateway must be configured"))
	}
	if c.RazorpayKeyID != "" && c.RazorpayKeySecret == "" {
		errs = append(errs, errors.New("RAZORPAY_KEY_SECRET is required with RAZORPAY_KEY_ID"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.EmailProvider {
	case "stub":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required for EMAIL_PROVIDER=sendgrid"))
		}
	case "ses":
		if c.SESFromEmail == "" {
			errs = append(errs, errors.New("SES_FROM_EMAIL is required for EMAIL_PROVIDER=ses"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
