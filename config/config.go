package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Site      SiteConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Stripe    StripeConfig
	Email     EmailConfig
	Reminders RemindersConfig
	Kafka     KafkaConfig
	Turnstile TurnstileConfig
}

// SiteConfig holds site-wide settings that used to live in an admin-edited row.
type SiteConfig struct {
	URL                string   // public base URL, used for checkout redirects and email links
	Timezone           string   // IANA zone used to decide "today" for reminders
	NotificationEmails []string // staff addresses notified of bookings and contact messages
}

// StripeConfig for checkout.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	Currency       string
}

// EmailConfig for SMTP delivery.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// RemindersConfig controls the three reminder batches.
type RemindersConfig struct {
	PaymentEnabled        bool
	PaymentDaysBeforeList string // e.g. "7,3,1"
	CourseDetailsEnabled  bool
	CourseDetailsDays     int
	SessionEnabled        bool
	SessionDays           int
	SessionFrequency      string // first_only or all_sessions
	TestMode              bool
	TestEmail             string
}

// KafkaConfig for payment events. Empty Brokers disables publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// TurnstileConfig for the contact form challenge. Empty SecretKey skips verification.
type TurnstileConfig struct {
	SiteKey   string
	SecretKey string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the media bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	MediaBucket          string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Site: SiteConfig{
			URL:                strings.TrimRight(getEnv("SITE_URL", "http://localhost:8080"), "/"),
			Timezone:           getEnv("SITE_TIMEZONE", "Europe/London"),
			NotificationEmails: splitTrim(getEnv("BOOKING_NOTIFICATION_EMAILS", ""), ","),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "courses"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:          getEnv("AWS_S3_MEDIA_BUCKET", "course-media"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 60),
		},
		Stripe: StripeConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			PublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:       strings.ToLower(getEnv("PAYMENT_CURRENCY", "gbp")),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:    getEnv("EMAIL_FROM_NAME", "Hortus Cognitor"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		Reminders: RemindersConfig{
			PaymentEnabled:        getEnvBool("PAYMENT_REMINDER_ENABLED", true),
			PaymentDaysBeforeList: getEnv("PAYMENT_REMINDER_DAYS_BEFORE", "7,3,1"),
			CourseDetailsEnabled:  getEnvBool("COURSE_DETAILS_ENABLED", true),
			CourseDetailsDays:     getEnvInt("COURSE_DETAILS_DAYS_BEFORE", 7),
			SessionEnabled:        getEnvBool("SESSION_REMINDER_ENABLED", true),
			SessionDays:           getEnvInt("SESSION_REMINDER_DAYS_BEFORE", 1),
			SessionFrequency:      getEnv("SESSION_REMINDER_FREQUENCY", "first_only"),
			TestMode:              getEnvBool("REMINDER_TEST_MODE", false),
			TestEmail:             getEnv("REMINDER_TEST_EMAIL", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitTrim(getEnv("KAFKA_BROKERS", ""), ","),
			Topic:   getEnv("KAFKA_PAYMENTS_TOPIC", "course-payments"),
		},
		Turnstile: TurnstileConfig{
			SiteKey:   getEnv("TURNSTILE_SITE_KEY", ""),
			SecretKey: getEnv("TURNSTILE_SECRET_KEY", ""),
		},
	}
	if cfg.Reminders.TestMode && cfg.Reminders.TestEmail == "" {
		return nil, fmt.Errorf("REMINDER_TEST_MODE requires REMINDER_TEST_EMAIL")
	}
	switch cfg.Reminders.SessionFrequency {
	case "first_only", "all_sessions":
	default:
		return nil, fmt.Errorf("invalid SESSION_REMINDER_FREQUENCY %q", cfg.Reminders.SessionFrequency)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
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

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
