package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	LogLevel      string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig
	Identity    IdentityConfig

	SettingsFile            string
	DuplicateReportSchedule string
}

// RedisConfig configures the lock backend. Empty URL selects in-process locks.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
}

// KafkaConfig configures the audit outbox relay. No brokers disables the relay.
type KafkaConfig struct {
	Brokers      []string
	AuditTopic   string
	PollInterval time.Duration
	BatchSize    int
}

// IdentityConfig points at the backend that verifies operator credentials.
type IdentityConfig struct {
	URL     string
	Timeout time.Duration
	// TokenTTL is the lifetime of the access token issued at login.
	TokenTTL time.Duration
	// MaxFailedLogins failures from one client IP lock it for LoginLockout.
	MaxFailedLogins int
	LoginLockout    time.Duration
}

const (
	// DefaultIdentityTimeout bounds every call to the identity backend.
	DefaultIdentityTimeout = 5 * time.Second
	DefaultTokenTTL        = 8 * time.Hour
	DefaultMaxFailedLogins = 5
	DefaultLoginLockout    = 24 * time.Hour
)

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present.
func FromEnv() (Server, error) {
	_ = godotenv.Load()

	identityTimeout, err := durationEnv("IDENTITY_TIMEOUT", DefaultIdentityTimeout)
	if err != nil {
		return Server{}, err
	}
	lockTTL, err := durationEnv("LOCK_TTL", 10*time.Second)
	if err != nil {
		return Server{}, err
	}
	pollInterval, err := durationEnv("OUTBOX_POLL_INTERVAL", time.Second)
	if err != nil {
		return Server{}, err
	}
	tokenTTL, err := durationEnv("TOKEN_TTL", DefaultTokenTTL)
	if err != nil {
		return Server{}, err
	}
	loginLockout, err := durationEnv("LOGIN_LOCKOUT", DefaultLoginLockout)
	if err != nil {
		return Server{}, err
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          envOr("INTAKE_ADDR", ":8080"),
		JWTSigningKey: jwtSigningKey,
		LogLevel:      envOr("LOG_LEVEL", "info"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			LockTTL:      lockTTL,
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:   envOr("AUDIT_TOPIC", "intake.audit"),
			PollInterval: pollInterval,
			BatchSize:    100,
		},
		Identity: IdentityConfig{
			URL:             os.Getenv("IDENTITY_URL"),
			Timeout:         identityTimeout,
			TokenTTL:        tokenTTL,
			MaxFailedLogins: DefaultMaxFailedLogins,
			LoginLockout:    loginLockout,
		},
		SettingsFile:            os.Getenv("SETTINGS_FILE"),
		DuplicateReportSchedule: os.Getenv("DUPLICATE_REPORT_SCHEDULE"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
