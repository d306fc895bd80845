// Package config provides centralized default values for the attribution service
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		// godotenv.Load never overrides variables already present in the environment.
		if err := godotenv.Load(); err == nil {
			log.Println("Loaded configuration overrides from .env file")
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, redact(key, val), redact(key, defaultValue))
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// redact hides secrets in override logs.
func redact(key, value string) string {
	upper := strings.ToUpper(key)
	if value == "" {
		return value
	}
	for _, marker := range []string{"SECRET", "PASSWORD", "TOKEN", "HASH"} {
		if strings.Contains(upper, marker) {
			return "****"
		}
	}
	return value
}

var (
	// Server Configuration
	Port               string
	GinMode            string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	ShutdownTimeout    time.Duration
	AllowedOrigins     []string

	// Database
	DatabaseURL              string
	TursoDatabaseURL         string
	TursoAuthToken           string
	SQLitePath               string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBConnMaxIdleMinutes     int
	SlowQueryThreshold       time.Duration

	// Tracking
	SessionInactivityWindow time.Duration
	VisitorCookieTTL        time.Duration
	TrackQueryTimeout       time.Duration
	CookieSecure            bool
	CookieDomain            string

	// Auth
	JWTSecret         string
	AdminPasswordHash string
	AdminTokenTTL     time.Duration

	// Logging
	LogDirectory string
	LogJSON      bool
	LogToFile    bool
	LogLevel     string

	// Live feed and publishers
	LiveFeedInterval  time.Duration
	RedisURL          string
	RedisFeedChannel  string
	NatsURL           string
	NatsFeedSubject   string
	KafkaBrokers      []string
	KafkaFeedTopic    string
	ClickHouseAddr    string
	ClickHouseDB      string
	ClickHouseUser    string
	ClickHousePass    string
	ClickHouseTimeout time.Duration
)

func init() {
	loadEnvFile()
	load()
}

func load() {
	// Server Configuration
	Port = getEnvString("PORT", "5000")
	GinMode = getEnvString("GIN_MODE", "debug")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	AllowedOrigins = getEnvList("CLIENT_URL", []string{"http://localhost:5173"})

	// Database
	DatabaseURL = getEnvString("DATABASE_URL", "")
	TursoDatabaseURL = getEnvString("TURSO_DATABASE_URL", "")
	TursoAuthToken = getEnvString("TURSO_AUTH_TOKEN", "")
	SQLitePath = getEnvString("SQLITE_PATH", "data/attribution.db")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 250*time.Millisecond)

	// Tracking
	SessionInactivityWindow = getEnvDuration("SESSION_INACTIVITY_WINDOW", 30*time.Minute)
	VisitorCookieTTL = getEnvDuration("VISITOR_COOKIE_TTL", 30*24*time.Hour)
	TrackQueryTimeout = getEnvDuration("TRACK_QUERY_TIMEOUT", 5*time.Second)
	CookieSecure = getEnvBool("COOKIE_SECURE", GinMode == "release")
	CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	// Auth
	JWTSecret = getEnvString("JWT_SECRET", "")
	AdminPasswordHash = getEnvString("ADMIN_PASSWORD_HASH", "")
	AdminTokenTTL = getEnvDuration("ADMIN_TOKEN_TTL", 24*time.Hour)

	// Logging
	LogDirectory = getEnvString("LOG_DIR", "logs")
	LogJSON = getEnvBool("LOG_JSON", true)
	LogToFile = getEnvBool("LOG_TO_FILE", false)
	LogLevel = getEnvString("LOG_LEVEL", "INFO")

	// Live feed and publishers
	LiveFeedInterval = getEnvDuration("LIVE_FEED_INTERVAL", 20*time.Second)
	RedisURL = getEnvString("REDIS_URL", "")
	RedisFeedChannel = getEnvString("REDIS_FEED_CHANNEL", "attribution:feed")
	NatsURL = getEnvString("NATS_URL", "")
	NatsFeedSubject = getEnvString("NATS_FEED_SUBJECT", "attribution.feed")
	KafkaBrokers = getEnvList("KAFKA_BROKERS", nil)
	KafkaFeedTopic = getEnvString("KAFKA_FEED_TOPIC", "attribution-feed")
	ClickHouseAddr = getEnvString("CLICKHOUSE_ADDR", "")
	ClickHouseDB = getEnvString("CLICKHOUSE_DB", "default")
	ClickHouseUser = getEnvString("CLICKHOUSE_USER", "default")
	ClickHousePass = getEnvString("CLICKHOUSE_PASSWORD", "")
	ClickHouseTimeout = getEnvDuration("CLICKHOUSE_TIMEOUT", 5*time.Second)
}

// MinJWTSecretLength is the shortest secret accepted in release mode.
const MinJWTSecretLength = 32

// Validate checks settings that must hold before the server starts.
func Validate() error {
	var errs []error

	if Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	} else if p, err := strconv.Atoi(Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", Port))
	}

	if GinMode == "release" && len(JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters in release mode", MinJWTSecretLength))
	}

	if SessionInactivityWindow <= 0 {
		errs = append(errs, errors.New("SESSION_INACTIVITY_WINDOW must be positive"))
	}

	if TursoDatabaseURL != "" && TursoAuthToken == "" {
		errs = append(errs, errors.New("TURSO_AUTH_TOKEN is required when TURSO_DATABASE_URL is set"))
	}

	return errors.Join(errs...)
}
