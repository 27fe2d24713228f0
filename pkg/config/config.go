package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// MaxAccessTTL bounds the lifetime of an access token. Access tokens are not
// revocable, so this is also the longest a revoked session can keep acting.
const MaxAccessTTL = 30 * time.Minute

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Auth          AuthConfig
	RBAC          RBACConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds token lifecycle settings
type AuthConfig struct {
	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// RBACConfig holds resolver settings
type RBACConfig struct {
	ACLCacheTTL    time.Duration
	TemplatesFile  string
	TemplatesWatch bool
}

// AuditConfig holds audit archive and maintenance job settings. The archive
// destination lives in the storage config.
type AuditConfig struct {
	ArchivePrefix     string
	ArchiveSchedule   string
	IntegritySchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables. A .env file in the
// working directory, if present, is loaded first without overriding the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		RBAC:          loadRBACConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Driver = getEnv("WARDEN_DB_DRIVER", cfg.Driver)
	cfg.PostgresURL = getEnv("WARDEN_POSTGRES_URL", cfg.PostgresURL)
	if maxConns := getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("WARDEN_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("WARDEN_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.SQLitePath = getEnv("WARDEN_SQLITE_PATH", cfg.SQLitePath)

	cfg.RedisURL = getEnv("WARDEN_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("WARDEN_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("WARDEN_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if retries := getEnvInt("WARDEN_REDIS_MAX_RETRIES", 0); retries > 0 {
		cfg.RedisMaxRetries = retries
	}
	if poolSize := getEnvInt("WARDEN_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}
	if size := getEnvInt("WARDEN_L1_CACHE_SIZE", 0); size > 0 {
		cfg.L1CacheSize = size
	}

	cfg.S3Bucket = getEnv("WARDEN_AUDIT_ARCHIVE_BUCKET", cfg.S3Bucket)
	cfg.S3Region = getEnv("WARDEN_S3_REGION", cfg.S3Region)
	cfg.S3Endpoint = getEnv("WARDEN_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3AccessKey = getEnv("WARDEN_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("WARDEN_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("WARDEN_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.ArchiveDir = getEnv("WARDEN_AUDIT_ARCHIVE_DIR", cfg.ArchiveDir)

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:  getEnv("WARDEN_JWT_SECRET", ""),
		JWTIssuer:  getEnv("WARDEN_JWT_ISSUER", "warden"),
		AccessTTL:  getEnvDuration("WARDEN_ACCESS_TTL", MaxAccessTTL),
		RefreshTTL: getEnvDuration("WARDEN_REFRESH_TTL", 7*24*time.Hour),
		BcryptCost: getEnvInt("WARDEN_BCRYPT_COST", 12),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		ACLCacheTTL:    getEnvDuration("WARDEN_ACL_CACHE_TTL", 5*time.Minute),
		TemplatesFile:  getEnv("WARDEN_TEMPLATES_FILE", ""),
		TemplatesWatch: getEnvBool("WARDEN_TEMPLATES_WATCH", false),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		ArchivePrefix:     getEnv("WARDEN_AUDIT_ARCHIVE_PREFIX", "audit"),
		ArchiveSchedule:   getEnv("WARDEN_AUDIT_ARCHIVE_SCHEDULE", "15 0 * * *"),
		IntegritySchedule: getEnv("WARDEN_INTEGRITY_SCHEDULE", "@every 1h"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for the postgres driver")
		}
	case "sqlite3":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite3 driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Storage.Driver)
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.AccessTTL > MaxAccessTTL {
		return fmt.Errorf("access token TTL must be in (0, %s]", MaxAccessTTL)
	}
	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		return fmt.Errorf("refresh token TTL must exceed access token TTL")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	}

	if c.RBAC.ACLCacheTTL < 0 {
		return fmt.Errorf("ACL cache TTL must not be negative")
	}
	if c.RBAC.TemplatesWatch && c.RBAC.TemplatesFile == "" {
		return fmt.Errorf("templates file is required when watching is enabled")
	}

	for name, spec := range map[string]string{
		"audit archive": c.Audit.ArchiveSchedule,
		"integrity":     c.Audit.IntegritySchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
