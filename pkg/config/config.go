package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Ingest    IngestConfig
	Finalizer FinalizerConfig
	Reconcile ReconcileConfig
	Notifier  NotifierConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// IngestConfig tunes the camera-event ingestion endpoint.
type IngestConfig struct {
	APIKeyHeader  string
	AcceptTest    bool
	MaxClockSkew  time.Duration
	StatsCacheTTL time.Duration
}

// FinalizerConfig governs the scheduled finalization pass.
type FinalizerConfig struct {
	Enabled       bool
	TickInterval  time.Duration
	DefaultCutoff string
	GraceWindow   time.Duration
}

// ReconcileConfig controls reconciliation report caching.
type ReconcileConfig struct {
	CacheTTL time.Duration
}

// NotifierConfig configures the absence-SMS dispatch run.
type NotifierConfig struct {
	Enabled           bool
	GatewayURL        string
	GatewayAPIKey     string
	SenderName        string
	RequestTimeout    time.Duration
	WorkerConcurrency int
	MessageTemplate   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Ingest = IngestConfig{
		APIKeyHeader:  v.GetString("INGEST_API_KEY_HEADER"),
		AcceptTest:    v.GetBool("INGEST_ACCEPT_TEST_EVENTS"),
		MaxClockSkew:  parseDuration(v.GetString("INGEST_MAX_CLOCK_SKEW"), 48*time.Hour),
		StatsCacheTTL: parseDuration(v.GetString("INGEST_STATS_CACHE_TTL"), time.Minute),
	}

	cfg.Finalizer = FinalizerConfig{
		Enabled:       v.GetBool("ENABLE_FINALIZER"),
		TickInterval:  parseDuration(v.GetString("FINALIZER_TICK_INTERVAL"), time.Minute),
		DefaultCutoff: v.GetString("FINALIZER_DEFAULT_CUTOFF"),
		GraceWindow:   parseDuration(v.GetString("FINALIZER_GRACE_WINDOW"), 0),
	}

	cfg.Reconcile = ReconcileConfig{
		CacheTTL: parseDuration(v.GetString("RECONCILE_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Notifier = NotifierConfig{
		Enabled:           v.GetBool("ENABLE_NOTIFIER"),
		GatewayURL:        v.GetString("SMS_GATEWAY_URL"),
		GatewayAPIKey:     v.GetString("SMS_GATEWAY_API_KEY"),
		SenderName:        v.GetString("SMS_SENDER_NAME"),
		RequestTimeout:    parseDuration(v.GetString("SMS_REQUEST_TIMEOUT"), 10*time.Second),
		WorkerConcurrency: v.GetInt("SMS_WORKER_CONCURRENCY"),
		MessageTemplate:   v.GetString("SMS_MESSAGE_TEMPLATE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "attendance_core")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("INGEST_API_KEY_HEADER", "X-Api-Key")
	v.SetDefault("INGEST_ACCEPT_TEST_EVENTS", false)
	v.SetDefault("INGEST_MAX_CLOCK_SKEW", "48h")
	v.SetDefault("INGEST_STATS_CACHE_TTL", "1m")

	v.SetDefault("ENABLE_FINALIZER", true)
	v.SetDefault("FINALIZER_TICK_INTERVAL", "1m")
	v.SetDefault("FINALIZER_DEFAULT_CUTOFF", "09:00")
	v.SetDefault("FINALIZER_GRACE_WINDOW", "0s")

	v.SetDefault("RECONCILE_CACHE_TTL", "2m")

	v.SetDefault("ENABLE_NOTIFIER", false)
	v.SetDefault("SMS_GATEWAY_URL", "http://localhost:9100/v1/messages")
	v.SetDefault("SMS_GATEWAY_API_KEY", "")
	v.SetDefault("SMS_SENDER_NAME", "SCHOOL")
	v.SetDefault("SMS_REQUEST_TIMEOUT", "10s")
	v.SetDefault("SMS_WORKER_CONCURRENCY", 2)
	v.SetDefault("SMS_MESSAGE_TEMPLATE", "Dear parent, {student} was marked absent on {date}. Please contact the school office.")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
