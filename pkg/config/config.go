package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Agent    AgentConfig
	Dispatch DispatchConfig
	Rates    RatesConfig
	Ingest   IngestConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LACAJA_APP_ENV" default:"dev"`
	Port         string `envconfig:"LACAJA_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LACAJA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LACAJA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"LACAJA_DB_DSN"`
	Driver string `envconfig:"LACAJA_DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"LACAJA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LACAJA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LACAJA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LACAJA_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"LACAJA_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LACAJA_REDIS_URL"`
	Address      string        `envconfig:"LACAJA_REDIS_ADDR"`
	Password     string        `envconfig:"LACAJA_REDIS_PASSWORD"`
	DB           int           `envconfig:"LACAJA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LACAJA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LACAJA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LACAJA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LACAJA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LACAJA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LACAJA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LACAJA_JWT_ISSUER" default:"lacaja-sync"`
	ExpirationMinutes int    `envconfig:"LACAJA_JWT_EXPIRATION_MINUTES" default:"60"`
}

func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// AgentConfig identifies one installed terminal and its local database.
type AgentConfig struct {
	StoreID    string `envconfig:"LACAJA_AGENT_STORE_ID"`
	DBPath     string `envconfig:"LACAJA_AGENT_DB_PATH" default:"lacaja-agent.db"`
	ServerURL  string `envconfig:"LACAJA_AGENT_SERVER_URL" default:"http://localhost:8080"`
	MetricsMux string `envconfig:"LACAJA_AGENT_METRICS_ADDR" default:""`
}

type DispatchConfig struct {
	BatchSize      int           `envconfig:"LACAJA_DISPATCH_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"LACAJA_DISPATCH_POLL_INTERVAL" default:"500ms"`
	BackoffBase    time.Duration `envconfig:"LACAJA_DISPATCH_BACKOFF_BASE" default:"1s"`
	BackoffCap     time.Duration `envconfig:"LACAJA_DISPATCH_BACKOFF_CAP" default:"60s"`
	MaxAttempts    int           `envconfig:"LACAJA_DISPATCH_MAX_ATTEMPTS" default:"10"`
	RequestTimeout time.Duration `envconfig:"LACAJA_DISPATCH_REQUEST_TIMEOUT" default:"15s"`
}

type RatesConfig struct {
	MaxSnapshotAge time.Duration `envconfig:"LACAJA_RATES_MAX_SNAPSHOT_AGE" default:"30m"`
	BandPct        int           `envconfig:"LACAJA_RATES_BAND_PCT" default:"20"`
}

type IngestConfig struct {
	DedupTTL time.Duration `envconfig:"LACAJA_INGEST_DEDUP_TTL" default:"168h"`
	MaxBatch int           `envconfig:"LACAJA_INGEST_MAX_BATCH" default:"200"`
}
