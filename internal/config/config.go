package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	CacheBackendMemory   = "memory"
	CacheBackendPostgres = "postgres"
)

var (
	ErrEmptyBotToken       = errors.New("telegram bot token is required")
	ErrEmptyDBPassword     = errors.New("database password is required")
	ErrInvalidMaxAmount    = errors.New("max joke amount must be positive")
	ErrInvalidCacheBackend = errors.New("cache backend must be memory or postgres")
)

type Config struct {
	App      AppConfig      `yaml:"app" env-prefix:"APP_"`
	HTTP     HTTPConfig     `yaml:"http" env-prefix:"HTTP_"`
	Jokes    JokesConfig    `yaml:"jokes" env-prefix:"JOKES_"`
	Search   SearchConfig   `yaml:"search" env-prefix:"SEARCH_"`
	Cache    CacheConfig    `yaml:"cache" env-prefix:"CACHE_"`
	Database DatabaseConfig `yaml:"database" env-prefix:"DB_"`
	NATS     NATSConfig     `yaml:"nats" env-prefix:"NATS_"`
	Bot      BotConfig      `yaml:"bot" env-prefix:"BOT_"`
	Health   HealthConfig   `yaml:"health" env-prefix:"HEALTH_"`
	Metrics  MetricsConfig  `yaml:"metrics" env-prefix:"METRICS_"`
}

type AppConfig struct {
	Name        string `yaml:"name" env:"NAME" env-default:"jokeapi"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" env-default:"production"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port" env:"PORT" env-default:"8076"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" env-default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
	// TrustProxy makes the first X-Forwarded-For hop the client identity.
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY" env-default:"false"`
}

type JokesConfig struct {
	DataDir     string `yaml:"data_dir" env:"DATA_DIR" env-default:"data"`
	CatalogPath string `yaml:"catalog_path" env:"CATALOG_PATH"`
	MaxAmount   int    `yaml:"max_amount" env:"MAX_AMOUNT" env-default:"10"`
	Watch       bool   `yaml:"watch" env:"WATCH" env-default:"true"`
}

type SearchConfig struct {
	RepetitionLimit int           `yaml:"repetition_limit" env:"REPETITION_LIMIT" env-default:"25"`
	MatchTimeout    time.Duration `yaml:"match_timeout" env:"MATCH_TIMEOUT" env-default:"50ms"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend" env:"BACKEND" env-default:"memory"`
	ExpiryHours   int           `yaml:"expiry_hours" env:"EXPIRY_HOURS" env-default:"24"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" env-default:"2s"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"1h"`
}

type DatabaseConfig struct {
	Host           string `yaml:"host" env:"HOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PORT" env-default:"5432"`
	User           string `yaml:"user" env:"USER" env-default:"jokeapi"`
	Password       string `yaml:"password" env:"PASSWORD"`
	Name           string `yaml:"name" env:"NAME" env-default:"jokeapi"`
	MaxConnections int    `yaml:"max_connections" env:"MAX_CONNECTIONS" env-default:"25"`
	MinConnections int    `yaml:"min_connections" env:"MIN_CONNECTIONS" env-default:"5"`
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

type NATSConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED" env-default:"false"`
	URL        string `yaml:"url" env:"URL" env-default:"nats://localhost:4222"`
	StreamName string `yaml:"stream_name" env:"STREAM_NAME" env-default:"JOKEAPI"`
}

type BotConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED" env-default:"false"`
	Token   string `yaml:"token" env:"TOKEN"`
}

type HealthConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT" env-default:"/healthz"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED" env-default:"true"`
	Endpoint string `yaml:"endpoint" env:"ENDPOINT" env-default:"/metrics"`
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Read loads the file named by CONFIG_PATH and applies environment overrides without validating.
// A .env file in the working directory is loaded first when present.
func Read() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", configPath, err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Jokes.MaxAmount < 1 {
		return ErrInvalidMaxAmount
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendPostgres:
		if c.Database.Password == "" {
			return ErrEmptyDBPassword
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCacheBackend, c.Cache.Backend)
	}

	if c.Bot.Enabled && c.Bot.Token == "" {
		return ErrEmptyBotToken
	}

	return nil
}

// UsesDatabase reports whether the Postgres pool is needed.
func (c *Config) UsesDatabase() bool {
	return c.Cache.Backend == CacheBackendPostgres
}
