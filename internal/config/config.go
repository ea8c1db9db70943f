package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server ServerConfig
	App    AppConfig
	Log    LogConfig
	Cache  CacheConfig
	Store  StoreConfig
	Views  ViewsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"bookshelf-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`

	// AdminAPIKeys guard /api/v1/admin. When empty the admin routes stay
	// mounted but answer every request with 401.
	AdminAPIKeys []string `envconfig:"ADMIN_API_KEYS"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"` // json or console
	File   string `envconfig:"LOG_FILE" default:""`      // empty = stdout only

	MaxSizeMB  int  `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int  `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int  `envconfig:"LOG_MAX_AGE_DAYS" default:"14"`
	Compress   bool `envconfig:"LOG_COMPRESS" default:"true"`
}

// CacheConfig holds cache store settings.
type CacheConfig struct {
	Type      string        `envconfig:"CACHE_TYPE" default:"memory"` // memory, redis, or badger
	OpTimeout time.Duration `envconfig:"CACHE_OP_TIMEOUT" default:"2s"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix     string `envconfig:"CACHE_KEY_PREFIX" default:""`

	BadgerDir string `envconfig:"BADGER_DIR" default:"./data/cache"`
}

// StoreConfig holds document store settings.
type StoreConfig struct {
	Type      string        `envconfig:"STORE_TYPE" default:"memory"` // memory, mongodb, sqlite, postgres, or mysql
	OpTimeout time.Duration `envconfig:"STORE_OP_TIMEOUT" default:"5s"`

	// SQLite settings
	Path string `envconfig:"STORE_DB_PATH" default:"./data/bookshelf.db"`
	// PostgreSQL / MySQL settings
	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"5432"`
	Name     string `envconfig:"STORE_DB_NAME" default:"bookshelf"`
	User     string `envconfig:"STORE_DB_USER" default:"postgres"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
	SSLMode  string `envconfig:"STORE_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI      string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"bookshelf"`
}

// ViewsConfig holds derived-view cache policy.
type ViewsConfig struct {
	ListTTL            time.Duration `envconfig:"VIEW_LIST_TTL" default:"1h"`
	FilteredTTL        time.Duration `envconfig:"VIEW_FILTERED_TTL" default:"0s"`
	FilteredMax        int           `envconfig:"VIEW_FILTERED_MAX" default:"1000"`
	RefreshConcurrency int           `envconfig:"VIEW_REFRESH_CONCURRENCY" default:"8"`
	EvictOnFailure     bool          `envconfig:"VIEW_EVICT_ON_FAILURE" default:"true"`
	PruneInterval      time.Duration `envconfig:"VIEW_PRUNE_INTERVAL" default:"10m"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (s *StoreConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		s.User, s.Password, s.Host, s.Port, s.Name)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	switch c.Cache.Type {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("unknown CACHE_TYPE %q", c.Cache.Type)
	}

	switch c.Store.Type {
	case "memory", "mongodb", "mongo", "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.Store.Type)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Views.FilteredMax < 1 {
		return fmt.Errorf("VIEW_FILTERED_MAX must be positive, got %d", c.Views.FilteredMax)
	}
	if c.Views.RefreshConcurrency < 1 {
		return fmt.Errorf("VIEW_REFRESH_CONCURRENCY must be positive, got %d", c.Views.RefreshConcurrency)
	}
	if c.Views.ListTTL < 0 || c.Views.FilteredTTL < 0 {
		return fmt.Errorf("view TTLs must not be negative")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
