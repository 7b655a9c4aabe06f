// Package config loads service configuration from an optional YAML file, a .env
// file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage and identity backends.
const (
	BackendBigQuery = "bigquery"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds every tunable of the classification service.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	StorageBackend  string `yaml:"storage_backend"`
	IdentityBackend string `yaml:"identity_backend"`
	BigQueryProject string `yaml:"bigquery_project"`
	BigQueryDataset string `yaml:"bigquery_dataset"`
	SQLitePath      string `yaml:"sqlite_path"`
	DatabaseURL     string `yaml:"database_url"`

	OracleProvider  string        `yaml:"oracle_provider"`
	OracleModel     string        `yaml:"oracle_model"`
	OracleEndpoint  string        `yaml:"oracle_endpoint"`
	OracleAPIKey    string        `yaml:"oracle_api_key"`
	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	OracleRateLimit float64       `yaml:"oracle_rate_limit"`
	OracleTimeout   time.Duration `yaml:"oracle_timeout"`

	QueueSize    int           `yaml:"queue_size"`
	WorkerCount  int           `yaml:"worker_count"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
	JobRetention time.Duration `yaml:"job_retention"`

	ResultsBucket string `yaml:"results_bucket"`
}

// Defaults.
const (
	DefaultPort           = 8080
	DefaultSQLitePath     = "./data/classifier.db"
	DefaultOracleTimeout  = 30 * time.Second
	DefaultQueueSize      = 100
	DefaultWorkerCount    = 5
	DefaultJobTimeout     = 30 * time.Minute
	DefaultJobRetention   = 24 * time.Hour
	DefaultOracleProvider = "zeroshot"
)

// Load reads CONFIG_PATH (default config.yaml) if it exists, loads .env, applies
// environment overrides and defaults, and validates the result.
func Load() (*Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("Load: parsing %s: %w", configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading %s: %w", configPath, err)
	}

	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envOverride(&c.LogLevel, "LOG_LEVEL")
	envOverride(&c.LogFormat, "LOG_FORMAT")
	envOverride(&c.StorageBackend, "STORAGE_BACKEND")
	envOverride(&c.IdentityBackend, "IDENTITY_BACKEND")
	envOverride(&c.BigQueryProject, "BIGQUERY_PROJECT")
	envOverride(&c.BigQueryDataset, "BIGQUERY_DATASET")
	envOverride(&c.SQLitePath, "SQLITE_PATH")
	envOverride(&c.DatabaseURL, "DATABASE_URL")
	envOverride(&c.OracleProvider, "ORACLE_PROVIDER")
	envOverride(&c.OracleModel, "ORACLE_MODEL")
	envOverride(&c.OracleEndpoint, "ORACLE_ENDPOINT")
	envOverride(&c.OracleAPIKey, "ORACLE_API_KEY")
	envOverride(&c.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&c.ResultsBucket, "RESULTS_BUCKET")

	return errors.Join(
		envOverrideInt(&c.Port, "PORT"),
		envOverrideFloat(&c.OracleRateLimit, "ORACLE_RATE_LIMIT"),
		envOverrideDuration(&c.OracleTimeout, "ORACLE_TIMEOUT"),
		envOverrideInt(&c.QueueSize, "QUEUE_SIZE"),
		envOverrideInt(&c.WorkerCount, "WORKER_COUNT"),
		envOverrideDuration(&c.JobTimeout, "JOB_TIMEOUT"),
		envOverrideDuration(&c.JobRetention, "JOB_RETENTION"),
	)
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.StorageBackend == "" {
		c.StorageBackend = BackendBigQuery
	}
	if c.IdentityBackend == "" {
		c.IdentityBackend = BackendPostgres
	}
	if c.SQLitePath == "" {
		c.SQLitePath = DefaultSQLitePath
	}
	if c.OracleProvider == "" {
		c.OracleProvider = DefaultOracleProvider
	}
	if c.OracleTimeout == 0 {
		c.OracleTimeout = DefaultOracleTimeout
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = DefaultWorkerCount
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.JobRetention == 0 {
		c.JobRetention = DefaultJobRetention
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}

	switch c.StorageBackend {
	case BackendBigQuery:
		if c.BigQueryProject == "" || c.BigQueryDataset == "" {
			return errors.New("config: bigquery_project and bigquery_dataset are required for the bigquery storage backend")
		}
	case BackendSQLite:
	default:
		return fmt.Errorf("config: unknown storage_backend %q", c.StorageBackend)
	}

	switch c.IdentityBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: database_url is required for the postgres identity backend")
		}
	case BackendSQLite:
	default:
		return fmt.Errorf("config: unknown identity_backend %q", c.IdentityBackend)
	}

	switch c.OracleProvider {
	case "zeroshot", "gemini":
	case "anthropic":
		if c.AnthropicAPIKey == "" && c.OracleAPIKey == "" {
			return errors.New("config: anthropic oracle needs anthropic_api_key")
		}
	default:
		return fmt.Errorf("config: unknown oracle_provider %q", c.OracleProvider)
	}

	if c.OracleRateLimit < 0 {
		return fmt.Errorf("config: oracle_rate_limit must not be negative, got %v", c.OracleRateLimit)
	}
	if c.QueueSize < 0 || c.WorkerCount < 0 {
		return errors.New("config: queue_size and worker_count must not be negative")
	}
	return nil
}

// ProviderAPIKey returns the credential for the configured oracle provider.
// oracle_api_key wins over the provider-specific key.
func (c *Config) ProviderAPIKey() string {
	if c.OracleAPIKey != "" {
		return c.OracleAPIKey
	}
	switch c.OracleProvider {
	case "gemini":
		return c.GeminiAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	}
	return ""
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideDuration(field *time.Duration, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
