package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the sheetscan server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Convert  ConvertConfig
	Roster   RosterConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// StorageConfig locates the blob store root and the scratch area where
// uploads are unpacked.
type StorageConfig struct {
	BlobRoot string
	TempDir  string
}

// WorkerConfig tunes the background import pool. BatchSize bounds how many
// page files a job claims per cycle; PageTimeout bounds the recognition of a
// single page including any subprocess conversion.
type WorkerConfig struct {
	Concurrency  int
	BatchSize    int
	PageTimeout  time.Duration
	PollInterval time.Duration
}

// ConvertConfig describes the external ImageMagick binary used to rasterize
// PDFs. Best effort, bounded time: a failed or timed-out convert is a
// per-file error, never fatal to the job.
type ConvertConfig struct {
	Binary  string
	DPI     int
	Timeout time.Duration
}

// RosterConfig names the roster field that identifies a participant. The
// matcher resolves it once at startup instead of re-interpreting it per row.
type RosterConfig struct {
	IDField string
}

var validIDFields = map[string]bool{
	"user_id": true,
	"userkey": true,
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file in the working directory is applied first when present.
// Returns an error with a descriptive message if any required value is
// missing or invalid.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SHEETSCAN_PORT", 8080),
			Env:  envString("SHEETSCAN_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			BlobRoot: os.Getenv("STORAGE_BLOB_ROOT"),
			TempDir:  envString("STORAGE_TEMP_DIR", filepath.Join(os.TempDir(), "sheetscan")),
		},
		Worker: WorkerConfig{
			Concurrency:  envInt("WORKER_CONCURRENCY", 4),
			BatchSize:    envInt("WORKER_BATCH_SIZE", 50),
			PageTimeout:  envDuration("WORKER_PAGE_TIMEOUT", 120*time.Second),
			PollInterval: envDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		},
		Convert: ConvertConfig{
			Binary:  envString("CONVERT_BINARY", "convert"),
			DPI:     envInt("CONVERT_DPI", 300),
			Timeout: envDuration("CONVERT_TIMEOUT", 120*time.Second),
		},
		Roster: RosterConfig{
			IDField: envString("ROSTER_ID_FIELD", "userkey"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.BlobRoot == "" {
		return fmt.Errorf("STORAGE_BLOB_ROOT is required")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be at least 1, got %d", c.Worker.BatchSize)
	}

	if c.Convert.DPI < 72 || c.Convert.DPI > 1200 {
		return fmt.Errorf("CONVERT_DPI must be between 72 and 1200, got %d", c.Convert.DPI)
	}

	if !validIDFields[c.Roster.IDField] {
		return fmt.Errorf("ROSTER_ID_FIELD must be one of user_id, userkey; got %q", c.Roster.IDField)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
