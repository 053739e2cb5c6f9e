package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"

	// Fixed base name so a restarted process reopens the same data.
	storeBaseName = "OfflineHits"
)

type Config struct {
	DataDir          string        `yaml:"data_dir"`
	Backend          string        `yaml:"backend"`
	Port             int           `yaml:"port"`
	AdminToken       string        `yaml:"admin_token"`
	MaxAge           time.Duration `yaml:"max_age"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
	IngestBuffer     int           `yaml:"ingest_buffer"`
	IngestRateRPS    float64       `yaml:"ingest_rate_rps"`
	IngestRateBurst  int           `yaml:"ingest_rate_burst"`
	CollectorTimeout time.Duration `yaml:"collector_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	LogLevel         string        `yaml:"log_level"`
}

// StorePath is the backing file (SQLite) or directory (Badger) inside DataDir.
func (c Config) StorePath() string {
	ext := ".sqlite"
	if c.Backend == BackendBadger {
		ext = ".badger"
	}
	return filepath.Join(c.DataDir, storeBaseName+ext)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Backend != BackendSQLite && c.Backend != BackendBadger:
		return fmt.Errorf("unknown backend %q", c.Backend)
	case c.DataDir == "":
		return fmt.Errorf("data_dir is required")
	case c.MaxAge < 0:
		return fmt.Errorf("max_age must not be negative")
	case c.IngestBuffer <= 0:
		return fmt.Errorf("ingest_buffer must be positive")
	case c.MaxRetries < 0:
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func Default() Config {
	return Config{
		DataDir:          defaultDataDir(),
		Backend:          BackendSQLite,
		Port:             8080,
		MaxAge:           30 * 24 * time.Hour,
		PurgeInterval:    time.Hour,
		IngestBuffer:     10000,
		IngestRateRPS:    20,
		IngestRateBurst:  50,
		CollectorTimeout: 10 * time.Second,
		MaxRetries:       3,
		DispatchInterval: 30 * time.Second,
		LogLevel:         "info",
	}
}

// Load returns the defaults overridden by HITSTORE_* environment variables.
func Load() Config {
	return overlayEnv(Default())
}

// LoadFile reads a YAML file over the defaults, then applies the environment.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return overlayEnv(cfg), nil
}

func overlayEnv(c Config) Config {
	return Config{
		DataDir:          getenv("HITSTORE_DATA_DIR", c.DataDir),
		Backend:          getenv("HITSTORE_BACKEND", c.Backend),
		Port:             getint("HITSTORE_PORT", c.Port),
		AdminToken:       getenv("HITSTORE_ADMIN_TOKEN", c.AdminToken),
		MaxAge:           getduration("HITSTORE_MAX_AGE", c.MaxAge),
		PurgeInterval:    getduration("HITSTORE_PURGE_INTERVAL", c.PurgeInterval),
		IngestBuffer:     getint("HITSTORE_INGEST_BUFFER", c.IngestBuffer),
		IngestRateRPS:    getfloat("HITSTORE_INGEST_RATE_RPS", c.IngestRateRPS),
		IngestRateBurst:  getint("HITSTORE_INGEST_RATE_BURST", c.IngestRateBurst),
		CollectorTimeout: getduration("HITSTORE_COLLECTOR_TIMEOUT", c.CollectorTimeout),
		MaxRetries:       getint("HITSTORE_MAX_RETRIES", c.MaxRetries),
		DispatchInterval: getduration("HITSTORE_DISPATCH_INTERVAL", c.DispatchInterval),
		LogLevel:         getenv("HITSTORE_LOG_LEVEL", c.LogLevel),
	}
}

// defaultDataDir is the user's private document area, falling back to the
// working directory.
func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hitstore")
	}
	return "."
}
