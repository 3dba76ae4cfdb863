package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Backend names accepted by Config.Backend.
const (
	BackendRedis  = "redis"
	BackendPebble = "pebble"
)

// Redis holds connection parameters for the Redis backend. The values are
// passed through to the client untouched.
type Redis struct {
	Addr     string `json:"addr" env:"DRIFTQ_REDIS_ADDR"`
	Username string `json:"username" env:"DRIFTQ_REDIS_USERNAME"`
	Password string `json:"password" env:"DRIFTQ_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"DRIFTQ_REDIS_DB"`
}

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// Backend selects the journal store: "redis" or "pebble" (embedded).
	Backend string `json:"backend" env:"DRIFTQ_BACKEND"`
	Redis   Redis  `json:"redis"`
	// DataDir is the embedded store directory (pebble backend only).
	DataDir string `json:"dataDir" env:"DRIFTQ_DATA_DIR"`
	// Max is the range-read page size and the soft buffer bound per query.
	Max int `json:"max" env:"DRIFTQ_MAX"`
	// KeyPrefix namespaces every store key and channel.
	KeyPrefix string `json:"keyPrefix" env:"DRIFTQ_KEY_PREFIX"`
	HTTPAddr  string `json:"httpAddr" env:"DRIFTQ_HTTP_ADDR"`
	LogLevel  string `json:"logLevel" env:"DRIFTQ_LOG_LEVEL"`
	LogFormat string `json:"logFormat" env:"DRIFTQ_LOG_FORMAT"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Backend:   BackendPebble,
		Redis:     Redis{Addr: "localhost:6379"},
		DataDir:   "data",
		Max:       500,
		KeyPrefix: "driftq",
		HTTPAddr:  ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendRedis, BackendPebble:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Max < 1 {
		return fmt.Errorf("config: max must be positive, got %d", c.Max)
	}
	if c.Backend == BackendPebble && c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required for the pebble backend")
	}
	return nil
}
