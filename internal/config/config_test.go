package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftq.json")
	if err := os.WriteFile(path, []byte(`{"backend":"redis","max":42,"redis":{"addr":"redis:6379"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendRedis || cfg.Max != 42 || cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.KeyPrefix != "driftq" {
		t.Fatalf("untouched defaults lost: %+v", cfg)
	}
}

func TestFromEnvOverlays(t *testing.T) {
	t.Setenv("DRIFTQ_BACKEND", "redis")
	t.Setenv("DRIFTQ_REDIS_ADDR", "10.0.0.1:6379")
	t.Setenv("DRIFTQ_MAX", "17")

	cfg := Default()
	if err := FromEnv(&cfg); err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Backend != BackendRedis || cfg.Redis.Addr != "10.0.0.1:6379" || cfg.Max != 17 {
		t.Fatalf("env values not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Max = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for max=0")
	}

	cfg = Default()
	cfg.Backend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for unknown backend")
	}

	cfg = Default()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for pebble backend without dataDir")
	}
}
