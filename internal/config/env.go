package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// FromEnv overlays DRIFTQ_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}
