package config

import (
	"context"
	"sync/atomic"

	"github.com/polymercado/engine/internal/domain"
)

// Runtime holds the live configuration snapshot. Reads are lock-free; Reload
// swaps the snapshot atomically so jobs always see a consistent view.
type Runtime struct {
	path    string
	store   domain.ConfigStore
	current atomic.Pointer[Config]
}

// NewRuntime creates a Runtime seeded with the given config.
func NewRuntime(path string, store domain.ConfigStore, initial *Config) *Runtime {
	r := &Runtime{path: path, store: store}
	r.current.Store(initial)
	return r
}

// Current returns the live configuration snapshot. Callers must not mutate
// the returned value.
func (r *Runtime) Current() *Config {
	return r.current.Load()
}

// Reload rebuilds the configuration from defaults + TOML, layers the stored
// app_config overrides on top, re-applies environment variables, validates,
// and atomically swaps the snapshot. On any error the previous snapshot is
// kept.
func (r *Runtime) Reload(ctx context.Context) error {
	cfg, err := Load(r.path)
	if err != nil {
		return err
	}
	if r.store != nil {
		overrides, err := r.store.All(ctx)
		if err != nil {
			return err
		}
		cfg.ApplyOverrides(overrides)
		cfg.ApplyEnvOverrides()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.current.Store(cfg)
	return nil
}
