package runtime

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/offer-benchmark-agent/internal/config"
	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/flow"
	"github.com/tjfontaine/offer-benchmark-agent/internal/session"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage/memory"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage/sqlite"
)

// Option is a functional option for configuring an Agent.
type Option func(*Agent) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *Agent) error {
		a.config = cfg
		return nil
	}
}

// WithFileConfig loads config.yaml from path, then environment overrides.
func WithFileConfig(path string) Option {
	return func(a *Agent) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a.config = cfg
		return nil
	}
}

// WithSQLite stores transcripts in a SQLite database, overriding storage.type.
func WithSQLite(path string) Option {
	return func(a *Agent) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		a.store = store
		a.storeSet = true
		return nil
	}
}

// WithMemoryStorage keeps transcripts in process memory.
func WithMemoryStorage() Option {
	return func(a *Agent) error {
		a.store = memory.New()
		a.storeSet = true
		return nil
	}
}

// WithStore sets a custom transcript store. A nil store disables persistence.
func WithStore(store storage.TranscriptStore) Option {
	return func(a *Agent) error {
		a.store = store
		a.storeSet = true
		return nil
	}
}

// WithResponder replaces the configured completion backend. A nil responder
// keeps every reply scripted.
func WithResponder(r domain.Responder) Option {
	return func(a *Agent) error {
		a.responder = r
		a.responderSet = true
		return nil
	}
}

// WithDelayer replaces the configured thinking delay.
func WithDelayer(d session.Delayer) Option {
	return func(a *Agent) error {
		a.delayer = d
		return nil
	}
}

// WithCatalog replaces the suggested peers.
func WithCatalog(c flow.Catalog) Option {
	return func(a *Agent) error {
		a.catalog = c
		return nil
	}
}

// WithRegistry registers metrics on reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *Agent) error {
		a.registry = reg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		a.logger = logger
		return nil
	}
}
