// Package runtime assembles the agent: session manager, transcript store,
// event bus, completion backend and HTTP server, with their lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/offer-benchmark-agent/internal/completion"
	"github.com/tjfontaine/offer-benchmark-agent/internal/config"
	"github.com/tjfontaine/offer-benchmark-agent/internal/conversation"
	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/events"
	"github.com/tjfontaine/offer-benchmark-agent/internal/flow"
	"github.com/tjfontaine/offer-benchmark-agent/internal/metrics"
	"github.com/tjfontaine/offer-benchmark-agent/internal/server"
	"github.com/tjfontaine/offer-benchmark-agent/internal/session"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage/memory"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage/sqlite"
)

// Agent is the assembled service. It can be embedded in a larger program or
// run standalone from cmd/agent.
type Agent struct {
	// Dependencies (injected via options)
	config    *config.Config
	store     storage.TranscriptStore
	responder domain.Responder
	delayer   session.Delayer
	catalog   flow.Catalog
	registry  *prometheus.Registry
	logger    *slog.Logger

	storeSet     bool
	responderSet bool

	// Assembled in New
	metrics  *metrics.Recorder
	bus      *events.Bus
	sessions *session.Manager
	server   *server.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// New creates an Agent. A config is required (WithConfig or WithFileConfig);
// storage, responder and delay follow the config unless overridden.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if a.config == nil {
		return nil, errors.New("config required (use WithConfig or WithFileConfig)")
	}
	cfg := a.config

	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	a.metrics = metrics.New(a.registry)

	if !a.storeSet {
		store, err := openStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	if a.catalog == nil {
		catalog, err := catalogFromConfig(cfg.Flow.SuggestedPeers)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.catalog = catalog
	}

	if !a.responderSet {
		gen, err := completion.New(cfg.Completion,
			completion.WithMetrics(a.metrics),
			completion.WithLogger(a.logger),
		)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("create completion backend: %w", err)
		}
		if gen != nil {
			a.responder = gen
			a.logger.Info("completion backend configured", slog.String("backend", gen.Name()))
		} else {
			a.logger.Info("no completion api key, using scripted replies only")
		}
	}

	if a.delayer == nil {
		a.delayer = session.Fixed(cfg.Flow.ThinkingDelay)
	}

	a.bus = events.NewBus(a.logger)
	a.sessions = session.NewManager(session.ManagerConfig{
		TTL:             cfg.Session.TTL,
		CleanupInterval: cfg.Session.CleanupInterval,
	}, session.Options{
		Catalog:      a.catalog,
		Delayer:      a.delayer,
		Responder:    a.responder,
		Notifier:     a.bus,
		Recorder:     conversation.NewRecorder(a.store, a.logger),
		Metrics:      a.metrics,
		Logger:       a.logger,
		ReplyTimeout: cfg.Completion.Timeout,
	})

	a.server = server.New(cfg.Server.Port, a.logger)
	server.NewHandlers(server.HandlersConfig{
		Sessions:       a.sessions,
		Store:          a.store,
		Bus:            a.bus,
		Metrics:        promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		Logger:         a.logger,
		RequestTimeout: cfg.Server.RequestTimeout,
	}).Mount(a.server.Router)

	return a, nil
}

func openStore(cfg config.StorageConfig) (storage.TranscriptStore, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func catalogFromConfig(peers []config.PeerConfig) (flow.Catalog, error) {
	if len(peers) == 0 {
		return flow.DefaultCatalog(), nil
	}
	in := make([]domain.Peer, 0, len(peers))
	for _, p := range peers {
		in = append(in, domain.Peer{ID: p.ID, Name: p.Name, Reference: p.Reference})
	}
	catalog, err := flow.NewCatalog(in)
	if err != nil {
		return nil, fmt.Errorf("flow.suggested_peers: %w", err)
	}
	return catalog, nil
}

// Handler returns the HTTP handler with every route mounted.
func (a *Agent) Handler() http.Handler { return a.server.Router }

// Sessions exposes the live session manager.
func (a *Agent) Sessions() *session.Manager { return a.sessions }

// Start binds the configured port and serves in the background. Serve
// errors are returned by Wait.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener != nil {
		return errors.New("agent already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.listener = ln
	a.serveErr = make(chan error, 1)

	go func() {
		a.serveErr <- a.server.Serve(ln)
	}()

	a.logger.Info("agent started",
		slog.String("addr", ln.Addr().String()),
		slog.String("storage", a.config.Storage.Type),
		slog.Int("suggested_peers", len(a.catalog)),
	)
	return nil
}

// Addr is the bound address once started.
func (a *Agent) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Wait blocks until the server stops or ctx is done.
func (a *Agent) Wait(ctx context.Context) error {
	a.mu.Lock()
	ch := a.serveErr
	a.mu.Unlock()
	if ch == nil {
		return errors.New("agent not started")
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the server, closes every live session and releases the
// store.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("shutting down agent")

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.sessions.Close()

	if err := a.bus.Close(); err != nil {
		a.logger.Error("failed to close event bus", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeStore(); err != nil {
		a.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("agent shutdown complete")
	return errors.Join(errs...)
}

func (a *Agent) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
