package session

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// ManagerConfig controls session lifetime.
type ManagerConfig struct {
	// TTL is how long an untouched session lives. Zero keeps sessions until
	// they are deleted.
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Manager holds live sessions keyed by id. Expired or deleted sessions are
// closed; their stored transcripts are kept.
type Manager struct {
	cache  *cache.Cache
	opts   Options
	logger *slog.Logger
}

// NewManager creates a manager whose sessions are all built from opts.
func NewManager(cfg ManagerConfig, opts Options) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cache:  cache.New(ttl, cfg.CleanupInterval),
		opts:   opts,
		logger: logger,
	}
	m.cache.OnEvicted(func(id string, v any) {
		if s, ok := v.(*Session); ok {
			s.Close()
			m.logger.Info("session closed", slog.String("session_id", id))
		}
	})
	return m
}

// Create starts a new session with a fresh id.
func (m *Manager) Create() *Session {
	id := uuid.NewString()
	s := New(id, m.opts)
	m.cache.Set(id, s, cache.DefaultExpiration)
	m.logger.Info("session created", slog.String("session_id", id))
	return s
}

// Get returns a live session and extends its lifetime.
func (m *Manager) Get(id string) (*Session, error) {
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	s := v.(*Session)
	m.cache.Set(id, s, cache.DefaultExpiration)
	return s, nil
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	if _, ok := m.cache.Get(id); !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	m.cache.Delete(id)
	return nil
}

// List returns live sessions, oldest first.
func (m *Manager) List() []*Session {
	items := m.cache.Items()
	out := make([]*Session, 0, len(items))
	for _, item := range items {
		if s, ok := item.Object.(*Session); ok {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int { return m.cache.ItemCount() }

// Close closes every live session.
func (m *Manager) Close() {
	for id := range m.cache.Items() {
		m.cache.Delete(id)
	}
}
