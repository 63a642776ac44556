package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage"
)

// Store is an in-memory implementation of TranscriptStore
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*storage.SessionRecord
}

var _ storage.TranscriptStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		sessions: make(map[string]*storage.SessionRecord),
	}
}

func (s *Store) SaveSession(ctx context.Context, rec *storage.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, ok := s.sessions[rec.ID]
	if !ok {
		cp := *rec
		cp.Peers = slices.Clone(rec.Peers)
		cp.Turns = nil
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.sessions[rec.ID] = &cp
		return nil
	}

	existing.Stage = rec.Stage
	existing.Identity = rec.Identity
	existing.Source = rec.Source
	existing.Peers = slices.Clone(rec.Peers)
	existing.Analysis = rec.Analysis
	existing.UpdatedAt = now
	return nil
}

func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	rec.Turns = append(rec.Turns, turns...)
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ClearTurns(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	rec.Turns = nil
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	cp := *rec
	cp.Peers = slices.Clone(rec.Peers)
	cp.Turns = slices.Clone(rec.Turns)
	return &cp, nil
}

func (s *Store) ListSessions(ctx context.Context, opts storage.ListOptions) ([]*storage.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		cp := *rec
		cp.Peers = slices.Clone(rec.Peers)
		cp.Turns = nil
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	limit := opts.Limit
	if limit == 0 {
		limit = storage.DefaultListLimit
	}
	if opts.Offset >= len(out) {
		return []*storage.SessionRecord{}, nil
	}
	out = out[opts.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) Close() error {
	return nil
}
