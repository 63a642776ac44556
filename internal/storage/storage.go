// Package storage defines the transcript store used to keep an operator
// record of conversations. It is never used to restore a live flow.
package storage

import (
	"context"
	"time"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// SessionRecord is the stored view of one session.
type SessionRecord struct {
	ID        string                `json:"id"`
	Stage     domain.Stage          `json:"stage"`
	Identity  string                `json:"identity,omitempty"`
	Source    *domain.DataSource    `json:"source,omitempty"`
	Peers     []domain.Peer         `json:"peers"`
	Analysis  domain.AnalysisSignal `json:"analysis"`
	Turns     []domain.Turn         `json:"turns,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// ListOptions contains options for listing sessions.
type ListOptions struct {
	Limit  int
	Offset int
}

// TranscriptStore persists session snapshots and their append-only turns.
type TranscriptStore interface {
	// SaveSession inserts or updates the collected state. Turns are ignored.
	SaveSession(ctx context.Context, rec *SessionRecord) error

	// AppendTurns appends committed turns in order.
	AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error

	// ClearTurns drops the stored transcript when a session is reset.
	ClearTurns(ctx context.Context, sessionID string) error

	// GetSession returns the record with its turns.
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// ListSessions returns records, most recently updated first, without turns.
	ListSessions(ctx context.Context, opts ListOptions) ([]*SessionRecord, error)

	DeleteSession(ctx context.Context, id string) error

	Close() error
}

// DefaultListLimit applies when ListOptions.Limit is zero.
const DefaultListLimit = 100
