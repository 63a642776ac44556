// Package conversation records committed turns and the collected state of a
// session to a transcript store.
package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/flow"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage"
)

const persistTimeout = 5 * time.Second

// Recorder persists best-effort: failures are logged and never fail the
// conversation. A nil *Recorder records nothing.
type Recorder struct {
	store  storage.TranscriptStore
	logger *slog.Logger
}

// NewRecorder returns nil when store is nil.
func NewRecorder(store storage.TranscriptStore, logger *slog.Logger) *Recorder {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Open records a new session with its initial transcript.
func (r *Recorder) Open(ctx context.Context, sessionID string, state flow.State) {
	if r == nil {
		return
	}
	ctx, cancel := buildPersistenceContext(ctx, persistTimeout)
	defer cancel()

	if r.save(ctx, sessionID, state) {
		r.append(ctx, sessionID, state.Transcript)
	}
}

// Commit records the turns one step appended and the state after it.
func (r *Recorder) Commit(ctx context.Context, sessionID string, state flow.State, turns []domain.Turn) {
	if r == nil {
		return
	}
	ctx, cancel := buildPersistenceContext(ctx, persistTimeout)
	defer cancel()

	if r.save(ctx, sessionID, state) {
		r.append(ctx, sessionID, turns)
	}
}

// Reset replaces the stored transcript with the fresh session's.
func (r *Recorder) Reset(ctx context.Context, sessionID string, state flow.State) {
	if r == nil {
		return
	}
	ctx, cancel := buildPersistenceContext(ctx, persistTimeout)
	defer cancel()

	if !r.save(ctx, sessionID, state) {
		return
	}
	if err := r.store.ClearTurns(ctx, sessionID); err != nil {
		r.logger.Error("failed to clear transcript",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.append(ctx, sessionID, state.Transcript)
}

func (r *Recorder) save(ctx context.Context, sessionID string, state flow.State) bool {
	rec := &storage.SessionRecord{
		ID:       sessionID,
		Stage:    state.Stage,
		Identity: state.Identity,
		Source:   state.Source,
		Peers:    state.Peers.Peers(),
		Analysis: state.Analysis,
	}
	if err := r.store.SaveSession(ctx, rec); err != nil {
		r.logger.Error("failed to save session",
			slog.String("session_id", sessionID),
			slog.String("stage", string(state.Stage)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (r *Recorder) append(ctx context.Context, sessionID string, turns []domain.Turn) {
	if len(turns) == 0 {
		return
	}
	if err := r.store.AppendTurns(ctx, sessionID, turns); err != nil {
		r.logger.Error("failed to store turns",
			slog.String("session_id", sessionID),
			slog.Int("turns", len(turns)),
			slog.String("error", err.Error()),
		)
	}
}

// buildPersistenceContext detaches from the caller's cancellation so a reset
// or a client disconnect does not drop a transcript, while still bounding
// the write.
func buildPersistenceContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}
