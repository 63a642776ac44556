package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage"
)

// Store is a SQLite implementation of TranscriptStore
type Store struct {
	db *sql.DB
}

var _ storage.TranscriptStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			identity TEXT,
			source TEXT,
			peers TEXT NOT NULL,
			analysis TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			quick_replies TEXT,
			affordance TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveSession(ctx context.Context, rec *storage.SessionRecord) error {
	peers, err := json.Marshal(rec.Peers)
	if err != nil {
		return fmt.Errorf("failed to marshal peers: %w", err)
	}
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	var source sql.NullString
	if rec.Source != nil {
		b, err := json.Marshal(rec.Source)
		if err != nil {
			return fmt.Errorf("failed to marshal source: %w", err)
		}
		source = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()
	query := `INSERT INTO sessions (id, stage, identity, source, peers, analysis, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	              stage = excluded.stage,
	              identity = excluded.identity,
	              source = excluded.source,
	              peers = excluded.peers,
	              analysis = excluded.analysis,
	              updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, string(rec.Stage), rec.Identity, source, string(peers), string(analysis), now, now)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO turns (session_id, turn_id, speaker, text, quick_replies, affordance, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	for _, t := range turns {
		var quick sql.NullString
		if len(t.QuickReplies) > 0 {
			b, err := json.Marshal(t.QuickReplies)
			if err != nil {
				return fmt.Errorf("failed to marshal quick replies: %w", err)
			}
			quick = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query,
			sessionID, t.ID, string(t.Speaker), t.Text, quick, string(t.Affordance), t.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	return tx.Commit()
}

func (s *Store) ClearTurns(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*storage.SessionRecord, error) {
	var rec storage.SessionRecord
	var stage string
	var identity, source sql.NullString
	var peers, analysis string

	if err := row.Scan(&rec.ID, &stage, &identity, &source, &peers, &analysis, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Stage = domain.Stage(stage)
	rec.Identity = identity.String
	if source.Valid {
		rec.Source = &domain.DataSource{}
		if err := json.Unmarshal([]byte(source.String), rec.Source); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(peers), &rec.Peers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal peers: %w", err)
	}
	if err := json.Unmarshal([]byte(analysis), &rec.Analysis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.SessionRecord, error) {
	query := `SELECT id, stage, identity, source, peers, analysis, created_at, updated_at
	          FROM sessions WHERE id = ?`

	rec, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	turns, err := s.getTurns(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Turns = turns
	return rec, nil
}

func (s *Store) getTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	query := `SELECT turn_id, speaker, text, quick_replies, affordance, created_at
	          FROM turns WHERE session_id = ?
	          ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var speaker, affordance string
		var quick sql.NullString
		if err := rows.Scan(&t.ID, &speaker, &t.Text, &quick, &affordance, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Speaker = domain.Speaker(speaker)
		t.Affordance = domain.Affordance(affordance)
		if quick.Valid {
			if err := json.Unmarshal([]byte(quick.String), &t.QuickReplies); err != nil {
				return nil, fmt.Errorf("failed to unmarshal quick replies: %w", err)
			}
		}
		turns = append(turns, t)
	}

	return turns, rows.Err()
}

func (s *Store) ListSessions(ctx context.Context, opts storage.ListOptions) ([]*storage.SessionRecord, error) {
	query := `SELECT id, stage, identity, source, peers, analysis, created_at, updated_at
	          FROM sessions
	          ORDER BY updated_at DESC
	          LIMIT ? OFFSET ?`

	limit := opts.Limit
	if limit == 0 {
		limit = storage.DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	out := []*storage.SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// DeleteSession removes the session and its turns. Turns are deleted
// explicitly since foreign_keys is a per-connection pragma.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}

	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}
