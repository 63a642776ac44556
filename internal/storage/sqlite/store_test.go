package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage"
)

var dbSeq int

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbSeq++
	// Use in-memory SQLite with shared cache for testing
	store, err := New(fmt.Sprintf("file:benchdb%d?mode=memory&cache=shared", dbSeq))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &storage.SessionRecord{
		ID:       "sess-1",
		Stage:    domain.StageSelectingPeers,
		Identity: "Acme Bank",
		Source:   &domain.DataSource{Kind: domain.SourceLink, Value: "https://acme.test/offers"},
		Peers: []domain.Peer{
			{ID: "p1", Name: "ADCB", IsSuggested: true, Included: true},
			{ID: "custom-7", Name: "Mashreq", Reference: "https://m.test", Included: true},
		},
		Analysis: domain.CustomAnalysis("dining"),
	}
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	turns := []domain.Turn{
		{ID: "turn-1", Speaker: domain.SpeakerAssistant, Text: "Hello", QuickReplies: []string{"Start Benchmarking"}, Affordance: domain.AffordanceNone, CreatedAt: time.Now()},
		{ID: "turn-2", Speaker: domain.SpeakerUser, Text: "Start Benchmarking", Affordance: domain.AffordanceNone, CreatedAt: time.Now()},
	}
	if err := store.AppendTurns(ctx, "sess-1", turns); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Identity != "Acme Bank" {
		t.Errorf("Identity = %q", got.Identity)
	}
	if got.Source == nil || got.Source.Value != "https://acme.test/offers" {
		t.Errorf("Source = %+v", got.Source)
	}
	if len(got.Peers) != 2 || got.Peers[1].ID != "custom-7" {
		t.Errorf("Peers = %+v", got.Peers)
	}
	if got.Analysis.Query != "dining" {
		t.Errorf("Analysis = %+v", got.Analysis)
	}
	if len(got.Turns) != 2 {
		t.Fatalf("Turns = %d, want 2", len(got.Turns))
	}
	if got.Turns[0].QuickReplies[0] != "Start Benchmarking" || got.Turns[1].Speaker != domain.SpeakerUser {
		t.Errorf("Turns = %+v", got.Turns)
	}
}

func TestSQLiteStore_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &storage.SessionRecord{ID: "s", Stage: domain.StageGreeting, Analysis: domain.NoAnalysis}
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	rec.Stage = domain.StageAwaitingIdentity
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession(update) error = %v", err)
	}

	got, err := store.GetSession(ctx, "s")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Stage != domain.StageAwaitingIdentity || got.Source != nil {
		t.Errorf("GetSession() = %+v", got)
	}
}

func TestSQLiteStore_ClearAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.SaveSession(ctx, &storage.SessionRecord{ID: "s", Stage: domain.StageGreeting})
	_ = store.AppendTurns(ctx, "s", []domain.Turn{{ID: "turn-1", Speaker: domain.SpeakerAssistant, Text: "hi", CreatedAt: time.Now()}})

	if err := store.ClearTurns(ctx, "s"); err != nil {
		t.Fatalf("ClearTurns() error = %v", err)
	}
	got, _ := store.GetSession(ctx, "s")
	if len(got.Turns) != 0 {
		t.Errorf("Turns = %d after clear", len(got.Turns))
	}

	if err := store.DeleteSession(ctx, "s"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := store.GetSession(ctx, "s"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetSession() after delete error = %v", err)
	}
	if err := store.DeleteSession(ctx, "s"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("DeleteSession() twice error = %v", err)
	}
}

func TestSQLiteStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.SaveSession(ctx, &storage.SessionRecord{ID: id, Stage: domain.StageGreeting}); err != nil {
			t.Fatalf("SaveSession() error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	all, err := store.ListSessions(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("ListSessions() returned %d, first %q", len(all), all[0].ID)
	}

	page, err := store.ListSessions(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListSessions(limit) error = %v", err)
	}
	if len(page) != 2 {
		t.Errorf("ListSessions(limit 2) = %d", len(page))
	}
}

func TestSQLiteStore_AppendEmpty(t *testing.T) {
	store := newTestStore(t)
	if err := store.AppendTurns(context.Background(), "missing", nil); err != nil {
		t.Errorf("AppendTurns(nil) error = %v", err)
	}
}
