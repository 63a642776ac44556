package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage"
)

func TestMemoryStore_SaveAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := &storage.SessionRecord{
		ID:       "sess-1",
		Stage:    domain.StageAwaitingSource,
		Identity: "Acme Bank",
		Peers:    []domain.Peer{{ID: "p1", Name: "ADCB", IsSuggested: true}},
		Analysis: domain.NoAnalysis,
	}
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	turns := []domain.Turn{
		{ID: "turn-1", Speaker: domain.SpeakerAssistant, Text: "Hello", CreatedAt: time.Now()},
		{ID: "turn-2", Speaker: domain.SpeakerUser, Text: "Start", CreatedAt: time.Now()},
	}
	if err := store.AppendTurns(ctx, "sess-1", turns); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Identity != "Acme Bank" || len(got.Turns) != 2 || got.Turns[1].Text != "Start" {
		t.Errorf("GetSession() = %+v", got)
	}

	rec.Stage = domain.StageSelectingPeers
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession(update) error = %v", err)
	}
	got, _ = store.GetSession(ctx, "sess-1")
	if got.Stage != domain.StageSelectingPeers || len(got.Turns) != 2 {
		t.Errorf("update lost data: stage=%s turns=%d", got.Stage, len(got.Turns))
	}
}

func TestMemoryStore_ClearTurns(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.SaveSession(ctx, &storage.SessionRecord{ID: "s"})
	_ = store.AppendTurns(ctx, "s", []domain.Turn{{ID: "turn-1"}})

	if err := store.ClearTurns(ctx, "s"); err != nil {
		t.Fatalf("ClearTurns() error = %v", err)
	}
	got, _ := store.GetSession(ctx, "s")
	if len(got.Turns) != 0 {
		t.Errorf("Turns = %d, want 0", len(got.Turns))
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetSession(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetSession() error = %v", err)
	}
	if err := store.AppendTurns(ctx, "nope", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AppendTurns() error = %v", err)
	}
	if err := store.DeleteSession(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("DeleteSession() error = %v", err)
	}
}

func TestMemoryStore_List(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_ = store.SaveSession(ctx, &storage.SessionRecord{ID: id})
		time.Sleep(time.Millisecond)
	}

	all, err := store.ListSessions(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" {
		t.Errorf("ListSessions() order = %v", ids(all))
	}

	page, _ := store.ListSessions(ctx, storage.ListOptions{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != "b" {
		t.Errorf("ListSessions(page) = %v", ids(page))
	}

	empty, _ := store.ListSessions(ctx, storage.ListOptions{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("ListSessions(offset past end) = %v", ids(empty))
	}

	if err := store.DeleteSession(ctx, "b"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	all, _ = store.ListSessions(ctx, storage.ListOptions{})
	if len(all) != 2 {
		t.Errorf("after delete = %v", ids(all))
	}
}

func ids(recs []*storage.SessionRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
