package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_DeliversPerSession(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "a")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "b")
	require.NoError(t, err)

	bus.OnIdentityChange(ctx, "a", "Acme Bank")
	bus.OnSelectedAnalysisChange(ctx, "b", domain.AnalysisSignal{Kind: domain.AnalysisScorecard})

	got := recv(t, a)
	assert.Equal(t, KindIdentity, got.Kind)
	assert.Equal(t, "Acme Bank", got.Identity)
	assert.Equal(t, "a", got.SessionID)

	got = recv(t, b)
	assert.Equal(t, KindAnalysis, got.Kind)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, domain.AnalysisScorecard, got.Analysis.Kind)
}

func TestBus_PeerSet(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "s")
	require.NoError(t, err)

	bus.OnPeerSetChange(ctx, "s", []domain.Peer{{ID: "p1", Name: "ADCB", Included: true}})

	got := recv(t, ch)
	assert.Equal(t, KindPeerSet, got.Kind)
	require.Len(t, got.Peers, 1)
	assert.Equal(t, "ADCB", got.Peers[0].Name)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		bus.OnIdentityChange(context.Background(), "nobody", "x")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked without subscribers")
	}
}

func TestBus_SubscriptionEndsWithContext(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "s")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
}
