package session

import (
	"context"
	"slices"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// Notifiers fans each notification out to every member in order.
type Notifiers []domain.Notifier

var _ domain.Notifier = Notifiers(nil)

func (ns Notifiers) OnIdentityChange(ctx context.Context, sessionID, identity string) {
	for _, n := range ns {
		n.OnIdentityChange(ctx, sessionID, identity)
	}
}

func (ns Notifiers) OnPeerSetChange(ctx context.Context, sessionID string, peers []domain.Peer) {
	for _, n := range ns {
		n.OnPeerSetChange(ctx, sessionID, slices.Clone(peers))
	}
}

func (ns Notifiers) OnSelectedAnalysisChange(ctx context.Context, sessionID string, signal domain.AnalysisSignal) {
	for _, n := range ns {
		n.OnSelectedAnalysisChange(ctx, sessionID, signal)
	}
}

// lastSent remembers the last delivered value of each notification so an
// unchanged value is not delivered twice.
type lastSent struct {
	identity  *string
	peers     []domain.Peer
	peersSent bool
	analysis  *domain.AnalysisSignal
}

func (l *lastSent) identityChanged(v string) bool {
	if l.identity != nil && *l.identity == v {
		return false
	}
	l.identity = &v
	return true
}

func (l *lastSent) peersChanged(v []domain.Peer) bool {
	if l.peersSent && slices.Equal(l.peers, v) {
		return false
	}
	l.peers = slices.Clone(v)
	l.peersSent = true
	return true
}

func (l *lastSent) analysisChanged(v domain.AnalysisSignal) bool {
	if l.analysis != nil && *l.analysis == v {
		return false
	}
	l.analysis = &v
	return true
}
