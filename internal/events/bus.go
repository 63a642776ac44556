// Package events fans the flow's outward notifications out to subscribers
// (the SSE endpoint) over an in-process watermill pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// Kind tags an Event.
type Kind string

const (
	KindIdentity Kind = "identity"
	KindPeerSet  Kind = "peer-set"
	KindAnalysis Kind = "analysis"
)

// Event is one notification as delivered to subscribers.
type Event struct {
	SessionID string                 `json:"session_id"`
	Kind      Kind                   `json:"kind"`
	Identity  string                 `json:"identity,omitempty"`
	Peers     []domain.Peer          `json:"peers,omitempty"`
	Analysis  *domain.AnalysisSignal `json:"analysis,omitempty"`
	At        time.Time              `json:"at"`
}

// Bus implements domain.Notifier by publishing to a per-session topic.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

var _ domain.Notifier = (*Bus)(nil)

// NewBus creates an in-process bus. Publishing never waits for subscribers.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NewStdLogger(false, false),
		),
		logger: logger,
	}
}

func topic(sessionID string) string { return "session." + sessionID }

func (b *Bus) OnIdentityChange(ctx context.Context, sessionID, identity string) {
	b.publish(ctx, Event{SessionID: sessionID, Kind: KindIdentity, Identity: identity})
}

func (b *Bus) OnPeerSetChange(ctx context.Context, sessionID string, peers []domain.Peer) {
	b.publish(ctx, Event{SessionID: sessionID, Kind: KindPeerSet, Peers: peers})
}

func (b *Bus) OnSelectedAnalysisChange(ctx context.Context, sessionID string, signal domain.AnalysisSignal) {
	b.publish(ctx, Event{SessionID: sessionID, Kind: KindAnalysis, Analysis: &signal})
}

func (b *Bus) publish(ctx context.Context, ev Event) {
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to encode event", slog.String("session_id", ev.SessionID), slog.String("error", err.Error()))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubSub.Publish(topic(ev.SessionID), msg); err != nil {
		b.logger.WarnContext(ctx, "failed to publish event",
			slog.String("session_id", ev.SessionID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe streams events for one session until ctx is done. Events
// published before the call are not replayed.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	msgs, err := b.pubSub.Subscribe(ctx, topic(sessionID))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				b.logger.Warn("dropping undecodable event", slog.String("error", err.Error()))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the pub/sub and ends every subscription.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
