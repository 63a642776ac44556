package domain

import (
	"context"
)

// Notifier receives the only outward notifications the flow controller
// emits. Implementations must not block for long; they run on the session
// worker.
type Notifier interface {
	OnIdentityChange(ctx context.Context, sessionID, identity string)
	OnPeerSetChange(ctx context.Context, sessionID string, peers []Peer)
	OnSelectedAnalysisChange(ctx context.Context, sessionID string, signal AnalysisSignal)
}

// ReplyRequest is what the session hands to a Responder when an assistant
// turn may be phrased by the completion service.
type ReplyRequest struct {
	SessionID  string
	Stage      Stage
	Identity   string
	Source     *DataSource
	Peers      []Peer
	Analysis   AnalysisSignal
	Transcript []Turn // committed turns plus the pending user turns, oldest first
	Canned     string // the reply used when the responder fails
}

// Responder phrases an assistant reply. It is stateless per call and may
// fail; callers fall back to ReplyRequest.Canned.
type Responder interface {
	Name() string
	Reply(ctx context.Context, req *ReplyRequest) (string, error)
}
