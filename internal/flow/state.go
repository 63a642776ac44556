// Package flow implements the conversation state machine. Advance is a pure
// reducer: it never mutates the state it is given.
package flow

import (
	"fmt"
	"time"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// State is the collected state of one conversation.
type State struct {
	Stage      domain.Stage          `json:"stage"`
	Identity   string                `json:"identity,omitempty"`
	Source     *domain.DataSource    `json:"source,omitempty"`
	Peers      domain.PeerSet        `json:"peers"`
	Analysis   domain.AnalysisSignal `json:"analysis"`
	Transcript []domain.Turn         `json:"transcript"`

	// Seq is the monotonic source for turn and custom peer ids.
	Seq uint64 `json:"seq"`

	Catalog Catalog `json:"-"`
}

// New returns the initial greeting state with the welcome turn.
func New(at time.Time, catalog Catalog) State {
	s := State{
		Stage:    domain.StageGreeting,
		Analysis: domain.NoAnalysis,
		Catalog:  catalog,
	}
	s.Seq++
	s.Transcript = []domain.Turn{{
		ID:           turnID(s.Seq),
		Speaker:      domain.SpeakerAssistant,
		Text:         greetingText,
		CreatedAt:    at,
		QuickReplies: []string{ReplyStartBenchmarking},
		Affordance:   domain.AffordanceNone,
	}}
	return s
}

// LastAssistantTurn returns the most recent assistant turn.
func (s State) LastAssistantTurn() (domain.Turn, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Speaker == domain.SpeakerAssistant {
			return s.Transcript[i], true
		}
	}
	return domain.Turn{}, false
}

// Affordance is the surface the latest assistant turn asks for.
func (s State) Affordance() domain.Affordance {
	t, ok := s.LastAssistantTurn()
	if !ok || t.Affordance == "" {
		return domain.AffordanceNone
	}
	return t.Affordance
}

func turnID(seq uint64) string { return fmt.Sprintf("turn-%d", seq) }

func customPeerID(seq uint64) string { return fmt.Sprintf("custom-%d", seq) }
