// Package domain defines the canonical types shared by the flow controller,
// the renderer, and the outer collaborators.
package domain

import "time"

// Stage is the discrete phase of the guided conversation.
type Stage string

const (
	StageGreeting         Stage = "greeting"
	StageAwaitingIdentity Stage = "awaiting-identity"
	StageAwaitingSource   Stage = "awaiting-source"
	StageSelectingPeers   Stage = "selecting-peers"
	StagePeersConfirmed   Stage = "peers-confirmed"
	StageAwaitingAnalysis Stage = "awaiting-analysis-request"
)

// Stages lists every stage in flow order.
var Stages = []Stage{
	StageGreeting,
	StageAwaitingIdentity,
	StageAwaitingSource,
	StageSelectingPeers,
	StagePeersConfirmed,
	StageAwaitingAnalysis,
}

// AcceptsAnalysis reports whether analysis requests are routed at this stage.
func (s Stage) AcceptsAnalysis() bool {
	return s == StageAwaitingAnalysis || s == StagePeersConfirmed
}

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Affordance is the structured input surface attached to an assistant turn.
type Affordance string

const (
	AffordanceNone           Affordance = "none"
	AffordanceIdentityForm   Affordance = "identity-form"
	AffordanceSourceForm     Affordance = "source-form"
	AffordancePeerPicker     Affordance = "peer-picker"
	AffordanceCustomPeerForm Affordance = "custom-peer-form"
)

// Turn is one message unit in the transcript. Turns are never mutated after
// they are appended.
type Turn struct {
	ID           string     `json:"id"`
	Speaker      Speaker    `json:"speaker"`
	Text         string     `json:"text"`
	CreatedAt    time.Time  `json:"created_at"`
	QuickReplies []string   `json:"quick_replies,omitempty"`
	Affordance   Affordance `json:"affordance,omitempty"`
}

// HasAffordance reports whether the turn carries a structured input surface.
func (t Turn) HasAffordance() bool {
	return t.Affordance != "" && t.Affordance != AffordanceNone
}

// SourceKind tags a DataSource.
type SourceKind string

const (
	SourceLink SourceKind = "link"
	SourceFile SourceKind = "file"
)

// DataSource is where the entity's offer data comes from. Value is a URL for
// links and an opaque reference (the file name) for files.
type DataSource struct {
	Kind  SourceKind `json:"kind"`
	Value string     `json:"value"`
}
