package flow

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// Outcome classifies what Advance did with an input.
type Outcome string

const (
	// OutcomeApplied means a rule matched and its transition ran.
	OutcomeApplied Outcome = "applied"
	// OutcomeFallback means no rule matched; one fallback turn was emitted.
	OutcomeFallback Outcome = "fallback"
	// OutcomeRejected means a guard refused the input. State is unchanged
	// and no turn is emitted.
	OutcomeRejected Outcome = "rejected"
)

// Effect names an outward notification a step asks for.
type Effect string

const (
	EffectIdentity Effect = "identity"
	EffectPeerSet  Effect = "peer-set"
	EffectAnalysis Effect = "analysis"
)

// Result is the output of one Advance call.
type Result struct {
	State   State
	Turns   []domain.Turn
	Outcome Outcome
	Rule    string
	Err     error
	Effects []Effect

	// Delegable holds indices into Turns of assistant turns whose text a
	// completion service may phrase instead of the canned reply.
	Delegable []int
}

// HasEffect reports whether e was requested.
func (r Result) HasEffect(e Effect) bool { return slices.Contains(r.Effects, e) }

// AssistantTurns returns the assistant turns produced by the step.
func (r Result) AssistantTurns() []domain.Turn {
	var out []domain.Turn
	for _, t := range r.Turns {
		if t.Speaker == domain.SpeakerAssistant {
			out = append(out, t)
		}
	}
	return out
}

// UserTurns returns the user echo turns produced by the step.
func (r Result) UserTurns() []domain.Turn {
	var out []domain.Turn
	for _, t := range r.Turns {
		if t.Speaker == domain.SpeakerUser {
			out = append(out, t)
		}
	}
	return out
}

// WithReply replaces the text of Turns[i] in both the result and the next
// state's transcript. The receiver is not modified.
func (r Result) WithReply(i int, text string) Result {
	if i < 0 || i >= len(r.Turns) {
		return r
	}
	id := r.Turns[i].ID
	r.Turns = slices.Clone(r.Turns)
	r.Turns[i].Text = text
	r.State.Transcript = slices.Clone(r.State.Transcript)
	for j := len(r.State.Transcript) - 1; j >= 0; j-- {
		if r.State.Transcript[j].ID == id {
			r.State.Transcript[j].Text = text
			break
		}
	}
	return r
}

// Advance applies one input to state. It is deterministic for a given
// (state, input, at) and never mutates state.
func Advance(state State, in domain.Input, at time.Time) Result {
	st := &step{prev: state, next: state, in: in, at: at}

	if err := guard(in); err != nil {
		return st.rejected(err)
	}

	for _, r := range rulesFor(state.Stage) {
		if !r.when(st) {
			continue
		}
		st.rule = r.name
		r.then(st)
		if st.err != nil {
			return st.rejected(st.err)
		}
		return st.commit(OutcomeApplied)
	}

	st.rule = "fallback"
	fallback(st)
	return st.commit(OutcomeFallback)
}

// guard rejects inputs whose required fields are blank, whatever the stage.
func guard(in domain.Input) error {
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }
	switch in.Kind {
	case domain.InputText, domain.InputQuickReply:
		if blank(in.Text) {
			return fmt.Errorf("%w: text is required", domain.ErrInvalidSubmission)
		}
	case domain.InputIdentity:
		if blank(in.Name) {
			return fmt.Errorf("%w: name is required", domain.ErrInvalidSubmission)
		}
	case domain.InputSourceLink, domain.InputSourceFile:
		if blank(in.Reference) {
			return fmt.Errorf("%w: source reference is required", domain.ErrInvalidSubmission)
		}
	case domain.InputCustomPeer:
		if blank(in.Name) || blank(in.Reference) {
			return fmt.Errorf("%w: custom peer needs a name and a reference", domain.ErrInvalidSubmission)
		}
	case domain.InputPeerToggle, domain.InputPeerRemove:
		if blank(in.PeerID) {
			return fmt.Errorf("%w: peer id is required", domain.ErrInvalidSubmission)
		}
	case domain.InputPeersDone:
	default:
		return fmt.Errorf("%w: unknown input kind %q", domain.ErrUnexpectedInput, in.Kind)
	}
	return nil
}

// step accumulates one transition.
type step struct {
	prev State
	next State
	in   domain.Input
	at   time.Time

	rule      string
	turns     []domain.Turn
	effects   []Effect
	delegable []int
	err       error
}

func (st *step) text() string { return strings.TrimSpace(st.in.Text) }

func (st *step) append(speaker domain.Speaker, text string, aff domain.Affordance, quick []string) int {
	st.next.Seq++
	if aff == "" {
		aff = domain.AffordanceNone
	}
	st.turns = append(st.turns, domain.Turn{
		ID:           turnID(st.next.Seq),
		Speaker:      speaker,
		Text:         text,
		CreatedAt:    st.at,
		QuickReplies: slices.Clone(quick),
		Affordance:   aff,
	})
	return len(st.turns) - 1
}

func (st *step) echo(text string) {
	st.append(domain.SpeakerUser, text, domain.AffordanceNone, nil)
}

func (st *step) reply(text string, aff domain.Affordance, quick ...string) int {
	return st.append(domain.SpeakerAssistant, text, aff, quick)
}

func (st *step) delegate(i int) { st.delegable = append(st.delegable, i) }

func (st *step) effect(e Effect) {
	if !slices.Contains(st.effects, e) {
		st.effects = append(st.effects, e)
	}
}

func (st *step) fail(err error) { st.err = err }

func (st *step) rejected(err error) Result {
	return Result{
		State:   st.prev,
		Outcome: OutcomeRejected,
		Rule:    st.rule,
		Err:     err,
	}
}

func (st *step) commit(outcome Outcome) Result {
	if len(st.turns) > 0 {
		st.next.Transcript = append(slices.Clip(st.prev.Transcript), st.turns...)
	}
	return Result{
		State:     st.next,
		Turns:     st.turns,
		Outcome:   outcome,
		Rule:      st.rule,
		Effects:   st.effects,
		Delegable: st.delegable,
	}
}
