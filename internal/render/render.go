// Package render decides which input surfaces accompany the latest turn and
// normalizes what the user enters through them.
package render

import (
	"strings"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// View is the session state the surface depends on besides the turn itself.
// What the user is typing is never part of it; see Surface.SendEnabled.
type View struct {
	Peers          domain.PeerSet
	InFlight       bool
	CustomFormOpen bool
}

// Surface describes everything the client should present. SendAllowed is
// false while a turn is in flight; the client combines it with its own draft
// through SendEnabled.
type Surface struct {
	Affordance   domain.Affordance `json:"affordance"`
	SendAllowed  bool              `json:"send_allowed"`
	QuickReplies []string          `json:"quick_replies,omitempty"`
	Identity     *IdentitySurface  `json:"identity_form,omitempty"`
	Source       *SourceSurface    `json:"source_form,omitempty"`
	Picker       *PickerSurface    `json:"peer_picker,omitempty"`
}

// SendEnabled reports whether the composer's send control is active for
// draft.
func (s Surface) SendEnabled(draft string) bool {
	return s.SendAllowed && strings.TrimSpace(draft) != ""
}

type IdentitySurface struct {
	SubmitAllowed bool `json:"submit_allowed"`
	SubmitOnEnter bool `json:"submit_on_enter"`
}

// SubmitEnabled reports whether the identity form can be submitted with name.
func (s IdentitySurface) SubmitEnabled(name string) bool {
	return s.SubmitAllowed && strings.TrimSpace(name) != ""
}

type SourceSurface struct {
	AcceptsLink bool `json:"accepts_link"`
	AcceptsFile bool `json:"accepts_file"`
}

type PickerSurface struct {
	Suggested  []PeerRow `json:"suggested"`
	Custom     []PeerRow `json:"custom"`
	CustomForm bool      `json:"custom_form_open"`
	ShowDone   bool      `json:"show_done"`
}

type PeerRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Reference string `json:"reference,omitempty"`
	Included  bool   `json:"included"`
	Removable bool   `json:"removable"`
}

// Select derives the surface for turn, the latest assistant turn.
func Select(turn domain.Turn, v View) Surface {
	aff := turn.Affordance
	if aff == "" {
		aff = domain.AffordanceNone
	}
	s := Surface{
		Affordance:   aff,
		SendAllowed:  !v.InFlight,
		QuickReplies: turn.QuickReplies,
	}

	switch aff {
	case domain.AffordanceIdentityForm:
		s.Identity = &IdentitySurface{SubmitAllowed: !v.InFlight, SubmitOnEnter: true}
	case domain.AffordanceSourceForm:
		s.Source = &SourceSurface{AcceptsLink: true, AcceptsFile: true}
	case domain.AffordancePeerPicker, domain.AffordanceCustomPeerForm:
		s.Picker = picker(v.Peers, v.CustomFormOpen || aff == domain.AffordanceCustomPeerForm)
	}
	return s
}

func picker(peers domain.PeerSet, formOpen bool) *PickerSurface {
	p := &PickerSurface{
		Suggested:  []PeerRow{},
		Custom:     []PeerRow{},
		CustomForm: formOpen,
		ShowDone:   peers.IncludedCount() > 0,
	}
	for _, peer := range peers.Peers() {
		row := PeerRow{ID: peer.ID, Name: peer.Name, Reference: peer.Reference, Included: peer.Included}
		if peer.IsSuggested {
			p.Suggested = append(p.Suggested, row)
			continue
		}
		if peer.Included {
			row.Removable = true
			p.Custom = append(p.Custom, row)
		}
	}
	return p
}
