package domain

import (
	"encoding/json"
	"fmt"
)

// Peer is a comparison subject the user benchmarks against.
type Peer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Included    bool   `json:"included"`
	IsSuggested bool   `json:"is_suggested"`
	Reference   string `json:"reference,omitempty"`
}

// PeerSet maps peer ids to peers and remembers insertion order for stable
// rendering. Every mutating method returns a new set; the receiver is never
// modified, so a PeerSet can be shared between state snapshots.
type PeerSet struct {
	byID  map[string]Peer
	order []string
}

// NewPeerSet builds a set from peers in the given order. A duplicate id is an
// error.
func NewPeerSet(peers ...Peer) (PeerSet, error) {
	var s PeerSet
	for _, p := range peers {
		next, err := s.Insert(p)
		if err != nil {
			return PeerSet{}, err
		}
		s = next
	}
	return s, nil
}

// Len returns the number of peers in the set.
func (s PeerSet) Len() int { return len(s.order) }

// Has reports whether id is present.
func (s PeerSet) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// Get returns the peer with the given id.
func (s PeerSet) Get(id string) (Peer, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Peers returns all peers in insertion order.
func (s PeerSet) Peers() []Peer {
	out := make([]Peer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Included returns the included peers in insertion order.
func (s PeerSet) Included() []Peer {
	var out []Peer
	for _, id := range s.order {
		if p := s.byID[id]; p.Included {
			out = append(out, p)
		}
	}
	return out
}

// IncludedCount returns how many peers are included.
func (s PeerSet) IncludedCount() int {
	n := 0
	for _, p := range s.byID {
		if p.Included {
			n++
		}
	}
	return n
}

// IncludedIDs returns the ids of included peers as a set.
func (s PeerSet) IncludedIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for id, p := range s.byID {
		if p.Included {
			out[id] = struct{}{}
		}
	}
	return out
}

// Insert adds p. Ids are unique across suggested and custom peers.
func (s PeerSet) Insert(p Peer) (PeerSet, error) {
	if p.ID == "" {
		return s, fmt.Errorf("%w: empty peer id", ErrInvalidSubmission)
	}
	if s.Has(p.ID) {
		return s, fmt.Errorf("%w: %s", ErrDuplicatePeer, p.ID)
	}
	next := s.clone()
	next.byID[p.ID] = p
	next.order = append(next.order, p.ID)
	return next, nil
}

// Toggle flips Included for id. The second result is false when id is absent.
func (s PeerSet) Toggle(id string) (PeerSet, bool) {
	p, ok := s.byID[id]
	if !ok {
		return s, false
	}
	next := s.clone()
	p.Included = !p.Included
	next.byID[id] = p
	return next, true
}

// Remove deletes a custom peer. Suggested peers can only be toggled.
func (s PeerSet) Remove(id string) (PeerSet, error) {
	p, ok := s.byID[id]
	if !ok {
		return s, fmt.Errorf("%w: peer %s", ErrNotFound, id)
	}
	if p.IsSuggested {
		return s, fmt.Errorf("%w: suggested peer %s cannot be removed", ErrUnexpectedInput, id)
	}
	next := s.clone()
	delete(next.byID, id)
	for i, existing := range next.order {
		if existing == id {
			next.order = append(next.order[:i], next.order[i+1:]...)
			break
		}
	}
	return next, nil
}

func (s PeerSet) clone() PeerSet {
	next := PeerSet{
		byID:  make(map[string]Peer, len(s.byID)+1),
		order: make([]string, len(s.order), len(s.order)+1),
	}
	for k, v := range s.byID {
		next.byID[k] = v
	}
	copy(next.order, s.order)
	return next
}

// MarshalJSON encodes the set as an ordered list.
func (s PeerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Peers())
}

// UnmarshalJSON decodes an ordered list, rejecting duplicate ids.
func (s *PeerSet) UnmarshalJSON(data []byte) error {
	var peers []Peer
	if err := json.Unmarshal(data, &peers); err != nil {
		return err
	}
	set, err := NewPeerSet(peers...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
