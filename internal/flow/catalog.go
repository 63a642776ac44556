package flow

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// Catalog is the fixed list of suggested peers offered once a data source is
// known. Order is preserved in the picker.
type Catalog []domain.Peer

// DefaultCatalog returns the built-in suggestions.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: "p1", Name: "ADCB", Reference: "https://offers.adcb.com/offer/websites/personal/offer-categories"},
		{ID: "p2", Name: "FAB", Reference: "https://www.bankfab.com/en-ae/personal/credit-cards/offers"},
		{ID: "p3", Name: "DIB", Reference: "https://www.dib.ae/offers/card-offers"},
		{ID: "p4", Name: "ENBD", Reference: "https://www.emiratesnbd.com/en/promotions"},
	}
}

// NewCatalog validates peers and marks them as suggested.
func NewCatalog(peers []domain.Peer) (Catalog, error) {
	seen := make(map[string]struct{}, len(peers))
	out := make(Catalog, 0, len(peers))
	for i, p := range peers {
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("catalog entry %d: id and name are required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("catalog entry %d: %w: %s", i, domain.ErrDuplicatePeer, p.ID)
		}
		seen[p.ID] = struct{}{}
		p.IsSuggested = true
		p.Included = false
		out = append(out, p)
	}
	return out, nil
}

// Lookup returns the suggestion with the given id.
func (c Catalog) Lookup(id string) (domain.Peer, bool) {
	for _, p := range c {
		if p.ID == id {
			p.IsSuggested = true
			return p, true
		}
	}
	return domain.Peer{}, false
}

// PeerSet seeds a peer set with every suggestion, none included.
func (c Catalog) PeerSet() domain.PeerSet {
	var set domain.PeerSet
	for _, p := range c {
		p.IsSuggested = true
		p.Included = false
		next, err := set.Insert(p)
		if err != nil {
			continue
		}
		set = next
	}
	return set
}
