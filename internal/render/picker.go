package render

import (
	"sync"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// Picker holds the local open/closed state of the custom-peer sub-form. It
// never affects the flow stage.
type Picker struct {
	mu    sync.Mutex
	open  bool
	draft CustomPeerForm
}

func (p *Picker) Open() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
}

// Close hides the sub-form and discards any draft.
func (p *Picker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.draft = CustomPeerForm{}
}

func (p *Picker) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Draft returns what was last submitted without success.
func (p *Picker) Draft() CustomPeerForm {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

// SubmitCustom validates form. Either way the sub-form stays open with the
// draft kept; a valid form waits for Settle.
func (p *Picker) SubmitCustom(form CustomPeerForm) (domain.Input, error) {
	in, err := form.Input()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	p.draft = form
	if err != nil {
		return domain.Input{}, err
	}
	return in, nil
}

// Settle records what the flow did with a submitted form. An added peer
// clears and closes the sub-form so the picker is shown again; otherwise the
// form is reopened with form as its draft.
func (p *Picker) Settle(form CustomPeerForm, added bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if added {
		if p.draft == form {
			p.open = false
			p.draft = CustomPeerForm{}
		}
		return
	}
	p.open = true
	p.draft = form
}
