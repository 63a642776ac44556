package domain

// InputKind tags the shape of a user input.
type InputKind string

const (
	InputText       InputKind = "text"
	InputQuickReply InputKind = "quick-reply"
	InputIdentity   InputKind = "identity"
	InputSourceLink InputKind = "source-link"
	InputSourceFile InputKind = "source-file"
	InputPeerToggle InputKind = "peer-toggle"
	InputCustomPeer InputKind = "custom-peer"
	InputPeerRemove InputKind = "peer-remove"
	InputPeersDone  InputKind = "peers-done"
)

// Input is one user action fed to the flow controller. Only the fields
// relevant to Kind are set.
type Input struct {
	Kind      InputKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Name      string    `json:"name,omitempty"`
	Reference string    `json:"reference,omitempty"`
	PeerID    string    `json:"peer_id,omitempty"`
}

// IsTextual reports whether the input carries free text for the keyword
// matcher. Quick replies are matched exactly like typed text.
func (in Input) IsTextual() bool {
	return in.Kind == InputText || in.Kind == InputQuickReply
}

// IsPeerPicker reports whether the input comes from the peer picker surface.
func (in Input) IsPeerPicker() bool {
	switch in.Kind {
	case InputPeerToggle, InputCustomPeer, InputPeerRemove, InputPeersDone:
		return true
	}
	return false
}

func TextInput(text string) Input { return Input{Kind: InputText, Text: text} }

func QuickReplyInput(reply string) Input { return Input{Kind: InputQuickReply, Text: reply} }

func IdentitySubmission(name string) Input { return Input{Kind: InputIdentity, Name: name} }

func LinkSubmission(url string) Input { return Input{Kind: InputSourceLink, Reference: url} }

func FileSubmission(ref string) Input { return Input{Kind: InputSourceFile, Reference: ref} }

func PeerToggle(id string) Input { return Input{Kind: InputPeerToggle, PeerID: id} }

func CustomPeerSubmission(name, ref string) Input {
	return Input{Kind: InputCustomPeer, Name: name, Reference: ref}
}

func PeerRemoval(id string) Input { return Input{Kind: InputPeerRemove, PeerID: id} }

func PeersDone() Input { return Input{Kind: InputPeersDone} }
