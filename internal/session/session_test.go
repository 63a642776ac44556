package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/flow"
	"github.com/tjfontaine/offer-benchmark-agent/internal/render"
)

type recordingNotifier struct {
	mu       sync.Mutex
	identity []string
	peers    [][]domain.Peer
	analysis []domain.AnalysisSignal
}

func (n *recordingNotifier) OnIdentityChange(_ context.Context, _, identity string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.identity = append(n.identity, identity)
}

func (n *recordingNotifier) OnPeerSetChange(_ context.Context, _ string, peers []domain.Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = append(n.peers, peers)
}

func (n *recordingNotifier) OnSelectedAnalysisChange(_ context.Context, _ string, signal domain.AnalysisSignal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.analysis = append(n.analysis, signal)
}

func (n *recordingNotifier) counts() (int, int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.identity), len(n.peers), len(n.analysis)
}

type stubResponder struct {
	reply string
	err   error
	calls chan *domain.ReplyRequest
}

func (r *stubResponder) Name() string { return "stub" }

func (r *stubResponder) Reply(ctx context.Context, req *domain.ReplyRequest) (string, error) {
	if r.calls != nil {
		r.calls <- req
	}
	return r.reply, r.err
}

// gate is a Delayer that blocks until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) Wait(ctx context.Context) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s := New("s-1", opts)
	t.Cleanup(s.Close)
	return s
}

func submit(t *testing.T, s *Session, in domain.Input) Receipt {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := s.SubmitWait(ctx, in)
	require.NoError(t, err)
	return r
}

func driveToPeers(t *testing.T, s *Session) {
	t.Helper()
	submit(t, s, domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	submit(t, s, domain.IdentitySubmission("Acme Bank"))
	r := submit(t, s, domain.LinkSubmission("https://acme.test/offers"))
	require.Equal(t, domain.StageSelectingPeers, r.Stage)
}

func TestSession_NewShowsGreeting(t *testing.T) {
	s := newSession(t, Options{})

	snap := s.Snapshot()
	assert.Equal(t, "s-1", snap.ID)
	assert.Equal(t, domain.StageGreeting, snap.Stage)
	require.Len(t, snap.Transcript, 1)
	assert.Equal(t, []string{flow.ReplyStartBenchmarking}, snap.Surface.QuickReplies)
	assert.False(t, snap.InFlight)
}

func TestSession_FullFlow(t *testing.T) {
	n := &recordingNotifier{}
	s := newSession(t, Options{Notifier: n})

	driveToPeers(t, s)
	submit(t, s, domain.PeerToggle("p2"))
	r := submit(t, s, domain.PeersDone())
	assert.Equal(t, flow.OutcomeApplied, r.Outcome)
	assert.Equal(t, domain.StageAwaitingAnalysis, r.Stage)

	r = submit(t, s, domain.QuickReplyInput(flow.PromptScorecard))
	assert.Equal(t, domain.StageAwaitingAnalysis, r.Stage)

	snap := s.Snapshot()
	assert.Equal(t, "Acme Bank", snap.Identity)
	assert.Equal(t, domain.AnalysisScorecard, snap.Analysis.Kind)

	ids, peers, analyses := n.counts()
	assert.Equal(t, 1, ids)
	assert.Equal(t, 1, peers)
	assert.Equal(t, 1, analyses)
	assert.Equal(t, "FAB", n.peers[0][1].Name)
}

func TestSession_RejectedInputReportsReason(t *testing.T) {
	s := newSession(t, Options{})
	driveToPeers(t, s)

	r := submit(t, s, domain.PeersDone())
	assert.Equal(t, flow.OutcomeRejected, r.Outcome)
	assert.ErrorIs(t, r.Reason, domain.ErrNoPeersIncluded)
	assert.Empty(t, r.Turns)
	assert.Equal(t, domain.StageSelectingPeers, s.Snapshot().Stage)
}

func TestSession_InputsAppliedInOrder(t *testing.T) {
	g := newGate()
	s := newSession(t, Options{Delayer: g})

	first := s.Submit(domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	<-g.entered
	second := s.Submit(domain.IdentitySubmission("Acme Bank"))

	snap := s.Snapshot()
	assert.True(t, snap.InFlight)
	assert.Equal(t, 1, snap.Queued)
	require.Len(t, snap.Pending, 1, "user turn is visible during the pause")
	assert.Equal(t, domain.SpeakerUser, snap.Pending[0].Speaker)
	assert.Equal(t, domain.StageGreeting, snap.Stage)
	assert.False(t, snap.Surface.SendAllowed)
	assert.False(t, snap.Surface.SendEnabled("hello"))

	close(g.release)
	r1 := <-first
	r2 := <-second
	assert.Equal(t, domain.StageAwaitingIdentity, r1.Stage)
	assert.Equal(t, domain.StageAwaitingSource, r2.Stage)
	assert.Equal(t, flow.OutcomeApplied, r2.Outcome)
}

func TestSession_ResetDropsQueued(t *testing.T) {
	g := newGate()
	n := &recordingNotifier{}
	s := newSession(t, Options{Delayer: g, Notifier: n})

	inFlight := s.Submit(domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	<-g.entered
	queued := s.Submit(domain.IdentitySubmission("Acme Bank"))

	s.Reset()

	assert.ErrorIs(t, (<-inFlight).Err, domain.ErrSessionReset)
	assert.ErrorIs(t, (<-queued).Err, domain.ErrSessionReset)

	snap := s.Snapshot()
	assert.Equal(t, domain.StageGreeting, snap.Stage)
	assert.Len(t, snap.Transcript, 1)
	assert.Empty(t, snap.Pending)
	assert.False(t, snap.InFlight)

	ids, _, _ := n.counts()
	assert.Zero(t, ids, "abandoned step must not notify")

	close(g.release)
	r := submit(t, s, domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	assert.Equal(t, domain.StageAwaitingIdentity, r.Stage)
}

func TestSession_ResetClearsNotificationDedup(t *testing.T) {
	n := &recordingNotifier{}
	s := newSession(t, Options{Notifier: n})

	submit(t, s, domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	submit(t, s, domain.IdentitySubmission("Acme Bank"))
	s.Reset()
	submit(t, s, domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	submit(t, s, domain.IdentitySubmission("Acme Bank"))

	ids, _, _ := n.counts()
	assert.Equal(t, 2, ids)
}

func TestSession_AnalysisNotifiedOncePerValue(t *testing.T) {
	n := &recordingNotifier{}
	s := newSession(t, Options{Notifier: n})
	driveToPeers(t, s)
	submit(t, s, domain.PeerToggle("p1"))
	submit(t, s, domain.PeersDone())

	submit(t, s, domain.TextInput("show me offers"))
	submit(t, s, domain.QuickReplyInput(flow.PromptOffers))
	submit(t, s, domain.QuickReplyInput(flow.PromptScorecard))

	_, _, analyses := n.counts()
	assert.Equal(t, 2, analyses)
}

func TestSession_ResponderPhrasesDelegableTurns(t *testing.T) {
	resp := &stubResponder{reply: " Dining is strongest at FAB. ", calls: make(chan *domain.ReplyRequest, 4)}
	s := newSession(t, Options{Responder: resp})

	r := submit(t, s, domain.TextInput("hello there"))
	assert.Equal(t, flow.OutcomeFallback, r.Outcome)
	require.Len(t, r.Turns, 2)
	assert.Equal(t, "Dining is strongest at FAB.", r.Turns[1].Text)

	req := <-resp.calls
	assert.Equal(t, domain.StageGreeting, req.Stage)
	require.Len(t, req.Transcript, 2)
	assert.Equal(t, "hello there", req.Transcript[1].Text)
	assert.NotEmpty(t, req.Canned)

	snap := s.Snapshot()
	assert.Equal(t, "Dining is strongest at FAB.", snap.Transcript[len(snap.Transcript)-1].Text)
}

func TestSession_ResponderFailureUsesCannedReply(t *testing.T) {
	tests := []struct {
		name string
		resp *stubResponder
	}{
		{"error", &stubResponder{err: errors.New("upstream down")}},
		{"blank", &stubResponder{reply: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, Options{Responder: tt.resp})

			r := submit(t, s, domain.TextInput("hello there"))
			require.Len(t, r.Turns, 2)
			assert.Contains(t, r.Turns[1].Text, "I'm here to help")
		})
	}
}

func TestSession_ResponderNotUsedForScriptedTurns(t *testing.T) {
	resp := &stubResponder{reply: "phrased", calls: make(chan *domain.ReplyRequest, 4)}
	s := newSession(t, Options{Responder: resp})

	r := submit(t, s, domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	assert.NotEqual(t, "phrased", r.Turns[1].Text)
	assert.Empty(t, resp.calls)
}

func TestSession_QuickReplyValidatesChoice(t *testing.T) {
	s := newSession(t, Options{})

	_, err := s.QuickReply(flow.PromptScorecard)
	assert.ErrorIs(t, err, domain.ErrUnexpectedInput)

	ch, err := s.QuickReply(flow.ReplyStartBenchmarking)
	require.NoError(t, err)
	r := <-ch
	assert.Equal(t, domain.StageAwaitingIdentity, r.Stage)
}

func TestSession_CustomPeerForm(t *testing.T) {
	s := newSession(t, Options{})
	driveToPeers(t, s)

	s.OpenCustomForm()
	snap := s.Snapshot()
	assert.True(t, snap.CustomFormOpen)
	require.NotNil(t, snap.Surface.Picker)
	assert.False(t, snap.Surface.Picker.ShowDone)

	_, err := s.SubmitCustomPeer(render.CustomPeerForm{Name: "Mashreq"})
	assert.ErrorIs(t, err, domain.ErrInvalidSubmission)
	assert.True(t, s.Snapshot().CustomFormOpen)

	ch, err := s.SubmitCustomPeer(render.CustomPeerForm{Name: "Mashreq", Reference: "https://m.test"})
	require.NoError(t, err)
	r := <-ch
	assert.Equal(t, flow.OutcomeApplied, r.Outcome)

	snap = s.Snapshot()
	assert.False(t, snap.CustomFormOpen)
	require.Len(t, snap.Surface.Picker.Custom, 1)
	assert.Equal(t, "Mashreq", snap.Surface.Picker.Custom[0].Name)
}

func TestSession_CustomPeerFormStaysOpenUntilAdded(t *testing.T) {
	s := newSession(t, Options{})
	form := render.CustomPeerForm{Name: "Mashreq", Reference: "https://m.test"}

	s.OpenCustomForm()
	ch, err := s.SubmitCustomPeer(form)
	require.NoError(t, err)
	r := <-ch
	require.NoError(t, r.Err)
	assert.Equal(t, flow.OutcomeFallback, r.Outcome)

	snap := s.Snapshot()
	assert.True(t, snap.CustomFormOpen, "a peer the flow did not add keeps the form open")
	assert.Empty(t, snap.Peers)
	assert.Equal(t, form, s.picker.Draft())
}

func TestSession_CustomPeerFormResetWhileQueued(t *testing.T) {
	g := newGate()
	s := newSession(t, Options{Delayer: g})

	s.OpenCustomForm()
	ch, err := s.SubmitCustomPeer(render.CustomPeerForm{Name: "Mashreq", Reference: "https://m.test"})
	require.NoError(t, err)
	<-g.entered
	assert.True(t, s.Snapshot().CustomFormOpen)

	s.Reset()
	assert.ErrorIs(t, (<-ch).Err, domain.ErrSessionReset)
	assert.False(t, s.Snapshot().CustomFormOpen)
	assert.Equal(t, render.CustomPeerForm{}, s.picker.Draft())
}

func TestSession_SurfaceAllowsSendWhenIdle(t *testing.T) {
	g := newGate()
	s := newSession(t, Options{Delayer: g})

	snap := s.Snapshot()
	assert.False(t, snap.InFlight)
	assert.True(t, snap.Surface.SendAllowed)
	assert.True(t, snap.Surface.SendEnabled("start"))
	assert.False(t, snap.Surface.SendEnabled(" "))

	done := s.Submit(domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	<-g.entered
	snap = s.Snapshot()
	assert.True(t, snap.InFlight)
	assert.False(t, snap.Surface.SendAllowed)
	assert.False(t, snap.Surface.SendEnabled("start"))

	close(g.release)
	require.NoError(t, (<-done).Err)

	snap = s.Snapshot()
	assert.Equal(t, domain.StageAwaitingIdentity, snap.Stage)
	assert.False(t, snap.InFlight)
	assert.True(t, snap.Surface.SendAllowed)
	require.NotNil(t, snap.Surface.Identity)
	assert.True(t, snap.Surface.Identity.SubmitAllowed)
	assert.True(t, snap.Surface.Identity.SubmitEnabled("Acme Bank"))
}

func TestSession_CloseFailsPending(t *testing.T) {
	g := newGate()
	s := New("s-2", Options{Delayer: g})

	inFlight := s.Submit(domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	<-g.entered
	queued := s.Submit(domain.IdentitySubmission("Acme Bank"))

	s.Close()

	assert.ErrorIs(t, (<-inFlight).Err, domain.ErrSessionClosed)
	assert.ErrorIs(t, (<-queued).Err, domain.ErrSessionClosed)
	assert.ErrorIs(t, (<-s.Submit(domain.PeersDone())).Err, domain.ErrSessionClosed)

	s.Close()
}

func TestSession_SubmitWaitHonorsContext(t *testing.T) {
	g := newGate()
	s := newSession(t, Options{Delayer: g})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.SubmitWait(ctx, domain.QuickReplyInput(flow.ReplyStartBenchmarking))
	assert.ErrorIs(t, err, context.Canceled)
	close(g.release)
}

func TestFixedDelay(t *testing.T) {
	assert.NoError(t, Fixed(0).Wait(context.Background()))

	d := Fixed(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.Canceled)

	assert.NoError(t, Fixed(time.Millisecond).Wait(context.Background()))
}

func TestNotifiersFanOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	ns := Notifiers{a, b}

	ns.OnIdentityChange(context.Background(), "s", "Acme")
	ns.OnPeerSetChange(context.Background(), "s", []domain.Peer{{ID: "p1"}})

	for _, n := range []*recordingNotifier{a, b} {
		ids, peers, _ := n.counts()
		assert.Equal(t, 1, ids)
		assert.Equal(t, 1, peers)
	}
}
