// Package session runs one conversation: a single worker applies inputs to
// the flow strictly in arrival order, one at a time.
package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/offer-benchmark-agent/internal/conversation"
	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/flow"
	"github.com/tjfontaine/offer-benchmark-agent/internal/metrics"
	"github.com/tjfontaine/offer-benchmark-agent/internal/render"
)

const defaultReplyTimeout = 30 * time.Second

// Options configures a Session. A nil Delayer means no thinking pause and a
// nil Responder means canned replies only.
type Options struct {
	Catalog      flow.Catalog
	Delayer      Delayer
	Responder    domain.Responder
	Notifier     domain.Notifier
	Recorder     *conversation.Recorder
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
	ReplyTimeout time.Duration
	Clock        func() time.Time
}

// Receipt reports what happened to one submitted input.
type Receipt struct {
	Outcome flow.Outcome  `json:"outcome,omitempty"`
	Rule    string        `json:"rule,omitempty"`
	Stage   domain.Stage  `json:"stage,omitempty"`
	Turns   []domain.Turn `json:"turns,omitempty"`

	// Reason is why a rejected input was refused.
	Reason error `json:"-"`

	// Err is ErrSessionReset or ErrSessionClosed when the input was never
	// applied.
	Err error `json:"-"`
}

// Snapshot is a consistent read of the session.
type Snapshot struct {
	ID             string                `json:"id"`
	Stage          domain.Stage          `json:"stage"`
	Identity       string                `json:"identity,omitempty"`
	Source         *domain.DataSource    `json:"source,omitempty"`
	Peers          []domain.Peer         `json:"peers"`
	Analysis       domain.AnalysisSignal `json:"analysis"`
	Transcript     []domain.Turn         `json:"transcript"`
	Pending        []domain.Turn         `json:"pending,omitempty"`
	InFlight       bool                  `json:"in_flight"`
	Queued         int                   `json:"queued"`
	CustomFormOpen bool                  `json:"custom_form_open"`
	Surface        render.Surface        `json:"surface"`
}

type job struct {
	in       domain.Input
	epoch    uint64
	enqueued time.Time
	done     chan Receipt

	// settle runs before the receipt is delivered.
	settle func(Receipt)
}

func (j *job) finish(r Receipt) {
	if j.settle != nil {
		j.settle(r)
	}
	j.done <- r
}

// Session owns one flow.State.
type Session struct {
	id      string
	created time.Time
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	picker  render.Picker
	persist sync.Mutex

	mu         sync.Mutex
	state      flow.State
	pending    []domain.Turn
	inFlight   bool
	queue      []*job
	epoch      uint64
	cancelStep context.CancelFunc
	sent       lastSent
	closed     bool

	wake chan struct{}
	done chan struct{}
}

// New starts a session and its worker.
func New(id string, opts Options) *Session {
	if opts.Delayer == nil {
		opts.Delayer = NoDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = defaultReplyTimeout
	}
	if opts.Catalog == nil {
		opts.Catalog = flow.DefaultCatalog()
	}

	s := &Session{
		id:      id,
		created: opts.Clock(),
		opts:    opts,
		logger:  opts.Logger.With(slog.String("session_id", id)),
		tracer:  otel.Tracer("github.com/tjfontaine/offer-benchmark-agent/internal/session"),
		state:   flow.New(opts.Clock(), opts.Catalog),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	opts.Recorder.Open(context.Background(), id, s.state)
	opts.Metrics.SessionOpened()

	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was started.
func (s *Session) CreatedAt() time.Time { return s.created }

// Submit queues in behind any buffered inputs. The channel receives exactly
// one Receipt.
func (s *Session) Submit(in domain.Input) <-chan Receipt {
	return s.enqueue(&job{in: in})
}

func (s *Session) enqueue(j *job) <-chan Receipt {
	j.done = make(chan Receipt, 1)
	j.enqueued = s.opts.Clock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		j.finish(Receipt{Err: domain.ErrSessionClosed})
		return j.done
	}
	j.epoch = s.epoch
	s.queue = append(s.queue, j)
	s.mu.Unlock()

	s.opts.Metrics.QueueDelta(1)
	s.signal()
	return j.done
}

// SubmitWait submits in and waits for its receipt. A flow rejection is not
// an error here; it is reported in Receipt.Reason.
func (s *Session) SubmitWait(ctx context.Context, in domain.Input) (Receipt, error) {
	select {
	case r := <-s.Submit(in):
		return r, r.Err
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	}
}

// QuickReply validates choice against the latest assistant turn and submits
// it.
func (s *Session) QuickReply(choice string) (<-chan Receipt, error) {
	s.mu.Lock()
	latest, _ := s.state.LastAssistantTurn()
	s.mu.Unlock()

	in, err := render.QuickReply(latest, choice)
	if err != nil {
		return nil, err
	}
	return s.Submit(in), nil
}

// OpenCustomForm shows the add-custom-peer sub-form.
func (s *Session) OpenCustomForm() { s.picker.Open() }

// CloseCustomForm hides the sub-form.
func (s *Session) CloseCustomForm() { s.picker.Close() }

// SubmitCustomPeer validates the sub-form. On failure nothing is queued and
// the form stays open. A queued form closes only once its receipt reports
// the peer added; any other outcome leaves it open with the draft.
func (s *Session) SubmitCustomPeer(form render.CustomPeerForm) (<-chan Receipt, error) {
	in, err := s.picker.SubmitCustom(form)
	if err != nil {
		return nil, err
	}
	settle := func(r Receipt) {
		if r.Err != nil {
			return
		}
		s.picker.Settle(form, r.Outcome == flow.OutcomeApplied)
	}
	return s.enqueue(&job{in: in, settle: settle}), nil
}

// Snapshot returns the committed transcript plus the user turns of the
// in-flight step.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	latest, _ := st.LastAssistantTurn()
	formOpen := s.picker.IsOpen()
	inFlight := s.inFlight || len(s.queue) > 0

	return Snapshot{
		ID:             s.id,
		Stage:          st.Stage,
		Identity:       st.Identity,
		Source:         st.Source,
		Peers:          st.Peers.Peers(),
		Analysis:       st.Analysis,
		Transcript:     slices.Clone(st.Transcript),
		Pending:        slices.Clone(s.pending),
		InFlight:       inFlight,
		Queued:         len(s.queue),
		CustomFormOpen: formOpen,
		Surface: render.Select(latest, render.View{
			Peers:          st.Peers,
			InFlight:       inFlight,
			CustomFormOpen: formOpen,
		}),
	}
}

// State returns the committed flow state.
func (s *Session) State() flow.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reset abandons the in-flight step, fails every buffered input with
// ErrSessionReset, and restores the greeting state.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.epoch++
	if s.cancelStep != nil {
		s.cancelStep()
		s.cancelStep = nil
	}
	dropped := s.queue
	s.queue = nil
	s.state = flow.New(s.opts.Clock(), s.opts.Catalog)
	s.pending = nil
	s.inFlight = false
	s.sent = lastSent{}
	fresh := s.state
	s.persist.Lock()
	s.mu.Unlock()

	s.picker.Close()
	s.opts.Recorder.Reset(context.Background(), s.id, fresh)
	s.persist.Unlock()

	for _, j := range dropped {
		j.finish(Receipt{Err: domain.ErrSessionReset})
	}
	s.opts.Metrics.QueueDelta(-len(dropped))
	s.opts.Metrics.SessionReset()
	s.logger.Info("session reset", slog.Int("dropped_inputs", len(dropped)))
}

// Close stops the worker. Buffered inputs fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancelStep != nil {
		s.cancelStep()
		s.cancelStep = nil
	}
	dropped := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.signal()
	<-s.done

	for _, j := range dropped {
		j.finish(Receipt{Err: domain.ErrSessionClosed})
	}
	s.opts.Metrics.QueueDelta(-len(dropped))
	s.opts.Metrics.SessionClosed()
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		j, ctx, cancel, ok := s.next()
		if !ok {
			return
		}
		s.process(ctx, j)
		cancel()
	}
}

// next blocks until an input is buffered or the session closes.
func (s *Session) next() (*job, context.Context, context.CancelFunc, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, nil, nil, false
		}
		if len(s.queue) > 0 {
			j := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			ctx, cancel := context.WithCancel(context.Background())
			s.cancelStep = cancel
			s.inFlight = true
			s.mu.Unlock()
			s.opts.Metrics.QueueDelta(-1)
			return j, ctx, cancel, true
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *Session) process(ctx context.Context, j *job) {
	start := s.opts.Clock()

	s.mu.Lock()
	prev := s.state
	stale := j.epoch != s.epoch
	s.mu.Unlock()
	if stale {
		j.finish(Receipt{Err: domain.ErrSessionReset})
		return
	}

	ctx, span := s.tracer.Start(ctx, "session.step", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("flow.stage", string(prev.Stage)),
		attribute.String("flow.input", string(j.in.Kind)),
	))
	defer span.End()

	res := flow.Advance(prev, j.in, start)
	span.SetAttributes(
		attribute.String("flow.outcome", string(res.Outcome)),
		attribute.String("flow.rule", res.Rule),
	)

	if res.Outcome != flow.OutcomeRejected {
		s.mu.Lock()
		if j.epoch == s.epoch {
			s.pending = res.UserTurns()
		}
		s.mu.Unlock()

		var err error
		res, err = s.think(ctx, res)
		if err != nil {
			span.SetStatus(codes.Error, "step abandoned")
			j.finish(Receipt{Err: s.abandonReason()})
			return
		}
	}

	if !s.commit(ctx, j, res) {
		j.finish(Receipt{Err: s.abandonReason()})
		return
	}

	s.opts.Metrics.ObserveStep(string(prev.Stage), string(j.in.Kind), string(res.Outcome), s.opts.Clock().Sub(start))
	if res.Outcome == flow.OutcomeRejected {
		s.logger.Debug("input rejected",
			slog.String("stage", string(prev.Stage)),
			slog.String("input", string(j.in.Kind)),
			slog.String("reason", res.Err.Error()),
		)
	} else {
		s.logger.Debug("input applied",
			slog.String("stage", string(prev.Stage)),
			slog.String("next_stage", string(res.State.Stage)),
			slog.String("rule", res.Rule),
			slog.Int("turns", len(res.Turns)),
		)
	}

	j.finish(Receipt{
		Outcome: res.Outcome,
		Rule:    res.Rule,
		Stage:   res.State.Stage,
		Turns:   res.Turns,
		Reason:  res.Err,
	})
}

// think runs the delay and, for delegable turns, the responder. The delay is
// a floor: a slow responder is not followed by a further wait.
func (s *Session) think(ctx context.Context, res flow.Result) (flow.Result, error) {
	if len(res.AssistantTurns()) == 0 {
		return res, nil
	}

	phrased := make(chan flow.Result, 1)
	go func() { phrased <- s.delegate(ctx, res) }()

	if err := s.opts.Delayer.Wait(ctx); err != nil {
		return res, err
	}
	select {
	case out := <-phrased:
		return out, ctx.Err()
	case <-ctx.Done():
		return res, ctx.Err()
	}
}

func (s *Session) delegate(ctx context.Context, res flow.Result) flow.Result {
	if s.opts.Responder == nil {
		return res
	}
	for _, i := range res.Delegable {
		turn := res.Turns[i]
		req := &domain.ReplyRequest{
			SessionID:  s.id,
			Stage:      res.State.Stage,
			Identity:   res.State.Identity,
			Source:     res.State.Source,
			Peers:      res.State.Peers.Included(),
			Analysis:   res.State.Analysis,
			Transcript: transcriptBefore(res.State.Transcript, turn.ID),
			Canned:     turn.Text,
		}

		rctx, cancel := context.WithTimeout(ctx, s.opts.ReplyTimeout)
		text, err := s.opts.Responder.Reply(rctx, req)
		cancel()

		if ctx.Err() != nil {
			return res
		}
		if err != nil {
			s.logger.Warn("responder failed, using canned reply",
				slog.String("responder", s.opts.Responder.Name()),
				slog.String("stage", string(res.State.Stage)),
				slog.String("error", err.Error()),
			)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			s.logger.Warn("responder returned empty reply, using canned reply",
				slog.String("responder", s.opts.Responder.Name()),
			)
			continue
		}
		res = res.WithReply(i, text)
	}
	return res
}

func transcriptBefore(transcript []domain.Turn, id string) []domain.Turn {
	for i, t := range transcript {
		if t.ID == id {
			return slices.Clone(transcript[:i])
		}
	}
	return slices.Clone(transcript)
}

// commit publishes res if the job still belongs to the current epoch.
func (s *Session) commit(ctx context.Context, j *job, res flow.Result) bool {
	s.mu.Lock()
	if s.closed || j.epoch != s.epoch {
		s.mu.Unlock()
		return false
	}
	s.state = res.State
	s.pending = nil
	s.inFlight = false
	s.cancelStep = nil

	var notify []func()
	n := s.opts.Notifier
	for _, e := range res.Effects {
		var f func()
		switch e {
		case flow.EffectIdentity:
			if v := res.State.Identity; s.sent.identityChanged(v) {
				f = func() { n.OnIdentityChange(ctx, s.id, v) }
			}
		case flow.EffectPeerSet:
			if v := res.State.Peers.Peers(); s.sent.peersChanged(v) {
				f = func() { n.OnPeerSetChange(ctx, s.id, v) }
			}
		case flow.EffectAnalysis:
			if v := res.State.Analysis; s.sent.analysisChanged(v) {
				f = func() { n.OnSelectedAnalysisChange(ctx, s.id, v) }
			}
		}
		if f != nil && n != nil {
			kind := string(e)
			notify = append(notify, func() {
				f()
				s.opts.Metrics.Notification(kind)
			})
		}
	}

	state := res.State
	s.persist.Lock()
	s.mu.Unlock()

	if res.Outcome != flow.OutcomeRejected {
		s.opts.Recorder.Commit(ctx, s.id, state, res.Turns)
	}
	s.persist.Unlock()

	for _, f := range notify {
		f()
	}
	return true
}

func (s *Session) abandonReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	return domain.ErrSessionReset
}
