package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/events"
	"github.com/tjfontaine/offer-benchmark-agent/internal/flow"
	"github.com/tjfontaine/offer-benchmark-agent/internal/render"
	"github.com/tjfontaine/offer-benchmark-agent/internal/session"
	"github.com/tjfontaine/offer-benchmark-agent/internal/storage"
)

const maxBodyBytes = 1 << 20

// Handlers serves the session API.
type Handlers struct {
	sessions       *session.Manager
	store          storage.TranscriptStore
	bus            *events.Bus
	metrics        http.Handler
	logger         *slog.Logger
	requestTimeout time.Duration
	keepAlive      time.Duration
}

// HandlersConfig wires Handlers. Store, Bus and Metrics are optional.
type HandlersConfig struct {
	Sessions       *session.Manager
	Store          storage.TranscriptStore
	Bus            *events.Bus
	Metrics        http.Handler
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		sessions:       cfg.Sessions,
		store:          cfg.Store,
		bus:            cfg.Bus,
		metrics:        cfg.Metrics,
		logger:         logger,
		requestTimeout: cfg.RequestTimeout,
		keepAlive:      15 * time.Second,
	}
}

// Mount registers every route on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/healthz", h.health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/v1/sessions", func(r chi.Router) {
		timeout := TimeoutMiddleware(h.requestTimeout)
		r.With(timeout).Post("/", h.createSession)
		r.With(timeout).Get("/", h.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			// Streams outlive the request timeout.
			r.Get("/events", h.streamEvents)

			r.Group(func(r chi.Router) {
				r.Use(timeout)

				r.Get("/", h.getSession)
				r.Delete("/", h.deleteSession)
				r.Post("/reset", h.resetSession)
				r.Get("/view", h.getView)

				r.Post("/messages", h.postMessage)
				r.Post("/quick-replies", h.postQuickReply)
				r.Post("/identity", h.postIdentity)
				r.Post("/source", h.postSource)

				r.Post("/peers", h.addCustomPeer)
				r.Post("/peers/done", h.peersDone)
				r.Put("/peers/custom-form", h.openCustomForm)
				r.Delete("/peers/custom-form", h.closeCustomForm)
				r.Post("/peers/{peerID}/toggle", h.togglePeer)
				r.Delete("/peers/{peerID}", h.removePeer)
			})
		})
	})
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.sessions.Len(),
	})
}

// session resolves {sessionID}, writing a 404 when it is not live.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	AddLogField(r.Context(), "session_id", id)
	s, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *Handlers) createSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	AddLogField(r.Context(), "session_id", s.ID())
	w.Header().Set("Location", "/v1/sessions/"+s.ID())
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

type sessionSummary struct {
	ID        string       `json:"id"`
	Stage     domain.Stage `json:"stage"`
	Identity  string       `json:"identity,omitempty"`
	Live      bool         `json:"live"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}

func (h *Handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}

	live := make(map[string]bool)
	for _, s := range h.sessions.List() {
		live[s.ID()] = true
	}

	var out []sessionSummary
	if h.store != nil {
		recs, err := h.store.ListSessions(r.Context(), storage.ListOptions{Limit: limit, Offset: offset})
		if err != nil {
			writeError(w, r, fmt.Errorf("list sessions: %w", err))
			return
		}
		out = make([]sessionSummary, 0, len(recs))
		for _, rec := range recs {
			updated := rec.UpdatedAt
			out = append(out, sessionSummary{
				ID:        rec.ID,
				Stage:     rec.Stage,
				Identity:  rec.Identity,
				Live:      live[rec.ID],
				CreatedAt: rec.CreatedAt,
				UpdatedAt: &updated,
			})
		}
	} else {
		sessions := h.sessions.List()
		sessions = page(sessions, limit, offset)
		out = make([]sessionSummary, 0, len(sessions))
		for _, s := range sessions {
			snap := s.Snapshot()
			out = append(out, sessionSummary{
				ID:        snap.ID,
				Stage:     snap.Stage,
				Identity:  snap.Identity,
				Live:      true,
				CreatedAt: s.CreatedAt(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (h *Handlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	AddLogField(r.Context(), "session_id", id)
	if err := h.sessions.Delete(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) resetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Reset()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

type viewResponse struct {
	Kind     domain.AnalysisKind `json:"kind"`
	Query    string              `json:"query,omitempty"`
	Title    string              `json:"title"`
	ViewType string              `json:"view_type"`
}

func (h *Handlers) getView(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	a := s.Snapshot().Analysis
	if a.IsNone() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{Kind: a.Kind, Query: a.Query, Title: a.Title(), ViewType: a.ViewType()})
}

func (h *Handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	var form render.Composer
	h.submitForm(w, r, &form, func() (domain.Input, error) { return form.Input() })
}

func (h *Handlers) postIdentity(w http.ResponseWriter, r *http.Request) {
	var form render.IdentityForm
	h.submitForm(w, r, &form, func() (domain.Input, error) { return form.Input() })
}

type quickReplyRequest struct {
	Reply string `json:"reply"`
}

func (h *Handlers) postQuickReply(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req quickReplyRequest
	if !decode(w, r, &req) {
		return
	}
	ch, err := s.QuickReply(req.Reply)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, s, ch)
}

type sourceRequest struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

// postSource accepts a link or a file reference as JSON, or a multipart
// upload whose "file" part supplies the file name. File contents are not
// read.
func (h *Handlers) postSource(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var (
		in  domain.Input
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		in, err = multipartSource(w, r)
	} else {
		var req sourceRequest
		if !decode(w, r, &req) {
			return
		}
		switch {
		case req.URL != "" && req.FileName != "":
			err = domain.NewAPIError(domain.ErrorTypeInvalidRequest, "send either url or file_name, not both")
		case req.FileName != "":
			in, err = render.FileForm{FileName: req.FileName}.Input()
		default:
			in, err = render.LinkForm{URL: req.URL}.Input()
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, s, s.Submit(in))
}

func multipartSource(w http.ResponseWriter, r *http.Request) (domain.Input, error) {
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		return domain.Input{}, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "invalid multipart body: "+err.Error())
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return domain.Input{}, fmt.Errorf("%w: multipart body has no file part", domain.ErrInvalidSubmission)
		}
		name, form := part.FormName(), part.FileName()
		part.Close()
		if name == "file" {
			return render.FileForm{FileName: form}.Input()
		}
	}
}

func (h *Handlers) addCustomPeer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var form render.CustomPeerForm
	if !decode(w, r, &form) {
		return
	}
	ch, err := s.SubmitCustomPeer(form)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, s, ch)
}

func (h *Handlers) togglePeer(w http.ResponseWriter, r *http.Request) {
	h.submitInput(w, r, domain.PeerToggle(chi.URLParam(r, "peerID")))
}

func (h *Handlers) removePeer(w http.ResponseWriter, r *http.Request) {
	h.submitInput(w, r, domain.PeerRemoval(chi.URLParam(r, "peerID")))
}

func (h *Handlers) peersDone(w http.ResponseWriter, r *http.Request) {
	h.submitInput(w, r, domain.PeersDone())
}

func (h *Handlers) openCustomForm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.OpenCustomForm()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handlers) closeCustomForm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.CloseCustomForm()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handlers) submitForm(w http.ResponseWriter, r *http.Request, form any, input func() (domain.Input, error)) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if !decode(w, r, form) {
		return
	}
	in, err := input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respond(w, r, s, s.Submit(in))
}

func (h *Handlers) submitInput(w http.ResponseWriter, r *http.Request, in domain.Input) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, r, s, s.Submit(in))
}

type submitResponse struct {
	Receipt *session.Receipt `json:"receipt,omitempty"`
	Session session.Snapshot `json:"session"`
}

// respond answers 202 with the snapshot, or with ?wait=true blocks for the
// receipt and reports flow rejections as 422.
func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, s *session.Session, ch <-chan session.Receipt) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, submitResponse{Session: s.Snapshot()})
		return
	}

	select {
	case rc := <-ch:
		AddLogField(r.Context(), "outcome", string(rc.Outcome))
		AddLogField(r.Context(), "rule", rc.Rule)
		switch {
		case rc.Err != nil:
			writeError(w, r, rc.Err)
		case rc.Outcome == flow.OutcomeRejected:
			writeError(w, r, rc.Reason)
		default:
			writeJSON(w, http.StatusOK, submitResponse{Receipt: &rc, Session: s.Snapshot()})
		}
	case <-r.Context().Done():
		writeError(w, r, r.Context().Err())
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.NewAPIError(domain.ErrorTypeInvalidRequest, fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return n, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, r, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var apiErr *domain.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		apiErr = domain.NewAPIError(domain.ErrorTypeServer, "request timed out").WithStatus(http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		apiErr = domain.NewAPIError(domain.ErrorTypeServer, "request canceled").WithStatus(499)
	default:
		apiErr = domain.ToAPIError(err)
	}
	body := map[string]any{"error": apiErr}
	if id := GetRequestID(r.Context()); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, apiErr.HTTPStatusCode(), body)
}
