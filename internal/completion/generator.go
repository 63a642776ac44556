package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/metrics"
	"github.com/tjfontaine/offer-benchmark-agent/internal/tokens"
)

const systemPreamble = "You are the Offer Benchmarking Agent. You help a bank compare its card offers " +
	"against competitor banks. Answer briefly and in plain text. The analysis results themselves are shown " +
	"to the user in a separate panel, so describe what they will find there rather than inventing figures."

// Generator phrases assistant replies with a completion Backend.
type Generator struct {
	backend       Backend
	counter       *tokens.Registry
	metrics       *metrics.Recorder
	logger        *slog.Logger
	tracer        trace.Tracer
	maxTokens     int
	temperature   float64
	historyTokens int
}

var _ domain.Responder = (*Generator)(nil)

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithMetrics records each call.
func WithMetrics(m *metrics.Recorder) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// WithTokenRegistry sets the counter used for the history budget.
func WithTokenRegistry(r *tokens.Registry) GeneratorOption {
	return func(g *Generator) { g.counter = r }
}

// WithLimits sets the reply length, sampling temperature and the token
// budget for transcript history. Zero values keep the defaults.
func WithLimits(maxTokens int, temperature float64, historyTokens int) GeneratorOption {
	return func(g *Generator) {
		if maxTokens > 0 {
			g.maxTokens = maxTokens
		}
		if temperature > 0 {
			g.temperature = temperature
		}
		if historyTokens > 0 {
			g.historyTokens = historyTokens
		}
	}
}

// NewGenerator wraps backend.
func NewGenerator(backend Backend, opts ...GeneratorOption) *Generator {
	g := &Generator{
		backend:       backend,
		logger:        slog.Default(),
		tracer:        otel.Tracer("github.com/tjfontaine/offer-benchmark-agent/internal/completion"),
		maxTokens:     1000,
		temperature:   0.7,
		historyTokens: 4000,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.counter == nil {
		g.counter = tokens.NewRegistry()
	}
	return g
}

// Name reports the backend in use.
func (g *Generator) Name() string { return g.backend.Name() + "/" + g.backend.Model() }

// Reply asks the backend for the assistant turn described by req.
func (g *Generator) Reply(ctx context.Context, req *domain.ReplyRequest) (string, error) {
	prompt := g.Prompt(req)

	ctx, span := g.tracer.Start(ctx, "completion.reply", trace.WithAttributes(
		attribute.String("completion.provider", g.backend.Name()),
		attribute.String("completion.model", g.backend.Model()),
		attribute.String("session.id", req.SessionID),
		attribute.Int("completion.messages", len(prompt.Messages)),
	))
	defer span.End()

	start := time.Now()
	ans, err := g.backend.Complete(ctx, prompt)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.metrics.ObserveCompletion(g.backend.Name(), g.backend.Model(), 0, errorType(err), elapsed)
		return "", fmt.Errorf("%s completion: %w", g.backend.Name(), err)
	}

	promptTokens := ans.PromptTokens
	if promptTokens == 0 {
		promptTokens = g.countPrompt(prompt)
	}
	span.SetAttributes(attribute.Int("completion.prompt_tokens", promptTokens))
	g.metrics.ObserveCompletion(g.backend.Name(), g.backend.Model(), promptTokens, "", elapsed)

	g.logger.Debug("completion reply",
		slog.String("session_id", req.SessionID),
		slog.String("provider", g.backend.Name()),
		slog.Int("prompt_tokens", promptTokens),
		slog.Duration("duration", elapsed),
	)
	return strings.TrimSpace(ans.Text), nil
}

// Prompt builds the backend request for req.
func (g *Generator) Prompt(req *domain.ReplyRequest) *Prompt {
	system := systemPrompt(req)
	budget := g.historyTokens - g.counter.CountText(g.backend.Model(), system)
	return &Prompt{
		System:      system,
		Messages:    g.trim(alternate(req.Transcript), budget),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}
}

func systemPrompt(req *domain.ReplyRequest) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nWhat the user has told us so far:\n")
	if req.Identity != "" {
		fmt.Fprintf(&b, "- Bank: %s\n", req.Identity)
	}
	if req.Source != nil {
		fmt.Fprintf(&b, "- Offer data (%s): %s\n", req.Source.Kind, req.Source.Value)
	}
	if len(req.Peers) > 0 {
		names := make([]string, len(req.Peers))
		for i, p := range req.Peers {
			names[i] = p.Name
		}
		fmt.Fprintf(&b, "- Competitors: %s\n", strings.Join(names, ", "))
	}
	if !req.Analysis.IsNone() {
		fmt.Fprintf(&b, "- Current view: %s\n", req.Analysis.Title())
	}
	fmt.Fprintf(&b, "- Conversation stage: %s\n", req.Stage)
	if req.Canned != "" {
		fmt.Fprintf(&b, "\nIf you have nothing better to add, say something close to:\n%s\n", req.Canned)
	}
	return b.String()
}

// alternate maps turns to messages, merging consecutive turns of the same
// speaker and dropping leading assistant turns.
func alternate(turns []domain.Turn) []ChatCompletionMessage {
	var out []ChatCompletionMessage
	for _, t := range turns {
		role := RoleUser
		if t.Speaker == domain.SpeakerAssistant {
			role = RoleAssistant
		}
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if len(out) == 0 && role == RoleAssistant {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + text
			continue
		}
		out = append(out, ChatCompletionMessage{Role: role, Content: text})
	}
	return out
}

// trim keeps the newest messages that fit in budget. The final message is
// always kept and the result still starts with a user message.
func (g *Generator) trim(msgs []ChatCompletionMessage, budget int) []ChatCompletionMessage {
	if len(msgs) == 0 {
		return msgs
	}
	model := g.backend.Model()
	start := len(msgs) - 1
	used := g.counter.CountMessages(model, msgs[start].Content)
	for start > 0 {
		cost := g.counter.CountMessages(model, msgs[start-1].Content) - g.counter.CountMessages(model)
		if used+cost > budget {
			break
		}
		used += cost
		start--
	}
	for start < len(msgs)-1 && msgs[start].Role != RoleUser {
		start++
	}
	return msgs[start:]
}

func (g *Generator) countPrompt(p *Prompt) int {
	bodies := make([]string, 0, len(p.Messages)+1)
	bodies = append(bodies, p.System)
	for _, m := range p.Messages {
		bodies = append(bodies, m.Content)
	}
	return g.counter.CountMessages(g.backend.Model(), bodies...)
}

func errorType(err error) string {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return string(apiErr.Type)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, ErrStreamTruncated) {
		return string(domain.ErrorTypeUpstream)
	}
	return string(domain.ErrorTypeServer)
}
