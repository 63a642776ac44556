// Package tokens counts prompt tokens so conversation history can be trimmed
// to a budget before it is sent to a completion service.
package tokens

import (
	"strings"
)

// Counter counts the tokens of a text for a model.
type Counter interface {
	CountText(model, text string) (int, error)
	SupportsModel(model string) bool
}

// Per-message overhead for chat formatting: 3 tokens of framing plus 1 for
// the role, and 3 tokens priming the reply.
const (
	tokensPerMessage = 4
	tokensReplyPrime = 3
)

// Registry picks a counter for a model, falling back to an estimator.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a registry with the tiktoken counter registered and
// the character estimator as fallback.
func NewRegistry() *Registry {
	return &Registry{
		counters: []Counter{NewTiktokenCounter()},
		fallback: NewEstimator(),
	}
}

// Register adds a counter. Later registrations are consulted last.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// SetFallback sets the fallback counter for unsupported models.
func (r *Registry) SetFallback(counter Counter) {
	r.fallback = counter
}

// GetCounter returns the appropriate counter for a model.
func (r *Registry) GetCounter(model string) Counter {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			return counter
		}
	}
	return r.fallback
}

// CountText counts text, using the estimator if the chosen counter fails.
func (r *Registry) CountText(model, text string) int {
	n, err := r.GetCounter(model).CountText(model, text)
	if err != nil {
		n, _ = r.fallback.CountText(model, text)
	}
	return n
}

// CountMessages counts a chat prompt: each entry is one message body.
func (r *Registry) CountMessages(model string, bodies ...string) int {
	total := tokensReplyPrime
	for _, b := range bodies {
		total += tokensPerMessage + r.CountText(model, b)
	}
	return total
}

// Estimator provides token count estimation based on character count.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

func (e *Estimator) CountText(_ string, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	n := int(float64(len(text))/e.CharsPerToken + 0.5)
	if n == 0 {
		n = 1
	}
	return n, nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(string) bool { return true }

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
