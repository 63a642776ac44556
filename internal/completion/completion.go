// Package completion phrases assistant replies with a hosted chat
// completion service. Perplexity is the default provider; OpenAI and
// Anthropic are reached through their SDKs.
package completion

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/offer-benchmark-agent/internal/config"
)

// New builds a Generator for cfg. It returns nil, nil when no API key is
// configured; callers then use canned replies only.
func New(cfg config.CompletionConfig, opts ...GeneratorOption) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	backend, err := NewBackend(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	opts = append([]GeneratorOption{WithLimits(cfg.MaxTokens, cfg.Temperature, cfg.HistoryTokens)}, opts...)
	return NewGenerator(backend, opts...), nil
}

// NewBackend selects the backend named by cfg.Provider.
func NewBackend(cfg config.CompletionConfig, httpClient *http.Client) (Backend, error) {
	switch cfg.Provider {
	case ProviderPerplexity, "":
		clientOpts := []ClientOption{WithHTTPClient(httpClient)}
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, WithBaseURL(cfg.BaseURL))
		}
		return NewPerplexityBackend(NewClient(cfg.APIKey, clientOpts...), cfg.Model, cfg.Stream), nil
	case ProviderOpenAI:
		return NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, cfg.Model, httpClient), nil
	case ProviderAnthropic:
		return NewAnthropicBackend(cfg.APIKey, cfg.BaseURL, cfg.Model, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
