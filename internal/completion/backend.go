package completion

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// Prompt is a provider-neutral completion request. Messages strictly
// alternate and start with a user message.
type Prompt struct {
	System      string
	Messages    []ChatCompletionMessage
	MaxTokens   int
	Temperature float64
}

// Answer is the backend's reply.
type Answer struct {
	Text         string
	PromptTokens int
}

// Backend is one completion provider.
type Backend interface {
	Name() string
	Model() string
	Complete(ctx context.Context, p *Prompt) (*Answer, error)
}

// Provider names.
const (
	ProviderPerplexity = "perplexity"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
)

var errEmptyResponse = domain.NewAPIError(domain.ErrorTypeUpstream, "completion returned no text").
	WithCode(domain.ErrorCodeEmptyResponse)

// PerplexityBackend talks to Perplexity through Client, optionally
// streaming.
type PerplexityBackend struct {
	client *Client
	model  string
	stream bool
}

// NewPerplexityBackend creates the default backend.
func NewPerplexityBackend(client *Client, model string, stream bool) *PerplexityBackend {
	return &PerplexityBackend{client: client, model: model, stream: stream}
}

func (b *PerplexityBackend) Name() string  { return ProviderPerplexity }
func (b *PerplexityBackend) Model() string { return b.model }

// Complete sends p with the search parameters the agent always uses.
func (b *PerplexityBackend) Complete(ctx context.Context, p *Prompt) (*Answer, error) {
	req := b.request(p)

	if !b.stream {
		resp, err := b.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return nil, errEmptyResponse
		}
		return &Answer{Text: resp.Choices[0].Message.Content, PromptTokens: resp.Usage.PromptTokens}, nil
	}

	ch, err := b.client.StreamChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	var (
		sb    strings.Builder
		usage int
	)
	for r := range ch {
		if r.Err != nil {
			return nil, r.Err
		}
		for _, c := range r.Chunk.Choices {
			sb.WriteString(c.Delta.Content)
		}
		if r.Chunk.Usage != nil {
			usage = r.Chunk.Usage.PromptTokens
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, errEmptyResponse
	}
	return &Answer{Text: sb.String(), PromptTokens: usage}, nil
}

func (b *PerplexityBackend) request(p *Prompt) *ChatCompletionRequest {
	msgs := make([]ChatCompletionMessage, 0, len(p.Messages)+1)
	if p.System != "" {
		msgs = append(msgs, ChatCompletionMessage{Role: RoleSystem, Content: p.System})
	}
	msgs = append(msgs, p.Messages...)

	return &ChatCompletionRequest{
		Model:                  b.model,
		Messages:               msgs,
		MaxTokens:              p.MaxTokens,
		Temperature:            ptr(p.Temperature),
		TopP:                   ptr(0.9),
		TopK:                   ptr(0),
		PresencePenalty:        ptr(0.0),
		FrequencyPenalty:       ptr(1.0),
		ReturnCitations:        ptr(true),
		SearchDomainFilter:     []string{"perplexity.ai"},
		ReturnImages:           ptr(false),
		ReturnRelatedQuestions: ptr(false),
		SearchRecencyFilter:    "month",
	}
}

func ptr[T any](v T) *T { return &v }

// OpenAIBackend uses the official OpenAI SDK.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend creates an OpenAI backend. An empty baseURL uses the SDK
// default.
func NewOpenAIBackend(apiKey, baseURL, model string, httpClient *http.Client) *OpenAIBackend {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, openaioption.WithHTTPClient(httpClient))
	}
	return &OpenAIBackend{client: openai.NewClient(opts...), model: model}
}

func (b *OpenAIBackend) Name() string  { return ProviderOpenAI }
func (b *OpenAIBackend) Model() string { return b.model }

func (b *OpenAIBackend) Complete(ctx context.Context, p *Prompt) (*Answer, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(p.Messages)+1)
	if p.System != "" {
		msgs = append(msgs, openai.SystemMessage(p.System))
	}
	for _, m := range p.Messages {
		if m.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(b.model),
		Messages:    msgs,
		MaxTokens:   openai.Int(int64(p.MaxTokens)),
		Temperature: openai.Float(p.Temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, sdkError(apiErr.StatusCode, apiErr.Message)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, errEmptyResponse
	}
	return &Answer{Text: resp.Choices[0].Message.Content, PromptTokens: int(resp.Usage.PromptTokens)}, nil
}

// AnthropicBackend uses the official Anthropic SDK.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

// NewAnthropicBackend creates an Anthropic backend.
func NewAnthropicBackend(apiKey, baseURL, model string, httpClient *http.Client) *AnthropicBackend {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, anthropicoption.WithHTTPClient(httpClient))
	}
	return &AnthropicBackend{client: anthropic.NewClient(opts...), model: model}
}

func (b *AnthropicBackend) Name() string  { return ProviderAnthropic }
func (b *AnthropicBackend) Model() string { return b.model }

func (b *AnthropicBackend) Complete(ctx context.Context, p *Prompt) (*Answer, error) {
	msgs := make([]anthropic.MessageParam, 0, len(p.Messages))
	for _, m := range p.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		Messages:    msgs,
		MaxTokens:   int64(p.MaxTokens),
		Temperature: anthropic.Float(p.Temperature),
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, sdkError(apiErr.StatusCode, apiErr.Error())
		}
		return nil, err
	}

	var sb strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, errEmptyResponse
	}
	return &Answer{Text: sb.String(), PromptTokens: int(resp.Usage.InputTokens)}, nil
}

func sdkError(status int, message string) *domain.APIError {
	return domain.NewAPIError(domain.ErrorTypeForStatus(status), message).WithStatus(status)
}
