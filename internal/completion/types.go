package completion

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatCompletionRequest is an OpenAI-compatible chat completion request with
// the Perplexity search extensions.
type ChatCompletionRequest struct {
	Model            string                  `json:"model"`
	Messages         []ChatCompletionMessage `json:"messages"`
	MaxTokens        int                     `json:"max_tokens,omitempty"`
	Temperature      *float64                `json:"temperature,omitempty"`
	TopP             *float64                `json:"top_p,omitempty"`
	TopK             *int                    `json:"top_k,omitempty"`
	Stream           bool                    `json:"stream,omitempty"`
	PresencePenalty  *float64                `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64                `json:"frequency_penalty,omitempty"`

	ReturnCitations        *bool    `json:"return_citations,omitempty"`
	SearchDomainFilter     []string `json:"search_domain_filter,omitempty"`
	ReturnImages           *bool    `json:"return_images,omitempty"`
	ReturnRelatedQuestions *bool    `json:"return_related_questions,omitempty"`
	SearchRecencyFilter    string   `json:"search_recency_filter,omitempty"`
}

// ChatCompletionMessage is one role-tagged message.
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is a non-streaming response.
type ChatCompletionResponse struct {
	ID        string   `json:"id"`
	Object    string   `json:"object"`
	Created   int64    `json:"created"`
	Model     string   `json:"model"`
	Choices   []Choice `json:"choices"`
	Usage     Usage    `json:"usage,omitempty"`
	Citations []string `json:"citations,omitempty"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int                   `json:"index"`
	Message      ChatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

// Usage reports token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one streamed fragment.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is a choice in a streamed fragment.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental content of a fragment.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ErrorResponse is the upstream error envelope.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError is the upstream error body.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    any    `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if c := e.code(); c != "" {
		return c + ": " + e.Message
	}
	return e.Message
}

// Perplexity sends numeric codes where OpenAI sends strings.
func (e *APIError) code() string {
	switch c := e.Code.(type) {
	case string:
		return c
	case float64:
		b, _ := json.Marshal(c)
		return string(b)
	default:
		return ""
	}
}

// ToCanonical converts the upstream error to the domain shape.
func (e *APIError) ToCanonical(status int) *domain.APIError {
	errType, code := mapErrorType(status, e.Type, e.code(), e.Message)
	return &domain.APIError{
		Type:    errType,
		Code:    code,
		Message: e.Message,
		Param:   e.Param,
	}
}

func mapErrorType(status int, errType, errCode, message string) (domain.ErrorType, domain.ErrorCode) {
	switch errCode {
	case "context_length_exceeded":
		return domain.ErrorTypeInvalidRequest, domain.ErrorCodeContextLengthExceeded
	case "rate_limit_exceeded":
		return domain.ErrorTypeRateLimit, domain.ErrorCodeRateLimitExceeded
	case "invalid_api_key":
		return domain.ErrorTypeAuthentication, domain.ErrorCodeInvalidAPIKey
	case "model_not_found":
		return domain.ErrorTypeNotFound, domain.ErrorCodeModelNotFound
	}

	msg := strings.ToLower(message)
	if strings.Contains(msg, "context length") || strings.Contains(msg, "context window") {
		return domain.ErrorTypeInvalidRequest, domain.ErrorCodeContextLengthExceeded
	}

	switch errType {
	case "invalid_request_error":
		return domain.ErrorTypeInvalidRequest, ""
	case "authentication_error":
		return domain.ErrorTypeAuthentication, domain.ErrorCodeInvalidAPIKey
	case "permission_denied":
		return domain.ErrorTypePermission, ""
	case "not_found":
		return domain.ErrorTypeNotFound, domain.ErrorCodeModelNotFound
	case "rate_limit_error", "rate_limit_exceeded":
		return domain.ErrorTypeRateLimit, domain.ErrorCodeRateLimitExceeded
	case "service_unavailable":
		return domain.ErrorTypeOverloaded, ""
	case "server_error":
		return domain.ErrorTypeServer, ""
	}
	return domain.ErrorTypeForStatus(status), ""
}

// ParseErrorResponse parses an error body. It returns nil, nil when the body
// is JSON without an error object.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	return errResp.Error, nil
}
