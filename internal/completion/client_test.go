package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
	"github.com/tjfontaine/offer-benchmark-agent/internal/testutil"
)

func testPrompt() *Prompt {
	return &Prompt{
		System:      "system",
		Messages:    []ChatCompletionMessage{{Role: RoleUser, Content: "which bank has dining deals?"}},
		MaxTokens:   1000,
		Temperature: 0.7,
	}
}

func TestPerplexityBackend_Complete(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "perplexity_complete")
	client := NewClient(testutil.APIKey("PERPLEXITY_API_KEY"), WithHTTPClient(testutil.VCRHTTPClient(rec)))
	b := NewPerplexityBackend(client, "llama-3.1-sonar-small-128k-online", false)

	ans, err := b.Complete(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(ans.Text, "dining") {
		t.Errorf("Complete() text = %q", ans.Text)
	}
	if ans.PromptTokens != 182 {
		t.Errorf("PromptTokens = %d, want 182", ans.PromptTokens)
	}
}

func TestPerplexityBackend_Stream(t *testing.T) {
	rec := testutil.NewVCRRecorder(t, "perplexity_stream")
	client := NewClient(testutil.APIKey("PERPLEXITY_API_KEY"), WithHTTPClient(testutil.VCRHTTPClient(rec)))
	b := NewPerplexityBackend(client, "llama-3.1-sonar-small-128k-online", true)

	ans, err := b.Complete(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if ans.Text != "FAB leads on dining offers." {
		t.Errorf("Complete() text = %q", ans.Text)
	}
	if ans.PromptTokens != 175 {
		t.Errorf("PromptTokens = %d, want 175", ans.PromptTokens)
	}
}

func TestPerplexityBackend_Request(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer pplx-key" {
			t.Errorf("Authorization = %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	b := NewPerplexityBackend(NewClient("pplx-key", WithBaseURL(srv.URL+"/")), "sonar", false)
	if _, err := b.Complete(context.Background(), testPrompt()); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	want := map[string]any{
		"model":                    "sonar",
		"max_tokens":               float64(1000),
		"temperature":              0.7,
		"top_p":                    0.9,
		"top_k":                    float64(0),
		"presence_penalty":         float64(0),
		"frequency_penalty":        float64(1),
		"return_citations":         true,
		"return_images":            false,
		"return_related_questions": false,
		"search_recency_filter":    "month",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system + user", got["messages"])
	}
	if first := msgs[0].(map[string]any); first["role"] != RoleSystem {
		t.Errorf("first message role = %v", first["role"])
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType domain.ErrorType
		wantCode domain.ErrorCode
	}{
		{
			name:     "invalid key",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"Invalid API key","type":"authentication_error","code":401}}`,
			wantType: domain.ErrorTypeAuthentication,
			wantCode: domain.ErrorCodeInvalidAPIKey,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"slow down","type":"rate_limit_error"}}`,
			wantType: domain.ErrorTypeRateLimit,
			wantCode: domain.ErrorCodeRateLimitExceeded,
		},
		{
			name:     "html from a proxy",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantType: domain.ErrorTypeServer,
		},
		{
			name:     "malformed success body",
			status:   http.StatusOK,
			body:     `{"choices":`,
			wantType: domain.ErrorTypeUpstream,
			wantCode: domain.ErrorCodeMalformedPayload,
		},
		{
			name:     "no choices",
			status:   http.StatusOK,
			body:     `{"choices":[]}`,
			wantType: domain.ErrorTypeUpstream,
			wantCode: domain.ErrorCodeEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			b := NewPerplexityBackend(NewClient("k", WithBaseURL(srv.URL)), "sonar", false)
			_, err := b.Complete(context.Background(), testPrompt())

			var apiErr *domain.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *domain.APIError", err)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", apiErr.Type, tt.wantType)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestClient_StreamTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	b := NewPerplexityBackend(NewClient("k", WithBaseURL(srv.URL)), "sonar", true)
	_, err := b.Complete(context.Background(), testPrompt())
	if !errors.Is(err, ErrStreamTruncated) {
		t.Fatalf("error = %v, want ErrStreamTruncated", err)
	}
}

func TestClient_StreamMalformedFragment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	b := NewPerplexityBackend(NewClient("k", WithBaseURL(srv.URL)), "sonar", true)
	_, err := b.Complete(context.Background(), testPrompt())

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != domain.ErrorCodeMalformedPayload {
		t.Fatalf("error = %v, want malformed payload", err)
	}
}

func TestClient_StreamSkipsCommentsAndBlankData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": keep-alive\n\ndata:\n\ndata:{\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	b := NewPerplexityBackend(NewClient("k", WithBaseURL(srv.URL)), "sonar", true)
	ans, err := b.Complete(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if ans.Text != "hi" {
		t.Errorf("text = %q, want hi", ans.Text)
	}
}
