// Package aiclient mediates all calls to the external AI analysis backend:
// fingerprint cache, rate-limited admission, stage-specific prompting, and
// defensive parsing of backend output.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"reva/internal/analysis"
	reverrors "reva/internal/errors"
)

// Request is the capability-boundary payload for one backend invocation.
type Request struct {
	Category     analysis.StageCategory
	FilePath     string
	Language     string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// Backend is the external AI analysis capability. It may fail, time out, or
// return malformed content; the client defends against all three.
type Backend interface {
	Invoke(ctx context.Context, req Request) (string, error)
	Name() string
}

// HTTPBackendConfig configures the hosted messages-API backend.
type HTTPBackendConfig struct {
	URL        string
	Model      string
	APIKeyEnv  string // environment variable holding the API key
	APIVersion string
	Timeout    time.Duration
}

// HTTPBackend calls a hosted messages-style completion API.
type HTTPBackend struct {
	cfg    HTTPBackendConfig
	apiKey string
	client *http.Client
}

// NewHTTPBackend creates the HTTP backend, reading the API key from the
// configured environment variable.
func NewHTTPBackend(cfg HTTPBackendConfig) (*HTTPBackend, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "REVA_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s environment variable is not set", cfg.APIKeyEnv)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-06-01"
	}
	return &HTTPBackend{
		cfg:    cfg,
		apiKey: key,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (b *HTTPBackend) Name() string { return "http" }

// Invoke sends one stage-specific request and returns the raw text content.
func (b *HTTPBackend) Invoke(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	body := messagesRequest{
		Model:     b.cfg.Model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages: []message{
			{Role: "user", Content: req.UserPrompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", b.cfg.APIVersion)

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", reverrors.New(reverrors.Timeout, "backend call timed out", err)
		}
		return "", reverrors.New(reverrors.BackendUnavailable, "backend request failed", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", reverrors.New(reverrors.BackendUnavailable, "reading backend response", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return "", reverrors.New(reverrors.RateLimited, "backend rate limited the request", nil)
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return "", reverrors.New(reverrors.BackendUnavailable, "backend rejected credentials", nil).
			WithDetails(map[string]interface{}{"status": httpResp.StatusCode})
	case httpResp.StatusCode != http.StatusOK:
		return "", reverrors.New(reverrors.BackendUnavailable,
			fmt.Sprintf("backend returned status %d", httpResp.StatusCode), nil)
	}

	var result messagesResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", reverrors.New(reverrors.MalformedResponse, "backend envelope is not valid JSON", err)
	}

	var content string
	for _, block := range result.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return content, nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MockBackend is a scriptable backend used by tests and offline smoke runs.
// Safe for concurrent use by pipeline workers.
type MockBackend struct {
	// InvokeFunc handles each call; when nil every stage returns an empty
	// findings array.
	InvokeFunc func(ctx context.Context, req Request) (string, error)

	mu    sync.Mutex
	calls int
}

func (m *MockBackend) Name() string { return "mock" }

// CallCount returns how many times Invoke ran.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockBackend) Invoke(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.InvokeFunc != nil {
		return m.InvokeFunc(ctx, req)
	}
	if req.Category == analysis.CategoryFix {
		return `{"fixes":[],"fixedContent":""}`, nil
	}
	return "[]", nil
}
