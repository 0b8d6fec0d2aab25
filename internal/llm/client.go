// Package llm provides the generation client used by phase handlers: an
// OpenAI-compatible HTTP client, a registry of named providers, and a
// read-only template source for the deterministic demo path.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// GenerationRequest is one text-generation invocation.
type GenerationRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// GenerationResponse is the normalized provider output.
type GenerationResponse struct {
	Content      string
	Model        string
	InputTokens  int64
	OutputTokens int64
	FinishReason string
}

// Generator produces text from a prompt. Implementations return
// *domain.ProviderError for provider-side failures so callers can apply
// their retry policy; retry/backoff is owned by the caller, not the client.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
}

// ClientConfig configures the HTTP generation client.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a Client with sensible defaults for zero-value config fields.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends one chat-completion request. Transport failures and non-200
// statuses come back as *domain.ProviderError; the per-request context bounds
// the call in addition to the client timeout.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	messages := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewProviderError(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, domain.NewProviderError(resp.StatusCode, string(text))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, domain.NewProviderError(resp.StatusCode, fmt.Sprintf("decode response: %v", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, domain.NewProviderError(resp.StatusCode, "response has no choices")
	}

	choice := parsed.Choices[0]
	return &GenerationResponse{
		Content:      choice.Message.Content,
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		FinishReason: choice.FinishReason,
	}, nil
}
