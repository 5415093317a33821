// Package openai talks to any OpenAI-compatible chat completions endpoint.
// Cerebras is the default.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultBaseURL     = "https://api.cerebras.ai"
	DefaultModel       = "llama-4-scout-17b-16e-instruct"
	DefaultMaxTokens   = 600
	DefaultTemperature = 0.2
	completionsPath    = "/v1/chat/completions"
)

// Options configures a Client. Zero values take the package defaults.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// Client calls an OpenAI compatible chat completions endpoint
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// OpenAI-compatible message format
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

// Choice is one completion candidate
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage reports token counts for a completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewClient creates a client. An API key is required.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("API key is empty")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		httpClient:  opts.HTTPClient,
	}, nil
}

// Name identifies the backend in logs
func (c *Client) Name() string {
	return "openai/" + c.model
}

// Complete sends one user message and returns the first choice's content
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	req := ChatCompletionRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      false,
	}

	respBody, err := c.sendRequest(ctx, completionsPath, req)
	if err != nil {
		return "", errors.Wrap(err, "request failed")
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", errors.Wrap(err, "failed to parse response")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("empty message content")
	}
	return content, nil
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
