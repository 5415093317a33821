package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
)

// DefaultModel is used when no model name is configured
const DefaultModel = "llama3.2"

// Client wraps the Ollama API client
type Client struct {
	client      *api.Client
	model       string
	temperature float64
	maxTokens   int
}

// Options tunes generation
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string, opts Options) (*Client, error) {
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	return &Client{
		client:      api.NewClient(baseURL, http.DefaultClient),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// Name identifies the backend in logs
func (c *Client) Name() string {
	return "ollama/" + c.model
}

// Complete sends a single user prompt and returns the model's reply.
// Output is constrained to JSON.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	// Add timeout if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
	}

	options := map[string]any{"temperature": c.temperature}
	if c.maxTokens > 0 {
		options["num_predict"] = c.maxTokens
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: options,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "ollama chat")
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", errors.New("empty response from ollama")
	}
	return content, nil
}
