package gemini

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// DefaultModel is used when no model name is configured
const DefaultModel = "gemini-1.5-flash"

// Options tunes generation
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client sends text prompts to Gemini and asks for JSON replies
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

// NewClient creates a Gemini client. The caller must Close it.
func NewClient(ctx context.Context, apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}

	m := cl.GenerativeModel(strings.TrimSpace(opts.Model))
	m.GenerationConfig = generationConfig(opts)

	return &Client{client: cl, model: m, name: opts.Model}, nil
}

func generationConfig(opts Options) genai.GenerationConfig {
	temp := float32(opts.Temperature)
	cfg := genai.GenerationConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}
	if opts.MaxTokens > 0 {
		n := int32(opts.MaxTokens)
		cfg.MaxOutputTokens = &n
	}
	return cfg
}

// Name identifies the backend in logs
func (c *Client) Name() string {
	return "gemini/" + c.name
}

// Complete sends a single prompt and returns the first text part of the reply
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", errors.Wrap(err, "gemini generate")
	}
	txt := strings.TrimSpace(firstText(resp))
	if txt == "" {
		return "", errors.New("gemini: empty response")
	}
	return txt, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}
