package gemini

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(context.Background(), "", Options{}); err == nil {
		t.Error("Expected error for empty API key")
	}
}

func TestGenerationConfig(t *testing.T) {
	cfg := generationConfig(Options{Temperature: 0.2, MaxTokens: 600})
	if cfg.ResponseMIMEType != "application/json" {
		t.Errorf("Expected JSON mime type, got %q", cfg.ResponseMIMEType)
	}
	if cfg.Temperature == nil || *cfg.Temperature != float32(0.2) {
		t.Errorf("Unexpected temperature: %v", cfg.Temperature)
	}
	if cfg.MaxOutputTokens == nil || *cfg.MaxOutputTokens != 600 {
		t.Errorf("Unexpected max tokens: %v", cfg.MaxOutputTokens)
	}

	if cfg := generationConfig(Options{}); cfg.MaxOutputTokens != nil {
		t.Error("Expected no token limit when MaxTokens is zero")
	}
}

func TestFirstText(t *testing.T) {
	if got := firstText(nil); got != "" {
		t.Errorf("Expected empty text for nil response, got %q", got)
	}

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{
				&genai.Blob{MIMEType: "image/png"},
				genai.Text(`{"concise_fact":"x"}`),
			}}},
		},
	}
	if got := firstText(resp); got != `{"concise_fact":"x"}` {
		t.Errorf("Unexpected text %q", got)
	}
}
