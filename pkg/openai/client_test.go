package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientDefaults(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("Expected error for missing API key")
	}

	c, err := NewClient(Options{APIKey: "k", BaseURL: "http://host/"})
	if err != nil {
		t.Fatal(err)
	}
	if c.baseURL != "http://host" {
		t.Errorf("Expected trailing slash trimmed, got %q", c.baseURL)
	}
	if c.model != DefaultModel || c.maxTokens != DefaultMaxTokens {
		t.Errorf("Unexpected defaults: model=%q maxTokens=%d", c.model, c.maxTokens)
	}
	if c.Name() != "openai/"+DefaultModel {
		t.Errorf("Unexpected name %q", c.Name())
	}
}

func TestComplete(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != completionsPath {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":" {\"concise_fact\":\"ok\"} "}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{APIKey: "secret", BaseURL: srv.URL, Temperature: DefaultTemperature})
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Complete(context.Background(), "tell me about Banana")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `{"concise_fact":"ok"}` {
		t.Errorf("Unexpected content %q", out)
	}

	if got.Model != DefaultModel || got.MaxTokens != 600 || got.Temperature != 0.2 || got.Stream {
		t.Errorf("Unexpected request: %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "tell me about Banana" {
		t.Errorf("Unexpected messages: %+v", got.Messages)
	}
}

func TestCompleteErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		},
		"no choices": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
		"empty content": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"   "}}]}`))
		},
	}

	for name, h := range cases {
		srv := httptest.NewServer(h)
		c, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
		if _, err := c.Complete(context.Background(), "x"); err == nil {
			t.Errorf("%s: expected error", name)
		}
		srv.Close()
	}
}

func TestCompleteStatusMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Expected status and body in error, got %v", err)
	}
}

func TestCompleteHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := c.Complete(ctx, "x"); err == nil {
		t.Fatal("Expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("Complete did not return promptly after context deadline")
	}
}
