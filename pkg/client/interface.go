package client

import (
	"context"
)

// TextClient is a text-generation backend used to look up food facts
type TextClient interface {
	// Name identifies the backend in logs
	Name() string
	// Complete sends a single user prompt and returns the raw model text
	Complete(ctx context.Context, prompt string) (string, error)
}
