package provider

import (
	"context"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// Provider is the abstraction over LLM APIs.
type Provider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
}

// Complete sends a single user prompt to the provider and returns the
// response text. Convenience wrapper for classification and synthesis
// calls that don't carry conversation history.
func Complete(ctx context.Context, p Provider, prompt string) (string, error) {
	resp, err := p.Chat(ctx, protocol.ChatRequest{
		Messages: []protocol.ChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Completer adapts a Provider to the single-prompt completion interface
// the conversation engine consumes.
type Completer struct {
	Provider Provider
}

func (c Completer) Complete(ctx context.Context, prompt string) (string, error) {
	return Complete(ctx, c.Provider, prompt)
}
