// Package provider is the text-generation boundary. The flow core treats
// the backend as a black box: one blocking call in, one string out.
package provider

import "context"

// Request carries everything a backend needs for one completion.
type Request struct {
	// Agent is the persona asking; Persona is its system prompt.
	Agent   string
	Persona string

	Conversation string
	// Prompt is the combined user payload (batched lines joined).
	Prompt string
	// SenderName is the display name of whoever triggered the request.
	SenderName string
}

// Generator produces one response for a request. Implementations must
// honor ctx cancellation; the caller owns the timeout.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
