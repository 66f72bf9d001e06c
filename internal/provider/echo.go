package provider

import (
	"context"
	"fmt"
	"strings"
)

// FromConfig resolves a backend by its configured name. The empty name
// selects the built-in echo backend so the process runs without a model.
func FromConfig(name string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "echo":
		return Echo(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// Echo is the development backend: it mirrors the prompt back, which lets
// the whole admission path (batching, queueing, guards, stagger) run end
// to end with no external dependency.
func Echo() Generator {
	return GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if req.SenderName != "" {
			return req.SenderName + ": " + req.Prompt, nil
		}
		return req.Prompt, nil
	})
}
