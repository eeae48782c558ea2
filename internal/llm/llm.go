// Package llm wraps the text-generation providers used for chat replies and
// suggestion analysis.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studentsupport/backend/internal/config"
)

// ErrDisabled is returned by the disabled generator.
var ErrDisabled = errors.New("text generation disabled")

// Generator produces text from a system prompt and a user prompt.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Disabled always fails; callers fall back to their static replies.
type Disabled struct{}

func (Disabled) Generate(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}

// GeneratorFunc adapts a function into a Generator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// New builds the generator selected by cfg. The returned close func releases
// provider clients.
func New(ctx context.Context, cfg config.AIConfig) (Generator, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		g, err := NewGeminiLLM(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nop, err
		}
		return g, g.Close, nil
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model), nop, nil
	case "", "none":
		return Disabled{}, nop, nil
	default:
		return nil, nop, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
