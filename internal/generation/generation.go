// Package generation wraps the external Generate(prompt, opts) LLM
// capability shared by the reranker, intent classifier, and context
// builder. Grounded on internal/service/generator.go's
// GenAIClient interface, narrowed from a persona-layered chat assistant
// down to a single-shot completion contract.
package generation

import "context"

// Options configures one Generate call. Deterministic
// mode uses Temperature=0.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stop        []string
}

// Client abstracts the external LLM completion capability.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Deterministic returns the Options used by every capability in this
// module that needs reproducible scoring/classification output.
func Deterministic(maxTokens int) Options {
	return Options{Temperature: 0, MaxTokens: maxTokens, TopP: 1}
}
