// Package llm abstracts the language-model backends used by LLM-backed
// decision makers.
package llm

import "context"

// Provider defines the interface for LLM backends. Decision making only
// needs single-turn completion: one system prompt, one user prompt.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request holds the completion parameters
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSONMode asks the backend to constrain output to a JSON object where
	// supported.
	JSONMode bool
}

// Response holds the completion output
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}
