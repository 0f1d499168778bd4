// internal/llm/factory/factory.go
package factory

import (
	"fmt"

	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/llm"
	"github.com/newthinker/tradesim/internal/llm/claude"
	"github.com/newthinker/tradesim/internal/llm/ollama"
	"github.com/newthinker/tradesim/internal/llm/openai"
)

// New creates an LLM provider based on configuration.
func New(cfg config.LLMConfig) (llm.Provider, error) {
	return newProvider(cfg.Provider, cfg)
}

// NewNamed creates a specific provider, used by the council maker to build
// each member independently of the default provider selection.
func NewNamed(name string, cfg config.LLMConfig) (llm.Provider, error) {
	return newProvider(name, cfg)
}

func newProvider(name string, cfg config.LLMConfig) (llm.Provider, error) {
	switch name {
	case "claude":
		return claude.New(cfg.Claude.APIKey, cfg.Claude.Model)
	case "openai":
		return openai.New(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	case "ollama":
		return ollama.New(cfg.Ollama.Endpoint, cfg.Ollama.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", name)
	}
}
