package llm

import "github.com/gkirna/scribeflow/internal/provider"

// NewGroqEnricher creates an enricher against Groq's OpenAI-compatible API
func NewGroqEnricher(cfg Config) *ChatEnricher {
	groq := provider.Get(provider.Groq)
	if cfg.BaseURL == "" {
		cfg.BaseURL = groq.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = groq.DefaultModel(provider.LLM)
	}
	return newChatEnricher(provider.Groq, cfg)
}
