// Package llm derives speaker roles, entities and overall tone from a
// finished transcript using an OpenAI-compatible chat model.
package llm

import (
	"context"
	"fmt"

	"github.com/gkirna/scribeflow/internal/transcript"
)

// Enricher annotates a finalized, ordered segment list.
type Enricher interface {
	Enrich(ctx context.Context, segments []transcript.Segment) (*transcript.Annotations, error)
}

// Config holds enrichment adapter configuration
type Config struct {
	Provider     string
	APIKey       string
	Model        string
	BaseURL      string
	Domain       string
	CustomPrompt string
	Keywords     []string
}

// EnrichmentError wraps any failure of the enrichment stage. Callers log it
// and fall back to unknown annotations.
type EnrichmentError struct {
	Provider string
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment via %s failed: %v", e.Provider, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// NewEnricher creates an enricher based on the provider
func NewEnricher(cfg Config) (Enricher, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		return NewOpenAIEnricher(cfg), nil
	case "groq":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Groq API key required")
		}
		return NewGroqEnricher(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
