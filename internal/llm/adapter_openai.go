package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/provider"
	"github.com/gkirna/scribeflow/internal/transcript"
)

// ChatEnricher implements Enricher using the chat completions API. It serves
// both OpenAI and OpenAI-compatible providers.
type ChatEnricher struct {
	client   *openai.Client
	config   Config
	provider string
	log      zerolog.Logger
}

// NewOpenAIEnricher creates a new OpenAI enricher
func NewOpenAIEnricher(cfg Config) *ChatEnricher {
	if cfg.Model == "" {
		cfg.Model = provider.Get(provider.OpenAI).DefaultModel(provider.LLM)
	}
	return newChatEnricher(provider.OpenAI, cfg)
}

func newChatEnricher(provider string, cfg Config) *ChatEnricher {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &ChatEnricher{
		client:   openai.NewClientWithConfig(clientConfig),
		config:   cfg,
		provider: provider,
		log:      logging.WithComponent("llm").With().Str("provider", provider).Logger(),
	}
}

type wireAnnotations struct {
	Speakers  map[string]transcript.SpeakerAnnotation `json:"speakers"`
	Entities  []transcript.Entity                     `json:"entities"`
	Sentiment string                                  `json:"sentiment"`
	Urgency   string                                  `json:"urgency"`
}

func (a *ChatEnricher) Enrich(ctx context.Context, segments []transcript.Segment) (*transcript.Annotations, error) {
	if len(segments) == 0 {
		return &transcript.Annotations{}, nil
	}

	req := openai.ChatCompletionRequest{
		Model: a.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: BuildSystemPrompt(a.config.Domain, a.config.Keywords)},
			{Role: openai.ChatMessageRoleUser, Content: BuildUserPrompt(segments, a.config.CustomPrompt)},
		},
		Temperature:    0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		a.log.Warn().Err(err).Dur("duration", duration).Msg("chat completion failed")
		return nil, &EnrichmentError{Provider: a.provider, Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &EnrichmentError{Provider: a.provider, Err: errors.New("chat completion: no response choices")}
	}

	ann, err := parseAnnotations(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, &EnrichmentError{Provider: a.provider, Err: err}
	}
	a.log.Debug().Dur("duration", duration).Int("segments", len(segments)).
		Int("entities", len(ann.Entities)).Msg("transcript enriched")
	return ann, nil
}

// parseAnnotations accepts the model's JSON, tolerating a markdown fence
// around it. Speaker keys may be "0", "1" or "speaker_0".
func parseAnnotations(content string) (*transcript.Annotations, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var w wireAnnotations
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &w); err != nil {
		return nil, fmt.Errorf("decode annotations: %w", err)
	}

	ann := &transcript.Annotations{
		Speakers:  make(map[int]transcript.SpeakerAnnotation, len(w.Speakers)),
		Sentiment: w.Sentiment,
		Urgency:   w.Urgency,
	}
	for key, v := range w.Speakers {
		key = strings.TrimPrefix(strings.ToLower(key), "speaker")
		key = strings.Trim(key, "_ ")
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		ann.Speakers[id] = v
	}
	for _, e := range w.Entities {
		if strings.TrimSpace(e.Text) != "" {
			ann.Entities = append(ann.Entities, e)
		}
	}
	return ann, nil
}
