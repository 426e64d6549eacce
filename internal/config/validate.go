package config

import (
	"fmt"
	"slices"

	"github.com/gkirna/scribeflow/internal/language"
	"github.com/gkirna/scribeflow/internal/provider"
	"github.com/gkirna/scribeflow/internal/transcriber"
)

func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging.format: %s (must be json or console)", c.Logging.Format)
	}

	if c.Recording.SampleRate <= 0 {
		return fmt.Errorf("invalid recording.sample_rate: %d", c.Recording.SampleRate)
	}
	if c.Recording.Channels <= 0 {
		return fmt.Errorf("invalid recording.channels: %d", c.Recording.Channels)
	}
	if c.Recording.BufferSize <= 0 {
		return fmt.Errorf("invalid recording.buffer_size: %d", c.Recording.BufferSize)
	}
	if c.Recording.ChannelBufferSize <= 0 {
		return fmt.Errorf("invalid recording.channel_buffer_size: %d", c.Recording.ChannelBufferSize)
	}
	if c.Recording.Format == "" {
		return fmt.Errorf("invalid recording.format: empty")
	}

	if c.Buffer.Capacity <= 0 {
		return fmt.Errorf("invalid buffer.capacity: %v", c.Buffer.Capacity)
	}
	if c.Buffer.ContextWindow < 0 || c.Buffer.ContextWindow >= c.Buffer.Capacity {
		return fmt.Errorf("invalid buffer.context_window: %v (must be below buffer.capacity)", c.Buffer.ContextWindow)
	}
	if c.Buffer.MinProcess < 0 || c.Buffer.MinProcess > c.Buffer.Capacity {
		return fmt.Errorf("invalid buffer.min_process: %v (must not exceed buffer.capacity)", c.Buffer.MinProcess)
	}
	if c.Buffer.DrainInterval <= 0 {
		return fmt.Errorf("invalid buffer.drain_interval: %v", c.Buffer.DrainInterval)
	}

	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validatePersistence(); err != nil {
		return err
	}

	if c.Enrichment.Enabled {
		switch llms := provider.List(provider.LLM); {
		case c.Enrichment.Provider == "":
			return fmt.Errorf("enrichment.provider required when enrichment.enabled = true")
		case !slices.Contains(llms, c.Enrichment.Provider):
			return fmt.Errorf("invalid enrichment.provider: %s (must be one of %v)", c.Enrichment.Provider, llms)
		}
		if c.resolveAPIKey(c.Enrichment.Provider) == "" {
			return fmt.Errorf("%s API key required for enrichment: not found in config (providers.%s.api_key) or environment variable (%s)",
				c.Enrichment.Provider, c.Enrichment.Provider, provider.EnvVarForProvider(c.Enrichment.Provider))
		}
		if c.Enrichment.Timeout <= 0 {
			return fmt.Errorf("invalid enrichment.timeout: %v", c.Enrichment.Timeout)
		}
	}

	if k := c.Events.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("invalid events.kafka.brokers: empty (required when events.kafka.enabled = true)")
		}
		if k.TopicSegments == "" || k.TopicEvents == "" {
			return fmt.Errorf("invalid events.kafka topics: topic_segments and topic_events are required")
		}
	}

	validTypes := map[string]bool{"desktop": true, "log": true, "none": true}
	if !validTypes[c.Notifications.Type] {
		return fmt.Errorf("invalid notifications.type: %s (must be desktop, log, or none)", c.Notifications.Type)
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("invalid http.addr: empty (required when http.enabled = true)")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	t := c.Transcription
	if !slices.Contains(transcriber.Providers(), t.Provider) {
		return fmt.Errorf("unsupported transcription.provider: %s (must be one of %v)", t.Provider, transcriber.Providers())
	}
	switch t.Provider {
	case "websocket":
		if t.Endpoint == "" {
			return fmt.Errorf("invalid transcription.endpoint: empty (required for the websocket provider)")
		}
	case "deepgram":
		if c.resolveAPIKey("deepgram") == "" {
			return fmt.Errorf("Deepgram API key required: not found in config (providers.deepgram.api_key) or environment variable (DEEPGRAM_API_KEY)")
		}
	}
	if t.Language != "" && !language.Valid(t.Language) {
		return fmt.Errorf("invalid transcription.language: %s (use a BCP 47 tag like 'en-US', 'es', 'pt-BR')", t.Language)
	}
	if t.MaxSpeakers < 0 {
		return fmt.Errorf("invalid transcription.max_speakers: %d", t.MaxSpeakers)
	}
	if t.HandshakeTimeout <= 0 {
		return fmt.Errorf("invalid transcription.handshake_timeout: %v", t.HandshakeTimeout)
	}
	if t.MaxReconnectAttempts < 0 {
		return fmt.Errorf("invalid transcription.max_reconnect_attempts: %d", t.MaxReconnectAttempts)
	}
	if t.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("invalid transcription.reconnect_base_delay: %v", t.ReconnectBaseDelay)
	}
	return nil
}

func (c *Config) validatePersistence() error {
	p := c.Persistence
	switch p.Store {
	case "memory":
	case "mongo":
		if p.Mongo.URI == "" {
			return fmt.Errorf("invalid persistence.mongo.uri: empty")
		}
		if p.Mongo.Database == "" || p.Mongo.Collection == "" {
			return fmt.Errorf("invalid persistence.mongo: database and collection are required")
		}
	default:
		return fmt.Errorf("invalid persistence.store: %s (must be mongo or memory)", p.Store)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("invalid persistence.batch_size: %d", p.BatchSize)
	}
	if p.Debounce <= 0 {
		return fmt.Errorf("invalid persistence.debounce: %v", p.Debounce)
	}
	if p.MaxRetries < 1 {
		return fmt.Errorf("invalid persistence.max_retries: %d (must be at least 1)", p.MaxRetries)
	}
	if p.BaseBackoff <= 0 {
		return fmt.Errorf("invalid persistence.base_backoff: %v", p.BaseBackoff)
	}
	if p.FlushTimeout <= 0 {
		return fmt.Errorf("invalid persistence.flush_timeout: %v", p.FlushTimeout)
	}
	if p.StopTimeout <= 0 {
		return fmt.Errorf("invalid persistence.stop_timeout: %v", p.StopTimeout)
	}
	return nil
}

