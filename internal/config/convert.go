package config

import (
	"os"

	"github.com/gkirna/scribeflow/internal/audio"
	"github.com/gkirna/scribeflow/internal/events"
	"github.com/gkirna/scribeflow/internal/llm"
	"github.com/gkirna/scribeflow/internal/logging"
	"github.com/gkirna/scribeflow/internal/persist"
	"github.com/gkirna/scribeflow/internal/pipeline"
	"github.com/gkirna/scribeflow/internal/provider"
	"github.com/gkirna/scribeflow/internal/recording"
	"github.com/gkirna/scribeflow/internal/transcriber"
)

// resolveAPIKey returns the key from [providers.<name>] or the provider's
// environment variable.
func (c *Config) resolveAPIKey(name string) string {
	if c.Providers != nil {
		if pc, ok := c.Providers[name]; ok && pc.APIKey != "" {
			return pc.APIKey
		}
	}
	if env := provider.EnvVarForProvider(name); env != "" {
		return os.Getenv(env)
	}
	return ""
}

func (c *Config) ToLoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		TimeFormat: c.Logging.TimeFormat,
	}
}

func (c *Config) ToRecordingConfig() recording.Config {
	return recording.Config{
		SampleRate:        c.Recording.SampleRate,
		Channels:          c.Recording.Channels,
		Format:            c.Recording.Format,
		BufferSize:        c.Recording.BufferSize,
		Device:            c.Recording.Device,
		ChannelBufferSize: c.Recording.ChannelBufferSize,
	}
}

func (c *Config) ToBufferConfig() audio.Config {
	return audio.ConfigFor(c.Recording.SampleRate, c.Buffer.Capacity, c.Buffer.ContextWindow, c.Buffer.MinProcess)
}

func (c *Config) ToProviderConfig() transcriber.ProviderConfig {
	t := c.Transcription
	return transcriber.ProviderConfig{
		Provider:        t.Provider,
		Endpoint:        t.Endpoint,
		APIKey:          c.resolveAPIKey(t.Provider),
		Model:           t.Model,
		Keywords:        c.Keywords,
		CredentialsFile: t.CredentialsFile,
		MaxSpeakers:     t.MaxSpeakers,
	}
}

func (c *Config) ToClientConfig() transcriber.Config {
	t := c.Transcription
	cfg := transcriber.DefaultConfig()
	cfg.Session = transcriber.SessionConfig{
		SampleRate: c.Recording.SampleRate,
		Encoding:   "linear16",
		Language:   t.Language,
		Diarize:    t.Diarize,
		Keywords:   c.Keywords,
	}
	cfg.HandshakeTimeout = t.HandshakeTimeout
	cfg.MaxReconnectAttempts = t.MaxReconnectAttempts
	cfg.BaseDelay = t.ReconnectBaseDelay
	return cfg
}

func (c *Config) ToQueueConfig() persist.Config {
	p := c.Persistence
	return persist.Config{
		BatchSize:    p.BatchSize,
		Debounce:     p.Debounce,
		MaxRetries:   p.MaxRetries,
		BaseBackoff:  p.BaseBackoff,
		FlushTimeout: p.FlushTimeout,
	}
}

func (c *Config) ToMongoConfig() persist.MongoConfig {
	m := c.Persistence.Mongo
	return persist.MongoConfig{
		URI:               m.URI,
		Database:          m.Database,
		Collection:        m.Collection,
		RequireCollection: m.RequireCollection,
		ConnectTimeout:    m.ConnectTimeout,
	}
}

func (c *Config) ToKafkaConfig() *events.KafkaConfig {
	k := c.Events.Kafka
	return &events.KafkaConfig{
		Enabled:       k.Enabled,
		Brokers:       k.Brokers,
		TopicSegments: k.TopicSegments,
		TopicEvents:   k.TopicEvents,
		ClientID:      k.ClientID,
		Previews:      k.Previews,
	}
}

// IsEnrichmentEnabled returns true if enrichment is enabled and configured
func (c *Config) IsEnrichmentEnabled() bool {
	return c.Enrichment.Enabled && c.Enrichment.Provider != ""
}

func (c *Config) ToLLMConfig() llm.Config {
	e := c.Enrichment
	return llm.Config{
		Provider:     e.Provider,
		APIKey:       c.resolveAPIKey(e.Provider),
		Model:        e.Model,
		Domain:       e.Domain,
		CustomPrompt: e.CustomPrompt,
		Keywords:     c.Keywords,
	}
}

func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Buffer = c.ToBufferConfig()
	cfg.DrainInterval = c.Buffer.DrainInterval
	cfg.Client = c.ToClientConfig()
	cfg.Queue = c.ToQueueConfig()
	cfg.StopTimeout = c.Persistence.StopTimeout
	if c.Enrichment.Timeout > 0 {
		cfg.EnrichTimeout = c.Enrichment.Timeout
	}
	return cfg
}
