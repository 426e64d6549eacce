package config

import (
	"reflect"
	"time"

	"github.com/gkirna/scribeflow/internal/notify"
)

type Config struct {
	Logging       LoggingConfig             `toml:"logging"`
	Recording     RecordingConfig           `toml:"recording"`
	Buffer        BufferConfig              `toml:"buffer"`
	Transcription TranscriptionConfig       `toml:"transcription"`
	Persistence   PersistenceConfig         `toml:"persistence"`
	Enrichment    EnrichmentConfig          `toml:"enrichment"`
	Events        EventsConfig              `toml:"events"`
	Notifications NotificationsConfig       `toml:"notifications"`
	HTTP          HTTPConfig                `toml:"http"`
	Providers     map[string]ProviderConfig `toml:"providers"`
	Keywords      []string                  `toml:"keywords"`
}

// ProviderConfig holds API key for a provider
type ProviderConfig struct {
	APIKey string `toml:"api_key"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`  // debug, info, warn, error
	Format     string `toml:"format"` // json, console
	TimeFormat string `toml:"time_format"`
}

type RecordingConfig struct {
	SampleRate        int    `toml:"sample_rate"`
	Channels          int    `toml:"channels"`
	Format            string `toml:"format"`
	BufferSize        int    `toml:"buffer_size"`
	Device            string `toml:"device"`
	ChannelBufferSize int    `toml:"channel_buffer_size"`
}

// BufferConfig sizes the audio buffer between capture and the provider.
type BufferConfig struct {
	Capacity      time.Duration `toml:"capacity"`
	ContextWindow time.Duration `toml:"context_window"`
	MinProcess    time.Duration `toml:"min_process"`
	DrainInterval time.Duration `toml:"drain_interval"`
}

type TranscriptionConfig struct {
	Provider             string        `toml:"provider"` // websocket, deepgram, google, simulated
	Endpoint             string        `toml:"endpoint"`
	Language             string        `toml:"language"`
	Model                string        `toml:"model"`
	Diarize              bool          `toml:"diarize"`
	MaxSpeakers          int           `toml:"max_speakers"`
	CredentialsFile      string        `toml:"credentials_file"`
	HandshakeTimeout     time.Duration `toml:"handshake_timeout"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `toml:"reconnect_base_delay"`
}

type PersistenceConfig struct {
	Store        string        `toml:"store"` // mongo, memory
	BatchSize    int           `toml:"batch_size"`
	Debounce     time.Duration `toml:"debounce"`
	MaxRetries   int           `toml:"max_retries"`
	BaseBackoff  time.Duration `toml:"base_backoff"`
	FlushTimeout time.Duration `toml:"flush_timeout"`
	StopTimeout  time.Duration `toml:"stop_timeout"`
	CachePath    string        `toml:"cache_path"` // empty keeps the fallback cache in memory
	OutputDir    string        `toml:"output_dir"`
	Mongo        MongoConfig   `toml:"mongo"`
}

type MongoConfig struct {
	URI               string        `toml:"uri"`
	Database          string        `toml:"database"`
	Collection        string        `toml:"collection"`
	RequireCollection bool          `toml:"require_collection"`
	ConnectTimeout    time.Duration `toml:"connect_timeout"`
}

// EnrichmentConfig configures the optional annotation pass run at stop
type EnrichmentConfig struct {
	Enabled      bool          `toml:"enabled"`
	Provider     string        `toml:"provider"` // openai, groq
	Model        string        `toml:"model"`
	Domain       string        `toml:"domain"`
	CustomPrompt string        `toml:"custom_prompt"`
	Timeout      time.Duration `toml:"timeout"`
}

type EventsConfig struct {
	Kafka KafkaConfig `toml:"kafka"`
}

type KafkaConfig struct {
	Enabled       bool     `toml:"enabled"`
	Brokers       []string `toml:"brokers"`
	TopicSegments string   `toml:"topic_segments"`
	TopicEvents   string   `toml:"topic_events"`
	ClientID      string   `toml:"client_id"`
	Previews      bool     `toml:"previews"`
}

type NotificationsConfig struct {
	Enabled  bool           `toml:"enabled"`
	Type     string         `toml:"type"` // "desktop", "log", "none"
	Warnings bool           `toml:"warnings"`
	Messages MessagesConfig `toml:"messages"`
}

type MessageConfig struct {
	Title string `toml:"title,omitempty"`
	Body  string `toml:"body,omitempty"`
}

// MessagesConfig overrides notification texts. Each toml key is the
// notify.MessageType it overrides.
type MessagesConfig struct {
	SessionStarted MessageConfig `toml:"session_started"`
	SessionPaused  MessageConfig `toml:"session_paused"`
	SessionStopped MessageConfig `toml:"session_stopped"`
	Warning        MessageConfig `toml:"warning"`
	ActionNeeded   MessageConfig `toml:"action_needed"`
}

// Resolve returns the overrides that are set, keyed by message type.
func (m *MessagesConfig) Resolve() map[notify.MessageType]notify.Message {
	result := make(map[notify.MessageType]notify.Message)

	v := reflect.ValueOf(m).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		msg := v.Field(i).Interface().(MessageConfig)
		if msg.Title == "" && msg.Body == "" {
			continue
		}
		result[notify.MessageType(t.Field(i).Tag.Get("toml"))] = notify.Message{Title: msg.Title, Body: msg.Body}
	}
	return result
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}
