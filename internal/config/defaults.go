package config

import "time"

// DefaultConfig returns a configuration that runs offline: simulated
// provider, in-memory store and in-memory fallback cache.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Recording: RecordingConfig{
			SampleRate:        16000,
			Channels:          1,
			Format:            "s16",
			BufferSize:        8192,
			Device:            "",
			ChannelBufferSize: 30,
		},
		Buffer: BufferConfig{
			Capacity:      30 * time.Second,
			ContextWindow: 5 * time.Second,
			MinProcess:    time.Second,
			DrainInterval: 250 * time.Millisecond,
		},
		Transcription: TranscriptionConfig{
			Provider:             "simulated",
			Language:             "en-US",
			Diarize:              true,
			MaxSpeakers:          6,
			HandshakeTimeout:     12 * time.Second,
			MaxReconnectAttempts: 3,
			ReconnectBaseDelay:   500 * time.Millisecond,
		},
		Persistence: PersistenceConfig{
			Store:        "memory",
			BatchSize:    5,
			Debounce:     2 * time.Second,
			MaxRetries:   3,
			BaseBackoff:  250 * time.Millisecond,
			FlushTimeout: 8 * time.Second,
			StopTimeout:  30 * time.Second,
			Mongo: MongoConfig{
				URI:            "mongodb://localhost:27017",
				Database:       "scribeflow",
				Collection:     "transcript_chunks",
				ConnectTimeout: 10 * time.Second,
			},
		},
		Enrichment: EnrichmentConfig{
			Enabled: false,
			Timeout: 20 * time.Second,
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Enabled:       false,
				TopicSegments: "scribeflow.segments",
				TopicEvents:   "scribeflow.events",
				ClientID:      "scribeflow",
			},
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Type:    "desktop",
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8790",
		},
		Providers: make(map[string]ProviderConfig),
	}
}
