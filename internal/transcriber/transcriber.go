package transcriber

import (
	"fmt"
	"os"

	"github.com/gkirna/scribeflow/internal/provider"
)

// ProviderConfig selects and configures a Transport.
type ProviderConfig struct {
	Provider        string // websocket, deepgram, google, simulated
	Endpoint        string
	APIKey          string
	Model           string
	Keywords        []string
	CredentialsFile string
	MaxSpeakers     int
}

// NewTransport builds the transport named by cfg.Provider. A missing API key
// is read from the provider's environment variable.
func NewTransport(cfg ProviderConfig) (Transport, error) {
	if cfg.APIKey == "" {
		if env := provider.EnvVarForProvider(cfg.Provider); env != "" {
			cfg.APIKey = os.Getenv(env)
		}
	}

	switch cfg.Provider {
	case provider.Websocket:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("websocket provider requires an endpoint")
		}
		return NewWebsocketTransport(cfg.Endpoint, cfg.APIKey), nil

	case provider.Deepgram:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Deepgram API key required")
		}
		return NewDeepgramTransport(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Keywords), nil

	case provider.Google:
		return NewGoogleTransport(GoogleConfig{
			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
			Model:           cfg.Model,
			MaxSpeakers:     cfg.MaxSpeakers,
		}), nil

	case provider.Simulated:
		return NewSimulatedTransport(nil), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// Providers lists the names NewTransport accepts.
func Providers() []string {
	return provider.List(provider.Transcription)
}
