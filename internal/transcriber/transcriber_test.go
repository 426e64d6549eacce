package transcriber

import (
	"testing"
)

func TestNewTransport(t *testing.T) {
	tests := []struct {
		name     string
		config   ProviderConfig
		wantName string
		wantErr  bool
	}{
		{
			name:     "websocket with endpoint",
			config:   ProviderConfig{Provider: "websocket", Endpoint: "ws://localhost:9000/stream"},
			wantName: "websocket",
		},
		{
			name:    "websocket without endpoint",
			config:  ProviderConfig{Provider: "websocket"},
			wantErr: true,
		},
		{
			name:     "deepgram with key",
			config:   ProviderConfig{Provider: "deepgram", APIKey: "dg-key", Model: "nova-3"},
			wantName: "deepgram",
		},
		{
			name:    "deepgram without key",
			config:  ProviderConfig{Provider: "deepgram"},
			wantErr: true,
		},
		{
			name:     "google",
			config:   ProviderConfig{Provider: "google", CredentialsFile: "/tmp/creds.json"},
			wantName: "google",
		},
		{
			name:     "simulated",
			config:   ProviderConfig{Provider: "simulated"},
			wantName: "simulated",
		},
		{
			name:    "unknown provider",
			config:  ProviderConfig{Provider: "carrier-pigeon"},
			wantErr: true,
		},
	}

	t.Setenv("DEEPGRAM_API_KEY", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewTransport(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewTransport() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tr.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", tr.Name(), tt.wantName)
			}
		})
	}
}

func TestNewTransportReadsKeyFromEnv(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "from-env")
	tr, err := NewTransport(ProviderConfig{Provider: "deepgram"})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}
	if got := tr.(*DeepgramTransport).apiKey; got != "from-env" {
		t.Errorf("apiKey = %q, want from-env", got)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		want     bool
	}{
		{StateIdle, StateConnecting, true},
		{StateConnecting, StateOpen, true},
		{StateOpen, StateStreaming, true},
		{StateStreaming, StateReconnecting, true},
		{StateReconnecting, StateConnecting, true},
		{StateReconnecting, StateFailed, true},
		{StateFailed, StateConnecting, true},
		{StateStreaming, StateClosing, true},
		{StateFailed, StateClosing, true},
		{StateClosing, StateClosed, true},
		{StateIdle, StateStreaming, false},
		{StateStreaming, StateIdle, false},
		{StateClosed, StateClosing, false},
		{StateClosed, StateConnecting, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
