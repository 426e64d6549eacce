// Package provider is the registry of transcription and enrichment
// backends: display names, key sources and known models.
package provider

// ModelType represents the type of a model
type ModelType int

const (
	Transcription ModelType = iota
	LLM
)

// Model represents a selectable model
type Model struct {
	ID          string    // e.g., "nova-3", "gpt-4o-mini"
	Description string    // short description
	Type        ModelType // transcription or LLM
}

// Provider describes one backend.
type Provider struct {
	Name        string
	DisplayName string
	EnvKey      string // API key environment variable; empty if none
	KeyURL      string // where to create a key
	Endpoint    string // default endpoint; empty when the caller must supply one
	Models      []Model
	kinds       []ModelType
}

// RequiresAPIKey reports whether the provider authenticates with an API key.
func (p *Provider) RequiresAPIKey() bool { return p.EnvKey != "" && p.Name != Websocket }

// Supports reports whether the provider serves models of type t.
func (p *Provider) Supports(t ModelType) bool {
	for _, k := range p.kinds {
		if k == t {
			return true
		}
	}
	return false
}

// ModelsOfType returns the provider's models of type t.
func (p *Provider) ModelsOfType(t ModelType) []Model {
	var out []Model
	for _, m := range p.Models {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// DefaultModel is the first model of type t, or "" when there is none.
func (p *Provider) DefaultModel(t ModelType) string {
	if ms := p.ModelsOfType(t); len(ms) > 0 {
		return ms[0].ID
	}
	return ""
}

// registry is ordered; List returns names in this order.
var registry = []*Provider{
	{
		Name:        Websocket,
		DisplayName: "Generic websocket endpoint",
		EnvKey:      EnvWebsocketToken,
		kinds:       []ModelType{Transcription},
	},
	{
		Name:        Deepgram,
		DisplayName: "Deepgram",
		EnvKey:      EnvDeepgramKey,
		KeyURL:      "https://console.deepgram.com/",
		Endpoint:    "wss://api.deepgram.com/v1/listen",
		kinds:       []ModelType{Transcription},
		Models: []Model{
			{ID: "nova-3", Description: "Best accuracy, real-time, diarization", Type: Transcription},
			{ID: "nova-2", Description: "Fast, broad language coverage", Type: Transcription},
			{ID: "nova-2-phonecall", Description: "Tuned for low-bandwidth call audio", Type: Transcription},
		},
	},
	{
		Name:        Google,
		DisplayName: "Google Cloud Speech",
		KeyURL:      "https://console.cloud.google.com/apis/credentials",
		Endpoint:    "speech.googleapis.com:443",
		kinds:       []ModelType{Transcription},
		Models: []Model{
			{ID: "latest_long", Description: "Long-form audio", Type: Transcription},
			{ID: "phone_call", Description: "Telephony audio", Type: Transcription},
			{ID: "latest_short", Description: "Short utterances", Type: Transcription},
		},
	},
	{
		Name:        Simulated,
		DisplayName: "Simulated (offline, scripted)",
		kinds:       []ModelType{Transcription},
	},
	{
		Name:        OpenAI,
		DisplayName: "OpenAI",
		EnvKey:      EnvOpenAIKey,
		KeyURL:      "https://platform.openai.com/api-keys",
		Endpoint:    "https://api.openai.com/v1",
		kinds:       []ModelType{LLM},
		Models: []Model{
			{ID: "gpt-4o-mini", Description: "Fast and cheap, good enough for tagging", Type: LLM},
			{ID: "gpt-4o", Description: "Higher quality annotations", Type: LLM},
			{ID: "gpt-4.1-mini", Description: "Newer small model", Type: LLM},
		},
	},
	{
		Name:        Groq,
		DisplayName: "Groq",
		EnvKey:      EnvGroqKey,
		KeyURL:      "https://console.groq.com/keys",
		Endpoint:    "https://api.groq.com/openai/v1",
		kinds:       []ModelType{LLM},
		Models: []Model{
			{ID: "llama-3.3-70b-versatile", Description: "Strong general model", Type: LLM},
			{ID: "llama-3.1-8b-instant", Description: "Lowest latency", Type: LLM},
		},
	},
}

// Get returns a provider by name, or nil if not found
func Get(name string) *Provider {
	for _, p := range registry {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// List returns the names of providers serving models of type t.
func List(t ModelType) []string {
	var names []string
	for _, p := range registry {
		if p.Supports(t) {
			names = append(names, p.Name)
		}
	}
	return names
}

// DisplayName returns the provider's display name, or name itself.
func DisplayName(name string) string {
	if p := Get(name); p != nil {
		return p.DisplayName
	}
	return name
}
