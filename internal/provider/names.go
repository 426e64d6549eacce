package provider

// Provider name constants for config and registry
const (
	Websocket = "websocket"
	Deepgram  = "deepgram"
	Google    = "google"
	Simulated = "simulated"
	OpenAI    = "openai"
	Groq      = "groq"
)

// Environment variable names for API keys
const (
	EnvWebsocketToken = "SCRIBEFLOW_WS_TOKEN"
	EnvDeepgramKey    = "DEEPGRAM_API_KEY"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvGroqKey        = "GROQ_API_KEY"
)

// EnvVarForProvider returns the environment variable name for a provider's
// API key, or "" when the provider takes none.
func EnvVarForProvider(name string) string {
	if p := Get(name); p != nil {
		return p.EnvKey
	}
	return ""
}
