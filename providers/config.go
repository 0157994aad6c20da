// Package providers holds the per-backend configuration structs, shared
// helpers, and the factory that turns a user-level Config into the matching
// llm.Provider.
package providers

import "time"

// Kind tags the selectable backends.
type Kind string

const (
	KindGemini Kind = "gemini"
	KindOpenAI Kind = "openai"
	KindOllama Kind = "ollama"
)

// Config is the provider selection produced from user settings. APIKey is
// required for the cloud backends and ignored by ollama; Endpoint is only
// meaningful for ollama.
type Config struct {
	Provider Kind          `json:"provider" yaml:"provider"`
	APIKey   string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model    string        `json:"model,omitempty" yaml:"model,omitempty"`
	Endpoint string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIConfig configures the OpenAI-compatible chat completions adapter.
type OpenAIConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OllamaConfig configures the local daemon adapter. No API key: the daemon
// is reached over plain localhost HTTP.
type OllamaConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}
