// Package labforge provides the top-level entry point: it turns a provider
// configuration into a ready llm.Provider and a workflow pipeline with
// minimal boilerplate.
//
// Usage:
//
//	import "github.com/labforge/labforge"
//
//	p, err := labforge.New(labforge.WithGemini("my-key", "gemini-2.5-flash"))
//	p, err := labforge.New(labforge.WithOllama("http://localhost:11434", "llama3.2"))
package labforge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/labforge/labforge/llm"
	"github.com/labforge/labforge/providers"
	"github.com/labforge/labforge/providers/gemini"
	"github.com/labforge/labforge/providers/ollama"
	"github.com/labforge/labforge/providers/openai"
)

// Option configures New.
type Option func(*options)

type options struct {
	cfg    providers.Config
	logger *zap.Logger
}

// WithGemini selects the Gemini backend.
func WithGemini(apiKey, model string) Option {
	return func(o *options) {
		o.cfg.Provider = providers.KindGemini
		o.cfg.APIKey = apiKey
		o.cfg.Model = model
	}
}

// WithOpenAI selects the OpenAI-compatible backend.
func WithOpenAI(apiKey, model string) Option {
	return func(o *options) {
		o.cfg.Provider = providers.KindOpenAI
		o.cfg.APIKey = apiKey
		o.cfg.Model = model
	}
}

// WithOllama selects the local daemon backend. An empty endpoint uses the
// daemon default.
func WithOllama(endpoint, model string) Option {
	return func(o *options) {
		o.cfg.Provider = providers.KindOllama
		o.cfg.Endpoint = endpoint
		o.cfg.Model = model
	}
}

// WithConfig selects the backend from a complete providers.Config.
func WithConfig(cfg providers.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New constructs the adapter matching the configured provider tag. An
// unrecognized tag is a programmer error and is reported as a plain error.
func New(opts ...Option) (llm.Provider, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	switch o.cfg.Provider {
	case providers.KindGemini:
		return gemini.New(providers.GeminiConfig{
			APIKey:  o.cfg.APIKey,
			BaseURL: o.cfg.Endpoint,
			Model:   o.cfg.Model,
			Timeout: o.cfg.Timeout,
		}, o.logger), nil
	case providers.KindOpenAI:
		return openai.New(providers.OpenAIConfig{
			APIKey:  o.cfg.APIKey,
			BaseURL: o.cfg.Endpoint,
			Model:   o.cfg.Model,
			Timeout: o.cfg.Timeout,
		}, o.logger), nil
	case providers.KindOllama:
		return ollama.New(providers.OllamaConfig{
			BaseURL: o.cfg.Endpoint,
			Model:   o.cfg.Model,
			Timeout: o.cfg.Timeout,
		}, o.logger), nil
	default:
		return nil, fmt.Errorf("labforge: unknown provider kind %q", o.cfg.Provider)
	}
}
