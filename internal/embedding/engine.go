// Package embedding turns text into vectors for the semantic half of
// recall. Three engines are supported: a local Ollama-style HTTP server,
// any OpenAI-compatible embeddings endpoint, and Google GenAI. The
// daemon wraps whichever engine config selects in a Client that absorbs
// provider failures, because a write must never fail on embedding.
package embedding

import (
	"context"
	"fmt"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name identifies the engine and model, e.g. "ollama:nomic-embed-text".
	Name() string
}

// NewEngine builds the engine the config names. Aliases from older
// config files ("ollama", "openai", "genai") map onto the canonical
// provider kinds.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	logging.Embedding("Creating embedding engine: provider=%s model=%s dims=%d", cfg.Provider, cfg.Model, cfg.Dimensions)

	switch cfg.Provider {
	case "local-http", "ollama":
		return NewOllamaEngine(cfg.BaseURL, cfg.Model, cfg.Dimensions), nil
	case "remote-openai-compatible", "openai":
		return NewOpenAIEngine(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions), nil
	case "gemini", "genai":
		return NewGeminiEngine(cfg.APIKey, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
