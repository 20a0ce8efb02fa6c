// Package extract runs the asynchronous extraction pipeline: a lease
// worker drains the job queue, asks an LLM provider to pull structured
// facts and entities out of raw memory content, and applies the results
// through the store's transaction closures as the pipeline actor.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/signetai/signet/internal/config"
	"github.com/signetai/signet/internal/types"
)

// Relation is an optional proposal that a fact supersedes an existing
// memory instead of standing alone.
type Relation struct {
	Kind     types.DecisionKind `json:"kind"` // update, delete, merge
	TargetID string             `json:"target_id"`
}

// Fact is one extracted statement with the model's confidence in it.
type Fact struct {
	Content    string    `json:"content"`
	Type       string    `json:"type,omitempty"`
	Confidence float64   `json:"confidence"`
	Entities   []string  `json:"entities,omitempty"`
	Relation   *Relation `json:"relation,omitempty"`
}

// Extraction is the structured response expected from a provider.
type Extraction struct {
	Facts    []Fact   `json:"facts"`
	Entities []string `json:"entities,omitempty"`
}

// Provider asks an LLM to extract facts from memory content.
type Provider interface {
	Extract(ctx context.Context, content string) (*Extraction, error)
	Name() string
}

// NewProvider builds the provider the extraction config names.
func NewProvider(cfg config.ExtractionConfig) (Provider, error) {
	switch cfg.Provider {
	case "local-http", "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model), nil
	case "remote-openai-compatible", "openai":
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "gemini", "genai":
		return NewGeminiProvider(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", cfg.Provider)
	}
}

// extractionPrompt instructs the model to emit the Extraction JSON
// shape. Every provider sends the same prompt; only transport differs.
const extractionPrompt = `You extract durable facts from notes stored by an AI coding agent.

Given the note below, respond with JSON only, in this exact shape:
{
  "facts": [
    {
      "content": "one self-contained factual statement",
      "type": "fact|preference|decision|rationale|issue|rule|learning",
      "confidence": 0.0,
      "entities": ["named things the fact is about"]
    }
  ],
  "entities": ["named things the note is about"]
}

Rules:
- Extract at most 5 facts; skip chit-chat and transient state.
- confidence is your belief the fact is durable and correctly stated.
- entities are short lowercase names (tools, projects, people, files).
- Respond with the JSON object and nothing else.

Note:
`

// parseExtraction decodes a model response, tolerating markdown fences
// and leading prose around the JSON object.
func parseExtraction(raw string) (*Extraction, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty extraction response")
	}

	// Cut to the outermost object; models love to wrap JSON in fences.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in extraction response")
	}

	var out Extraction
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	return &out, nil
}
