package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider extracts through a local Ollama-style /api/chat
// endpoint with JSON response formatting.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaProvider builds the local-http extraction provider.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen3:4b"
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		// Per-call deadlines come from the worker context; this is the
		// hard upper bound.
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Format   string              `json:"format,omitempty"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

// Extract asks the model for the Extraction JSON shape.
func (p *OllamaProvider) Extract(ctx context.Context, content string) (*Extraction, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    p.model,
		Messages: []ollamaChatMessage{{Role: "user", Content: extractionPrompt + content}},
		Format:   "json",
		Stream:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama chat returned status %d: %s", resp.StatusCode, string(raw))
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return parseExtraction(chat.Message.Content)
}

// Name identifies the provider and model.
func (p *OllamaProvider) Name() string { return fmt.Sprintf("ollama:%s", p.model) }
