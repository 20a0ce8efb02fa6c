package extract

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider extracts through Google GenAI with a JSON response
// MIME type so the model cannot wander off the schema.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider builds the gemini extraction provider.
func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini extraction provider requires an API key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Extract asks the model for the Extraction JSON shape.
func (p *GeminiProvider) Extract(ctx context.Context, content string) (*Extraction, error) {
	result, err := p.client.Models.GenerateContent(ctx, p.model,
		genai.Text(extractionPrompt+content),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return nil, fmt.Errorf("gemini extraction failed: %w", err)
	}
	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned no text")
	}
	return parseExtraction(text)
}

// Name identifies the provider and model.
func (p *GeminiProvider) Name() string { return fmt.Sprintf("gemini:%s", p.model) }
