package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiEngine generates embeddings through Google GenAI.
type GeminiEngine struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiEngine builds the gemini engine. The API key is required; the
// config loader fills it from GEMINI_API_KEY when the file leaves it out.
func NewGeminiEngine(apiKey, model string, dims int) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embedding provider requires an API key")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dims <= 0 {
		dims = 768
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiEngine{client: client, model: model, dims: dims}, nil
}

// Embed generates an embedding for a single text.
func (e *GeminiEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request; GenAI batches natively.
func (e *GeminiEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"})
	if err != nil {
		return nil, fmt.Errorf("gemini embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns the configured vector width.
func (e *GeminiEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *GeminiEngine) Name() string { return fmt.Sprintf("gemini:%s", e.model) }
