package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. Local
// sentence-transformer servers (llama.cpp, text-embeddings-inference,
// LocalAI) speak the same protocol, so BaseURL usually points at one of
// those serving the configured model.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

// OpenAIConfig configures the remote embedder.
type OpenAIConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Dimension int
}

// NewOpenAIEmbedder creates the remote embedder. The API key is read
// from the configured environment variable; local servers commonly
// accept any non-empty key.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding: invalid dimension %d", cfg.Dimension)
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		key = "unused"
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		dim:    cfg.Dimension,
	}, nil
}

// Dimension returns the configured vector dimension.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// Embed requests one embedding and normalizes it to unit length.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("embedding: empty text")
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding: no vector returned")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, fmt.Errorf("embedding: model returned dimension %d, want %d", len(vec), e.dim)
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	l2normalize(out)
	return out, nil
}

// l2normalize scales v to unit length in place.
func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
