package embed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Ollama embeds text with a local Ollama server.
type Ollama struct {
	baseURL string
	model   string
	opts    httpOptions
}

// NewOllama creates a client for the server at baseURL using model.
func NewOllama(baseURL, model string, opts ...Option) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		opts:    buildOptions(opts),
	}
}

// Model returns the model name.
func (c *Ollama) Model() string { return c.model }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding of text.
func (c *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResp
	err := postJSON(ctx, c.opts, "ollama", c.baseURL+"/api/embeddings", http.Header{},
		ollamaEmbedReq{Model: c.model, Prompt: text}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding for model %q", c.model)
	}
	out := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds texts one request at a time; the endpoint takes a single prompt.
func (c *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama: batch item %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}
