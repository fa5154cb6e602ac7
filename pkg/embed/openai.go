package embed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI embeds text through any server speaking the OpenAI /embeddings API.
type OpenAI struct {
	baseURL string
	model   string
	apiKey  string
	opts    httpOptions
}

// NewOpenAI creates a client. An empty baseURL selects DefaultOpenAIBaseURL.
func NewOpenAI(baseURL, apiKey, model string, opts ...Option) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAI{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		opts:    buildOptions(opts),
	}
}

// Model returns the model name.
func (c *OpenAI) Model() string { return c.model }

type openAIEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResp struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding of text.
func (c *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request and orders the answer by index.
func (c *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var resp openAIEmbedResp
	err := postJSON(ctx, c.opts, "openai", c.baseURL+"/embeddings", header,
		openAIEmbedReq{Model: c.model, Input: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai: bad embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
