// Package ollamaclient implements the embedding.Client and
// generation.Client capability contracts over an Ollama-compatible
// HTTP API (/api/embeddings, /api/generate), grounded on
// original_source/rag_service/services/ollama_rag_service.go's
// OllamaEmbeddingService and intent_classifier_service.py's
// /api/generate call (JSON payload, options.temperature/top_p,
// stream=false, response in the "response"/"embedding" field).
package ollamaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/normex/ragbox-normex/internal/generation"
)

// Client talks to one Ollama-compatible server for both embeddings and
// text generation.
type Client struct {
	baseURL        string
	embeddingModel string
	generateModel  string
	http           *http.Client
}

// New constructs a Client. baseURL has no trailing slash assumed.
func New(baseURL, embeddingModel, generateModel string) *Client {
	return &Client{
		baseURL:        baseURL,
		embeddingModel: embeddingModel,
		generateModel:  generateModel,
		http:           &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Options map[string]interface{} `json:"options"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedTexts satisfies embedding.Client. Ollama's embeddings endpoint
// is single-text per call, so texts are embedded sequentially.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollamaclient.EmbedTexts: text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	reqBody := embedRequest{
		Model:   c.embeddingModel,
		Prompt:  text,
		Options: map[string]interface{}{"embedding_only": true},
	}
	var resp embedResponse
	if err := c.post(ctx, "/api/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Embedding, nil
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate satisfies generation.Client.
func (c *Client) Generate(ctx context.Context, prompt string, opts generation.Options) (string, error) {
	reqBody := generateRequest{
		Model:  c.generateModel,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxTokens,
			Stop:        opts.Stop,
		},
	}
	var resp generateResponse
	if err := c.post(ctx, "/api/generate", reqBody, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
