// Package embeddings calls the external embeddings endpoint: a plain HTTP
// POST with a fixed JSON contract, one vector back per input text in order.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrMismatch means the endpoint returned a different number of vectors
// than texts were requested. The indexer stops the current pass at the
// last successful batch when this happens.
var ErrMismatch = errors.New("embeddings: vector count does not match input count")

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedDatum struct {
	Embedding []float32 `json:"embedding"`
}

type embedResponse struct {
	Data []embedDatum `json:"data"`
}

// Embed sends texts as one batch and returns one vector per text, in
// order. It returns ErrMismatch if the endpoint's vector count disagrees
// with len(texts).
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed request: status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(parsed.Data) != len(texts) {
		return nil, ErrMismatch
	}

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
