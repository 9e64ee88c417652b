// Package embedding implements the Embedder contract: turn text into a
// fixed-dimension vector, normalizing and padding the provider's raw output
// to the configured dimension.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/MycelicMemory/htm/internal/errs"
	"github.com/MycelicMemory/htm/internal/logging"
	"github.com/MycelicMemory/htm/pkg/config"
)

var log = logging.GetLogger("embedding")

// maxDimension is the hard cap shared with internal/store's vector column.
const maxDimension = 2000

// Client is a thin HTTP-backed Embedder for providers exposing an
// Ollama-style "/api/embeddings" endpoint. Provider internals are a
// swappable collaborator; this is the reference implementation.
type Client struct {
	baseURL    string
	model      string
	dimension  int
	normalize  bool
	httpClient *http.Client
}

// NewClient builds a Client from cfg. baseURL defaults to the local Ollama
// port if empty, matching the provider this reference implementation talks to.
func NewClient(baseURL string, cfg config.EmbeddingConfig) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		baseURL:   baseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		normalize: cfg.Distance == "cosine",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements the Embedder contract used by internal/enrich and
// internal/retrieval: it calls the provider, then normalizes and pads (or
// rejects an oversized) result to the configured embedding dimension.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, errs.Internal("marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Internal("build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.ServiceUnavailable("embedding request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return nil, errs.ServiceUnavailable("embedding provider returned %d: %s", resp.StatusCode, string(raw))
		}
		return nil, errs.Validation("embedding provider returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.Internal("decode embedding response", err)
	}

	return c.shape(parsed.Embedding)
}

// shape converts the provider's raw vector to float32, L2-normalizes it
// when the configured distance is cosine, and pads or rejects it against
// the configured dimension.
func (c *Client) shape(raw []float64) ([]float32, error) {
	d := len(raw)
	if d == 0 {
		return nil, errs.Validation("embedding provider returned an empty vector")
	}
	if d > c.dimension && c.dimension > 0 {
		return nil, errs.Validation("embedding dimension %d exceeds configured dimension %d", d, c.dimension)
	}
	if d > maxDimension {
		return nil, errs.Validation("embedding dimension %d exceeds maximum of %d", d, maxDimension)
	}

	out := make([]float32, c.dimension)
	for i, v := range raw {
		out[i] = float32(v)
	}
	if d < c.dimension {
		log.Debug("padding short embedding", "got", d, "want", c.dimension)
	}

	if c.normalize {
		normalize(out)
	}
	return out, nil
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
