// Package ollama talks to a local Ollama runtime for JSON-constrained
// generation and text embeddings.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gastos/internal/core"
)

const (
	DefaultBaseURL      = "http://localhost:11434"
	DefaultExtractModel = "llama3.2:1b"
	DefaultEmbedModel   = "nomic-embed-text"

	serviceName = "ollama"
)

var errEmptyEmbedding = errors.New("embedding response does not contain a valid vector")

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL      string
	ExtractModel string
	EmbedModel   string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client implements text generation and embedding against the Ollama HTTP API.
type Client struct {
	baseURL      string
	extractModel string
	embedModel   string
	http         *http.Client
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ExtractModel == "" {
		opts.ExtractModel = DefaultExtractModel
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = DefaultEmbedModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		extractModel: opts.ExtractModel,
		embedModel:   opts.EmbedModel,
		http:         hc,
	}
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a non-streaming, JSON-formatted, temperature 0 completion and
// returns the raw model text.
func (c *Client) Generate(ctx context.Context, prompt string, numPredict int) (string, error) {
	req := generateRequest{
		Model:   c.extractModel,
		Prompt:  prompt,
		Stream:  false,
		Format:  "json",
		Options: generateOptions{Temperature: 0, NumPredict: numPredict},
	}

	var resp generateResponse
	status, err := c.postJSON(ctx, "/api/generate", req, &resp)
	if err != nil {
		return "", &core.ServiceError{Service: serviceName, Op: "generate", Err: err}
	}
	if status != http.StatusOK {
		return "", &core.ServiceError{Service: serviceName, Op: "generate", StatusCode: status, Err: errors.New("unexpected status")}
	}
	return resp.Response, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type legacyEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type legacyEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// embedOutcome tells the caller whether the primary endpoint produced a
// vector or whether the legacy endpoint should be tried.
type embedOutcome int

const (
	embedFound embedOutcome = iota
	embedNotFound
)

// Embed returns the embedding of text. Runtimes that lack /api/embed (404) or
// return no vector from it are queried through /api/embeddings instead.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, outcome, err := c.embedPrimary(ctx, text)
	if err != nil {
		return nil, err
	}
	if outcome == embedFound {
		return vec, nil
	}
	return c.embedLegacy(ctx, text)
}

func (c *Client) embedPrimary(ctx context.Context, text string) ([]float32, embedOutcome, error) {
	var resp embedResponse
	status, err := c.postJSON(ctx, "/api/embed", embedRequest{Model: c.embedModel, Input: text}, &resp)
	if err != nil {
		return nil, embedNotFound, &core.ServiceError{Service: serviceName, Op: "embed", Err: err}
	}
	switch {
	case status == http.StatusNotFound:
		return nil, embedNotFound, nil
	case status != http.StatusOK:
		return nil, embedNotFound, &core.ServiceError{Service: serviceName, Op: "embed", StatusCode: status, Err: errors.New("unexpected status")}
	case len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0:
		return nil, embedNotFound, nil
	}
	return resp.Embeddings[0], embedFound, nil
}

func (c *Client) embedLegacy(ctx context.Context, text string) ([]float32, error) {
	var resp legacyEmbedResponse
	status, err := c.postJSON(ctx, "/api/embeddings", legacyEmbedRequest{Model: c.embedModel, Prompt: text}, &resp)
	if err != nil {
		return nil, &core.ServiceError{Service: serviceName, Op: "embed_legacy", Err: err}
	}
	if status != http.StatusOK {
		return nil, &core.ServiceError{Service: serviceName, Op: "embed_legacy", StatusCode: status, Err: errors.New("unexpected status")}
	}
	if len(resp.Embedding) == 0 {
		return nil, &core.ServiceError{Service: serviceName, Op: "embed_legacy", Err: errEmptyEmbedding}
	}
	return resp.Embedding, nil
}

// postJSON sends payload and decodes a 200 response into out. Non-200 statuses
// are returned without an error so callers can branch on them.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}
