package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mirix-ai/mirix"
)

// Embedding implements mirix.EmbeddingProvider against the Gemini
// embedContent API.
type Embedding struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

// NewEmbedding creates a Gemini embedding provider. dims must not exceed
// mirix.MaxEmbeddingDim; vectors are zero-padded to that width at storage.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
}

// Name returns "gemini".
func (e *Embedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed embeds each text sequentially and returns the embedding vectors.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", baseURL, e.model, e.apiKey)

	embeddings := make([][]float32, 0, len(texts))

	for _, text := range texts {
		body := map[string]any{
			"content": map[string]any{
				"parts": []map[string]any{
					{"text": text},
				},
			},
			"outputDimensionality": e.dims,
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, e.wrapErr("marshal embed body: " + err.Error())
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
		if err != nil {
			return nil, e.wrapErr("create embed request: " + err.Error())
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return nil, e.wrapErr("embed request failed: " + err.Error())
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, e.wrapErr("read embed response: " + err.Error())
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, e.wrapErr(httpErrMessage(resp, string(respBody)))
		}

		var parsed embedResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, e.wrapErr("parse embed response: " + err.Error())
		}

		if parsed.Embedding == nil {
			return nil, e.wrapErr("missing embedding.values in response")
		}

		vec := make([]float32, len(parsed.Embedding.Values))
		for i, v := range parsed.Embedding.Values {
			vec[i] = float32(v)
		}
		embeddings = append(embeddings, vec)
	}

	return embeddings, nil
}

func (e *Embedding) wrapErr(msg string) error {
	return &mirix.LLMError{AgentID: "embedding", Message: msg}
}

type embedResponse struct {
	Embedding *embedValues `json:"embedding"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

var _ mirix.EmbeddingProvider = (*Embedding)(nil)
