package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mirix-ai/mirix"
)

const transcribePrompt = "Transcribe the spoken content of the audio segments " +
	"verbatim, in order. Return only the transcript text with no commentary. " +
	"If no speech is present, return an empty response."

// Transcriber implements mirix.Transcriber by sending captured audio
// segments through a Gemini multimodal model.
type Transcriber struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewTranscriber creates an audio transcriber. The model must accept audio
// input, e.g. "gemini-2.0-flash".
func NewTranscriber(apiKey, model string) *Transcriber {
	return &Transcriber{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

// Process sends the segments in capture order and returns the transcript.
// An empty segment list transcribes to the empty string without a call.
func (t *Transcriber) Process(ctx context.Context, segments []mirix.AudioSegment) (string, error) {
	if len(segments) == 0 {
		return "", nil
	}

	parts := make([]map[string]any, 0, len(segments)+1)
	parts = append(parts, map[string]any{"text": transcribePrompt})
	for _, seg := range segments {
		mime := seg.Mime
		if mime == "" {
			mime = "audio/wav"
		}
		parts = append(parts, map[string]any{
			"inlineData": map[string]any{
				"mimeType": mime,
				"data":     base64.StdEncoding.EncodeToString(seg.Data),
			},
		})
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": parts},
		},
		"generationConfig": map[string]any{
			"temperature": 0.0,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("gemini transcriber: marshal body: %w", err)
	}

	reqURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, t.model, t.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("gemini transcriber: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini transcriber: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini transcriber: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini transcriber: %s", httpErrMessage(resp, string(respBody)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("gemini transcriber: parse response: %w", err)
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != nil {
				text.WriteString(*part.Text)
			}
		}
	}
	return strings.TrimSpace(text.String()), nil
}

var _ mirix.Transcriber = (*Transcriber)(nil)
