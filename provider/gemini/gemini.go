// Package gemini implements the Google Gemini agent backend, embedding
// provider, Files API blob store, and audio transcriber.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mirix-ai/mirix"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client implements mirix.LLMClient against the Gemini generateContent API.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client

	temperature     float64
	topP            float64
	mediaResolution string
	thinkingEnabled bool
	system          string
}

// New creates a Gemini chat client with functional options.
func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{},
		temperature: 0.1,
		topP:        0.9,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// SendMessage runs one agent step: the request parts become a single
// Gemini content entry, the tool surface becomes functionDeclarations, and
// the response candidates become the transcript.
func (c *Client) SendMessage(ctx context.Context, req mirix.LLMRequest) (*mirix.LLMResponse, error) {
	body := c.buildBody(req)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, c.model, c.apiKey)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, c.wrapErr(req.AgentID, "marshal body: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, c.wrapErr(req.AgentID, "create request: "+err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.wrapErr(req.AgentID, "request failed: "+err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.wrapErr(req.AgentID, "read response body: "+err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.wrapErr(req.AgentID, httpErrMessage(resp, string(respBody)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, c.wrapErr(req.AgentID, "parse response JSON: "+err.Error())
	}

	out := &mirix.LLMResponse{}

	if len(parsed.Candidates) > 0 {
		var text strings.Builder
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Thought {
				continue
			}
			if part.Text != nil {
				text.WriteString(*part.Text)
			}
			if part.FunctionCall != nil {
				out.Messages = append(out.Messages, mirix.ResponseMessage{
					Type: mirix.MessageTypeToolCall,
					ToolCall: &mirix.ToolCall{
						ID:   part.FunctionCall.Name,
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
					},
				})
			}
		}
		if text.Len() > 0 {
			// Assistant commentary precedes the tool calls in the transcript.
			out.Messages = append([]mirix.ResponseMessage{{
				Type:    mirix.MessageTypeAssistant,
				Content: text.String(),
			}}, out.Messages...)
		}
	}

	if parsed.UsageMetadata != nil {
		out.Usage = mirix.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		}
	}

	return out, nil
}

// buildBody constructs the generateContent request body. The whole prompt
// arrives as ordered parts under a single role; file URIs the agent may
// reference are appended as fileData parts.
func (c *Client) buildBody(req mirix.LLMRequest) map[string]any {
	parts := make([]map[string]any, 0, len(req.Parts)+len(req.ExistingFileURIs))

	for _, p := range req.Parts {
		switch p.Type {
		case mirix.PartText:
			parts = append(parts, map[string]any{"text": p.Text})
		case mirix.PartBlobURI:
			parts = append(parts, map[string]any{"fileData": fileData(p.URI, p.Mime)})
		case mirix.PartInlineImage:
			parts = append(parts, map[string]any{
				"inlineData": map[string]any{
					"mimeType": p.Mime,
					"data":     base64.StdEncoding.EncodeToString(p.Data),
				},
			})
		}
	}

	for _, uri := range req.ExistingFileURIs {
		parts = append(parts, map[string]any{"fileData": fileData(uri, "")})
	}

	// Gemini requires at least one part.
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"role": mapRole(req.Role), "parts": parts},
		},
	}

	if c.system != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": c.system},
			},
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			var params any
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &params); err != nil {
					params = map[string]any{}
				}
			} else {
				params = map[string]any{}
			}
			declarations = append(declarations, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			})
		}
		body["tools"] = []map[string]any{
			{"functionDeclarations": declarations},
		}
	} else {
		body["toolConfig"] = map[string]any{
			"functionCallingConfig": map[string]any{
				"mode": "NONE",
			},
		}
	}

	genConfig := map[string]any{
		"temperature": c.temperature,
		"topP":        c.topP,
	}
	if c.mediaResolution != "" {
		genConfig["mediaResolution"] = c.mediaResolution
	}
	if c.thinkingEnabled {
		genConfig["thinkingConfig"] = map[string]any{
			"thinkingBudget": -1,
		}
	}
	body["generationConfig"] = genConfig

	return body
}

// fileData builds a fileData part. Blob URIs produced by the upload pipeline
// are screenshot captures, so the mime defaults to PNG when unset.
func fileData(uri, mime string) map[string]any {
	if mime == "" {
		mime = "image/png"
	}
	return map[string]any{
		"mimeType": mime,
		"fileUri":  uri,
	}
}

// mapRole converts transcript roles to Gemini API roles.
func mapRole(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "":
		return "user"
	}
	return role
}

func (c *Client) wrapErr(agentID, msg string) error {
	return &mirix.LLMError{AgentID: agentID, Message: msg}
}

// httpErrMessage formats a non-2xx response, including the retry delay from
// the Retry-After header or the google.rpc.RetryInfo detail when present.
func httpErrMessage(resp *http.Response, body string) string {
	msg := fmt.Sprintf("status %d: %s", resp.StatusCode, body)
	ra := parseRetryAfter(resp.Header.Get("Retry-After"))
	if ra == 0 {
		ra = parseRetryInfo(body)
	}
	if ra > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, ra)
	}
	return msg
}

// parseRetryAfter parses a Retry-After header value given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d
	}
	return 0
}

// parseRetryInfo extracts the retryDelay from an error body carrying a
// google.rpc.RetryInfo detail. Returns 0 if not found or unparseable.
func parseRetryInfo(body string) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}

// ---- Response parsing types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text         *string         `json:"text,omitempty"`
	FunctionCall *geminiFuncCall `json:"functionCall,omitempty"`
	Thought      bool            `json:"thought,omitempty"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

var _ mirix.LLMClient = (*Client)(nil)
