package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mirix-ai/mirix"
)

func testClient() *Client {
	return New("test-key", "test-model")
}

// withBaseURL points the package at a test server for the duration of one test.
func withBaseURL(t *testing.T, url string) {
	t.Helper()
	orig := baseURL
	baseURL = url
	t.Cleanup(func() { baseURL = orig })
}

func withUploadBaseURL(t *testing.T, url string) {
	t.Helper()
	orig := uploadBaseURL
	uploadBaseURL = url
	t.Cleanup(func() { uploadBaseURL = orig })
}

func TestBuildBody_PartsMapping(t *testing.T) {
	c := testClient()
	req := mirix.LLMRequest{
		Role: "user",
		Parts: []mirix.PromptPart{
			mirix.TextPart("what happened here?"),
			mirix.BlobURIPart("https://files.example/files/abc"),
			mirix.InlineImagePart([]byte("raw-png"), "image/png"),
		},
		ExistingFileURIs: []string{"https://files.example/files/old"},
	}

	body := c.buildBody(req)

	contents := body["contents"].([]map[string]any)
	if len(contents) != 1 {
		t.Fatalf("expected 1 content entry, got %d", len(contents))
	}
	if contents[0]["role"] != "user" {
		t.Errorf("role = %q, want user", contents[0]["role"])
	}

	parts := contents[0]["parts"].([]map[string]any)
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	if parts[0]["text"] != "what happened here?" {
		t.Errorf("part 0 text = %v", parts[0]["text"])
	}

	fd := parts[1]["fileData"].(map[string]any)
	if fd["fileUri"] != "https://files.example/files/abc" {
		t.Errorf("part 1 fileUri = %v", fd["fileUri"])
	}
	if fd["mimeType"] != "image/png" {
		t.Errorf("part 1 mimeType = %v, want default image/png", fd["mimeType"])
	}

	if _, ok := parts[2]["inlineData"]; !ok {
		t.Error("part 2 missing inlineData")
	}

	existing := parts[3]["fileData"].(map[string]any)
	if existing["fileUri"] != "https://files.example/files/old" {
		t.Errorf("part 3 fileUri = %v", existing["fileUri"])
	}
}

func TestBuildBody_EmptyPartsGetPlaceholder(t *testing.T) {
	c := testClient()
	body := c.buildBody(mirix.LLMRequest{})

	contents := body["contents"].([]map[string]any)
	parts := contents[0]["parts"].([]map[string]any)
	if len(parts) != 1 || parts[0]["text"] != "" {
		t.Errorf("expected single empty text part, got %v", parts)
	}
	if contents[0]["role"] != "user" {
		t.Errorf("empty role should default to user, got %q", contents[0]["role"])
	}
}

func TestBuildBody_ToolDeclarations(t *testing.T) {
	c := testClient()
	req := mirix.LLMRequest{
		Parts: []mirix.PromptPart{mirix.TextPart("hi")},
		Tools: []mirix.ToolDefinition{
			{
				Name:        "episodic_memory_insert",
				Description: "Insert new events",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"items":{"type":"array"}}}`),
			},
		},
	}

	body := c.buildBody(req)

	toolsField, ok := body["tools"].([]map[string]any)
	if !ok || len(toolsField) != 1 {
		t.Fatal("expected tools array with 1 entry")
	}
	decls := toolsField[0]["functionDeclarations"].([]map[string]any)
	if len(decls) != 1 || decls[0]["name"] != "episodic_memory_insert" {
		t.Errorf("declarations = %v", decls)
	}
	if _, ok := body["toolConfig"]; ok {
		t.Error("toolConfig should be omitted when tools are present")
	}
}

func TestBuildBody_NoToolsDisablesFunctionCalling(t *testing.T) {
	c := testClient()
	body := c.buildBody(mirix.LLMRequest{Parts: []mirix.PromptPart{mirix.TextPart("hi")}})

	tc, ok := body["toolConfig"].(map[string]any)
	if !ok {
		t.Fatal("expected toolConfig when no tools are provided")
	}
	fcc := tc["functionCallingConfig"].(map[string]any)
	if fcc["mode"] != "NONE" {
		t.Errorf("mode = %v, want NONE", fcc["mode"])
	}
}

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [
				{"text": "Updating memory."},
				{"functionCall": {"name": "episodic_memory_insert", "args": {"items": []}}},
				{"functionCall": {"name": "finish_memory_update", "args": {}}}
			]}}],
			"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 40}
		}`))
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	resp, err := testClient().SendMessage(context.Background(), mirix.LLMRequest{
		AgentID: "agent-episodic",
		Role:    "user",
		Parts:   []mirix.PromptPart{mirix.TextPart("update")},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(resp.Messages) != 3 {
		t.Fatalf("expected 3 transcript messages, got %d", len(resp.Messages))
	}
	if resp.Messages[0].Type != mirix.MessageTypeAssistant || resp.Messages[0].Content != "Updating memory." {
		t.Errorf("message 0 = %+v", resp.Messages[0])
	}
	if resp.Messages[1].Type != mirix.MessageTypeToolCall || resp.Messages[1].ToolCall.Name != "episodic_memory_insert" {
		t.Errorf("message 1 = %+v", resp.Messages[1])
	}
	if resp.Messages[2].ToolCall.Name != "finish_memory_update" {
		t.Errorf("message 2 = %+v", resp.Messages[2])
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 40 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestSendMessageHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"details": [
			{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"}
		]}}`))
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	_, err := testClient().SendMessage(context.Background(), mirix.LLMRequest{AgentID: "agent-meta"})
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	var llmErr *mirix.LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("error type = %T, want *mirix.LLMError", err)
	}
	if llmErr.AgentID != "agent-meta" {
		t.Errorf("AgentID = %q", llmErr.AgentID)
	}
}

func TestParseRetryInfo(t *testing.T) {
	body := `{"error": {"details": [
		{"@type": "type.googleapis.com/other.Detail"},
		{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "12s"}
	]}}`
	if got := parseRetryInfo(body); got != 12*time.Second {
		t.Errorf("parseRetryInfo = %v, want 12s", got)
	}
	if got := parseRetryInfo("not json"); got != 0 {
		t.Errorf("parseRetryInfo on garbage = %v, want 0", got)
	}
}

func TestEmbed(t *testing.T) {
	var gotDims float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotDims, _ = body["outputDimensionality"].(float64)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding": {"values": [0.25, -0.5, 1.0]}}`))
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	e := NewEmbedding("test-key", "embed-model", 3)
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}

	vecs, err := e.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if int(gotDims) != 3 {
		t.Errorf("outputDimensionality sent = %v, want 3", gotDims)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	want := []float32{0.25, -0.5, 1.0}
	for i, v := range vecs[0] {
		if v != want[i] {
			t.Errorf("vec[0][%d] = %f, want %f", i, v, want[i])
		}
	}
}

func TestEmbedMissingValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	_, err := NewEmbedding("k", "m", 8).Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error for missing embedding.values")
	}
}

func TestFileStoreUpload(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"file": {
			"name": "files/shot-1",
			"uri": "https://generativelanguage.googleapis.com/v1beta/files/shot-1",
			"createTime": "2026-08-24T10:00:00Z"
		}}`))
	}))
	defer srv.Close()
	withUploadBaseURL(t, srv.URL)

	path := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	ref, err := NewFileStore("test-key").Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotContentType != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", gotContentType)
	}
	if ref.Name != "files/shot-1" {
		t.Errorf("Name = %q", ref.Name)
	}
	if ref.CreateTime.IsZero() {
		t.Error("CreateTime not parsed")
	}
}

func TestFileStoreListPagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"files": [{"name": "files/a", "uri": "u-a"}], "nextPageToken": "p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"files": [{"name": "files/b", "uri": "u-b"}]}`))
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	refs, err := NewFileStore("test-key").List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 pages fetched, got %d", calls)
	}
	if len(refs) != 2 || refs[0].Name != "files/a" || refs[1].Name != "files/b" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestFileStoreDeleteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	err := NewFileStore("test-key").Delete(context.Background(), "files/gone")
	if !mirix.IsNotFound(err) {
		t.Errorf("Delete error = %v, want NotFound", err)
	}
}

func TestTranscriber(t *testing.T) {
	var gotParts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Contents []struct {
				Parts []map[string]any `json:"parts"`
			} `json:"contents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Contents) == 1 {
			gotParts = len(body.Contents[0].Parts)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "hello world\n"}]}}]}`))
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	tr := NewTranscriber("test-key", "test-model")
	got, err := tr.Process(context.Background(), []mirix.AudioSegment{
		{Data: []byte("seg-1"), Mime: "audio/wav"},
		{Data: []byte("seg-2")},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != "hello world" {
		t.Errorf("transcript = %q", got)
	}
	// Instruction text plus one inlineData part per segment.
	if gotParts != 3 {
		t.Errorf("request parts = %d, want 3", gotParts)
	}
}

func TestTranscriberEmptySegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty segment list")
	}))
	defer srv.Close()
	withBaseURL(t, srv.URL)

	got, err := NewTranscriber("k", "m").Process(context.Background(), nil)
	if err != nil || got != "" {
		t.Errorf("Process(nil) = %q, %v", got, err)
	}
}
