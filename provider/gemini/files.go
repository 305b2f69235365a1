package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mirix-ai/mirix"
)

var uploadBaseURL = "https://generativelanguage.googleapis.com/upload/v1beta"

// FileStore implements mirix.BlobStore against the Gemini Files API.
// Uploaded files live for 48 hours on the service side; the upload pipeline
// tracks them in the local mapping table and deletes them explicitly.
type FileStore struct {
	apiKey     string
	httpClient *http.Client
}

// NewFileStore creates a Files API blob store.
func NewFileStore(apiKey string) *FileStore {
	return &FileStore{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// Upload pushes a local file as a media upload and returns its reference.
func (s *FileStore) Upload(ctx context.Context, localPath string) (mirix.BlobRef, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return mirix.BlobRef{}, fmt.Errorf("gemini files: read %s: %w", localPath, err)
	}

	reqURL := fmt.Sprintf("%s/files?uploadType=media&key=%s", uploadBaseURL, s.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return mirix.BlobRef{}, fmt.Errorf("gemini files: create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mimeForPath(localPath))

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return mirix.BlobRef{}, fmt.Errorf("gemini files: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return mirix.BlobRef{}, fmt.Errorf("gemini files: read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mirix.BlobRef{}, fmt.Errorf("gemini files: upload %s", httpErrMessage(resp, string(respBody)))
	}

	var parsed struct {
		File geminiFile `json:"file"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return mirix.BlobRef{}, fmt.Errorf("gemini files: parse upload response: %w", err)
	}
	if parsed.File.URI == "" {
		return mirix.BlobRef{}, fmt.Errorf("gemini files: upload response missing file.uri")
	}

	return parsed.File.ref(), nil
}

// Delete removes an uploaded file by its resource name ("files/...").
func (s *FileStore) Delete(ctx context.Context, name string) error {
	reqURL := fmt.Sprintf("%s/%s?key=%s", baseURL, url.PathEscape(name), s.apiKey)
	// Resource names contain a slash that must survive escaping.
	reqURL = strings.Replace(reqURL, "%2F", "/", 1)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("gemini files: create delete request: %w", err)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini files: delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &mirix.NotFoundError{Kind: "blob", ID: name}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini files: delete %s", httpErrMessage(resp, string(body)))
	}
	return nil
}

// List pages through all uploaded files.
func (s *FileStore) List(ctx context.Context) ([]mirix.BlobRef, error) {
	var refs []mirix.BlobRef
	pageToken := ""

	for {
		reqURL := fmt.Sprintf("%s/files?key=%s&pageSize=100", baseURL, s.apiKey)
		if pageToken != "" {
			reqURL += "&pageToken=" + url.QueryEscape(pageToken)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("gemini files: create list request: %w", err)
		}

		resp, err := s.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("gemini files: list request failed: %w", err)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("gemini files: read list response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("gemini files: list %s", httpErrMessage(resp, string(respBody)))
		}

		var parsed struct {
			Files         []geminiFile `json:"files"`
			NextPageToken string       `json:"nextPageToken"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("gemini files: parse list response: %w", err)
		}

		for _, f := range parsed.Files {
			refs = append(refs, f.ref())
		}

		if parsed.NextPageToken == "" {
			return refs, nil
		}
		pageToken = parsed.NextPageToken
	}
}

type geminiFile struct {
	Name       string `json:"name"`
	URI        string `json:"uri"`
	CreateTime string `json:"createTime"`
}

func (f geminiFile) ref() mirix.BlobRef {
	created, _ := time.Parse(time.RFC3339Nano, f.CreateTime)
	return mirix.BlobRef{
		Name:       f.Name,
		URI:        f.URI,
		CreateTime: created,
	}
}

// mimeForPath resolves the upload content type from the file extension.
// Screenshots are PNG, so that is the fallback for unknown extensions.
func mimeForPath(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return "image/png"
}

var _ mirix.BlobStore = (*FileStore)(nil)
