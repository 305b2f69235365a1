package mirix

import "context"

// LLMClient abstracts the agent backend. Agents are black boxes that consume
// a typed prompt (plus the tool surface for their memory type) and return a
// tool-call transcript; the engine executes the calls it receives back.
type LLMClient interface {
	// SendMessage runs one agent step and returns the transcript.
	SendMessage(ctx context.Context, req LLMRequest) (*LLMResponse, error)
}

// EmbeddingProvider abstracts text embedding. Returned vectors have
// Dimensions() ≤ MaxEmbeddingDim and are zero-padded before storage.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// BlobStore abstracts cloud storage for screenshots and audio.
type BlobStore interface {
	Upload(ctx context.Context, localPath string) (BlobRef, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]BlobRef, error)
}

// Transcriber converts captured audio segments into a transcript.
type Transcriber interface {
	Process(ctx context.Context, segments []AudioSegment) (string, error)
}
