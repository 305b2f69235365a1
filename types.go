package mirix

import (
	"context"
	"encoding/json"
	"time"
)

// --- Memory entities (database records) ---
//
// All entities carry zero-padded fixed-length embeddings for their embedded
// fields (see PadEmbedding and MaxEmbeddingDim).

// Actor identifies who an episodic event happened to.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
	ActorSystem    Actor = "system"
)

// EpisodicEvent is a timestamped event observed on the user or assistant.
type EpisodicEvent struct {
	ID             string         `json:"id"`
	OccurredAt     time.Time      `json:"occurred_at"` // timezone-aware
	Actor          Actor          `json:"actor"`
	EventType      string         `json:"event_type"`
	Summary        string         `json:"summary"`
	Details        string         `json:"details"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	SummaryEmbedding []float32 `json:"-"`
	DetailsEmbedding []float32 `json:"-"`
}

// SemanticItem is a concept the agent has learned about the world or the user.
type SemanticItem struct {
	ID             string         `json:"id"`
	Concept        string         `json:"concept"`
	Definition     string         `json:"definition"`
	Details        string         `json:"details"`
	Source         string         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	ConceptEmbedding    []float32 `json:"-"`
	DefinitionEmbedding []float32 `json:"-"`
	DetailsEmbedding    []float32 `json:"-"`
}

// ProceduralItem is a how-to: an ordered sequence of steps.
type ProceduralItem struct {
	ID             string         `json:"id"`
	EntryType      string         `json:"entry_type"`
	Description    string         `json:"description"`
	Steps          []string       `json:"steps"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	DescriptionEmbedding []float32 `json:"-"`
	StepsEmbedding       []float32 `json:"-"`
}

// ResourceItem is a document or file the user has interacted with.
type ResourceItem struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	ResourceType   string         `json:"resource_type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	SummaryEmbedding []float32 `json:"-"`
}

// Sensitivity classifies how guarded a knowledge-vault entry is.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// KnowledgeVaultItem is a credential-like verbatim value (address, API key,
// account number) with a searchable description. The secret value is stored
// verbatim; end-to-end encryption is out of scope.
type KnowledgeVaultItem struct {
	ID             string         `json:"id"`
	EntryType      string         `json:"entry_type"`
	Source         string         `json:"source"`
	Sensitivity    Sensitivity    `json:"sensitivity"`
	SecretValue    string         `json:"secret_value"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	DescriptionEmbedding []float32 `json:"-"`
}

// Core memory labels. Core blocks are always-in-context memory mutated by
// append/replace rather than insert/delete.
const (
	CoreLabelPersona = "persona"
	CoreLabelHuman   = "human"
)

// CoreBlock is one labeled block of core memory for one agent.
// At most one block exists per (agent, label).
type CoreBlock struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	Label          string    `json:"label"`
	Value          string    `json:"value"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is one entry in the append-only per-agent message log.
type Message struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	Role      string     `json:"role"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	StepID    string     `json:"step_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Cloud file mapping statuses. A mapping transitions uploaded → processed
// once the observation containing it is absorbed into memory; deleted is
// terminal and triggers remote blob deletion.
const (
	CloudFileUploaded  = "uploaded"
	CloudFileProcessed = "processed"
	CloudFileDeleted   = "deleted"
)

// CloudFileMapping links a local media file to its uploaded blob.
type CloudFileMapping struct {
	ID          string    `json:"id"`
	LocalFileID string    `json:"local_file_id"`
	CloudFileID string    `json:"cloud_file_id"`
	URI         string    `json:"uri"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// --- Ingest types ---

// AudioSegment is one captured burst of audio.
type AudioSegment struct {
	Data []byte `json:"data"`
	Mime string `json:"mime"`
}

// Observation is one captured unit of user activity: zero or more images,
// zero or more audio segments, and/or a text fragment.
type Observation struct {
	Text       string
	ImagePaths []string // local files, uploaded via the UploadManager
	Audio      []AudioSegment
}

// BlobRef is a resolved reference to an uploaded blob.
type BlobRef struct {
	Name       string    `json:"name"`
	URI        string    `json:"uri"`
	CreateTime time.Time `json:"create_time"`
}

// ConversationTurn is one side of a user↔assistant exchange recorded while
// observations were being captured.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- LLM protocol types ---

// PartType discriminates PromptPart variants.
type PartType string

const (
	PartText        PartType = "text"
	PartBlobURI     PartType = "blob_uri"
	PartInlineImage PartType = "inline_image"
)

// PromptPart is one element of an ordered multi-modal prompt. Providers
// translate parts into their wire format at the client boundary.
type PromptPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	URI  string   `json:"uri,omitempty"`
	Data []byte   `json:"data,omitempty"`
	Mime string   `json:"mime,omitempty"`
}

// TextPart creates a text prompt part.
func TextPart(s string) PromptPart { return PromptPart{Type: PartText, Text: s} }

// BlobURIPart creates a prompt part referencing an uploaded blob.
func BlobURIPart(uri string) PromptPart { return PromptPart{Type: PartBlobURI, URI: uri} }

// InlineImagePart creates a prompt part carrying raw image bytes.
func InlineImagePart(data []byte, mime string) PromptPart {
	return PromptPart{Type: PartInlineImage, Data: data, Mime: mime}
}

// ToolCall is an LLM-requested invocation of a named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDefinition describes one callable tool exposed to an LLM agent.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Response message types in an LLM transcript.
const (
	MessageTypeAssistant  = "assistant"
	MessageTypeToolCall   = "tool_call"
	MessageTypeToolReturn = "tool_return"
)

// ResponseMessage is one message in an LLM response transcript.
type ResponseMessage struct {
	Type     string    `json:"type"`
	Content  string    `json:"content,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Usage reports token consumption for one agent step. Backends that do not
// report usage leave it zero.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// LLMResponse is the transcript returned by one agent step.
type LLMResponse struct {
	Messages []ResponseMessage `json:"messages"`
	Usage    Usage             `json:"usage,omitempty"`
}

// LLMRequest is a typed prompt handed to an agent.
type LLMRequest struct {
	AgentID          string
	Role             string
	Parts            []PromptPart
	Tools            []ToolDefinition
	ExistingFileURIs []string // blob URIs the agent may reference
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Tool is a set of named, typed operations exposed to an LLM for mutating
// or inspecting one memory type.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}
