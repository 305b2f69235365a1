package mirix

import "context"

// SearchMethod selects how List/Search matches a query against a field.
type SearchMethod string

const (
	// SearchRecent returns the most recently created items (empty query).
	SearchRecent SearchMethod = ""
	// SearchStringMatch is case-insensitive substring matching, recency order.
	SearchStringMatch SearchMethod = "string_match"
	// SearchFuzzyMatch ranks by partial-ratio similarity, score descending.
	// Implemented in-process by the managers; stores treat it as SearchRecent
	// with no limit.
	SearchFuzzyMatch SearchMethod = "fuzzy_match"
	// SearchSemanticMatch ranks ascending by cosine distance between the
	// query embedding and the field embedding, tie-broken by created_at
	// then id, both ascending.
	SearchSemanticMatch SearchMethod = "semantic_match"
)

// SearchQuery drives entity listing and search in the Store.
//
// Method SearchRecent ignores Field/Text/Embedding. SearchStringMatch uses
// Field+Text. SearchSemanticMatch uses Field+Embedding, where Embedding is
// already padded to MaxEmbeddingDim. Limit 0 means no limit.
type SearchQuery struct {
	Method    SearchMethod
	Field     string
	Text      string
	Embedding []float32
	Limit     int
}

// Store is row-oriented persistence for all memory entities, the per-agent
// message log, cloud file mappings, and provider API keys. The Store is the
// sole mutator of persisted entities; managers acquire it per operation and
// never mutate rows they did not load.
//
// Lookups that miss return *NotFoundError.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	// Episodic events
	CreateEpisodic(ctx context.Context, ev *EpisodicEvent) error
	GetEpisodic(ctx context.Context, id string) (*EpisodicEvent, error)
	UpdateEpisodic(ctx context.Context, ev *EpisodicEvent) error
	DeleteEpisodic(ctx context.Context, id string) error
	SearchEpisodic(ctx context.Context, q SearchQuery) ([]*EpisodicEvent, error)

	// Semantic items
	CreateSemantic(ctx context.Context, it *SemanticItem) error
	GetSemantic(ctx context.Context, id string) (*SemanticItem, error)
	UpdateSemantic(ctx context.Context, it *SemanticItem) error
	DeleteSemantic(ctx context.Context, id string) error
	SearchSemantic(ctx context.Context, q SearchQuery) ([]*SemanticItem, error)

	// Procedural items
	CreateProcedural(ctx context.Context, it *ProceduralItem) error
	GetProcedural(ctx context.Context, id string) (*ProceduralItem, error)
	UpdateProcedural(ctx context.Context, it *ProceduralItem) error
	DeleteProcedural(ctx context.Context, id string) error
	SearchProcedural(ctx context.Context, q SearchQuery) ([]*ProceduralItem, error)

	// Resource items
	CreateResource(ctx context.Context, it *ResourceItem) error
	GetResource(ctx context.Context, id string) (*ResourceItem, error)
	UpdateResource(ctx context.Context, it *ResourceItem) error
	DeleteResource(ctx context.Context, id string) error
	SearchResource(ctx context.Context, q SearchQuery) ([]*ResourceItem, error)

	// Knowledge vault items
	CreateVaultItem(ctx context.Context, it *KnowledgeVaultItem) error
	GetVaultItem(ctx context.Context, id string) (*KnowledgeVaultItem, error)
	UpdateVaultItem(ctx context.Context, it *KnowledgeVaultItem) error
	DeleteVaultItem(ctx context.Context, id string) error
	SearchVault(ctx context.Context, q SearchQuery) ([]*KnowledgeVaultItem, error)

	// Core blocks: one block per (agent, label); upsert replaces the value.
	GetCoreBlock(ctx context.Context, agentID, label string) (*CoreBlock, error)
	UpsertCoreBlock(ctx context.Context, b *CoreBlock) error
	ListCoreBlocks(ctx context.Context, agentID string) ([]*CoreBlock, error)

	// Message log: append-only, indexed by (agent_id, created_at).
	AppendMessage(ctx context.Context, m *Message) error
	RecentMessages(ctx context.Context, agentID string, limit int) ([]*Message, error)

	// Cloud file mappings
	CreateCloudMapping(ctx context.Context, m *CloudFileMapping) error
	CloudMappingByLocal(ctx context.Context, localFileID string) (*CloudFileMapping, error)
	SetCloudMappingStatus(ctx context.Context, cloudFileID, status string) error
	ListCloudMappings(ctx context.Context) ([]*CloudFileMapping, error)
	DeleteCloudMapping(ctx context.Context, id string) error

	// Provider API keys. Database-stored keys take precedence over env vars.
	ProviderKey(ctx context.Context, provider string) (string, error)
	SetProviderKey(ctx context.Context, provider, key string) error

	// Snapshot writes the full database state under dir; Restore replaces
	// the current state from a snapshot previously written by the same
	// backend (SQLite: a single sqlite.db file; Postgres: a SQL dump plus
	// a provider-native dump).
	Snapshot(ctx context.Context, dir string) error
	Restore(ctx context.Context, dir string) error
}
