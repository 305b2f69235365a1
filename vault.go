package mirix

import "context"

// VaultManager owns the knowledge vault: verbatim credential-like values
// searched by description. The secret value itself is never embedded or
// matched; only the description is searchable.
type VaultManager struct {
	managerBase
}

// NewVaultManager creates a knowledge vault manager.
func NewVaultManager(store Store, embed EmbeddingProvider, opts ...ManagerOption) *VaultManager {
	m := &VaultManager{}
	initManagerBase(&m.managerBase, store, embed, opts...)
	return m
}

// VaultInsert is the caller-supplied portion of a new entry.
type VaultInsert struct {
	EntryType   string
	Source      string
	Sensitivity Sensitivity // empty means low
	SecretValue string
	Description string
	Metadata    map[string]any
}

// Insert creates one entry, embedding the description.
func (m *VaultManager) Insert(ctx context.Context, in VaultInsert) (*KnowledgeVaultItem, error) {
	ctx, span := startSpan(ctx, m.tracer, "vault.insert")
	it, err := m.insert(ctx, in)
	endSpan(span, err)
	return it, err
}

func (m *VaultManager) insert(ctx context.Context, in VaultInsert) (*KnowledgeVaultItem, error) {
	if in.Sensitivity == "" {
		in.Sensitivity = SensitivityLow
	}
	vecs, err := m.embedPadded(ctx, in.Description)
	if err != nil {
		return nil, err
	}
	now := NowUTC()
	it := &KnowledgeVaultItem{
		ID:                   NewID(PrefixKnowledgeVault),
		EntryType:            in.EntryType,
		Source:               in.Source,
		Sensitivity:          in.Sensitivity,
		SecretValue:          in.SecretValue,
		Description:          in.Description,
		Metadata:             in.Metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
		DescriptionEmbedding: vecs[0],
	}
	if err := m.store.CreateVaultItem(ctx, it); err != nil {
		return nil, err
	}
	m.logger.Debug("vault: inserted", "id", it.ID, "entry_type", it.EntryType, "sensitivity", it.Sensitivity)
	return it, nil
}

// VaultPatch is a partial update; nil fields are left unchanged.
type VaultPatch struct {
	EntryType   *string
	Source      *string
	Sensitivity *Sensitivity
	SecretValue *string
	Description *string
	Metadata    map[string]any
}

// Update applies a partial patch, re-embedding the description when it
// changes.
func (m *VaultManager) Update(ctx context.Context, id string, p VaultPatch) (*KnowledgeVaultItem, error) {
	it, err := m.store.GetVaultItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.EntryType != nil {
		it.EntryType = *p.EntryType
	}
	if p.Source != nil {
		it.Source = *p.Source
	}
	if p.Sensitivity != nil {
		it.Sensitivity = *p.Sensitivity
	}
	if p.SecretValue != nil {
		it.SecretValue = *p.SecretValue
	}
	if p.Metadata != nil {
		it.Metadata = p.Metadata
	}
	if p.Description != nil {
		it.Description = *p.Description
		vecs, err := m.embedPadded(ctx, it.Description)
		if err != nil {
			return nil, err
		}
		it.DescriptionEmbedding = vecs[0]
	}
	it.UpdatedAt = NowUTC()
	if err := m.store.UpdateVaultItem(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteByID removes one entry; a miss returns *NotFoundError.
func (m *VaultManager) DeleteByID(ctx context.Context, id string) error {
	return m.store.DeleteVaultItem(ctx, id)
}

// List searches entries per q. Matching always runs over the description.
func (m *VaultManager) List(ctx context.Context, q ListQuery) ([]*KnowledgeVaultItem, error) {
	ctx, span := startSpan(ctx, m.tracer, "vault.list", StringAttr("method", string(q.Method)))
	items, err := m.list(ctx, q)
	endSpan(span, err)
	return items, err
}

func (m *VaultManager) list(ctx context.Context, q ListQuery) ([]*KnowledgeVaultItem, error) {
	var items []*KnowledgeVaultItem
	var err error
	switch q.Method {
	case SearchFuzzyMatch:
		all, aerr := m.store.SearchVault(ctx, SearchQuery{Method: SearchRecent})
		if aerr != nil {
			return nil, aerr
		}
		items = rankFuzzy(all, q.Text, q.limit(), func(it *KnowledgeVaultItem) string {
			return it.Description
		})
	case SearchSemanticMatch:
		emb, eerr := m.queryEmbedding(ctx, q.Text)
		if eerr != nil {
			return nil, eerr
		}
		items, err = m.store.SearchVault(ctx, SearchQuery{
			Method: SearchSemanticMatch, Field: "description", Embedding: emb, Limit: q.limit(),
		})
	default:
		items, err = m.store.SearchVault(ctx, SearchQuery{
			Method: q.Method, Field: "description", Text: q.Text, Limit: q.limit(),
		})
	}
	if err != nil {
		return nil, err
	}
	loc := m.location()
	for _, it := range items {
		it.CreatedAt = it.CreatedAt.In(loc)
		it.UpdatedAt = it.UpdatedAt.In(loc)
	}
	return items, nil
}
