package mirix

import "context"

// ResourceManager owns document memory. Searchable fields are "summary"
// (embedded) and "content" (string and fuzzy matching only; full document
// text is not embedded).
type ResourceManager struct {
	managerBase
}

// NewResourceManager creates a resource memory manager.
func NewResourceManager(store Store, embed EmbeddingProvider, opts ...ManagerOption) *ResourceManager {
	m := &ResourceManager{}
	initManagerBase(&m.managerBase, store, embed, opts...)
	return m
}

// ResourceInsert is the caller-supplied portion of a new item.
type ResourceInsert struct {
	Title        string
	Summary      string
	ResourceType string
	Content      string
	Metadata     map[string]any
}

// Insert creates one item, embedding the summary.
func (m *ResourceManager) Insert(ctx context.Context, in ResourceInsert) (*ResourceItem, error) {
	ctx, span := startSpan(ctx, m.tracer, "resource.insert")
	it, err := m.insert(ctx, in)
	endSpan(span, err)
	return it, err
}

func (m *ResourceManager) insert(ctx context.Context, in ResourceInsert) (*ResourceItem, error) {
	vecs, err := m.embedPadded(ctx, in.Summary)
	if err != nil {
		return nil, err
	}
	now := NowUTC()
	it := &ResourceItem{
		ID:               NewID(PrefixResource),
		Title:            in.Title,
		Summary:          in.Summary,
		ResourceType:     in.ResourceType,
		Content:          in.Content,
		Metadata:         in.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
		SummaryEmbedding: vecs[0],
	}
	if err := m.store.CreateResource(ctx, it); err != nil {
		return nil, err
	}
	m.logger.Debug("resource: inserted", "id", it.ID, "title", it.Title)
	return it, nil
}

// ResourcePatch is a partial update; nil fields are left unchanged.
type ResourcePatch struct {
	Title        *string
	Summary      *string
	ResourceType *string
	Content      *string
	Metadata     map[string]any
}

// Update applies a partial patch, re-embedding the summary when it changes.
func (m *ResourceManager) Update(ctx context.Context, id string, p ResourcePatch) (*ResourceItem, error) {
	it, err := m.store.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		it.Title = *p.Title
	}
	if p.ResourceType != nil {
		it.ResourceType = *p.ResourceType
	}
	if p.Content != nil {
		it.Content = *p.Content
	}
	if p.Metadata != nil {
		it.Metadata = p.Metadata
	}
	if p.Summary != nil {
		it.Summary = *p.Summary
		vecs, err := m.embedPadded(ctx, it.Summary)
		if err != nil {
			return nil, err
		}
		it.SummaryEmbedding = vecs[0]
	}
	it.UpdatedAt = NowUTC()
	if err := m.store.UpdateResource(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteByID removes one item; a miss returns *NotFoundError.
func (m *ResourceManager) DeleteByID(ctx context.Context, id string) error {
	return m.store.DeleteResource(ctx, id)
}

// List searches items per q.
func (m *ResourceManager) List(ctx context.Context, q ListQuery) ([]*ResourceItem, error) {
	ctx, span := startSpan(ctx, m.tracer, "resource.list", StringAttr("method", string(q.Method)))
	items, err := m.list(ctx, q)
	endSpan(span, err)
	return items, err
}

func (m *ResourceManager) list(ctx context.Context, q ListQuery) ([]*ResourceItem, error) {
	var items []*ResourceItem
	var err error
	switch q.Method {
	case SearchFuzzyMatch:
		all, aerr := m.store.SearchResource(ctx, SearchQuery{Method: SearchRecent})
		if aerr != nil {
			return nil, aerr
		}
		field := q.Field
		items = rankFuzzy(all, q.Text, q.limit(), func(it *ResourceItem) string {
			switch field {
			case "content":
				return it.Content
			case "title":
				return it.Title
			}
			return it.Summary
		})
	case SearchSemanticMatch:
		emb, eerr := m.queryEmbedding(ctx, q.Text)
		if eerr != nil {
			return nil, eerr
		}
		items, err = m.store.SearchResource(ctx, SearchQuery{
			Method: SearchSemanticMatch, Field: "summary", Embedding: emb, Limit: q.limit(),
		})
	default:
		items, err = m.store.SearchResource(ctx, SearchQuery{
			Method: q.Method, Field: q.Field, Text: q.Text, Limit: q.limit(),
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
