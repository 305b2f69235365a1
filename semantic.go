package mirix

import "context"

// SemanticManager owns concept memory. Searchable fields are "concept",
// "definition", and "details".
type SemanticManager struct {
	managerBase
}

// NewSemanticManager creates a semantic memory manager.
func NewSemanticManager(store Store, embed EmbeddingProvider, opts ...ManagerOption) *SemanticManager {
	m := &SemanticManager{}
	initManagerBase(&m.managerBase, store, embed, opts...)
	return m
}

// SemanticInsert is the caller-supplied portion of a new item.
type SemanticInsert struct {
	Concept    string
	Definition string
	Details    string
	Source     string
	Metadata   map[string]any
}

// Insert creates one item, embedding concept, definition, and details.
func (m *SemanticManager) Insert(ctx context.Context, in SemanticInsert) (*SemanticItem, error) {
	ctx, span := startSpan(ctx, m.tracer, "semantic.insert")
	it, err := m.insert(ctx, in)
	endSpan(span, err)
	return it, err
}

func (m *SemanticManager) insert(ctx context.Context, in SemanticInsert) (*SemanticItem, error) {
	vecs, err := m.embedPadded(ctx, in.Concept, in.Definition, in.Details)
	if err != nil {
		return nil, err
	}
	now := NowUTC()
	it := &SemanticItem{
		ID:                  NewID(PrefixSemantic),
		Concept:             in.Concept,
		Definition:          in.Definition,
		Details:             in.Details,
		Source:              in.Source,
		Metadata:            in.Metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
		ConceptEmbedding:    vecs[0],
		DefinitionEmbedding: vecs[1],
		DetailsEmbedding:    vecs[2],
	}
	if err := m.store.CreateSemantic(ctx, it); err != nil {
		return nil, err
	}
	m.logger.Debug("semantic: inserted", "id", it.ID, "concept", it.Concept)
	return it, nil
}

// SemanticPatch is a partial update; nil fields are left unchanged.
type SemanticPatch struct {
	Concept    *string
	Definition *string
	Details    *string
	Source     *string
	Metadata   map[string]any
}

// Update applies a partial patch, re-embedding only changed fields.
func (m *SemanticManager) Update(ctx context.Context, id string, p SemanticPatch) (*SemanticItem, error) {
	it, err := m.store.GetSemantic(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Source != nil {
		it.Source = *p.Source
	}
	if p.Metadata != nil {
		it.Metadata = p.Metadata
	}
	if p.Concept != nil {
		it.Concept = *p.Concept
		vecs, err := m.embedPadded(ctx, it.Concept)
		if err != nil {
			return nil, err
		}
		it.ConceptEmbedding = vecs[0]
	}
	if p.Definition != nil {
		it.Definition = *p.Definition
		vecs, err := m.embedPadded(ctx, it.Definition)
		if err != nil {
			return nil, err
		}
		it.DefinitionEmbedding = vecs[0]
	}
	if p.Details != nil {
		it.Details = *p.Details
		vecs, err := m.embedPadded(ctx, it.Details)
		if err != nil {
			return nil, err
		}
		it.DetailsEmbedding = vecs[0]
	}
	it.UpdatedAt = NowUTC()
	if err := m.store.UpdateSemantic(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteByID removes one item; a miss returns *NotFoundError.
func (m *SemanticManager) DeleteByID(ctx context.Context, id string) error {
	return m.store.DeleteSemantic(ctx, id)
}

// List searches items per q.
func (m *SemanticManager) List(ctx context.Context, q ListQuery) ([]*SemanticItem, error) {
	ctx, span := startSpan(ctx, m.tracer, "semantic.list", StringAttr("method", string(q.Method)))
	items, err := m.list(ctx, q)
	endSpan(span, err)
	return items, err
}

func (m *SemanticManager) list(ctx context.Context, q ListQuery) ([]*SemanticItem, error) {
	var items []*SemanticItem
	var err error
	switch q.Method {
	case SearchFuzzyMatch:
		all, aerr := m.store.SearchSemantic(ctx, SearchQuery{Method: SearchRecent})
		if aerr != nil {
			return nil, aerr
		}
		field := q.Field
		items = rankFuzzy(all, q.Text, q.limit(), func(it *SemanticItem) string {
			switch field {
			case "definition":
				return it.Definition
			case "details":
				return it.Details
			}
			return it.Concept
		})
	case SearchSemanticMatch:
		emb, eerr := m.queryEmbedding(ctx, q.Text)
		if eerr != nil {
			return nil, eerr
		}
		items, err = m.store.SearchSemantic(ctx, SearchQuery{
			Method: SearchSemanticMatch, Field: q.Field, Embedding: emb, Limit: q.limit(),
		})
	default:
		items, err = m.store.SearchSemantic(ctx, SearchQuery{
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
