package mirix

import (
	"context"
	"strings"
)

// ProceduralManager owns how-to memory. Searchable fields are "description"
// and "steps" (steps are embedded and matched as one newline-joined text).
type ProceduralManager struct {
	managerBase
}

// NewProceduralManager creates a procedural memory manager.
func NewProceduralManager(store Store, embed EmbeddingProvider, opts ...ManagerOption) *ProceduralManager {
	m := &ProceduralManager{}
	initManagerBase(&m.managerBase, store, embed, opts...)
	return m
}

// ProceduralInsert is the caller-supplied portion of a new item.
type ProceduralInsert struct {
	EntryType   string
	Description string
	Steps       []string
	Metadata    map[string]any
}

func joinSteps(steps []string) string { return strings.Join(steps, "\n") }

// Insert creates one item, embedding description and the joined steps.
func (m *ProceduralManager) Insert(ctx context.Context, in ProceduralInsert) (*ProceduralItem, error) {
	ctx, span := startSpan(ctx, m.tracer, "procedural.insert")
	it, err := m.insert(ctx, in)
	endSpan(span, err)
	return it, err
}

func (m *ProceduralManager) insert(ctx context.Context, in ProceduralInsert) (*ProceduralItem, error) {
	vecs, err := m.embedPadded(ctx, in.Description, joinSteps(in.Steps))
	if err != nil {
		return nil, err
	}
	now := NowUTC()
	it := &ProceduralItem{
		ID:                   NewID(PrefixProcedural),
		EntryType:            in.EntryType,
		Description:          in.Description,
		Steps:                in.Steps,
		Metadata:             in.Metadata,
		CreatedAt:            now,
		UpdatedAt:            now,
		DescriptionEmbedding: vecs[0],
		StepsEmbedding:       vecs[1],
	}
	if err := m.store.CreateProcedural(ctx, it); err != nil {
		return nil, err
	}
	m.logger.Debug("procedural: inserted", "id", it.ID, "entry_type", it.EntryType)
	return it, nil
}

// ProceduralPatch is a partial update; nil fields are left unchanged.
type ProceduralPatch struct {
	EntryType   *string
	Description *string
	Steps       []string // nil means unchanged; empty slice clears
	Metadata    map[string]any
}

// Update applies a partial patch, re-embedding only changed fields.
func (m *ProceduralManager) Update(ctx context.Context, id string, p ProceduralPatch) (*ProceduralItem, error) {
	it, err := m.store.GetProcedural(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.EntryType != nil {
		it.EntryType = *p.EntryType
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
	if p.Steps != nil {
		it.Steps = p.Steps
		vecs, err := m.embedPadded(ctx, joinSteps(it.Steps))
		if err != nil {
			return nil, err
		}
		it.StepsEmbedding = vecs[0]
	}
	it.UpdatedAt = NowUTC()
	if err := m.store.UpdateProcedural(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteByID removes one item; a miss returns *NotFoundError.
func (m *ProceduralManager) DeleteByID(ctx context.Context, id string) error {
	return m.store.DeleteProcedural(ctx, id)
}

// List searches items per q.
func (m *ProceduralManager) List(ctx context.Context, q ListQuery) ([]*ProceduralItem, error) {
	ctx, span := startSpan(ctx, m.tracer, "procedural.list", StringAttr("method", string(q.Method)))
	items, err := m.list(ctx, q)
	endSpan(span, err)
	return items, err
}

func (m *ProceduralManager) list(ctx context.Context, q ListQuery) ([]*ProceduralItem, error) {
	var items []*ProceduralItem
	var err error
	switch q.Method {
	case SearchFuzzyMatch:
		all, aerr := m.store.SearchProcedural(ctx, SearchQuery{Method: SearchRecent})
		if aerr != nil {
			return nil, aerr
		}
		field := q.Field
		items = rankFuzzy(all, q.Text, q.limit(), func(it *ProceduralItem) string {
			if field == "steps" {
				return joinSteps(it.Steps)
			}
			return it.Description
		})
	case SearchSemanticMatch:
		emb, eerr := m.queryEmbedding(ctx, q.Text)
		if eerr != nil {
			return nil, eerr
		}
		items, err = m.store.SearchProcedural(ctx, SearchQuery{
			Method: SearchSemanticMatch, Field: q.Field, Embedding: emb, Limit: q.limit(),
		})
	default:
		items, err = m.store.SearchProcedural(ctx, SearchQuery{
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
