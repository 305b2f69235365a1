package mirix

import (
	"context"
	"strings"
	"time"
)

// EpisodicManager owns timestamped event memory. Searchable fields are
// "summary" and "details".
type EpisodicManager struct {
	managerBase
}

// NewEpisodicManager creates an episodic memory manager.
func NewEpisodicManager(store Store, embed EmbeddingProvider, opts ...ManagerOption) *EpisodicManager {
	m := &EpisodicManager{}
	initManagerBase(&m.managerBase, store, embed, opts...)
	return m
}

// EpisodicInsert is the caller-supplied portion of a new event.
type EpisodicInsert struct {
	OccurredAt time.Time // zero means now
	Actor      Actor     // empty means user
	EventType  string
	Summary    string
	Details    string
	Metadata   map[string]any
}

// Insert creates one event, embedding summary and details.
func (m *EpisodicManager) Insert(ctx context.Context, in EpisodicInsert) (*EpisodicEvent, error) {
	ctx, span := startSpan(ctx, m.tracer, "episodic.insert")
	ev, err := m.insert(ctx, in)
	endSpan(span, err)
	return ev, err
}

func (m *EpisodicManager) insert(ctx context.Context, in EpisodicInsert) (*EpisodicEvent, error) {
	if in.OccurredAt.IsZero() {
		in.OccurredAt = NowUTC()
	}
	if in.Actor == "" {
		in.Actor = ActorUser
	}
	vecs, err := m.embedPadded(ctx, in.Summary, in.Details)
	if err != nil {
		return nil, err
	}
	now := NowUTC()
	ev := &EpisodicEvent{
		ID:               NewID(PrefixEpisodic),
		OccurredAt:       in.OccurredAt.UTC(),
		Actor:            in.Actor,
		EventType:        in.EventType,
		Summary:          in.Summary,
		Details:          in.Details,
		Metadata:         in.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
		SummaryEmbedding: vecs[0],
		DetailsEmbedding: vecs[1],
	}
	if err := m.store.CreateEpisodic(ctx, ev); err != nil {
		return nil, err
	}
	m.logger.Debug("episodic: inserted", "id", ev.ID, "event_type", ev.EventType)
	return ev, nil
}

// EpisodicPatch is a partial update; nil fields are left unchanged.
type EpisodicPatch struct {
	OccurredAt *time.Time
	Actor      *Actor
	EventType  *string
	Summary    *string
	Details    *string
	Metadata   map[string]any
}

// Update applies a partial patch, re-embedding only the fields that changed.
func (m *EpisodicManager) Update(ctx context.Context, id string, p EpisodicPatch) (*EpisodicEvent, error) {
	ev, err := m.store.GetEpisodic(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OccurredAt != nil {
		ev.OccurredAt = p.OccurredAt.UTC()
	}
	if p.Actor != nil {
		ev.Actor = *p.Actor
	}
	if p.EventType != nil {
		ev.EventType = *p.EventType
	}
	if p.Metadata != nil {
		ev.Metadata = p.Metadata
	}
	if p.Summary != nil {
		ev.Summary = *p.Summary
		vecs, err := m.embedPadded(ctx, ev.Summary)
		if err != nil {
			return nil, err
		}
		ev.SummaryEmbedding = vecs[0]
	}
	if p.Details != nil {
		ev.Details = *p.Details
		vecs, err := m.embedPadded(ctx, ev.Details)
		if err != nil {
			return nil, err
		}
		ev.DetailsEmbedding = vecs[0]
	}
	ev.UpdatedAt = NowUTC()
	if err := m.store.UpdateEpisodic(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// AppendDetails appends free text to an event's details and re-embeds them.
// There is no similarity gate; the agent decides what belongs together.
func (m *EpisodicManager) AppendDetails(ctx context.Context, id, content string) (*EpisodicEvent, error) {
	ev, err := m.store.GetEpisodic(ctx, id)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ev, nil
	}
	if ev.Details == "" {
		ev.Details = content
	} else {
		ev.Details = ev.Details + "\n" + content
	}
	vecs, err := m.embedPadded(ctx, ev.Details)
	if err != nil {
		return nil, err
	}
	ev.DetailsEmbedding = vecs[0]
	ev.UpdatedAt = NowUTC()
	if err := m.store.UpdateEpisodic(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Merge folds new content into an existing event: a non-empty newSummary
// overwrites the summary, newDetails is appended to the details.
func (m *EpisodicManager) Merge(ctx context.Context, id, newSummary, newDetails string) (*EpisodicEvent, error) {
	if s := strings.TrimSpace(newSummary); s != "" {
		if _, err := m.Update(ctx, id, EpisodicPatch{Summary: &s}); err != nil {
			return nil, err
		}
	}
	return m.AppendDetails(ctx, id, newDetails)
}

// ReplaceAll merges duplicate events: it deletes every event in ids and
// inserts items in their place. All ids are validated before anything is
// deleted, so a miss leaves the store untouched.
func (m *EpisodicManager) ReplaceAll(ctx context.Context, ids []string, items []EpisodicInsert) ([]*EpisodicEvent, error) {
	for _, id := range ids {
		if _, err := m.store.GetEpisodic(ctx, id); err != nil {
			return nil, err
		}
	}
	for _, id := range ids {
		if err := m.store.DeleteEpisodic(ctx, id); err != nil {
			return nil, err
		}
	}
	out := make([]*EpisodicEvent, 0, len(items))
	for _, in := range items {
		ev, err := m.Insert(ctx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Get fetches one event; a miss returns *NotFoundError.
func (m *EpisodicManager) Get(ctx context.Context, id string) (*EpisodicEvent, error) {
	return m.store.GetEpisodic(ctx, id)
}

// DeleteByID removes one event; a miss returns *NotFoundError.
func (m *EpisodicManager) DeleteByID(ctx context.Context, id string) error {
	return m.store.DeleteEpisodic(ctx, id)
}

// List searches events per q, converting timestamps to the manager timezone.
func (m *EpisodicManager) List(ctx context.Context, q ListQuery) ([]*EpisodicEvent, error) {
	ctx, span := startSpan(ctx, m.tracer, "episodic.list", StringAttr("method", string(q.Method)))
	evs, err := m.list(ctx, q)
	endSpan(span, err)
	return evs, err
}

func (m *EpisodicManager) list(ctx context.Context, q ListQuery) ([]*EpisodicEvent, error) {
	var evs []*EpisodicEvent
	var err error
	switch q.Method {
	case SearchFuzzyMatch:
		all, aerr := m.store.SearchEpisodic(ctx, SearchQuery{Method: SearchRecent})
		if aerr != nil {
			return nil, aerr
		}
		field := q.Field
		evs = rankFuzzy(all, q.Text, q.limit(), func(ev *EpisodicEvent) string {
			if field == "details" {
				return ev.Details
			}
			return ev.Summary
		})
	case SearchSemanticMatch:
		emb, eerr := m.queryEmbedding(ctx, q.Text)
		if eerr != nil {
			return nil, eerr
		}
		evs, err = m.store.SearchEpisodic(ctx, SearchQuery{
			Method: SearchSemanticMatch, Field: q.Field, Embedding: emb, Limit: q.limit(),
		})
	default:
		evs, err = m.store.SearchEpisodic(ctx, SearchQuery{
			Method: q.Method, Field: q.Field, Text: q.Text, Limit: q.limit(),
		})
	}
	if err != nil {
		return nil, err
	}
	loc := m.location()
	for _, ev := range evs {
		ev.OccurredAt = ev.OccurredAt.In(loc)
		ev.CreatedAt = ev.CreatedAt.In(loc)
	}
	return evs, nil
}
