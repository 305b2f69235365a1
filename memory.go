package mirix

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultListLimit is used when a ListQuery leaves Limit at zero.
const DefaultListLimit = 10

// ListQuery drives manager-level listing. Method semantics follow
// SearchMethod; Field names the entity field to match (each manager
// documents its valid fields). Text is the query; for semantic_match the
// manager embeds it before hitting the store.
type ListQuery struct {
	Method SearchMethod
	Field  string
	Text   string
	Limit  int
}

// limit applies the default; a negative Limit means unlimited.
func (q ListQuery) limit() int {
	if q.Limit == 0 {
		return DefaultListLimit
	}
	if q.Limit < 0 {
		return 0
	}
	return q.Limit
}

// managerBase carries the collaborators shared by every memory manager.
type managerBase struct {
	store  Store
	embed  EmbeddingProvider
	logger *slog.Logger
	tracer Tracer

	mu sync.RWMutex
	tz *time.Location
}

// ManagerOption configures a memory manager.
type ManagerOption func(*managerBase)

// WithManagerLogger sets a structured logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(b *managerBase) { b.logger = l }
}

// WithManagerTracer sets a tracer for manager operations.
func WithManagerTracer(t Tracer) ManagerOption {
	return func(b *managerBase) { b.tracer = t }
}

// WithManagerTimezone sets the timezone timestamps are converted to on read.
func WithManagerTimezone(loc *time.Location) ManagerOption {
	return func(b *managerBase) { b.tz = loc }
}

func initManagerBase(b *managerBase, store Store, embed EmbeddingProvider, opts ...ManagerOption) {
	b.store = store
	b.embed = embed
	b.logger = nopLogger
	b.tz = time.UTC
	for _, o := range opts {
		o(b)
	}
}

// SetTimezone changes the read-side timezone for subsequent lists.
func (b *managerBase) SetTimezone(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	b.mu.Lock()
	b.tz = loc
	b.mu.Unlock()
}

func (b *managerBase) location() *time.Location {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tz
}

// embedPadded embeds texts and zero-pads every vector to MaxEmbeddingDim.
// Embedding failures surface to the caller; items are never stored with a
// partial embedding set.
func (b *managerBase) embedPadded(ctx context.Context, texts ...string) ([][]float32, error) {
	vecs, err := b.embed.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		vecs[i] = PadEmbedding(v, MaxEmbeddingDim)
	}
	return vecs, nil
}

// queryEmbedding embeds a search query for semantic_match.
func (b *managerBase) queryEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.embedPadded(ctx, text)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
