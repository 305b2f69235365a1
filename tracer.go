package mirix

import "context"

// Tracer creates spans for queue dispatch, upload jobs, flushes, and
// reflexion phases. The observer package provides an OTEL-backed
// implementation via NewTracer(). When no Tracer is configured, span
// creation is skipped (nil check).
type Tracer interface {
	// Start creates a span. Callers must call Span.End() when done.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span represents a traced operation.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	Error(err error)
	End()
}

// SpanAttr is a key-value attribute attached to a span.
type SpanAttr struct {
	Key   string
	Value any
}

// StringAttr creates a string-typed span attribute.
func StringAttr(k, v string) SpanAttr { return SpanAttr{Key: k, Value: v} }

// IntAttr creates an int-typed span attribute.
func IntAttr(k string, v int) SpanAttr { return SpanAttr{Key: k, Value: v} }

// BoolAttr creates a bool-typed span attribute.
func BoolAttr(k string, v bool) SpanAttr { return SpanAttr{Key: k, Value: v} }

// startSpan is a nil-safe helper used throughout the engine.
func startSpan(ctx context.Context, t Tracer, name string, attrs ...SpanAttr) (context.Context, Span) {
	if t == nil {
		return ctx, nil
	}
	return t.Start(ctx, name, attrs...)
}

func endSpan(s Span, err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.Error(err)
	}
	s.End()
}
