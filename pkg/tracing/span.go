// Package tracing provides a lightweight span-based tracing system that
// propagates trace context through Go contexts. Spans form parent–child trees
// and are logged as structured JSON via slog. A Tracer gates span creation on
// enablement and sample rate; all Span methods are nil-safe so unsampled
// requests cost nothing but the coin flip.
package tracing

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const spanKey contextKey = "trace_span"

// Tracer decides which traces are recorded.
type Tracer struct {
	enabled    bool
	sampleRate float64
}

// New creates a Tracer. A sampleRate outside (0,1] records every trace.
func New(enabled bool, sampleRate float64) *Tracer {
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}
	return &Tracer{enabled: enabled, sampleRate: sampleRate}
}

// Start creates a root span when this trace is sampled, otherwise returns
// ctx unchanged and a nil span.
func (t *Tracer) Start(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	if t == nil || !t.enabled {
		return ctx, nil
	}
	if t.sampleRate < 1 && rand.Float64() > t.sampleRate {
		return ctx, nil
	}
	if traceID == "" {
		traceID = ulid.Make().String()
	}
	span := &Span{
		Name:      name,
		TraceID:   traceID,
		SpanID:    ulid.Make().String(),
		StartTime: time.Now(),
		Children:  make([]*Span, 0),
		Attrs:     make(map[string]any),
	}
	return context.WithValue(ctx, spanKey, span), span
}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	SpanID    string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any
	mu        sync.Mutex
}

// StartChild creates a child span linked to the span in ctx. When the trace
// is unsampled (no span in ctx) it returns ctx unchanged and a nil span.
func StartChild(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return ctx, nil
	}
	child := &Span{
		Name:      name,
		TraceID:   parent.TraceID,
		SpanID:    ulid.Make().String(),
		StartTime: time.Now(),
		Children:  make([]*Span, 0),
		Attrs:     make(map[string]any),
	}
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()

	return context.WithValue(ctx, spanKey, child), child
}

// End records the span's end time and duration.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanKey).(*Span); ok {
		return span
	}
	return nil
}

// Log writes the span tree to slog.
func (s *Span) Log() {
	if s == nil {
		return
	}
	s.logRecursive(0)
}

// logRecursive recursively logs spans with increasing depth.
func (s *Span) logRecursive(depth int) {
	attrs := []any{
		"trace_id", s.TraceID,
		"span_id", s.SpanID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	slog.Info("span", attrs...)

	for _, child := range s.Children {
		child.logRecursive(depth + 1)
	}
}
