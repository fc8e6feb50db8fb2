package tracing

import (
	"context"
	"testing"
)

func TestTracerDisabled(t *testing.T) {
	tr := New(false, 1.0)
	ctx, span := tr.Start(context.Background(), "root", "trace-1")
	if span != nil {
		t.Fatal("disabled tracer returned a span")
	}

	// Nil spans must be safe to use.
	span.SetAttr("k", "v")
	span.End()
	span.Log()

	if _, child := StartChild(ctx, "child"); child != nil {
		t.Error("child created under an unsampled trace")
	}
}

func TestSpanTree(t *testing.T) {
	tr := New(true, 1.0)
	ctx, root := tr.Start(context.Background(), "request", "trace-2")
	if root == nil {
		t.Fatal("sampled trace returned nil span")
	}
	if root.TraceID != "trace-2" {
		t.Errorf("TraceID = %q, want trace-2", root.TraceID)
	}
	if root.SpanID == "" {
		t.Error("root has no SpanID")
	}

	childCtx, child := StartChild(ctx, "store-query")
	if child == nil {
		t.Fatal("StartChild returned nil under a sampled trace")
	}
	if child.TraceID != root.TraceID {
		t.Errorf("child TraceID = %q, want %q", child.TraceID, root.TraceID)
	}
	if got := SpanFromContext(childCtx); got != child {
		t.Error("child context does not carry the child span")
	}

	child.SetAttr("rows", 42)
	child.End()
	root.End()

	if len(root.Children) != 1 || root.Children[0] != child {
		t.Error("child not linked to root")
	}
	if child.Duration < 0 {
		t.Error("child duration negative")
	}
	if child.Attrs["rows"] != 42 {
		t.Errorf("child attr rows = %v", child.Attrs["rows"])
	}
}

func TestTracerGeneratesTraceID(t *testing.T) {
	tr := New(true, 0) // out-of-range rate records everything
	_, span := tr.Start(context.Background(), "request", "")
	if span == nil {
		t.Fatal("expected a span")
	}
	if span.TraceID == "" {
		t.Error("empty trace ID was not replaced")
	}
}
