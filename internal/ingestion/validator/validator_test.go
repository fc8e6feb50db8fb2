package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/corpusware/termstat/internal/ingestion"
)

func validRequest() ingestion.IngestRequest {
	return ingestion.IngestRequest{
		Title: "Chapter 1: Loomings",
		Text:  "Call me Ishmael. Some years ago, never mind how long precisely.",
	}
}

func TestValidateIngestAccepts(t *testing.T) {
	req := validRequest()
	for _, corpus := range []string{"melville", "melville-novels", "c0rpus-2", "x"} {
		if err := ValidateIngest(corpus, &req); err != nil {
			t.Errorf("corpus %q rejected: %v", corpus, err)
		}
	}
}

func TestValidateIngestRejects(t *testing.T) {
	tests := []struct {
		name   string
		corpus string
		mutate func(*ingestion.IngestRequest)
		field  string
	}{
		{
			name:   "empty corpus",
			corpus: "",
			mutate: func(r *ingestion.IngestRequest) {},
			field:  "corpus",
		},
		{
			name:   "uppercase corpus",
			corpus: "Melville",
			mutate: func(r *ingestion.IngestRequest) {},
			field:  "corpus",
		},
		{
			name:   "corpus starts with hyphen",
			corpus: "-melville",
			mutate: func(r *ingestion.IngestRequest) {},
			field:  "corpus",
		},
		{
			name:   "corpus too long",
			corpus: strings.Repeat("a", 65),
			mutate: func(r *ingestion.IngestRequest) {},
			field:  "corpus",
		},
		{
			name:   "missing title",
			corpus: "melville",
			mutate: func(r *ingestion.IngestRequest) { r.Title = "   " },
			field:  "title",
		},
		{
			name:   "title too long",
			corpus: "melville",
			mutate: func(r *ingestion.IngestRequest) { r.Title = strings.Repeat("t", 513) },
			field:  "title",
		},
		{
			name:   "missing text",
			corpus: "melville",
			mutate: func(r *ingestion.IngestRequest) { r.Text = "" },
			field:  "text",
		},
		{
			name:   "whitespace only text",
			corpus: "melville",
			mutate: func(r *ingestion.IngestRequest) { r.Text = " \n\t " },
			field:  "text",
		},
		{
			name:   "text too long",
			corpus: "melville",
			mutate: func(r *ingestion.IngestRequest) { r.Text = strings.Repeat("w", 1<<20+1) },
			field:  "text",
		},
		{
			name:   "idempotency key too long",
			corpus: "melville",
			mutate: func(r *ingestion.IngestRequest) { r.IdempotencyKey = strings.Repeat("k", 129) },
			field:  "idempotency_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := ValidateIngest(tt.corpus, &req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type %T, want *ValidationError", err)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("Fields = %v, want entry for %q", verr.Fields, tt.field)
			}
		})
	}
}

func TestValidateIngestCollectsAllFields(t *testing.T) {
	req := ingestion.IngestRequest{Title: "", Text: "", IdempotencyKey: strings.Repeat("k", 200)}
	err := ValidateIngest("BAD", &req)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type %T, want *ValidationError", err)
	}
	if len(verr.Fields) != 4 {
		t.Errorf("Fields = %v, want 4 entries", verr.Fields)
	}
	if verr.Error() == "" {
		t.Error("Error() returned empty string")
	}
}
