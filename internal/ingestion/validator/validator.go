// Package validator provides input validation for ingestion requests. It
// enforces corpus naming rules and size limits on the document fields, and
// returns per-field error details.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corpusware/termstat/internal/ingestion"
)

const (
	maxTitleLength          = 512
	maxTextLength           = 1 << 20
	maxIdempotencyKeyLength = 128
)

// corpusName restricts corpus identifiers to lowercase DNS-label style
// names so they can double as Kafka message keys and cache key segments.
var corpusName = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// ValidateIngest checks the corpus name from the URL path and the request
// body against the ingestion limits, returning a ValidationError listing
// every failing field.
func ValidateIngest(corpus string, req *ingestion.IngestRequest) error {
	errs := make(map[string]string)

	if !corpusName.MatchString(corpus) {
		errs["corpus"] = "corpus must match [a-z0-9][a-z0-9-]{0,63}"
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		errs["title"] = "title is required"
	} else if len(title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d bytes", maxTitleLength)
	}
	if strings.TrimSpace(req.Text) == "" {
		errs["text"] = "text is required and must not be empty"
	} else if len(req.Text) > maxTextLength {
		errs["text"] = fmt.Sprintf("text must be at most %d bytes", maxTextLength)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		errs["idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d bytes", maxIdempotencyKeyLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
