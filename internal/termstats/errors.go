package termstats

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the sentinel wrapped by every InvalidInputError, so
// callers can match with errors.Is without caring about the detail.
var ErrInvalidInput = errors.New("invalid term counts")

// InvalidInputError reports a violation of Compute's input contract: an
// empty input slice, a non-positive count, or a duplicate (document, term)
// pair. Document and Term identify the offending record when one exists.
type InvalidInputError struct {
	Reason   string
	Document string
	Term     string
}

func (e *InvalidInputError) Error() string {
	if e.Document == "" && e.Term == "" {
		return fmt.Sprintf("invalid term counts: %s", e.Reason)
	}
	return fmt.Sprintf("invalid term counts: %s (document %q, term %q)", e.Reason, e.Document, e.Term)
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}
