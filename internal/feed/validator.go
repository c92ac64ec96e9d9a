package feed

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/errors"
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// Unwrap ties validation failures into the invalid-input taxonomy so the
// HTTP surface maps them to 400.
func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// Validate checks a MutationEvent before it reaches the engine. maxContent
// bounds the text size for insert and modify; zero disables the bound.
func Validate(event MutationEvent, maxContent int) error {
	errs := make(map[string]string)
	switch event.Op {
	case OpInsert:
		if event.DocID < 0 {
			errs["doc_id"] = "doc_id must be positive when set"
		}
		validateText(event.Text, maxContent, errs)
	case OpModify:
		if event.DocID <= 0 {
			errs["doc_id"] = "doc_id is required"
		}
		validateText(event.Text, maxContent, errs)
	case OpDelete:
		if event.DocID <= 0 {
			errs["doc_id"] = "doc_id is required"
		}
		if event.Text != "" {
			errs["text"] = "delete does not take text"
		}
	default:
		errs["op"] = fmt.Sprintf("unsupported operation %q", event.Op)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateText(text string, maxContent int, errs map[string]string) {
	if strings.TrimSpace(text) == "" {
		errs["text"] = "text is required and must not be empty"
		return
	}
	if maxContent > 0 && len(text) > maxContent {
		errs["text"] = fmt.Sprintf("text must be at most %d bytes", maxContent)
	}
}
