// Package errors defines the sentinel errors shared across the index engine
// and an AppError wrapper that carries an HTTP status for the API surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownDocument is returned when a mutation references a doc_id
	// with no live document behind it.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrDuplicateLiveDocument is returned by insert when the doc_id
	// already denotes a live document.
	ErrDuplicateLiveDocument = errors.New("document already live")
	// ErrInvalidQuery is returned for malformed query input, such as an
	// unsupported mode or a non-positive result limit.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidInput is returned for malformed documents or requests
	// before they reach the engine.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorageTransaction is returned when the storage backend aborted a
	// transaction. The transaction was rolled back; no partial state remains.
	ErrStorageTransaction = errors.New("storage transaction failed")
	// ErrCompactionInProgress is returned when compaction is requested
	// while another compaction is running. The request is rejected, not
	// queued.
	ErrCompactionInProgress = errors.New("compaction already in progress")
	// ErrTimeout is returned when an operation exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrInternal is the fallback for unexpected failures.
	ErrInternal = errors.New("internal error")
)

// AppError pairs a sentinel with context. Unwrap exposes the sentinel so
// errors.Is matching works through the wrapper.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel with a message. The HTTP status is derived from the
// sentinel so call sites inside the engine never think about transport.
func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: sentinelStatus(sentinel),
	}
}

// Newf is New with a format string.
func Newf(sentinel error, format string, args ...any) *AppError {
	return New(sentinel, fmt.Sprintf(format, args...))
}

// IsDomain reports whether err is (or wraps) one of the semantic sentinels,
// as opposed to an infrastructure failure. Transaction wrappers use this to
// pass caller-facing errors through untouched.
func IsDomain(err error) bool {
	return errors.Is(err, ErrUnknownDocument) ||
		errors.Is(err, ErrDuplicateLiveDocument) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrCompactionInProgress)
}

// HTTPStatusCode maps an error chain to the status the HTTP surface returns.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return sentinelStatus(err)
}

func sentinelStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnknownDocument):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateLiveDocument), errors.Is(err, ErrCompactionInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorageTransaction), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
