// Package kmerr defines the error-kind taxonomy (spec §7) shared by every
// backend and handler: a small set of sentinel kinds compared with
// errors.Is/errors.As rather than string matching, generalized from the
// teacher's single ErrRateLimited sentinel (internal/gcpclient/retry.go)
// into the full set the spec requires.
package kmerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed, driving retry/skip/fail
// decisions in the pipeline orchestrator and the CLI exit code.
type Kind int

const (
	// KindUnknown is never returned directly; it's the zero value of Kind
	// for errors that haven't been classified.
	KindUnknown Kind = iota
	// KindConfiguration: missing/invalid settings. Never retried.
	KindConfiguration
	// KindInput: malformed request (empty index name, empty text, invalid
	// document id, oversized payload, ...). Never retried.
	KindInput
	// KindIndexNotFound: read/write against a logical index that doesn't
	// exist. Reads return empty instead of this error; writes surface it.
	KindIndexNotFound
	// KindIndexSchemaConflict: createIndex called against an existing index
	// with a different vector size.
	KindIndexSchemaConflict
	// KindTransientBackend: network, 5xx, throttling. Retried with backoff
	// inside the step; after the local retry budget the step fails so the
	// queue retries it, eventually landing in the poison queue.
	KindTransientBackend
	// KindPermanentBackend: 4xx other than 408/429. Marks the pipeline
	// failed; not retried.
	KindPermanentBackend
	// KindContent: a decoder produced no text, or the text was empty after
	// normalization. The file is skipped and logged; the pipeline continues.
	KindContent
	// KindCancelled: cooperative cancellation. Pipeline state is left
	// untouched.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindInput:
		return "InputError"
	case KindIndexNotFound:
		return "IndexNotFound"
	case KindIndexSchemaConflict:
		return "IndexSchemaConflict"
	case KindTransientBackend:
		return "TransientBackendError"
	case KindPermanentBackend:
		return "PermanentBackendError"
	case KindContent:
		return "ContentError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "UnknownError"
	}
}

// Error wraps an underlying cause with a Kind, exactly like the teacher's
// ErrRateLimited but carrying a classification instead of a single fixed
// message.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error for op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// KindOf extracts the classified Kind from err, or KindUnknown if err isn't
// (or doesn't wrap) a *Error.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

// Retryable reports whether a step should retry an error locally before
// giving up and letting the queue redeliver it.
func Retryable(err error) bool {
	return KindOf(err) == KindTransientBackend
}

// ExitCode translates a Kind into the CLI process exit code (spec §6):
// 0 success, 2 configuration error, 3 bad input, 4 backend transient error
// after all retries, 5 cancellation, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindConfiguration:
		return 2
	case KindInput:
		return 3
	case KindTransientBackend:
		return 4
	case KindCancelled:
		return 5
	default:
		return 1
	}
}
