package pageindex

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind identifies a failure class surfaced to callers.
type ErrorKind string

const (
	// KindLLMUnavailable means the reasoning call failed after retries (transport, auth, rate limit).
	KindLLMUnavailable ErrorKind = "LLM_UNAVAILABLE"
	// KindParseFailure means the structure-extraction response did not decode into TOC items.
	KindParseFailure ErrorKind = "PARSE_FAILURE"
	// KindResponseUnparseable means no ranked items could be extracted from a search response.
	KindResponseUnparseable ErrorKind = "RESPONSE_UNPARSEABLE"
	// KindInvalidStructure means level nesting could not be resolved.
	KindInvalidStructure ErrorKind = "INVALID_STRUCTURE"
	// KindInvariantViolation means resolved page ranges break the tree invariants.
	KindInvariantViolation ErrorKind = "INVARIANT_VIOLATION"
	// KindPersistence covers encode/decode and filesystem failures.
	KindPersistence ErrorKind = "PERSISTENCE_ERROR"
	// KindContentExtraction is recorded per search result and never fails a search.
	KindContentExtraction ErrorKind = "CONTENT_EXTRACTION_ERROR"
	// KindEmptyTree rejects searching a tree without nodes.
	KindEmptyTree ErrorKind = "EMPTY_TREE"
	// KindTimeout means the overall operation deadline expired.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindCanceled means the caller canceled the operation.
	KindCanceled ErrorKind = "CANCELED"
	// KindInvalidArgument rejects bad caller input (k < 1, empty query, no pages).
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"
)

// noNode marks an Error that is not about a specific tree node.
const noNode = -1

// Error is the typed failure returned by every core operation.
type Error struct {
	Kind    ErrorKind
	Message string
	// Raw holds the offending model output for parse failures.
	Raw string
	// NodeID identifies the offending node for invariant violations, or -1.
	NodeID int
	cause  error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, NodeID: noNode, cause: cause}
}

// Errorf creates an Error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...), nil)
}

// WithRaw attaches the raw model text that caused the failure.
func (e *Error) WithRaw(raw string) *Error {
	e.Raw = raw
	return e
}

// WithNode attaches the offending node id.
func (e *Error) WithNode(id int) *Error {
	e.NodeID = id
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Raw != "" {
		msg += fmt.Sprintf(" (raw: %s)", truncate(e.Raw, 200))
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryableError indicates a transient reasoning-call failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
	cause      error
}

func (e *RetryableError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("retryable error: %s", truncate(e.Message, 200))
	}
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

func (e *RetryableError) Unwrap() error {
	return e.cause
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// contextError maps a finished context to TIMEOUT or CANCELED.
func contextError(ctx context.Context, op string) *Error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, op+" timed out", err)
	}
	return NewError(KindCanceled, op+" canceled", err)
}
