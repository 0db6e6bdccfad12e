// Package errors provides error wrapping utilities for context-aware error messages
// and the sentinel kinds used to classify failures across the uploader.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error kinds. Components wrap one of these with %w so callers can classify
// a failure with Is regardless of how much context was added on the way up.
var (
	// ErrTransport is a socket or protocol failure on a client connection.
	ErrTransport = stderrors.New("transport error")
	// ErrCredential is a missing or malformed identity tuple.
	ErrCredential = stderrors.New("credential error")
	// ErrDecode means the payload is not a recognized image container.
	ErrDecode = stderrors.New("decode error")
	// ErrEncode means the raster could not be written in the canonical format.
	ErrEncode = stderrors.New("encode error")
	// ErrStoreExecution is a single statement that failed to execute.
	ErrStoreExecution = stderrors.New("store execution error")
	// ErrStoreUnavailable means the store worker did not answer.
	ErrStoreUnavailable = stderrors.New("store unavailable")
	// ErrQueueFull means a request could not be enqueued in time.
	ErrQueueFull = stderrors.New("store queue full")
	// ErrContractViolation is a broken internal invariant.
	ErrContractViolation = stderrors.New("contract violation")
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return stderrors.New(text)
}
