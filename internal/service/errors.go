package service

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureKind classifies why a fetch was aborted
type FailureKind string

const (
	// FailureNetwork indicates a transport error talking to the registry
	FailureNetwork FailureKind = "network"

	// FailureRemoteRejected indicates the registry answered with a non-success status
	FailureRemoteRejected FailureKind = "remote_rejected"

	// FailureMalformedResponse indicates a body that could not be decoded
	FailureMalformedResponse FailureKind = "malformed_response"

	// FailureTimeout indicates a request deadline was exceeded
	FailureTimeout FailureKind = "timeout"
)

// Input errors, returned before any request is made
var (
	ErrEmptyQuery      = errors.New("query condition must not be empty")
	ErrInvalidPageSize = errors.New("page size out of range")
)

// FetchFailure aborts a whole fetch. A failed fetch never returns partial data.
type FetchFailure struct {
	Kind       FailureKind
	Page       int // 1-based page that failed
	StatusCode int // set for FailureRemoteRejected
	Err        error
}

// Error implements the error interface
func (f *FetchFailure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("fetch failed [%s] on page %d (HTTP %d): %v", f.Kind, f.Page, f.StatusCode, f.Err)
	}
	return fmt.Sprintf("fetch failed [%s] on page %d: %v", f.Kind, f.Page, f.Err)
}

// Unwrap supports error unwrapping
func (f *FetchFailure) Unwrap() error {
	return f.Err
}

// retryable reports whether another attempt at the same page is worthwhile
func (f *FetchFailure) retryable() bool {
	switch f.Kind {
	case FailureNetwork, FailureTimeout:
		return true
	case FailureRemoteRejected:
		return f.StatusCode == http.StatusTooManyRequests || f.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// KindOf extracts the failure kind from an error chain; ok is false if err
// is not a FetchFailure
func KindOf(err error) (kind FailureKind, ok bool) {
	var f *FetchFailure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return "", false
}
