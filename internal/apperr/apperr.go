// Package apperr classifies pipeline and control-plane errors into the
// fixed set of kinds the orchestrator needs to react to differently
// (retry, fall back to another provider, fail the stage, etc).
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the ten error kinds the orchestration core distinguishes.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindCapacity      Kind = "capacity"
	KindCredential    Kind = "credential"
	KindQuota         Kind = "quota"
	KindSizeLimit     Kind = "size_limit"
	KindTransient     Kind = "transient"
	KindTimeout       Kind = "timeout"
	KindCancellation  Kind = "cancellation"
	KindDataContract  Kind = "data_contract"
	KindCleanup       Kind = "cleanup"
)

// Error wraps an underlying error with a Kind so callers can branch on
// failure category without string-matching provider responses more than
// once.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// quotaMarkers are the substrings spec.md §7 names as recognizing a
// provider quota/rate-limit failure, checked case-insensitively.
var quotaMarkers = []string{"429", "quota", "resource exhausted", "rate limit", "rate_limit"}

// credentialMarkers recognize a missing/invalid credential response.
var credentialMarkers = []string{"401", "403", "invalid api key", "missing api key", "unauthorized", "api key not valid"}

// ClassifyProviderError inspects a raw provider error/response body and
// returns the Kind it best matches, defaulting to KindTransient so the
// caller's retry-with-backoff path is exercised for anything unrecognized.
func ClassifyProviderError(err error) Kind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, m := range quotaMarkers {
		if strings.Contains(msg, m) {
			return KindQuota
		}
	}
	for _, m := range credentialMarkers {
		if strings.Contains(msg, m) {
			return KindCredential
		}
	}
	return KindTransient
}
