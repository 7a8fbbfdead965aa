package api

import (
	"errors"
	"sort"
	"strings"

	"sumarte/internal/core"
)

var (
	// ErrUnauthorized is a 401 before any refresh was attempted.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired means the refresh failed or the replay was still
	// rejected. The session must be discarded.
	ErrSessionExpired = errors.New("session expired")
	ErrNotFound       = errors.New("not found")
)

// MsgNetwork is shown for any transport failure.
const MsgNetwork = "could not reach the server"

// ValidationError carries field-level messages, either from a 400 response
// or from a local pre-check.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		msg := strings.Join(e.Fields[k], "; ")
		if k == "" || k == "non_field_errors" {
			parts = append(parts, msg)
			continue
		}
		parts = append(parts, k+": "+msg)
	}
	return strings.Join(parts, "; ")
}

// First returns the first message for field, or "".
func (e *ValidationError) First(field string) string {
	if msgs := e.Fields[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return MsgNetwork + ": " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// BusinessError is any other rejected request. Message is the backend's own
// text and is shown as is.
type BusinessError struct {
	Status  int
	Message string
}

func (e *BusinessError) Error() string { return e.Message }

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *BusinessError) Is(target error) bool {
	return target == ErrNotFound && e.Status == 404
}

// UserMessage renders err for a notification.
func UserMessage(err error) string {
	var ve *ValidationError
	var ne *NetworkError
	var be *BusinessError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrUnauthorized):
		return "your session has expired, please sign in again"
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &ne):
		return MsgNetwork
	case errors.As(err, &be):
		return be.Message
	}
	return "unexpected error"
}

// FromFieldErrors converts local validation results. It returns nil when
// there is nothing to report.
func FromFieldErrors(errs []core.FieldError) *ValidationError {
	if len(errs) == 0 {
		return nil
	}
	ve := &ValidationError{Fields: map[string][]string{}}
	for _, e := range errs {
		ve.Fields[e.Field] = append(ve.Fields[e.Field], e.Message)
	}
	return ve
}
