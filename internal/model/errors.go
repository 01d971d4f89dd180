package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure independently of where it surfaced.
// Kinds drive retry decisions, alert thresholds, and user-facing messages.
type ErrorKind string

const (
	ErrKindInvalidInput        ErrorKind = "invalid_input"
	ErrKindConfigInvalid       ErrorKind = "config_invalid"
	ErrKindKeywordLoad         ErrorKind = "keyword_load_error"
	ErrKindEncoderUnavailable  ErrorKind = "encoder_unavailable"
	ErrKindKVUnavailable       ErrorKind = "kv_unavailable"
	ErrKindTimeout             ErrorKind = "timeout"
	ErrKindRateLimit           ErrorKind = "rate_limit"
	ErrKindServerError         ErrorKind = "server_error"
	ErrKindAuthError           ErrorKind = "auth_error"
	ErrKindContextLength       ErrorKind = "context_length_exceeded"
	ErrKindBudgetExceeded      ErrorKind = "budget_exceeded"
	ErrKindAllRetriesFailed    ErrorKind = "all_retries_failed"
	ErrKindUnknown             ErrorKind = "unknown_error"
)

// retryableKinds lists error kinds worth another attempt.
var retryableKinds = map[ErrorKind]bool{
	ErrKindTimeout:     true,
	ErrKindRateLimit:   true,
	ErrKindServerError: true,
	ErrKindUnknown:     true,
}

// Retryable reports whether an error of this kind should be retried.
func (k ErrorKind) Retryable() bool {
	return retryableKinds[k]
}

// KindError attaches an ErrorKind to an underlying error.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// E wraps err with the given kind. A nil err produces an error that
// carries only the kind.
func E(kind ErrorKind, err error) error {
	return &KindError{Kind: kind, Err: err}
}

// Ef wraps a formatted error with the given kind.
func Ef(kind ErrorKind, format string, args ...any) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, or ErrKindUnknown if none is attached.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ErrKindUnknown
}
