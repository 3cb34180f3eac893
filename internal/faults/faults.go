package faults

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates failure classes.
type Kind string

const (
	// KindConnection is a transport or socket failure. Retryable.
	KindConnection Kind = "connection"

	// KindAuth means the terminal rejected our credentials. Never
	// retried automatically - retrying invalid credentials only
	// amplifies lockout risk.
	KindAuth Kind = "auth"

	// KindBreakerOpen is a synthetic fast-fail signal: the circuit
	// breaker rejected the call before any remote attempt was made.
	KindBreakerOpen Kind = "circuit_breaker_open"

	// KindTimeout means an operation exceeded its deadline. Retryable.
	KindTimeout Kind = "timeout"

	// KindData is a malformed or unexpected response from the terminal.
	KindData Kind = "data"

	// KindValidation means caller-supplied parameters were invalid
	// before any remote call.
	KindValidation Kind = "validation"

	// KindState means the operation was attempted on a session in an
	// invalid lifecycle state.
	KindState Kind = "state"
)

// retryable maps each kind to its retry policy.
var retryable = map[Kind]bool{
	KindConnection:  true,
	KindAuth:        false,
	KindBreakerOpen: false,
	KindTimeout:     true,
	KindData:        false,
	KindValidation:  false,
	KindState:       false,
}

// Error is the tagged failure value used across the resilience layer.
type Error struct {
	Kind    Kind
	Message string

	// Correlation bundle for structured logging.
	Op            string    // attempted operation, e.g. "session.acquire"
	SessionID     string    // empty when no session existed yet
	CorrelationID uuid.UUID // unique per failure
	Timestamp     time.Time

	Cause error
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:          kind,
		Message:       message,
		Op:            op,
		CorrelationID: uuid.New(),
		Timestamp:     time.Now().UTC(),
	}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, op string, cause error) *Error {
	e := New(kind, op, "")
	e.Cause = cause
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// WithSession attaches a session id to the correlation bundle.
func (e *Error) WithSession(id string) *Error {
	e.SessionID = id
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether retrying the operation can succeed.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// KindOf extracts the failure kind from an error chain. Errors that do
// not originate from this taxonomy report an empty kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err is a retryable failure. Unknown errors
// are treated as non-retryable.
func Retryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// LogAttrs returns alternating key/value pairs for slog, never including
// secrets.
func (e *Error) LogAttrs() []any {
	attrs := []any{
		"kind", string(e.Kind),
		"op", e.Op,
		"correlation_id", e.CorrelationID.String(),
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	return attrs
}
