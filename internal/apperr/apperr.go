// Package apperr defines the error taxonomy shared by the reconcilers and the
// HTTP layer. Callers switch on Kind instead of inspecting messages.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// KindInternal is anything that is not classified below.
	KindInternal Kind = iota
	// KindValidation is a malformed or missing field, or an unknown scope.
	KindValidation
	// KindNotFound is an unknown or soft-deleted local identity.
	KindNotFound
	// KindBackendUnavailable is an unreachable engine or a 5xx response.
	KindBackendUnavailable
	// KindBackendRejected is a 4xx response from the engine.
	KindBackendRejected
	// KindNotMaterialized is a local entity without a remote counterpart.
	KindNotMaterialized
	// KindConflict is a state transition that is not allowed from the current state.
	KindConflict
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindBackendRejected:
		return "backend_rejected"
	case KindNotMaterialized:
		return "not_materialized"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified error.
type Error struct {
	Kind    Kind
	Op      string
	Field   string
	Message string

	// Status and Body carry the engine's response for KindBackendRejected.
	Status int
	Body   json.RawMessage

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a problem with a single input field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// NotFound reports an unknown or hidden local entity.
func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

// Unavailable wraps a transport-level failure talking to a backend.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindBackendUnavailable, Op: op, Err: err}
}

// Rejected carries a 4xx response from the engine verbatim.
func Rejected(op string, status int, body []byte) *Error {
	e := &Error{Kind: KindBackendRejected, Op: op, Status: status}
	if len(body) > 0 {
		e.Body = append(json.RawMessage(nil), body...)
	}
	e.Message = fmt.Sprintf("workflow engine rejected request with status %d", status)
	return e
}

// NotMaterialized reports that a local entity has no remote id yet.
func NotMaterialized(what, id string) *Error {
	return &Error{Kind: KindNotMaterialized, Message: fmt.Sprintf("%s %s is not yet materialized remotely", what, id)}
}

// Conflict reports a disallowed state change.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// WithOp returns a copy of e tagged with op when it has none.
func WithOp(err error, op string) error {
	var e *Error
	if !errors.As(err, &e) || e.Op != "" {
		return err
	}
	cp := *e
	cp.Op = op
	return &cp
}

// As returns the classified error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the classification of err.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
