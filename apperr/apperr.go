// Package apperr defines the typed business failures shared by every layer.
//
// Each failure has a Kind from the error taxonomy and, for the more specific
// failures, a Code. errors.Is matches a specific sentinel by code and a
// general sentinel by kind, so an OrderAlreadyPaid failure is both
// ErrOrderAlreadyPaid and ErrConflict.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInsufficientStock
	KindInvalidStateTransition
	KindForbidden
	KindInvalidCredential
	KindTooManySubscribers
	KindValidation
	KindMissingSessionContext
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindInvalidStateTransition:
		return "invalid_state_transition"
	case KindForbidden:
		return "forbidden"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindTooManySubscribers:
		return "too_many_subscribers"
	case KindValidation:
		return "validation"
	case KindMissingSessionContext:
		return "missing_session_context"
	}
	return "internal"
}

// Error is a business rule violation. EntityID names the offending entity
// when there is one.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	EntityID interface{}
}

func (e *Error) Error() string {
	if e.EntityID != nil {
		return fmt.Sprintf("%s (id=%v)", e.Message, e.EntityID)
	}
	return e.Message
}

// Is matches sentinels: by code when the target has one, by kind otherwise.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Kind == e.Kind
}

// ErrorCode is the code reported to clients.
func (e *Error) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.String()
}

// New returns a failure of the sentinel's kind and code with its own message.
func (e *Error) New(id interface{}, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     e.Kind,
		Code:     e.Code,
		Message:  fmt.Sprintf(format, args...),
		EntityID: id,
	}
}

// WithID returns a failure carrying the sentinel's message and the given entity id.
func (e *Error) WithID(id interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, EntityID: id}
}

var (
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict               = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInsufficientStock      = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition, Message: "invalid state transition"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidCredential      = &Error{Kind: KindInvalidCredential, Message: "invalid credential"}
	ErrTooManySubscribers     = &Error{Kind: KindTooManySubscribers, Message: "too many subscribers"}
	ErrValidation             = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrMissingSessionContext  = &Error{Kind: KindMissingSessionContext, Message: "no table session in credential"}

	ErrExpired              = &Error{Kind: KindInvalidCredential, Code: "expired", Message: "credential expired"}
	ErrTableAlreadyOccupied = &Error{Kind: KindConflict, Code: "table_already_occupied", Message: "table already has an open session"}
	ErrOrderAlreadyPaid     = &Error{Kind: KindConflict, Code: "order_already_paid", Message: "order is attached to a live payment"}
	ErrDuplicateEmployment  = &Error{Kind: KindConflict, Code: "duplicate_employment", Message: "user is already employed at this venue"}
	ErrOrdersNotFound       = &Error{Kind: KindNotFound, Code: "orders_not_found", Message: "orders not found"}
	ErrSessionClosed        = &Error{Kind: KindInvalidStateTransition, Code: "session_closed", Message: "table session is closed"}
	ErrOrderNotModifiable   = &Error{Kind: KindInvalidStateTransition, Code: "order_not_modifiable", Message: "order can no longer be modified"}
	ErrPaymentNotModifiable = &Error{Kind: KindInvalidStateTransition, Code: "payment_not_modifiable", Message: "payment can no longer be modified"}
)

// KindOf returns the kind of err, KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a failure onto a response code. Rows of another venue
// never reach a Forbidden check: tenant-scoped queries already report them
// as NotFound.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict, KindInsufficientStock:
		return http.StatusConflict
	case KindInvalidStateTransition:
		return http.StatusUnprocessableEntity
	case KindValidation, KindMissingSessionContext:
		return http.StatusBadRequest
	case KindInvalidCredential:
		return http.StatusUnauthorized
	case KindTooManySubscribers:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
