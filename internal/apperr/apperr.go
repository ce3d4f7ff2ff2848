// Package apperr defines the error taxonomy shared by the services and the
// HTTP layer. Every service failure is an *Error that unwraps to one of the
// kind sentinels, so callers branch with errors.Is.
package apperr

import (
	"errors"
	"strings"
)

// Kinds
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage failure")
)

// Error is a typed failure with a user facing message
type Error struct {
	Kind    error
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Details, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Named failures of the lending domain
var (
	ErrBookNotFound        = &Error{Kind: ErrNotFound, Message: "book not found"}
	ErrMemberNotFound      = &Error{Kind: ErrNotFound, Message: "member not found"}
	ErrLoanNotFound        = &Error{Kind: ErrNotFound, Message: "loan not found"}
	ErrBookUnavailable     = &Error{Kind: ErrConflict, Message: "book is not available for loan"}
	ErrLoanAlreadyReturned = &Error{Kind: ErrConflict, Message: "loan has already been returned"}
	ErrLoanNotReturned     = &Error{Kind: ErrConflict, Message: "loan must be returned before it can be deleted"}
	ErrEmailTaken          = &Error{Kind: ErrConflict, Message: "a member with this email already exists"}
	ErrISBNTaken           = &Error{Kind: ErrConflict, Message: "a book with this ISBN already exists"}
	ErrBookInUse           = &Error{Kind: ErrConflict, Message: "book is referenced by loans"}
	ErrMemberInUse         = &Error{Kind: ErrConflict, Message: "member is referenced by loans"}
)

// Validation builds a validation failure carrying field level details
func Validation(details ...string) *Error {
	return &Error{Kind: ErrValidation, Message: "invalid input", Details: details}
}

// Storage wraps an unexpected storage error
func Storage(op string, err error) *Error {
	return &Error{Kind: ErrStorage, Message: op, Err: err}
}

// Details returns the field details of err, if any
func Details(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Message returns the user facing message of err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
