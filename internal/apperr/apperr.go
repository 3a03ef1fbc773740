// Package apperr defines the error kinds every core operation reports.
// Callers wrap a kind with context and the bot maps the kind to a reply.
package apperr

import (
	"errors"
	"fmt"
)

var (
	NotFound         = errors.New("not found")
	PermissionDenied = errors.New("permission denied")
	InvalidInput     = errors.New("invalid input")
	Conflict         = errors.New("conflict")
	DeliveryFailure  = errors.New("delivery failure")
)

var kinds = []error{NotFound, PermissionDenied, InvalidInput, Conflict, DeliveryFailure}

// Error carries a kind plus the localized text shown to the acting user.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New returns an error of the given kind with a user-facing message.
func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap is New with an underlying cause.
func Wrap(kind error, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or nil for errors outside the taxonomy.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns the user-facing text carried by err, if any.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
