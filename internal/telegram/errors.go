package telegram

import (
	"errors"
	"fmt"
)

// UserError carries a message that is safe to show in the chat, plus the
// underlying cause for the logs.
type UserError struct {
	Message string
	Cause   error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

func UserErrorf(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// WrapUserError pairs an internal failure with the message users see.
func WrapUserError(message string, cause error) *UserError {
	return &UserError{Message: message, Cause: cause}
}

func IsUserError(err error) bool {
	var userErr *UserError
	return errors.As(err, &userErr)
}

// UserMessage returns the text to reply with: the UserError message, or a
// generic one for anything else.
func UserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Message
	}
	return MsgInternalError
}

// ShouldLog is false only for user mistakes, which carry no cause.
func ShouldLog(err error) bool {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Cause != nil
	}
	return true
}
