package pushnotifications

import (
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-pushnotifications/internal/serversync"
)

var (
	ErrEmptyInstanceID = errors.New("instance id must not be empty")
	ErrUserIDEmpty     = errors.New("user id must not be empty")

	// ErrTokenProviderMissing is returned when SetUserID gets no provider.
	ErrTokenProviderMissing = serversync.ErrTokenProviderMissing

	// ErrAnotherUser is the cause of a CallbackError when the device was
	// bound to a different user while the request was queued.
	ErrAnotherUser = serversync.ErrAnotherUser

	ErrTokenProviderTimedOut = serversync.ErrTokenProviderTimedOut
	ErrNoPublishID           = errors.New("message carries no publish id")
	ErrNotRegistered         = errors.New("device is not registered yet")
)

// AlreadyRegisteredAnotherUserError rejects SetUserID for a device that is
// already bound to a different user. Call Stop first to unbind it.
type AlreadyRegisteredAnotherUserError struct {
	Current   string
	Requested string
}

func (e *AlreadyRegisteredAnotherUserError) Error() string {
	return fmt.Sprintf("this device has already been registered to user id %q, cannot set user id %q (call Stop first)",
		e.Current, e.Requested)
}

// CallbackError is handed to a SetUserID callback when the association failed.
type CallbackError struct {
	Message string
	Cause   error
}

func (e *CallbackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CallbackError) Unwrap() error {
	return e.Cause
}

func toCallbackError(err error) error {
	if err == nil {
		return nil
	}
	var uerr *serversync.UserIDError
	if errors.As(err, &uerr) {
		return &CallbackError{Message: uerr.Message, Cause: uerr.Err}
	}
	return &CallbackError{Message: "Could not set user id", Cause: err}
}
