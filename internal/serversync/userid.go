package serversync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-pushnotifications/internal/api"
	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

// UserIDError explains why a SetUserID job failed.
type UserIDError struct {
	Message string
	Err     error
}

func (e *UserIDError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserIDError) Unwrap() error {
	return e.Err
}

var (
	ErrAnotherUser           = errors.New("this device has already been registered to another user id")
	ErrTokenProviderMissing  = errors.New("token provider is missing")
	ErrTokenProviderTimedOut = errors.New("token provider timed out")
)

func (h *Handler) processSetUserID(ctx context.Context, userID string) {
	err := h.setUserID(ctx, userID)
	if err != nil {
		h.logger.Warn("Set user id failed", "user_id", userID, "err", err)
	} else {
		h.logger.Info("User id set", "user_id", userID)
	}
	if h.events.SetUserIDResult != nil {
		h.events.SetUserIDResult(userID, err)
	}
}

func (h *Handler) setUserID(ctx context.Context, userID string) error {
	st, err := h.state.Get(ctx)
	if err != nil {
		return &UserIDError{Message: "Could not set user id: failed to read device state", Err: err}
	}
	if st.UserID == userID {
		return nil
	}
	if st.UserID != "" {
		return &UserIDError{Message: "Could not set user id", Err: ErrAnotherUser}
	}

	err = h.associateUser(ctx, st.DeviceID, userID)
	if api.IsDeviceNotFound(err) {
		if rerr := h.recreateDevice(ctx); rerr != nil {
			return &UserIDError{Message: "Could not set user id: failed to recreate device", Err: rerr}
		}
		st, err = h.state.Get(ctx)
		if err != nil {
			return &UserIDError{Message: "Could not set user id: failed to read device state", Err: err}
		}
		err = h.associateUser(ctx, st.DeviceID, userID)
	}
	if err != nil {
		return toUserIDError(err)
	}

	_, err = h.state.Update(ctx, func(s *device.State) (bool, error) {
		s.UserID = userID
		return true, nil
	})
	if err != nil {
		return &UserIDError{Message: "Could not set user id: failed to save user id", Err: err}
	}
	return nil
}

// associateUser fetches a token for userID and hands it to the device API.
func (h *Handler) associateUser(ctx context.Context, deviceID, userID string) error {
	provider := h.tokenProvider()
	if provider == nil {
		return ErrTokenProviderMissing
	}
	token, err := h.fetchToken(ctx, provider, userID)
	if err != nil {
		return err
	}
	return h.api.SetUserID(ctx, deviceID, token, h.cfg.Retry)
}

type tokenFetchError struct{ err error }

func (e *tokenFetchError) Error() string { return e.err.Error() }
func (e *tokenFetchError) Unwrap() error { return e.err }

type providerPanic struct{ value any }

func (p providerPanic) Error() string { return fmt.Sprintf("token provider panicked: %v", p.value) }

func (h *Handler) fetchToken(ctx context.Context, provider auth.TokenProvider, userID string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, h.cfg.TokenProviderTimeout)
	defer cancel()

	type result struct {
		token string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: providerPanic{value: r}}
			}
		}()
		token, err := provider.FetchToken(fetchCtx, userID)
		ch <- result{token: token, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return "", ErrTokenProviderTimedOut
			}
			return "", &tokenFetchError{err: r.err}
		}
		return r.token, nil
	case <-fetchCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrTokenProviderTimedOut
	}
}

func toUserIDError(err error) error {
	var panicked providerPanic
	var fetchErr *tokenFetchError
	switch {
	case errors.Is(err, ErrTokenProviderMissing):
		return &UserIDError{Message: "Could not set user id", Err: err}
	case errors.Is(err, ErrTokenProviderTimedOut):
		return &UserIDError{Message: "Could not set user id", Err: err}
	case errors.As(err, &panicked):
		return &UserIDError{Message: "Could not set user id: unexpected error from token provider", Err: err}
	case errors.As(err, &fetchErr):
		return &UserIDError{Message: "Could not set user id: token provider returned an error", Err: fetchErr.err}
	case api.IsBadJWT(err):
		return &UserIDError{Message: "Could not set user id: jwt rejected by the device API", Err: err}
	case api.IsUnprocessableEntity(err):
		return &UserIDError{Message: "Could not set user id: device API could not process the token", Err: err}
	case api.IsBadRequest(err):
		return &UserIDError{Message: "Could not set user id: bad request", Err: err}
	default:
		return &UserIDError{Message: "Could not set user id: unexpected error", Err: err}
	}
}
