package compat

import (
	"context"

	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
)

var defaultFacade = NewFacade()

// Default returns the process-wide facade used by the package functions.
func Default() *Facade {
	return defaultFacade
}

func Start(ctx context.Context, instanceID string, opts ...pushnotifications.Option) (*pushnotifications.Instance, error) {
	return defaultFacade.Start(ctx, instanceID, opts...)
}

func Subscribe(ctx context.Context, interest string) error {
	return defaultFacade.Subscribe(ctx, interest)
}

func Unsubscribe(ctx context.Context, interest string) error {
	return defaultFacade.Unsubscribe(ctx, interest)
}

func UnsubscribeAll(ctx context.Context) error {
	return defaultFacade.UnsubscribeAll(ctx)
}

func SetSubscriptions(ctx context.Context, interests []string) error {
	return defaultFacade.SetSubscriptions(ctx, interests)
}

func Subscriptions(ctx context.Context) ([]string, error) {
	return defaultFacade.Subscriptions(ctx)
}

func SetUserID(ctx context.Context, userID string, provider auth.TokenProvider, callback func(error)) error {
	return defaultFacade.SetUserID(ctx, userID, provider, callback)
}

func SetOnMessageReceivedListener(fn func(pushnotifications.Message)) error {
	return defaultFacade.SetOnMessageReceivedListener(fn)
}

func SetOnDeviceInterestsChangedListener(fn func(interests []string)) error {
	return defaultFacade.SetOnDeviceInterestsChangedListener(fn)
}

// Deprecated: use SetOnDeviceInterestsChangedListener.
func SetOnSubscriptionsChangedListener(fn func(interests []string)) error {
	return defaultFacade.SetOnDeviceInterestsChangedListener(fn)
}

func Stop(ctx context.Context) error {
	return defaultFacade.Stop(ctx)
}

func ClearAllState(ctx context.Context) error {
	return defaultFacade.ClearAllState(ctx)
}
