package compat

import (
	"context"

	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
)

func Start(ctx context.Context, instanceID string, opts ...pushnotifications.Option) (*pushnotifications.Instance, error) {
	return nil, nil
}

func Subscribe(ctx context.Context, interest string) error { return nil }

func SetSubscriptions(ctx context.Context, interests []string) error { return nil }
