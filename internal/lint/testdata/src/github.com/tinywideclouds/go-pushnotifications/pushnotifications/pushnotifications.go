package pushnotifications

import "context"

type Option func()

type Instance struct{}

func New(instanceID string, opts ...Option) (*Instance, error) { return &Instance{}, nil }

func Start(ctx context.Context, instanceID string, opts ...Option) (*Instance, error) {
	return &Instance{}, nil
}

func (i *Instance) Subscribe(ctx context.Context, interest string) error { return nil }

func (i *Instance) Unsubscribe(ctx context.Context, interest string) error { return nil }

func (i *Instance) SetSubscriptions(ctx context.Context, interests []string) error { return nil }
