package a

import (
	"context"

	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications/compat"
	"other"
)

const (
	goodInstance = "8a070eaa-033f-46d6-bb90-f4c15acc47e1"
	badTopic     = "bad topic"
)

func instanceIDs(ctx context.Context, dynamic string) {
	pushnotifications.New(goodInstance)
	pushnotifications.New(dynamic)
	other.New("nope")

	pushnotifications.New("not-a-uuid") // want `The instance id argument looks incorrect`

	pushnotifications.Start(ctx, "8a070eaa033f46d6bb90f4c15acc47e1") // want `The instance id argument looks incorrect`

	compat.Start(ctx, "nope") // want `The instance id argument looks incorrect`
}

func interests(ctx context.Context, pn *pushnotifications.Instance, dynamic string) {
	pn.Subscribe(ctx, "donuts")
	pn.Subscribe(ctx, "a_b-c=d@e,f.g;h")
	pn.Subscribe(ctx, dynamic)
	other.Subscribe("bad interest!")

	pn.Subscribe(ctx, "bad interest!") // want `contains invalid characters`

	pn.Unsubscribe(ctx, badTopic) // want `contains invalid characters`

	pn.Subscribe(ctx, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa") // want `too long \(170 characters\)`

	compat.Subscribe(ctx, "café") // want `contains invalid characters`
}

func interestLists(ctx context.Context, pn *pushnotifications.Instance, dynamic []string) {
	pn.SetSubscriptions(ctx, dynamic)

	pn.SetSubscriptions(ctx, []string{"ok", "no spaces"}) // want `contains invalid characters`

	compat.SetSubscriptions(ctx, []string{"ok", "", "fine"}) // want `contains invalid characters`
}
