package api

import (
	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

type RegisterRequest struct {
	Token                  string          `json:"token"`
	KnownPreviousClientIDs []string        `json:"knownPreviousClientIds"`
	Metadata               device.Metadata `json:"metadata"`
}

type RegisterResponse struct {
	ID                 string   `json:"id"`
	InitialInterestSet []string `json:"initialInterestSet"`
}

type RefreshTokenRequest struct {
	Token string `json:"token"`
}

type SetSubscriptionsRequest struct {
	Interests []string `json:"interests"`
}

// DeviceResponse is the device API's view of a device.
type DeviceResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId,omitempty"`
	Interests []string        `json:"interests,omitempty"`
	Metadata  device.Metadata `json:"metadata"`
}
