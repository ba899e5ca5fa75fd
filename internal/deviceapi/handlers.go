// Package deviceapi serves the device API for local development and tests.
package deviceapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-pushnotifications/internal/api"
	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
	"github.com/tinywideclouds/go-pushnotifications/pkg/registry"
	"github.com/tinywideclouds/go-pushnotifications/pkg/validation"
)

type DeviceAPI struct {
	Registry  registry.DeviceRegistry
	JWTSecret []byte
	Logger    *slog.Logger
	NewID     func() string
}

func NewDeviceAPI(reg registry.DeviceRegistry, jwtSecret []byte, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Registry:  reg,
		JWTSecret: jwtSecret,
		Logger:    logger.With("component", "device-api"),
		NewID:     uuid.NewString,
	}
}

type GetInterestsResponse struct {
	Interests []string `json:"interests"`
}

// writeRegistryError maps registry failures onto status codes.
func (a *DeviceAPI) writeRegistryError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, registry.ErrDeviceNotFound) {
		response.WriteJSONError(w, http.StatusNotFound, "device not found")
		return
	}
	a.Logger.Error("registry operation failed", "op", op, "err", err)
	response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
}

// --- Registration ---

func (a *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	instanceID := r.PathValue("instanceId")

	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	dev := registry.Device{
		ID:         a.NewID(),
		InstanceID: instanceID,
		Token:      req.Token,
		Interests:  []string{},
		Metadata:   req.Metadata,
		UpdatedAt:  time.Now().UTC(),
	}

	// a returning client inherits the interests of the device it replaces
	for _, known := range req.KnownPreviousClientIDs {
		prev, err := a.Registry.Get(ctx, instanceID, known)
		if err != nil {
			continue
		}
		dev.Interests = device.NormalizeInterests(prev.Interests)
		if err := a.Registry.Delete(ctx, instanceID, known); err != nil {
			a.Logger.Warn("failed to delete replaced device", "device_id", known, "err", err)
		}
		break
	}

	if err := a.Registry.Create(ctx, dev); err != nil {
		a.writeRegistryError(w, "create", err)
		return
	}
	a.Logger.Info("RegisterDevice: device registered", "instance_id", instanceID, "device_id", dev.ID)

	response.WriteJSON(w, http.StatusOK, api.RegisterResponse{ID: dev.ID, InitialInterestSet: dev.Interests})
}

func (a *DeviceAPI) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	err := a.update(r, func(d *registry.Device) error {
		d.Token = req.Token
		return nil
	})
	if err != nil {
		a.writeRegistryError(w, "refresh-token", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *DeviceAPI) GetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := a.Registry.Get(r.Context(), r.PathValue("instanceId"), r.PathValue("deviceId"))
	if err != nil {
		a.writeRegistryError(w, "get", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, api.DeviceResponse{
		ID:        dev.ID,
		UserID:    dev.UserID,
		Interests: dev.Interests,
		Metadata:  dev.Metadata,
	})
}

// ListDevices is a dev server extra for inspecting an instance.
func (a *DeviceAPI) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.Registry.List(r.Context(), r.PathValue("instanceId"))
	if err != nil {
		a.writeRegistryError(w, "list", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, devices)
}

func (a *DeviceAPI) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	instanceID, deviceID := r.PathValue("instanceId"), r.PathValue("deviceId")
	if _, err := a.Registry.Get(r.Context(), instanceID, deviceID); err != nil {
		a.writeRegistryError(w, "delete", err)
		return
	}
	if err := a.Registry.Delete(r.Context(), instanceID, deviceID); err != nil {
		a.writeRegistryError(w, "delete", err)
		return
	}
	a.Logger.Info("DeleteDevice: device deleted", "instance_id", instanceID, "device_id", deviceID)
	w.WriteHeader(http.StatusOK)
}

// --- Interests ---

func (a *DeviceAPI) GetInterests(w http.ResponseWriter, r *http.Request) {
	dev, err := a.Registry.Get(r.Context(), r.PathValue("instanceId"), r.PathValue("deviceId"))
	if err != nil {
		a.writeRegistryError(w, "get-interests", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, GetInterestsResponse{Interests: device.NormalizeInterests(dev.Interests)})
}

func (a *DeviceAPI) Subscribe(w http.ResponseWriter, r *http.Request) {
	interest := r.PathValue("interest")
	if err := validation.ValidateInterest(interest); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := a.update(r, func(d *registry.Device) error {
		d.Interests = device.NormalizeInterests(append(d.Interests, interest))
		return nil
	})
	if err != nil {
		a.writeRegistryError(w, "subscribe", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *DeviceAPI) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	interest := r.PathValue("interest")
	err := a.update(r, func(d *registry.Device) error {
		kept := d.Interests[:0]
		for _, existing := range d.Interests {
			if existing != interest {
				kept = append(kept, existing)
			}
		}
		d.Interests = kept
		return nil
	})
	if err != nil {
		a.writeRegistryError(w, "unsubscribe", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *DeviceAPI) SetSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req api.SetSubscriptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	for _, interest := range req.Interests {
		if err := validation.ValidateInterest(interest); err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	err := a.update(r, func(d *registry.Device) error {
		d.Interests = device.NormalizeInterests(req.Interests)
		return nil
	})
	if err != nil {
		a.writeRegistryError(w, "set-subscriptions", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *DeviceAPI) SetMetadata(w http.ResponseWriter, r *http.Request) {
	var md device.Metadata
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	err := a.update(r, func(d *registry.Device) error {
		d.Metadata = md
		return nil
	})
	if err != nil {
		a.writeRegistryError(w, "set-metadata", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- User ---

// SetUser binds the device to the subject of an HS256 JWT signed with the
// configured secret.
func (a *DeviceAPI) SetUser(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	userID, err := a.verifyUserToken(raw)
	if err != nil {
		a.Logger.Warn("SetUser: token rejected", "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if userID == "" {
		response.WriteJSONError(w, http.StatusUnprocessableEntity, "token has no subject")
		return
	}

	var conflict bool
	err = a.update(r, func(d *registry.Device) error {
		if d.UserID != "" && d.UserID != userID {
			conflict = true
			return nil
		}
		d.UserID = userID
		return nil
	})
	if err != nil {
		a.writeRegistryError(w, "set-user", err)
		return
	}
	if conflict {
		response.WriteJSONError(w, http.StatusBadRequest, "device already associated with another user")
		return
	}
	a.Logger.Info("SetUser: user associated", "device_id", r.PathValue("deviceId"), "user", userID)
	w.WriteHeader(http.StatusOK)
}

func (a *DeviceAPI) verifyUserToken(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parse jwt: %w", err)
	}
	return token.Claims.GetSubject()
}

func (a *DeviceAPI) update(r *http.Request, fn func(*registry.Device) error) error {
	return a.Registry.Update(r.Context(), r.PathValue("instanceId"), r.PathValue("deviceId"), func(d *registry.Device) error {
		if err := fn(d); err != nil {
			return err
		}
		d.UpdatedAt = time.Now().UTC()
		return nil
	})
}
