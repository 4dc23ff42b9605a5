package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/rentfolio/go-push-service/internal/device"
	"github.com/rentfolio/go-push-service/pkg/push"
)

type DeviceAPI struct {
	Registry *device.Registry
	Logger   *slog.Logger
}

func NewDeviceAPI(registry *device.Registry, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{Registry: registry, Logger: logger}
}

type registerDeviceRequest struct {
	Platform string              `json:"platform"`
	Token    string              `json:"token"`
	Metadata push.DeviceMetadata `json:"metadata"`
}

// deviceResponse is the read-back shape. The token is always redacted.
type deviceResponse struct {
	ID           string              `json:"id"`
	Platform     string              `json:"platform"`
	Provider     string              `json:"provider"`
	Token        string              `json:"token"`
	Metadata     push.DeviceMetadata `json:"metadata"`
	IsActive     bool                `json:"is_active"`
	LastActiveAt time.Time           `json:"last_active_at"`
	CreatedAt    time.Time           `json:"created_at"`
}

func deviceResponseOf(d push.Device) deviceResponse {
	return deviceResponse{
		ID:           d.ID,
		Platform:     string(d.Platform),
		Provider:     string(d.Provider),
		Token:        d.RedactedToken(),
		Metadata:     d.Metadata,
		IsActive:     d.IsActive,
		LastActiveAt: d.LastActiveAt,
		CreatedAt:    d.CreatedAt,
	}
}

// RegisterDevice handles POST /api/v1/devices.
func (a *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userURN, ok := callerURN(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	platform, known := push.ParsePlatform(req.Platform)
	if !known {
		a.Logger.Warn("registration for unknown platform", "platform", req.Platform)
	}

	d, err := a.Registry.Register(r.Context(), userURN, device.Registration{
		Platform: platform,
		Token:    req.Token,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeDomainError(w, a.Logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, deviceResponseOf(*d))
}

// ListDevices handles GET /api/v1/devices.
func (a *DeviceAPI) ListDevices(w http.ResponseWriter, r *http.Request) {
	userURN, ok := callerURN(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	devices, err := a.Registry.List(r.Context(), userURN)
	if err != nil {
		writeDomainError(w, a.Logger, err)
		return
	}

	out := make([]deviceResponse, len(devices))
	for i, d := range devices {
		out[i] = deviceResponseOf(d)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": out})
}

// UnregisterDevice handles DELETE /api/v1/devices/{id}.
func (a *DeviceAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	userURN, ok := callerURN(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	deviceID := r.PathValue("id")
	if deviceID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing device id")
		return
	}

	if err := a.Registry.Unregister(r.Context(), userURN, deviceID); err != nil {
		writeDomainError(w, a.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
