package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/rentfolio/go-push-service/internal/dispatch"
	"github.com/rentfolio/go-push-service/pkg/push"
)

type DispatchAPI struct {
	Engine *dispatch.Engine
	Logger *slog.Logger
}

func NewDispatchAPI(engine *dispatch.Engine, logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{Engine: engine, Logger: logger}
}

type sendRequest struct {
	// DeviceID narrows the send to one device; empty means every active
	// device of the caller.
	DeviceID string `json:"device_id,omitempty"`
	push.Message
}

// Send handles POST /api/v1/send. Partial failure is a normal 200
// response; the result carries the per-device detail.
func (a *DispatchAPI) Send(w http.ResponseWriter, r *http.Request) {
	userURN, ok := callerURN(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := a.Engine.Send(r.Context(), dispatch.Target{UserID: userURN, DeviceID: req.DeviceID}, req.Message)
	if err != nil {
		writeDomainError(w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sendTemplatedRequest struct {
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables,omitempty"`
}

// SendTemplated handles POST /api/v1/send/template.
func (a *DispatchAPI) SendTemplated(w http.ResponseWriter, r *http.Request) {
	userURN, ok := callerURN(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req sendTemplatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Template == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing template name")
		return
	}

	result, err := a.Engine.SendTemplated(r.Context(), req.Template, userURN, req.Variables)
	if err != nil {
		writeDomainError(w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type broadcastRequest struct {
	Title    string        `json:"title"`
	Body     string        `json:"body"`
	Priority push.Priority `json:"priority,omitempty"`
}

// Broadcast handles POST /api/v1/broadcast. The route is mounted behind
// the admin guard; the handler itself only shapes the call.
func (a *DispatchAPI) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := a.Engine.Broadcast(r.Context(), req.Title, req.Body, req.Priority)
	if err != nil {
		writeDomainError(w, a.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
