// Package api exposes the service's HTTP handlers. The auth middleware
// supplies the caller identity; ownership is re-checked by the domain
// layer before any mutating registry operation.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/rentfolio/go-push-service/pkg/push"
)

// callerURN pulls the authenticated identity the middleware stashed in the
// request context.
func callerURN(r *http.Request) (urn.URN, bool) {
	var zero urn.URN
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		return zero, false
	}
	userURN, err := urn.Parse(userID)
	if err != nil {
		return zero, false
	}
	return userURN, true
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, push.ErrInvalidToken), errors.Is(err, push.ErrInvalidMessage):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, push.ErrNotOwner):
		response.WriteJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, push.ErrDeviceNotFound),
		errors.Is(err, push.ErrTemplateNotFound),
		errors.Is(err, push.ErrNoTargetDevices),
		errors.Is(err, push.ErrRecordNotFound):
		response.WriteJSONError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("request failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
