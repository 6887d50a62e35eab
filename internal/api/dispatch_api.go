// Package api exposes a synchronous HTTP entry point next to the Pub/Sub pipeline.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

type DispatchAPI struct {
	Factories map[string]dispatch.Factory
	Logger    *slog.Logger
}

func NewDispatchAPI(factories map[string]dispatch.Factory, logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{
		Factories: factories,
		Logger:    logger,
	}
}

// DeviceOutcome is the per-device entry of a DispatchResponse.
type DeviceOutcome struct {
	Device    string `json:"device"`
	Delivered bool   `json:"delivered"`
	Class     string `json:"class,omitempty"`
	Error     string `json:"error,omitempty"`
}

type DispatchResponse struct {
	RequestID string          `json:"request_id"`
	Results   []DeviceOutcome `json:"results"`
	Error     string          `json:"error,omitempty"`
}

// Dispatch sends a DispatchRequest and answers with the per-device outcomes.
// A call aborted after some devices were attempted still returns the partial
// result, with a 502 status.
func (api *DispatchAPI) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req pipeline.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		api.Logger.Warn("Dispatch: Validation failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	result, err := pipeline.Dispatch(ctx, api.Factories, &req, api.Logger.With("user", userID))
	switch {
	case errors.Is(err, pipeline.ErrUnknownProvider):
		response.WriteJSONError(w, http.StatusBadRequest, "unknown provider")
		return
	case errors.Is(err, pipeline.ErrNoRecipients):
		response.WriteJSONError(w, http.StatusBadRequest, "no valid recipients")
		return
	case err != nil && result == nil:
		api.Logger.Error("Dispatch failed", "request_id", req.RequestID, "err", err)
		response.WriteJSONError(w, statusFor(err), "dispatch failed")
		return
	}

	status := http.StatusOK
	resp := DispatchResponse{RequestID: req.RequestID, Results: outcomes(result)}
	if err != nil {
		status = statusFor(err)
		resp.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		api.Logger.Error("Dispatch: failed to write response", "err", err)
	}
}

func statusFor(err error) int {
	var validationErr *notification.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case notification.Classify(err) == notification.ClassTransient:
		return http.StatusBadGateway
	}
	var authErr *notification.AuthError
	if errors.As(err, &authErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func outcomes(result *notification.Result) []DeviceOutcome {
	out := make([]DeviceOutcome, 0, result.Len())
	for _, device := range result.Devices() {
		err := result.ErrorFor(device)
		o := DeviceOutcome{Device: device, Delivered: err == nil}
		if err != nil {
			o.Class = string(notification.Classify(err))
			o.Error = err.Error()
		}
		out = append(out, o)
	}
	return out
}
