package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

var (
	ErrUnknownProvider = errors.New("no handler configured for provider")
	ErrNoRecipients    = errors.New("no valid recipients")
)

// NewProcessor creates the logic that sends one DispatchRequest. factories maps a
// provider name to the Factory building its handlers.
//
// Only transient failures (no response from the provider) are returned, which lets
// the pipeline redeliver the request. Everything else is logged and acknowledged.
func NewProcessor(
	factories map[string]dispatch.Factory,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[DispatchRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *DispatchRequest) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		_, err := Dispatch(ctx, factories, request, procLogger)
		if err == nil {
			return nil
		}
		if notification.Classify(err) == notification.ClassTransient {
			procLogger.Error("Dispatch aborted", "request_id", request.RequestID, "err", err)
			return err // Retryable
		}
		procLogger.Warn("Dropping request", "request_id", request.RequestID, "err", err)
		return nil
	}
}

// Dispatch builds a fresh handler for the request's provider, queues its recipients
// and sends. Every call gets its own handler so concurrent workers never share a
// device queue. Rejected tokens are logged and skipped.
func Dispatch(
	ctx context.Context,
	factories map[string]dispatch.Factory,
	request *DispatchRequest,
	logger *slog.Logger,
) (*notification.Result, error) {
	reqLogger := logger.With("request_id", request.RequestID, "provider", request.Provider)

	factory, ok := factories[request.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, request.Provider)
	}
	handler, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s handler: %w", request.Provider, err)
	}

	// 1. Queue recipients
	for _, device := range request.Devices {
		if err := handler.AddDevice(device); err != nil {
			reqLogger.Warn("Rejected device token", "err", err)
		}
	}
	if len(request.Credentials) > 0 {
		adder, ok := dispatch.Find[dispatch.CredentialAdder](handler)
		if !ok {
			reqLogger.Warn("Provider does not accept client credentials", "count", len(request.Credentials))
		} else {
			for _, c := range request.Credentials {
				if err := adder.AddCredentials(c.ClientID, c.ClientSecret); err != nil {
					reqLogger.Warn("Rejected client credentials", "err", err)
				}
			}
		}
	}
	if handler.Pending() == 0 {
		return nil, ErrNoRecipients
	}

	// 2. Send
	notifier := dispatch.NewNotifier(handler)
	var result *notification.Result
	if request.Message != nil {
		result, err = notifier.Send(ctx, request.Message.ToMessage())
	} else {
		result, err = notifier.SendRaw(ctx, request.Raw, request.RawPriority())
	}

	if result != nil {
		reqLogger.Info("Notification dispatched",
			"delivered", len(result.Succeeded()),
			"failed", len(result.Failed()),
			"invalid", len(result.InvalidDevices()),
			"rate_limited", len(result.RateLimitedDevices()))
		if invalid := result.InvalidDevices(); len(invalid) > 0 {
			reqLogger.Info("Provider reported invalid device tokens", "devices", invalid)
		}
	}
	return result, err
}
