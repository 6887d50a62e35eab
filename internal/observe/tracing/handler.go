// Package tracing adds OpenTelemetry spans around dispatch handlers.
package tracing

import (
	"context"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tinywideclouds/go-push-dispatch/dispatch"

// Handler is a dispatch.Handler that opens a span per send.
type Handler struct {
	dispatch.Handler
	tracer trace.Tracer
	name   string
}

// NewHandler decorates h. A nil tracer uses the global provider.
func NewHandler(h dispatch.Handler, name string, tracer trace.Tracer) *Handler {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &Handler{Handler: h, tracer: tracer, name: name}
}

// WrapFactory decorates every handler f builds.
func WrapFactory(name string, f dispatch.Factory, tracer trace.Tracer) dispatch.Factory {
	return func() (dispatch.Handler, error) {
		h, err := f()
		if err != nil {
			return nil, err
		}
		return NewHandler(h, name, tracer), nil
	}
}

func (h *Handler) Unwrap() dispatch.Handler { return h.Handler }

func (h *Handler) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	ctx, span := h.start(ctx, "Handler.Send", attribute.String("notification.priority", msg.Priority().String()))
	defer span.End()

	result, err := h.Handler.Send(ctx, msg)
	finish(span, result, err)
	return result, err
}

func (h *Handler) SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	ctx, span := h.start(ctx, "Handler.SendRaw", attribute.String("notification.priority", priority.String()))
	defer span.End()

	result, err := h.Handler.SendRaw(ctx, payload, priority)
	finish(span, result, err)
	return result, err
}

func (h *Handler) start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("provider.name", h.name),
		attribute.Int("notification.devices", h.Pending()),
	)
	return h.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, result *notification.Result, err error) {
	if result != nil {
		span.SetAttributes(
			attribute.Int("notification.failed", len(result.Failed())),
			attribute.Int("notification.invalid", len(result.InvalidDevices())),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	if result != nil && !result.OK() {
		span.SetStatus(codes.Error, result.FirstError().Error())
	}
}
