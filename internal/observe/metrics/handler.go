// Package metrics records Prometheus metrics around dispatch handlers.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

const (
	// summary quantiles
	median = 0.5
	p90    = 0.9
	p99    = 0.99

	medianError = 0.05
	p90Error    = 0.01
	p99Error    = 0.001

	maxAgeDuration = 5 * time.Minute
)

// Collector owns the metric vectors. Create one per registry and wrap every handler
// with it.
type Collector struct {
	sendCounter    *prometheus.CounterVec
	deviceCounter  *prometheus.CounterVec
	sendDuration   *prometheus.SummaryVec
	abortedCounter *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sendCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_send_total",
				Help: "Send calls per provider and method.",
			},
			[]string{"provider", "method"},
		),
		deviceCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_device_results_total",
				Help: "Per-device outcomes per provider.",
			},
			[]string{"provider", "outcome", "class"},
		),
		sendDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "push_send_duration_seconds",
				Help: "Duration of send calls in seconds.",
				Objectives: map[float64]float64{
					median: medianError,
					p90:    p90Error,
					p99:    p99Error,
				},
				MaxAge: maxAgeDuration,
			},
			[]string{"provider"},
		),
		abortedCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_send_errors_total",
				Help: "Send calls that returned an error.",
			},
			[]string{"provider", "class"},
		),
	}

	for _, col := range []prometheus.Collector{c.sendCounter, c.deviceCounter, c.sendDuration, c.abortedCounter} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Wrap decorates h. name is the provider label.
func (c *Collector) Wrap(name string, h dispatch.Handler) dispatch.Handler {
	return &Handler{Handler: h, collector: c, name: name}
}

// WrapFactory decorates every handler f builds.
func (c *Collector) WrapFactory(name string, f dispatch.Factory) dispatch.Factory {
	return func() (dispatch.Handler, error) {
		h, err := f()
		if err != nil {
			return nil, err
		}
		return c.Wrap(name, h), nil
	}
}

// Handler is a dispatch.Handler that records metrics for every send.
type Handler struct {
	dispatch.Handler
	collector *Collector
	name      string
}

func (h *Handler) Unwrap() dispatch.Handler { return h.Handler }

func (h *Handler) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	start := time.Now()
	h.collector.sendCounter.WithLabelValues(h.name, "send").Inc()

	result, err := h.Handler.Send(ctx, msg)
	h.observe(start, result, err)
	return result, err
}

func (h *Handler) SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	start := time.Now()
	h.collector.sendCounter.WithLabelValues(h.name, "send_raw").Inc()

	result, err := h.Handler.SendRaw(ctx, payload, priority)
	h.observe(start, result, err)
	return result, err
}

func (h *Handler) observe(start time.Time, result *notification.Result, err error) {
	h.collector.sendDuration.WithLabelValues(h.name).Observe(time.Since(start).Seconds())

	if err != nil {
		h.collector.abortedCounter.WithLabelValues(h.name, string(notification.Classify(err))).Inc()
	}
	if result == nil {
		return
	}
	for _, device := range result.Devices() {
		derr := result.ErrorFor(device)
		if derr == nil {
			h.collector.deviceCounter.WithLabelValues(h.name, "delivered", "").Inc()
			continue
		}
		h.collector.deviceCounter.WithLabelValues(h.name, "failed", string(notification.Classify(derr))).Inc()
	}
}
