// Package web delivers notifications to browser Web Push subscriptions with VAPID.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

const provider = "WebPush"

const defaultTTL = 60

// Config holds the VAPID identity.
type Config struct {
	SubscriberEmail string
	PublicKey       string
	PrivateKey      string
	TTL             int
}

// Dispatcher takes devices as JSON-encoded push subscriptions:
// {"endpoint": "...", "keys": {"p256dh": "...", "auth": "..."}}.
type Dispatcher struct {
	dispatch.DeviceQueue
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg Config, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Dispatcher{
		cfg:        cfg,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: httpClient,
	}
}

// ParseSubscription decodes and checks a subscription device token.
func ParseSubscription(token string) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return nil, &notification.ValidationError{Provider: provider, Device: token, Msg: fmt.Sprintf("not a subscription: %v", err)}
	}
	u, err := url.Parse(sub.Endpoint)
	if err != nil || u.Host == "" {
		return nil, &notification.ValidationError{Provider: provider, Device: token, Msg: "endpoint must be an absolute URL"}
	}
	for name, key := range map[string]string{"p256dh": sub.Keys.P256dh, "auth": sub.Keys.Auth} {
		if !isBase64(key) {
			return nil, &notification.ValidationError{Provider: provider, Device: token, Msg: fmt.Sprintf("key %s is not base64", name)}
		}
	}
	return &sub, nil
}

func isBase64(s string) bool {
	if s == "" {
		return false
	}
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding, base64.RawStdEncoding} {
		if _, err := enc.DecodeString(s); err == nil {
			return true
		}
	}
	return false
}

func (d *Dispatcher) AddDevice(token string) error {
	if _, err := ParseSubscription(token); err != nil {
		return err
	}
	d.Push(token)
	return nil
}

func (d *Dispatcher) Prepare() error {
	if d.cfg.PublicKey == "" || d.cfg.PrivateKey == "" {
		return &notification.ConfigurationError{Provider: provider, Field: "vapid_keys"}
	}
	if d.cfg.SubscriberEmail == "" {
		return &notification.ConfigurationError{Provider: provider, Field: "subscriber_email"}
	}
	return nil
}

func (d *Dispatcher) Pending() int { return d.Len() }

func (d *Dispatcher) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	payload := map[string]any{
		"notification": map[string]any{
			"title": msg.Title(),
			"body":  msg.Body(),
		},
		"data": msg.Payload(),
	}
	return d.SendRaw(ctx, payload, msg.Priority())
}

// SendRaw encrypts payload for every queued subscription. Failures are recorded per
// subscription and the rest are still attempted.
func (d *Dispatcher) SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	devices := d.Drain()
	result := notification.NewResult()
	if len(devices) == 0 {
		return result, nil
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, &notification.ValidationError{Provider: provider, Msg: fmt.Sprintf("failed to marshal payload: %v", err)}
	}

	urgency := webpush.UrgencyHigh
	if priority == notification.PriorityNormal {
		urgency = webpush.UrgencyNormal
	}
	opts := &webpush.Options{
		Subscriber:      d.cfg.SubscriberEmail,
		VAPIDPublicKey:  d.cfg.PublicKey,
		VAPIDPrivateKey: d.cfg.PrivateKey,
		TTL:             d.cfg.TTL,
		Urgency:         urgency,
		HTTPClient:      d.httpClient,
	}

	for _, device := range devices {
		result.Record(device, d.deliver(ctx, device, payloadBytes, opts))
	}

	d.logger.Debug("WebPush batch sent", "devices", len(devices), "failed", len(result.Failed()))
	return result, nil
}

func (d *Dispatcher) deliver(ctx context.Context, device string, payload []byte, opts *webpush.Options) error {
	sub, err := ParseSubscription(device)
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, opts)
	if err != nil {
		// Transport error (DNS, Timeout) - Log and skip, don't delete
		d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
		return &notification.RequestError{Provider: provider, Device: device, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	var reason notification.Reason
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusGone, http.StatusNotFound:
		// Subscription is dead
		reason = notification.ReasonUnregistered
	case http.StatusTooManyRequests:
		reason = notification.ReasonTooManyRequests
	case http.StatusRequestEntityTooLarge:
		reason = notification.ReasonPayloadTooLarge
	default:
		d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return &notification.ResponseError{Provider: provider, StatusCode: resp.StatusCode, Msg: resp.Status}
	}
	return notification.NewResponseReasonError(provider, string(reason), resp.StatusCode)
}
