package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/spf13/cast"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// multicastLimit is the most tokens SendEachForMulticast accepts per call.
const multicastLimit = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Dispatcher delivers through the FCM HTTP v1 API.
type Dispatcher struct {
	dispatch.DeviceQueue
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

func (d *Dispatcher) AddDevice(token string) error {
	if token == "" {
		return &notification.ValidationError{Provider: provider, Device: token, Msg: "token is empty"}
	}
	d.Push(token)
	return nil
}

func (d *Dispatcher) Prepare() error {
	if d.client == nil {
		return &notification.ConfigurationError{Provider: provider, Field: "firebase"}
	}
	return nil
}

func (d *Dispatcher) Pending() int { return d.Len() }

func (d *Dispatcher) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	return d.SendRaw(ctx, MessagePayload(msg), msg.Priority())
}

// SendRaw understands the same payload shape as the legacy endpoint: a "notification"
// block with title/body and a "data" block. Without a "data" block every other
// top-level key is sent as data.
func (d *Dispatcher) SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	devices := d.Drain()
	result := notification.NewResult()
	if len(devices) == 0 {
		return result, nil
	}

	template, err := multicastTemplate(payload, priority)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(devices); start += multicastLimit {
		end := min(start+multicastLimit, len(devices))
		d.sendChunk(ctx, devices[start:end], template, result)
	}

	d.logger.Debug("FCM batch sent",
		"devices", len(devices),
		"failed", len(result.Failed()),
		"invalid", len(result.InvalidDevices()))
	return result, nil
}

func (d *Dispatcher) sendChunk(ctx context.Context, tokens []string, template messaging.MulticastMessage, result *notification.Result) {
	msg := template
	msg.Tokens = tokens

	br, err := d.client.SendEachForMulticast(ctx, &msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			d.logger.Error("FCM rejected batch as InvalidArgument", "err", err)
			result.RecordAll(tokens, &notification.ValidationError{Provider: provider, Msg: err.Error()})
			return
		}
		d.logger.Error("FCM transport failed", "devices", len(tokens), "err", err)
		result.RecordAll(tokens, &notification.RequestError{Provider: provider, Err: err})
		return
	}

	if len(br.Responses) != len(tokens) {
		result.RecordAll(tokens, &notification.ProtocolViolationError{
			Provider: provider,
			Msg:      fmt.Sprintf("sent to %d devices, %d responses reported", len(tokens), len(br.Responses)),
		})
		return
	}

	for idx, resp := range br.Responses {
		if resp.Success {
			result.Record(tokens[idx], nil)
			continue
		}
		result.Record(tokens[idx], mapSendError(resp.Error))
	}
}

// mapSendError translates a per-token SDK error into the shared reason taxonomy.
func mapSendError(err error) error {
	var reason notification.Reason
	switch {
	case err == nil:
		return &notification.ResponseError{Provider: provider, Msg: "failed without an error"}
	case messaging.IsUnregistered(err), messaging.IsRegistrationTokenNotRegistered(err):
		reason = notification.ReasonNotRegistered
	case messaging.IsInvalidArgument(err):
		reason = notification.ReasonInvalidRegistration
	case messaging.IsQuotaExceeded(err):
		reason = notification.ReasonDeviceMessageRateExceeded
	case messaging.IsSenderIDMismatch(err):
		reason = notification.ReasonMismatchSenderID
	case messaging.IsUnavailable(err):
		reason = notification.ReasonUnavailable
	case messaging.IsInternal(err):
		reason = notification.ReasonInternalServerError
	case messaging.IsThirdPartyAuthError(err):
		reason = notification.ReasonInvalidApnsCredential
	default:
		return &notification.ResponseError{Provider: provider, Msg: err.Error()}
	}
	return notification.NewResponseReasonError(provider, string(reason), 0)
}

func multicastTemplate(payload map[string]any, priority notification.Priority) (messaging.MulticastMessage, error) {
	var msg messaging.MulticastMessage

	if raw, ok := payload["priority"].(string); ok {
		if p, ok := notification.ParsePriority(raw); ok {
			priority = p
		}
	}

	if block, ok := payload["notification"].(map[string]any); ok {
		msg.Notification = &messaging.Notification{
			Title:    cast.ToString(block["title"]),
			Body:     cast.ToString(block["body"]),
			ImageURL: cast.ToString(block["image"]),
		}
		msg.Webpush = &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Notification.Title,
				Body:  msg.Notification.Body,
				Icon:  cast.ToString(block["icon"]),
			},
		}
	}

	data, ok := payload["data"].(map[string]any)
	if !ok {
		data = make(map[string]any, len(payload))
		for k, v := range payload {
			if k != "notification" && k != "priority" {
				data[k] = v
			}
		}
	}
	if len(data) > 0 {
		msg.Data = make(map[string]string, len(data))
		for k, v := range data {
			s, err := dataString(v)
			if err != nil {
				return msg, &notification.ValidationError{Provider: provider, Msg: fmt.Sprintf("data field %q: %v", k, err)}
			}
			msg.Data[k] = s
		}
	}

	androidPriority := "high"
	apnsPriority := "10"
	if priority == notification.PriorityNormal {
		androidPriority = "normal"
		apnsPriority = "5"
	}
	msg.Android = &messaging.AndroidConfig{Priority: androidPriority}
	msg.APNS = &messaging.APNSConfig{Headers: map[string]string{"apns-priority": apnsPriority}}
	return msg, nil
}

// dataString flattens a data value: scalars via cast, anything structured as JSON.
func dataString(v any) (string, error) {
	if s, err := cast.ToStringE(v); err == nil {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
