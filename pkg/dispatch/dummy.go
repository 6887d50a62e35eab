package dispatch

import (
	"context"
	"maps"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// DummyCallback observes what a Dummy handler would have delivered.
type DummyCallback func(payload map[string]any, device string)

// Dummy accepts every device and reports every send as delivered. With a callback it
// hands the built payload over for each device first.
type Dummy struct {
	DeviceQueue
	callback DummyCallback
}

func NewDummy(cb DummyCallback) *Dummy {
	return &Dummy{callback: cb}
}

func (d *Dummy) AddDevice(token string) error {
	d.Push(token)
	return nil
}

func (d *Dummy) Prepare() error { return nil }

func (d *Dummy) Pending() int { return d.Len() }

func (d *Dummy) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	payload := map[string]any{
		"message": map[string]any{
			"title": msg.Title(),
			"body":  msg.Body(),
		},
		"payload": msg.Payload(),
	}
	return d.SendRaw(ctx, payload, msg.Priority())
}

func (d *Dummy) SendRaw(_ context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	devices := d.Drain()
	result := notification.NewResult()

	out := maps.Clone(payload)
	if out == nil {
		out = map[string]any{}
	}
	out["priority"] = priority.String()

	for _, device := range devices {
		if d.callback != nil {
			d.callback(out, device)
		}
		result.Record(device, nil)
	}
	return result, nil
}
