package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// ErrNoDevices is returned by Notifier when a send is attempted with an empty queue.
var ErrNoDevices = errors.New("no devices queued")

// Notifier is the entry point applications hold: one Handler, checked before every
// send.
type Notifier struct {
	handler Handler
}

func NewNotifier(h Handler) *Notifier {
	return &Notifier{handler: h}
}

// AddDevices queues every token, stopping at the first one the handler rejects.
func (n *Notifier) AddDevices(tokens ...string) error {
	for _, t := range tokens {
		if err := n.handler.AddDevice(t); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.handler.Send(ctx, msg)
}

func (n *Notifier) SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.handler.SendRaw(ctx, payload, priority)
}

func (n *Notifier) ready() error {
	if n.handler == nil {
		return fmt.Errorf("notifier requires a handler")
	}
	if n.handler.Pending() == 0 {
		return ErrNoDevices
	}
	return n.handler.Prepare()
}
