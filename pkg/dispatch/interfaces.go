// Package dispatch defines the capability set every push provider implements and the
// small pieces of shared machinery around it.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// Handler defines the contract for a component that can send notifications to a
// specific platform (e.g., Apple's APNS, Google's FCM).
//
// A Handler owns a device queue: AddDevice appends to it and every Send/SendRaw call
// drains it, whether the call succeeded or not.
type Handler interface {
	// AddDevice queues a recipient. Tokens the provider cannot accept are rejected
	// immediately and leave the queue untouched.
	AddDevice(token string) error

	// Prepare checks that the handler is configured well enough to attempt a send.
	Prepare() error

	// Send builds the provider payload from msg and delivers it to every queued device.
	Send(ctx context.Context, msg notification.Message) (*notification.Result, error)

	// SendRaw delivers a caller-built payload to every queued device.
	SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error)

	// Pending returns the number of queued devices.
	Pending() int
}

// Factory builds a fresh Handler around a shared transport. Concurrent callers each
// get their own device queue.
type Factory func() (Handler, error)

// CredentialAdder is implemented by handlers whose recipients may be given as client
// credentials that are exchanged for a token at send time (WNS).
type CredentialAdder interface {
	AddCredentials(clientID, clientSecret string) error
}

// Wrapper is implemented by decorators around a Handler.
type Wrapper interface {
	Unwrap() Handler
}

// Find walks h and the handlers it wraps until one implements T.
func Find[T any](h Handler) (T, bool) {
	for h != nil {
		if t, ok := h.(T); ok {
			return t, true
		}
		w, ok := h.(Wrapper)
		if !ok {
			break
		}
		h = w.Unwrap()
	}
	var zero T
	return zero, false
}
