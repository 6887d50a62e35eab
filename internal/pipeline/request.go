package pipeline

import (
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// DispatchRequest is the JSON message consumed from the request subscription. Exactly
// one of Message and Raw is set.
type DispatchRequest struct {
	RequestID   string         `json:"request_id"`
	Provider    string         `json:"provider"`
	Devices     []string       `json:"devices,omitempty"`
	Credentials []Credential   `json:"credentials,omitempty"`
	Message     *MessageSpec   `json:"message,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
	Priority    string         `json:"priority,omitempty"`
}

// Credential is a WNS recipient identified by client credentials.
type Credential struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// MessageSpec is the wire form of notification.Message. Unset optional fields keep
// the Message defaults.
type MessageSpec struct {
	Body     string         `json:"body"`
	Title    string         `json:"title,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Sound    *string        `json:"sound,omitempty"`
	Badge    *int           `json:"badge,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// Validate checks the request shape. It does not check device tokens; the provider
// handler does that.
func (r *DispatchRequest) Validate() error {
	var errs []error
	if r.Provider == "" {
		errs = append(errs, errors.New("provider is required"))
	}
	if len(r.Devices) == 0 && len(r.Credentials) == 0 {
		errs = append(errs, errors.New("at least one device or credential is required"))
	}
	if (r.Message == nil) == (r.Raw == nil) {
		errs = append(errs, errors.New("exactly one of message and raw is required"))
	}
	if _, ok := notification.ParsePriority(r.Priority); !ok {
		errs = append(errs, fmt.Errorf("unknown priority %q", r.Priority))
	}
	if r.Message != nil {
		if _, ok := notification.ParsePriority(r.Message.Priority); !ok {
			errs = append(errs, fmt.Errorf("unknown message priority %q", r.Message.Priority))
		}
	}
	return errors.Join(errs...)
}

// RawPriority is the priority used for a raw send.
func (r *DispatchRequest) RawPriority() notification.Priority {
	p, _ := notification.ParsePriority(r.Priority)
	return p
}

// ToMessage builds the notification.Message.
func (m *MessageSpec) ToMessage() notification.Message {
	msg := notification.NewMessage(m.Body)
	if m.Title != "" {
		msg = msg.WithTitle(m.Title)
	}
	if len(m.Payload) > 0 {
		msg = msg.WithPayload(m.Payload)
	}
	if m.Sound != nil {
		msg = msg.WithSound(*m.Sound)
	}
	if m.Badge != nil {
		msg = msg.WithBadge(*m.Badge)
	}
	p, _ := notification.ParsePriority(m.Priority)
	return msg.WithPriority(p)
}
