// Package notification contains the provider-neutral domain model shared by every
// push dispatcher: the Message value, the per-device Result, and the error taxonomy.
package notification

import "maps"

// SoundDefault is the sound every Message starts with.
const SoundDefault = "default"

// Priority is the delivery priority of a notification. The numeric values match the
// apns-priority header so APNS can use them directly.
type Priority int

const (
	PriorityHigh   Priority = 10
	PriorityNormal Priority = 5
)

func (p Priority) String() string {
	if p == PriorityNormal {
		return "normal"
	}
	return "high"
}

// ParsePriority accepts "high" / "normal" (and the empty string, meaning high).
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "", "high", "HIGH":
		return PriorityHigh, true
	case "normal", "NORMAL", "low", "LOW":
		return PriorityNormal, true
	}
	return PriorityHigh, false
}

// Message is a logical notification. It is a value: the With* methods return a
// modified copy and never touch the receiver.
type Message struct {
	body     string
	title    string
	payload  map[string]any
	sound    string
	badge    int
	priority Priority
}

// NewMessage creates a Message with the default sound, a badge of 1 and high priority.
func NewMessage(body string) Message {
	return Message{
		body:     body,
		sound:    SoundDefault,
		badge:    1,
		priority: PriorityHigh,
	}
}

// WithTitle sets the alert title shown above the body.
func (m Message) WithTitle(title string) Message {
	m.title = title
	return m
}

// WithPayload sets the custom fields merged into the provider payload.
func (m Message) WithPayload(payload map[string]any) Message {
	m.payload = maps.Clone(payload)
	return m
}

func (m Message) WithSound(sound string) Message {
	m.sound = sound
	return m
}

func (m Message) WithBadge(badge int) Message {
	m.badge = badge
	return m
}

func (m Message) WithPriority(p Priority) Message {
	m.priority = p
	return m
}

func (m Message) Body() string       { return m.body }
func (m Message) Title() string      { return m.title }
func (m Message) HasTitle() bool     { return m.title != "" }
func (m Message) Sound() string      { return m.sound }
func (m Message) Badge() int         { return m.badge }
func (m Message) Priority() Priority { return m.priority }

// Payload returns a copy of the custom fields. It is never nil.
func (m Message) Payload() map[string]any {
	if m.payload == nil {
		return map[string]any{}
	}
	return maps.Clone(m.payload)
}
