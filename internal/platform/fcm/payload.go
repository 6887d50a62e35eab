// Package fcm delivers notifications through Firebase Cloud Messaging, either the
// legacy HTTP endpoint authenticated with a server key or the HTTP v1 API through the
// Firebase Admin SDK.
package fcm

import (
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

const provider = "FCM"

const maxTitleLength = 64

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// MessagePayload renders msg into the notification/data blocks shared by both
// transports. Without a title, the body doubles as one, shortened when long.
func MessagePayload(msg notification.Message) map[string]any {
	body := strings.TrimSpace(msg.Body())
	title := msg.Title()
	if !msg.HasTitle() {
		title = body
		if len(body) > maxTitleLength {
			title = truncate(body, maxTitleLength-3) + "..."
		}
	}

	data := map[string]any{"message": body}
	maps.Copy(data, msg.Payload())

	return map[string]any{
		"notification": map[string]any{
			"title": title,
			"body":  body,
		},
		"data": data,
	}
}

// BuildPayload addresses payload to devices: a single device goes in "to", several go
// in "registration_ids". The priority defaults from the call unless payload sets it.
func BuildPayload(devices []string, payload map[string]any, priority notification.Priority) map[string]any {
	out := make(map[string]any, len(payload)+2)
	out["priority"] = priority.String()
	if len(devices) == 1 {
		out["to"] = devices[0]
	} else {
		out["registration_ids"] = devices
	}
	maps.Copy(out, payload)

	// never both
	if len(devices) == 1 {
		delete(out, "registration_ids")
	} else {
		delete(out, "to")
	}
	return out
}
