// Package apns delivers notifications to the Apple Push Notification Service, over
// the HTTP/2 provider API and over the legacy binary socket protocol.
package apns

import (
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

const (
	provider       = "APNS"
	providerLegacy = "APNS-Legacy"
)

// BuildPayload renders msg as an APNS payload: {"aps":{alert,badge,sound}} with the
// message's custom fields deep-merged on top.
func BuildPayload(msg notification.Message) map[string]any {
	s := notification.Build(msg)
	payload := map[string]any{
		"aps": map[string]any{
			"alert": s.Alert,
			"badge": s.Badge,
			"sound": s.Sound,
		},
	}
	return notification.MergePayload(payload, s.Custom)
}
