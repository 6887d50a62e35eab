package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

const (
	DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"
	defaultTimeout  = 30 * time.Second
)

// LegacyConfig configures the server-key HTTP transport.
type LegacyConfig struct {
	ServerKey string
	Endpoint  string
	Timeout   time.Duration
}

// NewHTTPClient returns the client shared by every LegacyDispatcher built from cfg.
func NewHTTPClient(cfg LegacyConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// LegacyDispatcher posts one request per send call covering every queued device.
type LegacyDispatcher struct {
	dispatch.DeviceQueue
	serverKey string
	endpoint  string
	client    *http.Client
	logger    *slog.Logger
}

func NewLegacyDispatcher(cfg LegacyConfig, client *http.Client, logger *slog.Logger) *LegacyDispatcher {
	if client == nil {
		client = NewHTTPClient(cfg)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &LegacyDispatcher{
		serverKey: cfg.ServerKey,
		endpoint:  endpoint,
		client:    client,
		logger:    logger.With("component", "FCMLegacyDispatcher"),
	}
}

func (d *LegacyDispatcher) AddDevice(token string) error {
	if token == "" {
		return &notification.ValidationError{Provider: provider, Device: token, Msg: "token is empty"}
	}
	d.Push(token)
	return nil
}

func (d *LegacyDispatcher) Prepare() error {
	if d.serverKey == "" {
		return &notification.ConfigurationError{Provider: provider, Field: "server_key"}
	}
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return &notification.ConfigurationError{Provider: provider, Field: "endpoint", Err: err}
	}
	if u.Host == "" {
		return &notification.ConfigurationError{Provider: provider, Field: "endpoint", Err: fmt.Errorf("%q has no host", d.endpoint)}
	}
	return nil
}

func (d *LegacyDispatcher) Pending() int { return d.Len() }

func (d *LegacyDispatcher) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	return d.SendRaw(ctx, MessagePayload(msg), msg.Priority())
}

type legacyResponse struct {
	MulticastID  int64          `json:"multicast_id"`
	Success      *int           `json:"success"`
	Failure      *int           `json:"failure"`
	CanonicalIDs int            `json:"canonical_ids"`
	Results      []legacyResult `json:"results"`
}

type legacyResult struct {
	MessageID      string `json:"message_id"`
	RegistrationID string `json:"registration_id"`
	Error          string `json:"error"`
}

// SendRaw posts payload to every queued device in one request. A failure that
// concerns the whole request (transport, status, malformed or inconsistent response)
// is recorded against every device; otherwise results map to devices by position.
func (d *LegacyDispatcher) SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	devices := d.Drain()
	result := notification.NewResult()
	if len(devices) == 0 {
		return result, nil
	}

	body, err := json.Marshal(BuildPayload(devices, payload, priority))
	if err != nil {
		return nil, &notification.ValidationError{Provider: provider, Msg: fmt.Sprintf("payload is not serialisable: %v", err)}
	}

	res, err := d.post(ctx, body)
	if err != nil {
		d.logger.Error("FCM request failed", "devices", len(devices), "err", err)
		result.RecordAll(devices, err)
		return result, nil
	}

	if res.Success == nil || res.Failure == nil || res.Results == nil {
		result.RecordAll(devices, &notification.ResponseError{
			Provider:   provider,
			StatusCode: http.StatusOK,
			Msg:        "response is missing success, failure or results",
		})
		return result, nil
	}

	if *res.Success+*res.Failure != len(devices) || len(res.Results) != len(devices) {
		violation := &notification.ProtocolViolationError{
			Provider: provider,
			Msg: fmt.Sprintf("sent to %d devices, %d succeeded and %d failed, %d results reported",
				len(devices), *res.Success, *res.Failure, len(res.Results)),
		}
		d.logger.Error("FCM feedback count mismatch", "err", violation)
		result.RecordAll(devices, violation)
		return result, nil
	}

	for i, r := range res.Results {
		device := devices[i]
		if r.RegistrationID != "" {
			d.logger.Info("FCM reported canonical registration id", "device", device, "canonical", r.RegistrationID)
		}
		switch {
		case r.Error == "":
			result.Record(device, nil)
		case notification.IsKnownReason(r.Error):
			result.Record(device, notification.NewResponseReasonError(provider, r.Error, http.StatusOK))
		default:
			result.Record(device, &notification.ResponseError{
				Provider:   provider,
				StatusCode: http.StatusOK,
				Msg:        fmt.Sprintf("unknown error: %s", r.Error),
			})
		}
	}

	d.logger.Debug("FCM batch sent", "devices", len(devices), "failed", *res.Failure)
	return result, nil
}

func (d *LegacyDispatcher) post(ctx context.Context, body []byte) (*legacyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &notification.RequestError{Provider: provider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+d.serverKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &notification.RequestError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &notification.RequestError{Provider: provider, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &notification.RequestError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var res legacyResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &notification.ResponseError{Provider: provider, StatusCode: resp.StatusCode, Msg: fmt.Sprintf("undecodable body: %s", raw)}
	}
	return &res, nil
}
