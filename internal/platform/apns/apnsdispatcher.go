package apns

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the HTTP/2 provider settings. Either CertificatePath or KeyPath
// (a .p8 signing key with KeyID and TeamID) selects the authentication method.
type Config struct {
	Environment string
	// Endpoint overrides the environment's host; it must parse to a URL with a host.
	Endpoint string
	BundleID string

	CertificatePath string
	Passphrase      string

	KeyPath string
	KeyID   string
	TeamID  string

	// CAPath is a PEM bundle or a directory of them used to verify the gateway.
	CAPath  string
	Timeout time.Duration
	// Workers bounds the number of concurrent requests per send call.
	Workers int
}

// NewClient builds the shared apns2 client. It reads every credential up front so a
// bad key or certificate fails on startup.
func NewClient(cfg Config) (*apns2.Client, error) {
	var client *apns2.Client
	switch {
	case cfg.KeyPath != "":
		authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
		if err != nil {
			return nil, &notification.ConfigurationError{Provider: provider, Field: "key_path", Err: err}
		}
		if cfg.KeyID == "" || cfg.TeamID == "" {
			return nil, &notification.ConfigurationError{Provider: provider, Field: "key_id", Err: fmt.Errorf("token auth requires key_id and team_id")}
		}
		client = apns2.NewTokenClient(&token.Token{
			AuthKey: authKey,
			KeyID:   cfg.KeyID,
			TeamID:  cfg.TeamID,
		})
	case cfg.CertificatePath != "":
		cert, err := loadCertificate(provider, cfg.CertificatePath, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		client = apns2.NewClient(cert)
	default:
		return nil, &notification.ConfigurationError{Provider: provider, Field: "certificate_path", Err: fmt.Errorf("either a certificate or a signing key is required")}
	}

	host, err := resolveHost(cfg.Endpoint, cfg.Environment)
	if err != nil {
		return nil, err
	}
	client.Host = host

	if cfg.CAPath != "" {
		pool, err := loadCAPool(cfg.CAPath)
		if err != nil {
			return nil, err
		}
		if tr, ok := client.HTTPClient.Transport.(*http2.Transport); ok {
			if tr.TLSClientConfig == nil {
				tr.TLSClientConfig = &tls.Config{}
			}
			tr.TLSClientConfig.RootCAs = pool
		}
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	return client, nil
}

// Dispatcher sends one HTTP/2 request per device.
type Dispatcher struct {
	dispatch.DeviceQueue
	client  APNSClient
	topic   string // The App Bundle ID (e.g. com.tinywide.messenger)
	workers int
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher around a shared client.
func NewDispatcher(client APNSClient, cfg Config, logger *slog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		client:  client,
		topic:   cfg.BundleID,
		workers: workers,
		logger:  logger.With("component", "APNSDispatcher"),
	}
}

func (d *Dispatcher) AddDevice(token string) error {
	if err := ValidateDeviceToken(provider, token); err != nil {
		return err
	}
	d.Push(token)
	return nil
}

func (d *Dispatcher) Prepare() error {
	if d.client == nil {
		return &notification.ConfigurationError{Provider: provider, Field: "client"}
	}
	if d.topic == "" {
		return &notification.ConfigurationError{Provider: provider, Field: "bundle_id"}
	}
	return nil
}

func (d *Dispatcher) Pending() int { return d.Len() }

func (d *Dispatcher) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	return d.SendRaw(ctx, BuildPayload(msg), msg.Priority())
}

// SendRaw posts payload to every queued device. Every device is attempted; failures
// are recorded per device in queue order.
func (d *Dispatcher) SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	devices := d.Drain()
	result := notification.NewResult()
	if len(devices) == 0 {
		return result, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &notification.ValidationError{Provider: provider, Msg: fmt.Sprintf("payload is not serialisable: %v", err)}
	}

	// APNs HTTP/2 API is unary (one request per token). There is no "Multicast" endpoint.
	outcomes := make([]error, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, device := range devices {
		g.Go(func() error {
			outcomes[i] = d.push(gctx, device, body, priority)
			return nil
		})
	}
	_ = g.Wait()

	for i, device := range devices {
		result.Record(device, outcomes[i])
	}

	d.logger.Debug("APNS batch sent",
		"devices", len(devices),
		"failed", len(result.Failed()),
		"invalid", len(result.InvalidDevices()))
	return result, nil
}

func (d *Dispatcher) push(ctx context.Context, device string, body []byte, priority notification.Priority) error {
	n := &apns2.Notification{
		ApnsID:      uuid.NewString(),
		DeviceToken: device,
		Topic:       d.topic,
		Priority:    int(priority),
		Payload:     body,
	}

	res, err := d.client.PushWithContext(ctx, n)
	if err != nil {
		// Network/Transport Failure
		d.logger.Error("APNs transport failed", "device", device, "err", err)
		return &notification.RequestError{Provider: provider, Device: device, Err: err}
	}
	if res.Sent() {
		return nil
	}

	if notification.IsKnownReason(res.Reason) {
		d.logger.Warn("APNs rejected notification", "device", device, "reason", res.Reason, "status", res.StatusCode)
		return notification.NewResponseReasonError(provider, res.Reason, res.StatusCode)
	}
	return &notification.ResponseError{
		Provider:   provider,
		StatusCode: res.StatusCode,
		Msg:        fmt.Sprintf("unrecognised reason %q", res.Reason),
	}
}
