package apns

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// Legacy binary gateways.
const (
	GatewayProduction  = "gateway.push.apple.com:2195"
	GatewayDevelopment = "gateway.sandbox.push.apple.com:2195"
)

const defaultConnectTimeout = 60 * time.Second

// LegacyConfig configures the binary socket dispatcher.
type LegacyConfig struct {
	Environment string
	// Gateway overrides the environment's host:port.
	Gateway         string
	CertificatePath string
	Passphrase      string
	// Defaults apply when a payload carries no control field of its own.
	Defaults       Control
	ConnectTimeout time.Duration
}

func (c LegacyConfig) gateway() string {
	if c.Gateway != "" {
		return c.Gateway
	}
	if isDevelopment(c.Environment) {
		return GatewayDevelopment
	}
	return GatewayProduction
}

// StreamDialer opens the socket notifications are written to. Every send call dials
// once and closes the stream before returning.
type StreamDialer interface {
	Dial(ctx context.Context) (io.WriteCloser, error)
}

// TLSDialer dials the gateway with the configured client certificate.
type TLSDialer struct {
	cfg LegacyConfig
}

func NewTLSDialer(cfg LegacyConfig) *TLSDialer {
	return &TLSDialer{cfg: cfg}
}

func (t *TLSDialer) Dial(ctx context.Context) (io.WriteCloser, error) {
	cert, err := loadCertificate(providerLegacy, t.cfg.CertificatePath, t.cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	gateway := t.cfg.gateway()
	host, _, err := net.SplitHostPort(gateway)
	if err != nil {
		return nil, &notification.ConfigurationError{Provider: providerLegacy, Field: "gateway", Err: err}
	}

	timeout := t.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ServerName:   host,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", gateway)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// LegacyDispatcher writes binary notifications over a single TLS stream per call.
// The protocol gives no synchronous per-device answer, so a device counts as
// delivered once its frame has been written.
type LegacyDispatcher struct {
	dispatch.DeviceQueue
	cfg    LegacyConfig
	dialer StreamDialer
	now    func() time.Time
	logger *slog.Logger
}

// NewLegacyDispatcher creates a dispatcher that dials the configured gateway over TLS.
func NewLegacyDispatcher(cfg LegacyConfig, logger *slog.Logger) *LegacyDispatcher {
	return NewLegacyDispatcherWithDialer(cfg, NewTLSDialer(cfg), logger)
}

// NewLegacyDispatcherWithDialer lets callers supply their own stream.
func NewLegacyDispatcherWithDialer(cfg LegacyConfig, dialer StreamDialer, logger *slog.Logger) *LegacyDispatcher {
	return &LegacyDispatcher{
		cfg:    cfg,
		dialer: dialer,
		now:    time.Now,
		logger: logger.With("component", "APNSLegacyDispatcher"),
	}
}

func (d *LegacyDispatcher) AddDevice(token string) error {
	if err := ValidateDeviceToken(providerLegacy, token); err != nil {
		return err
	}
	d.Push(token)
	return nil
}

// Prepare fails unless the certificate path names a readable regular file.
func (d *LegacyDispatcher) Prepare() error {
	return checkReadableFile(providerLegacy, "certificate_path", d.cfg.CertificatePath)
}

func (d *LegacyDispatcher) Pending() int { return d.Len() }

func (d *LegacyDispatcher) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	return d.SendRaw(ctx, BuildPayload(msg), msg.Priority())
}

// SendRaw lifts the control fields (expire, messageID, priority, command) out of
// payload and writes one frame per queued device. A failed write is recorded against
// that device and the remaining devices are still attempted. A failed connect fails
// every device and is returned.
func (d *LegacyDispatcher) SendRaw(ctx context.Context, payload map[string]any, priority notification.Priority) (*notification.Result, error) {
	devices := d.Drain()
	result := notification.NewResult()
	if len(devices) == 0 {
		return result, nil
	}

	ctrl, rest, err := ResolveControl(payload, d.cfg.Defaults, priority)
	if err != nil {
		return nil, err
	}
	if ctrl.Command != CommandSimple && ctrl.Command != CommandFramed {
		return nil, &notification.ValidationError{
			Provider: providerLegacy,
			Msg:      fmt.Sprintf("unknown command version %d", ctrl.Command),
		}
	}

	body, err := json.Marshal(rest)
	if err != nil {
		return nil, &notification.ValidationError{Provider: providerLegacy, Msg: fmt.Sprintf("payload is not serialisable: %v", err)}
	}

	stream, err := d.dialer.Dial(ctx)
	if err != nil {
		var cfgErr *notification.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		reqErr := &notification.RequestError{Provider: providerLegacy, Err: fmt.Errorf("connecting to %s: %w", d.cfg.gateway(), err)}
		d.logger.Error("APNS gateway connection failed", "gateway", d.cfg.gateway(), "err", err)
		result.RecordAll(devices, reqErr)
		return result, reqErr
	}
	defer func() {
		if err := stream.Close(); err != nil {
			d.logger.Debug("Closing APNS stream", "err", err)
		}
	}()

	now := d.now()
	for _, device := range devices {
		frame, err := EncodeNotification(device, body, ctrl, now)
		if err != nil {
			result.Record(device, err)
			continue
		}
		if _, err := stream.Write(frame); err != nil {
			d.logger.Warn("APNS write failed", "device", device, "err", err)
			result.Record(device, &notification.RequestError{Provider: providerLegacy, Device: device, Err: err})
			continue
		}
		result.Record(device, nil)
	}

	d.logger.Debug("APNS legacy batch written", "devices", len(devices), "failed", len(result.Failed()), "command", ctrl.Command)
	return result, nil
}
