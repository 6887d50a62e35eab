package wns

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cast"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

const defaultTimeout = 30 * time.Second

// Config configures the WNS transport.
type Config struct {
	// NotifyURL receives every toast POST.
	NotifyURL string
	AuthURL   string
	Timeout   time.Duration
}

// NewHTTPClient returns the client shared by every Dispatcher built from cfg.
func NewHTTPClient(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// recipient is either a ready bearer token or a pair of client credentials.
type recipient struct {
	token        string
	clientID     string
	clientSecret string
}

func (r recipient) key() string {
	if r.clientID != "" {
		return r.clientID
	}
	return r.token
}

// Dispatcher posts one toast per recipient. Unlike the other providers it stops at the
// first transport or authentication failure and returns it.
type Dispatcher struct {
	dispatch.Queue[recipient]
	notifyURL string
	client    *http.Client
	auth      *Authenticator
	logger    *slog.Logger
}

func NewDispatcher(cfg Config, client *http.Client, auth *Authenticator, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = NewHTTPClient(cfg)
	}
	return &Dispatcher{
		notifyURL: cfg.NotifyURL,
		client:    client,
		auth:      auth,
		logger:    logger.With("component", "WNSDispatcher"),
	}
}

// AddDevice queues a ready bearer token.
func (d *Dispatcher) AddDevice(token string) error {
	if token == "" {
		return &notification.ValidationError{Provider: provider, Device: token, Msg: "token is empty"}
	}
	d.Push(recipient{token: token})
	return nil
}

// AddCredentials queues a recipient whose token is fetched at send time. Its outcome
// is recorded under clientID.
func (d *Dispatcher) AddCredentials(clientID, clientSecret string) error {
	if clientID == "" || clientSecret == "" {
		return &notification.ValidationError{Provider: provider, Device: clientID, Msg: "client id and secret are required"}
	}
	d.Push(recipient{clientID: clientID, clientSecret: clientSecret})
	return nil
}

func (d *Dispatcher) Prepare() error {
	u, err := url.Parse(d.notifyURL)
	if err != nil {
		return &notification.ConfigurationError{Provider: provider, Field: "notify_url", Err: err}
	}
	if u.Host == "" {
		return &notification.ConfigurationError{Provider: provider, Field: "notify_url", Err: fmt.Errorf("%q has no host", d.notifyURL)}
	}
	return nil
}

func (d *Dispatcher) Pending() int { return d.Len() }

func (d *Dispatcher) Send(ctx context.Context, msg notification.Message) (*notification.Result, error) {
	fields := msg.Payload()
	if msg.HasTitle() {
		fields["title"] = msg.Title()
	}
	toastXML, err := BuildToast(msg.Body(), fields)
	if err != nil {
		return nil, &notification.ValidationError{Provider: provider, Msg: err.Error()}
	}
	fields["xml"] = toastXML
	return d.SendRaw(ctx, fields, msg.Priority())
}

// SendRaw sends payload["xml"] verbatim, or builds a toast from payload["message"].
// An optional payload["tag"] becomes the X-WNS-Tag header.
func (d *Dispatcher) SendRaw(ctx context.Context, payload map[string]any, _ notification.Priority) (*notification.Result, error) {
	recipients := d.Drain()
	result := notification.NewResult()
	if len(recipients) == 0 {
		return result, nil
	}

	toastXML, err := payloadXML(payload)
	if err != nil {
		return nil, err
	}
	tag := cast.ToString(payload["tag"])

	for i, r := range recipients {
		token := r.token
		if r.clientID != "" {
			if d.auth == nil {
				return result, &notification.ConfigurationError{Provider: provider, Field: "auth_url", Err: fmt.Errorf("no authenticator for client credentials")}
			}
			token, err = d.auth.AccessToken(ctx, r.clientID, r.clientSecret)
			if err != nil {
				result.Record(r.key(), err)
				d.logger.Error("Aborting WNS batch", "remaining", len(recipients)-i-1, "err", err)
				return result, err
			}
		}

		resp, err := d.post(ctx, token, toastXML, tag)
		if err != nil {
			result.Record(r.key(), err)
			d.logger.Error("Aborting WNS batch", "remaining", len(recipients)-i-1, "err", err)
			return result, err
		}
		if resp.StatusCode == http.StatusUnauthorized && r.clientID != "" {
			d.auth.Invalidate(ctx, r.clientID, r.clientSecret)
		}
		result.Record(r.key(), statusOutcome(resp))
	}

	d.logger.Debug("WNS batch sent", "devices", len(recipients), "ok", result.OK())
	return result, nil
}

func payloadXML(payload map[string]any) (string, error) {
	if raw, ok := payload["xml"]; ok {
		if s := cast.ToString(raw); s != "" {
			return s, nil
		}
	}
	if raw, ok := payload["message"]; ok {
		toastXML, err := BuildToast(cast.ToString(raw), payload)
		if err != nil {
			return "", &notification.ValidationError{Provider: provider, Msg: err.Error()}
		}
		return toastXML, nil
	}
	return "", &notification.ValidationError{Provider: provider, Msg: "missing 'message' or 'xml' key for WNS payload"}
}

// post returns the drained response, or a RequestError when none was received.
func (d *Dispatcher) post(ctx context.Context, token, toastXML, tag string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.notifyURL, bytes.NewBufferString(toastXML))
	if err != nil {
		return nil, &notification.RequestError{Provider: provider, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "text/xml")
	req.Header.Set("Content-Length", strconv.Itoa(len(toastXML)))
	req.Header.Set("X-WNS-Type", "wns/toast")
	if tag != "" {
		req.Header.Set("X-WNS-Tag", tag)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &notification.RequestError{Provider: provider, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp, nil
}

func statusOutcome(resp *http.Response) error {
	var reason notification.Reason
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusGone:
		reason = notification.ReasonUnregistered
	case http.StatusNotAcceptable:
		reason = notification.ReasonTooManyRequests
	case http.StatusRequestEntityTooLarge:
		reason = notification.ReasonPayloadTooLarge
	case http.StatusUnauthorized:
		reason = notification.ReasonInvalidProviderToken
	case http.StatusForbidden:
		reason = notification.ReasonForbidden
	case http.StatusInternalServerError:
		reason = notification.ReasonInternalServerError
	case http.StatusServiceUnavailable:
		reason = notification.ReasonServiceUnavailable
	default:
		return &notification.ResponseError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Msg:        fmt.Sprintf("%s (%s)", resp.Status, resp.Header.Get("X-WNS-Error-Description")),
		}
	}
	return notification.NewResponseReasonError(provider, string(reason), resp.StatusCode)
}
