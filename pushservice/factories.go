package pushservice

import (
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/tinywideclouds/go-push-dispatch/internal/observe/metrics"
	"github.com/tinywideclouds/go-push-dispatch/internal/observe/tracing"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/wns"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pushservice/config"
)

// Dependencies are the shared clients handlers are built around. Nil fields fall
// back to clients built from the configuration, except Messaging which the Firebase
// provider requires.
type Dependencies struct {
	// TokenCache holds WNS access tokens. Nil disables caching.
	TokenCache cache.Client
	// Messaging is the Firebase messaging client.
	Messaging fcm.MessagingClient

	APNSClient   apns.APNSClient
	LegacyDialer apns.StreamDialer
	HTTPClient   *http.Client

	// Metrics and Tracer decorate every handler when set.
	Metrics *metrics.Collector
	Tracer  trace.Tracer
}

// NewFactories builds one dispatch.Factory per enabled provider. Transports are
// created once here; each factory call only allocates a handler around them.
func NewFactories(cfg *config.Config, deps Dependencies, logger *slog.Logger) (map[string]dispatch.Factory, error) {
	factories := make(map[string]dispatch.Factory)

	if cfg.APNS.Enabled {
		apnsCfg := apns.Config{
			Environment:     cfg.APNS.Environment,
			Endpoint:        cfg.APNS.Endpoint,
			BundleID:        cfg.APNS.BundleID,
			CertificatePath: cfg.APNS.CertificatePath,
			Passphrase:      cfg.APNS.Passphrase,
			KeyPath:         cfg.APNS.KeyPath,
			KeyID:           cfg.APNS.KeyID,
			TeamID:          cfg.APNS.TeamID,
			CAPath:          cfg.APNS.CAPath,
			Timeout:         cfg.APNS.Timeout,
			Workers:         cfg.APNS.Workers,
		}
		client := deps.APNSClient
		if client == nil {
			c, err := apns.NewClient(apnsCfg)
			if err != nil {
				return nil, fmt.Errorf("failed to create apns client: %w", err)
			}
			client = c
		}
		factories[config.ProviderAPNS] = func() (dispatch.Handler, error) {
			return apns.NewDispatcher(client, apnsCfg, logger), nil
		}
	}

	if cfg.APNSLegacy.Enabled {
		legacyCfg := apns.LegacyConfig{
			Environment:     cfg.APNSLegacy.Environment,
			Gateway:         cfg.APNSLegacy.Gateway,
			CertificatePath: cfg.APNSLegacy.CertificatePath,
			Passphrase:      cfg.APNSLegacy.Passphrase,
			ConnectTimeout:  cfg.APNSLegacy.ConnectTimeout,
			Defaults: apns.Control{
				Command:  cfg.APNSLegacy.DefaultCommand,
				Expire:   cfg.APNSLegacy.DefaultExpire,
				Priority: cfg.APNSLegacy.DefaultPriority,
			},
		}
		dialer := deps.LegacyDialer
		if dialer == nil {
			dialer = apns.NewTLSDialer(legacyCfg)
		}
		factories[config.ProviderAPNSLegacy] = func() (dispatch.Handler, error) {
			return apns.NewLegacyDispatcherWithDialer(legacyCfg, dialer, logger), nil
		}
	}

	if cfg.Firebase.Enabled {
		if deps.Messaging == nil {
			return nil, fmt.Errorf("firebase is enabled but no messaging client was provided")
		}
		messaging := deps.Messaging
		factories[config.ProviderFCM] = func() (dispatch.Handler, error) {
			return fcm.NewDispatcher(messaging, logger), nil
		}
	}

	if cfg.FCM.Enabled {
		legacyCfg := fcm.LegacyConfig{
			ServerKey: cfg.FCM.ServerKey,
			Endpoint:  cfg.FCM.Endpoint,
			Timeout:   cfg.FCM.Timeout,
		}
		client := fcm.NewHTTPClient(legacyCfg)
		factories[config.ProviderFCMLegacy] = func() (dispatch.Handler, error) {
			return fcm.NewLegacyDispatcher(legacyCfg, client, logger), nil
		}
	}

	if cfg.WNS.Enabled {
		wnsCfg := wns.Config{
			NotifyURL: cfg.WNS.NotifyURL,
			AuthURL:   cfg.WNS.AuthURL,
			Timeout:   cfg.WNS.Timeout,
		}
		client := wns.NewHTTPClient(wnsCfg)
		auth := wns.NewAuthenticator(wnsCfg.AuthURL, client, deps.TokenCache, logger)
		factories[config.ProviderWNS] = func() (dispatch.Handler, error) {
			return wns.NewDispatcher(wnsCfg, client, auth, logger), nil
		}
	}

	if cfg.Vapid.Enabled() {
		webCfg := web.Config{
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			TTL:             cfg.Vapid.TTL,
		}
		client := deps.HTTPClient
		factories[config.ProviderWeb] = func() (dispatch.Handler, error) {
			return web.NewDispatcher(webCfg, client, logger), nil
		}
	}

	if cfg.Console {
		consoleLogger := logger.With("component", "ConsoleDispatcher")
		factories[config.ProviderConsole] = func() (dispatch.Handler, error) {
			return dispatch.NewDummy(func(payload map[string]any, device string) {
				consoleLogger.Info("Console push", "device", device, "payload", payload)
			}), nil
		}
	}

	for name, f := range factories {
		if deps.Metrics != nil {
			f = deps.Metrics.WrapFactory(name, f)
		}
		factories[name] = tracing.WrapFactory(name, f, deps.Tracer)
	}

	logger.Info("Push providers registered", "providers", cfg.EnabledProviders())
	return factories, nil
}
