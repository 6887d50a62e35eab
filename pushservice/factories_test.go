package pushservice_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/internal/observe/metrics"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/wns"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
	"github.com/tinywideclouds/go-push-dispatch/pushservice"
	"github.com/tinywideclouds/go-push-dispatch/pushservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubAPNSClient struct{}

func (stubAPNSClient) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	return &apns2.Response{StatusCode: 200, ApnsID: n.ApnsID}, nil
}

func TestNewFactories(t *testing.T) {
	logger := newTestLogger()

	t.Run("Happy Path - Enabled providers only", func(t *testing.T) {
		cfg := &config.Config{
			Console: true,
			APNS:    config.APNSConfig{Enabled: true, BundleID: "com.example.app"},
			FCM:     config.FCMConfig{Enabled: true, ServerKey: "key"},
			WNS:     config.WNSConfig{Enabled: true, NotifyURL: "https://notify.example.com"},
		}
		factories, err := pushservice.NewFactories(cfg, pushservice.Dependencies{APNSClient: stubAPNSClient{}}, logger)
		require.NoError(t, err)

		assert.Len(t, factories, 4)
		for _, name := range []string{config.ProviderConsole, config.ProviderAPNS, config.ProviderFCMLegacy, config.ProviderWNS} {
			assert.Contains(t, factories, name)
		}
		assert.NotContains(t, factories, config.ProviderWeb)
	})

	t.Run("Handlers are decorated and fresh per call", func(t *testing.T) {
		cfg := &config.Config{WNS: config.WNSConfig{Enabled: true, NotifyURL: "https://notify.example.com"}}
		factories, err := pushservice.NewFactories(cfg, pushservice.Dependencies{}, logger)
		require.NoError(t, err)

		h1, err := factories[config.ProviderWNS]()
		require.NoError(t, err)
		h2, err := factories[config.ProviderWNS]()
		require.NoError(t, err)

		d1, ok := dispatch.Find[*wns.Dispatcher](h1)
		require.True(t, ok, "decorators must expose the provider handler")
		d2, _ := dispatch.Find[*wns.Dispatcher](h2)
		assert.NotSame(t, d1, d2)

		_, ok = dispatch.Find[dispatch.CredentialAdder](h1)
		assert.True(t, ok)

		require.NoError(t, h1.AddDevice("bearer-token"))
		assert.Equal(t, 1, h1.Pending())
		assert.Equal(t, 0, h2.Pending())
	})

	t.Run("APNS uses the injected client", func(t *testing.T) {
		cfg := &config.Config{APNS: config.APNSConfig{Enabled: true, BundleID: "com.example.app"}}
		factories, err := pushservice.NewFactories(cfg, pushservice.Dependencies{APNSClient: stubAPNSClient{}}, logger)
		require.NoError(t, err)

		h, err := factories[config.ProviderAPNS]()
		require.NoError(t, err)
		_, ok := dispatch.Find[*apns.Dispatcher](h)
		require.True(t, ok)

		device := strings.Repeat("ab", 32)
		require.NoError(t, h.AddDevice(device))
		result, err := dispatch.NewNotifier(h).Send(context.Background(), notification.NewMessage("hi"))
		require.NoError(t, err)
		assert.Equal(t, []string{device}, result.Succeeded())
	})

	t.Run("Metrics decorate every handler", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector, err := metrics.NewCollector(reg)
		require.NoError(t, err)

		cfg := &config.Config{Console: true}
		factories, err := pushservice.NewFactories(cfg, pushservice.Dependencies{Metrics: collector}, logger)
		require.NoError(t, err)

		h, err := factories[config.ProviderConsole]()
		require.NoError(t, err)
		require.NoError(t, h.AddDevice("d"))
		_, err = dispatch.NewNotifier(h).Send(context.Background(), notification.NewMessage("hi"))
		require.NoError(t, err)

		count, err := testutil.GatherAndCount(reg, "push_send_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("Failure - Firebase without messaging client", func(t *testing.T) {
		cfg := &config.Config{Firebase: config.FirebaseConfig{Enabled: true, ProjectID: "p"}}
		_, err := pushservice.NewFactories(cfg, pushservice.Dependencies{}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "messaging client")
	})

	t.Run("Failure - APNS client cannot be built", func(t *testing.T) {
		cfg := &config.Config{APNS: config.APNSConfig{Enabled: true, BundleID: "b", CertificatePath: "/does/not/exist.p12"}}
		_, err := pushservice.NewFactories(cfg, pushservice.Dependencies{}, logger)
		require.Error(t, err)
		var cfgErr *notification.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})
}
