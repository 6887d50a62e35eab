package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/pushservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			Vapid: config.VapidConfig{
				PublicKey:  "base-pub",
				PrivateKey: "base-priv",
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("NUM_PIPELINE_WORKERS", "4")

		t.Setenv("VAPID_PUBLIC_KEY", "env-pub")
		t.Setenv("VAPID_PRIVATE_KEY", "env-priv")
		t.Setenv("VAPID_SUB_EMAIL", "env@test.com")

		t.Setenv("APNS_ENABLED", "true")
		t.Setenv("APNS_BUNDLE_ID", "com.example.app")
		t.Setenv("APNS_KEY_PATH", "/secrets/AuthKey.p8")
		t.Setenv("APNS_TIMEOUT", "5s")

		t.Setenv("FCM_ENABLED", "true")
		t.Setenv("FCM_SERVER_KEY", "server-key")

		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.com, ,http://b.com")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.Equal(t, "env-sub", finalCfg.PubsubConsumerConfig.SubscriptionID)
		assert.Equal(t, 4, finalCfg.NumPipelineWorkers)

		assert.Equal(t, "env-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, "env-priv", finalCfg.Vapid.PrivateKey)
		assert.Equal(t, "env@test.com", finalCfg.Vapid.SubscriberEmail)

		assert.True(t, finalCfg.APNS.Enabled)
		assert.Equal(t, "com.example.app", finalCfg.APNS.BundleID)
		assert.Equal(t, 5*time.Second, finalCfg.APNS.Timeout)
		assert.Equal(t, "server-key", finalCfg.FCM.ServerKey)

		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, "redis:6379", finalCfg.Redis.Addr)
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)

		assert.Equal(t, []string{config.ProviderAPNS, config.ProviderFCMLegacy, config.ProviderWeb}, finalCfg.EnabledProviders())
	})

	t.Run("Success - Defaults preserved", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ListenAddr = ""
		cfg.NumPipelineWorkers = 0
		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, "base-pub", finalCfg.Vapid.PublicKey)
		assert.Equal(t, ":8080", finalCfg.ListenAddr)
		assert.Equal(t, 1, finalCfg.NumPipelineWorkers)
		assert.NotNil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Success - Firebase defaults to service project", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Firebase.Enabled = true
		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, "base-project", finalCfg.Firebase.ProjectID)
	})

	t.Run("Validation Failure - Missing ProjectID", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "")
		cfg := &config.Config{SubscriptionID: "sub", Console: true}
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Provider sections", func(t *testing.T) {
		testCases := []struct {
			name     string
			mutate   func(*config.Config)
			contains string
		}{
			{"APNS without bundle", func(c *config.Config) { c.APNS = config.APNSConfig{Enabled: true, KeyPath: "k"} }, "bundle_id"},
			{"APNS without credentials", func(c *config.Config) { c.APNS = config.APNSConfig{Enabled: true, BundleID: "b"} }, "certificate_path or a key_path"},
			{"Legacy APNS without certificate", func(c *config.Config) { c.APNSLegacy.Enabled = true }, "apns_legacy.certificate_path"},
			{"FCM without server key", func(c *config.Config) { c.FCM.Enabled = true }, "fcm.server_key"},
			{"WNS without notify URL", func(c *config.Config) { c.WNS.Enabled = true }, "wns.notify_url"},
			{"No provider at all", func(c *config.Config) { c.Vapid = config.VapidConfig{} }, "no push provider"},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := baseConfig()
				tc.mutate(cfg)
				_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.contains)
			})
		}
	})
}
