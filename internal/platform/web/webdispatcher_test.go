package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// subscriptionFor builds a subscription with a real browser-side key pair so the
// payload can be encrypted.
func subscriptionFor(t *testing.T, endpoint string) string {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)

	raw, err := json.Marshal(webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(secret),
		},
	})
	require.NoError(t, err)
	return string(raw)
}

func TestDispatch_Lifecycle(t *testing.T) {
	// Simulates Google/Mozilla Push Server
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify VAPID Headers exist
		assert.NotEmpty(t, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Urgency"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/error":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer mockServer.Close()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	dispatcher := web.NewDispatcher(web.Config{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "mailto:test-runner@tinywideclouds.com",
	}, mockServer.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, dispatcher.Prepare())

	success := subscriptionFor(t, mockServer.URL+"/success")
	expired := subscriptionFor(t, mockServer.URL+"/expired")
	throttled := subscriptionFor(t, mockServer.URL+"/throttled")
	broken := subscriptionFor(t, mockServer.URL+"/error")
	for _, sub := range []string{success, expired, throttled, broken} {
		require.NoError(t, dispatcher.AddDevice(sub))
	}

	result, err := dispatcher.Send(context.Background(), notification.NewMessage("Body").WithTitle("Title"))

	require.NoError(t, err)
	assert.Equal(t, []string{success}, result.Succeeded())
	assert.Equal(t, []string{expired}, result.InvalidDevices())
	assert.Equal(t, []string{throttled}, result.RateLimitedDevices())
	var respErr *notification.ResponseError
	assert.ErrorAs(t, result.ErrorFor(broken), &respErr)
	assert.Zero(t, dispatcher.Pending())
}

func TestAddDevice_Validation(t *testing.T) {
	dispatcher := web.NewDispatcher(web.Config{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	testCases := map[string]string{
		"Not JSON":        "token-1",
		"Relative URL":    `{"endpoint":"/push","keys":{"p256dh":"QUJD","auth":"QUJD"}}`,
		"Missing keys":    `{"endpoint":"https://push.example.com/x"}`,
		"Non-base64 auth": `{"endpoint":"https://push.example.com/x","keys":{"p256dh":"QUJD","auth":"***"}}`,
	}
	for name, token := range testCases {
		t.Run(name, func(t *testing.T) {
			err := dispatcher.AddDevice(token)
			var vErr *notification.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
	assert.Zero(t, dispatcher.Pending())

	var cfgErr *notification.ConfigurationError
	assert.ErrorAs(t, dispatcher.Prepare(), &cfgErr)
}
