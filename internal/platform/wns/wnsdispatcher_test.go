package wns

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

type wnsRequest struct {
	auth, contentType, wnsType, tag, body string
}

// fakeWNS serves both the OAuth endpoint (/token) and the notify endpoint (/notify).
// Bearer tokens map to the status the notify endpoint answers with.
type fakeWNS struct {
	mu         sync.Mutex
	requests   []wnsRequest
	tokenCalls int
	statuses   map[string]int
}

func (f *fakeWNS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/token":
		f.tokenCalls++
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("client_secret") != "good-secret" || r.PostForm.Get("scope") != "notify.windows.com" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Invalid client id"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"issued-` + r.PostForm.Get("client_id") + `","token_type":"bearer","expires_in":86400}`))

	case "/notify":
		body, _ := io.ReadAll(r.Body)
		auth := r.Header.Get("Authorization")
		f.requests = append(f.requests, wnsRequest{
			auth:        auth,
			contentType: r.Header.Get("Content-Type"),
			wnsType:     r.Header.Get("X-WNS-Type"),
			tag:         r.Header.Get("X-WNS-Tag"),
			body:        string(body),
		})
		if status, ok := f.statuses[auth[len("Bearer "):]]; ok {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func newTestDispatcher(t *testing.T, fake *fakeWNS, tokens cache.Client) (*Dispatcher, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := NewAuthenticator(server.URL+"/token", server.Client(), tokens, logger)
	d := NewDispatcher(Config{NotifyURL: server.URL + "/notify"}, server.Client(), auth, logger)
	return d, server
}

func TestDispatcher_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy Path - bearer and credentials", func(t *testing.T) {
		fake := &fakeWNS{}
		d, _ := newTestDispatcher(t, fake, nil)
		require.NoError(t, d.AddDevice("bearer-1"))
		require.NoError(t, d.AddCredentials("client-a", "good-secret"))

		result, err := d.Send(ctx, notification.NewMessage("hello").WithTitle("Hi").WithPayload(map[string]any{"tag": "t1"}))

		require.NoError(t, err)
		assert.True(t, result.OK())
		assert.Equal(t, []string{"bearer-1", "client-a"}, result.Devices())
		assert.Zero(t, d.Pending())

		require.Len(t, fake.requests, 2)
		assert.Equal(t, "Bearer bearer-1", fake.requests[0].auth)
		assert.Equal(t, "Bearer issued-client-a", fake.requests[1].auth)
		for _, r := range fake.requests {
			assert.Equal(t, "text/xml", r.contentType)
			assert.Equal(t, "wns/toast", r.wnsType)
			assert.Equal(t, "t1", r.tag)
			assert.Contains(t, r.body, `template="ToastText02"`)
		}
	})

	t.Run("Status codes are recorded per device", func(t *testing.T) {
		fake := &fakeWNS{statuses: map[string]int{
			"gone":    http.StatusGone,
			"limited": http.StatusNotAcceptable,
			"teapot":  http.StatusTeapot,
		}}
		d, _ := newTestDispatcher(t, fake, nil)
		for _, dev := range []string{"gone", "ok", "limited", "teapot"} {
			require.NoError(t, d.AddDevice(dev))
		}

		result, err := d.SendRaw(ctx, map[string]any{"message": "raw"}, notification.PriorityHigh)

		require.NoError(t, err)
		assert.False(t, result.OK())
		assert.Equal(t, []string{"gone"}, result.InvalidDevices())
		assert.Equal(t, []string{"limited"}, result.RateLimitedDevices())
		assert.NoError(t, result.ErrorFor("ok"))
		var respErr *notification.ResponseError
		assert.ErrorAs(t, result.ErrorFor("teapot"), &respErr)
		assert.Len(t, fake.requests, 4)
	})

	t.Run("Auth failure aborts the rest of the batch", func(t *testing.T) {
		fake := &fakeWNS{}
		d, _ := newTestDispatcher(t, fake, nil)
		require.NoError(t, d.AddDevice("first"))
		require.NoError(t, d.AddCredentials("client-b", "wrong-secret"))
		require.NoError(t, d.AddDevice("never-sent"))

		result, err := d.SendRaw(ctx, map[string]any{"xml": "<toast/>"}, notification.PriorityHigh)

		var authErr *notification.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "invalid_client", authErr.Code)
		assert.Equal(t, "Invalid client id", authErr.Description)

		assert.NoError(t, result.ErrorFor("first"))
		assert.Error(t, result.ErrorFor("client-b"))
		assert.False(t, result.Has("never-sent"))
		assert.Len(t, fake.requests, 1)
		assert.Zero(t, d.Pending())
	})

	t.Run("Transport failure aborts the rest of the batch", func(t *testing.T) {
		fake := &fakeWNS{}
		d, server := newTestDispatcher(t, fake, nil)
		server.Close()
		require.NoError(t, d.AddDevice("a"))
		require.NoError(t, d.AddDevice("b"))

		result, err := d.SendRaw(ctx, map[string]any{"xml": "<toast/>"}, notification.PriorityHigh)

		var reqErr *notification.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, []string{"a"}, result.Devices())
		assert.Zero(t, d.Pending())
	})

	t.Run("Payload without message or xml", func(t *testing.T) {
		d, _ := newTestDispatcher(t, &fakeWNS{}, nil)
		require.NoError(t, d.AddDevice("a"))

		_, err := d.SendRaw(ctx, map[string]any{"title": "x"}, notification.PriorityHigh)
		var vErr *notification.ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Zero(t, d.Pending())
	})
}

func TestAuthenticator_Caching(t *testing.T) {
	ctx := context.Background()
	fake := &fakeWNS{}
	d, _ := newTestDispatcher(t, fake, cache.NewMemoryClient(time.Minute))

	for i := 0; i < 3; i++ {
		require.NoError(t, d.AddCredentials("client-c", "good-secret"))
		result, err := d.SendRaw(ctx, map[string]any{"message": "m"}, notification.PriorityHigh)
		require.NoError(t, err)
		require.True(t, result.OK())
	}
	assert.Equal(t, 1, fake.tokenCalls)
}

func TestAuthenticator_CacheIsBoundToSecret(t *testing.T) {
	ctx := context.Background()
	fake := &fakeWNS{}
	d, _ := newTestDispatcher(t, fake, cache.NewMemoryClient(time.Minute))

	require.NoError(t, d.AddCredentials("client-c", "good-secret"))
	result, err := d.SendRaw(ctx, map[string]any{"message": "m"}, notification.PriorityHigh)
	require.NoError(t, err)
	require.True(t, result.OK())

	require.NoError(t, d.AddCredentials("client-c", "wrong-secret"))
	result, err = d.SendRaw(ctx, map[string]any{"message": "m"}, notification.PriorityHigh)

	var authErr *notification.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_client", authErr.Code)
	assert.False(t, result.OK())
	assert.Equal(t, 2, fake.tokenCalls)
	assert.Len(t, fake.requests, 1, "wrong credentials must not reach the notify endpoint")
}

func TestDispatcher_Prepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var cfgErr *notification.ConfigurationError

	d := NewDispatcher(Config{}, nil, nil, logger)
	assert.ErrorAs(t, d.Prepare(), &cfgErr)

	d = NewDispatcher(Config{NotifyURL: "https://db5.notify.windows.com/?token=abc"}, nil, nil, logger)
	assert.NoError(t, d.Prepare())
}
