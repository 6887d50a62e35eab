//go:build integration

package pushservice_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pushservice"
	"github.com/tinywideclouds/go-push-dispatch/pushservice/config"
)

// --- MOCKS ---

// recordingProvider builds Dummy handlers that remember every delivery.
type recordingProvider struct {
	mu        sync.Mutex
	calls     int
	delivered []string
	payloads  []map[string]any
}

func (r *recordingProvider) factory() (dispatch.Handler, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return dispatch.NewDummy(func(payload map[string]any, device string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.delivered = append(r.delivered, device)
		r.payloads = append(r.payloads, payload)
	}), nil
}

func (r *recordingProvider) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recordingProvider) Delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.delivered...)
}

// --- TEST ---

func TestPushService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := newTestLogger()
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	t.Run("Full Lifecycle: Publish -> Process -> Dispatch", func(t *testing.T) {
		// Arrange
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

		provider := &recordingProvider{}
		factories := map[string]dispatch.Factory{config.ProviderConsole: provider.factory}

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := pushservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			factories,
			nil,
			func(h http.Handler) http.Handler { return h }, // No-op Auth
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// Act
		req := pipeline.DispatchRequest{
			RequestID: "integ-1",
			Provider:  config.ProviderConsole,
			Devices:   []string{"device-a", "device-b"},
			Message:   &pipeline.MessageSpec{Body: "Hello", Title: "Greeting"},
		}
		payload, err := json.Marshal(req)
		require.NoError(t, err)
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		// Assert
		require.Eventually(t, func() bool {
			return len(provider.Delivered()) == 2
		}, 10*time.Second, 100*time.Millisecond)

		assert.Equal(t, []string{"device-a", "device-b"}, provider.Delivered())
		assert.Equal(t, 1, provider.Calls(), "one handler per request")
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
