//go:build integration

package pushservice_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/rentfolio/go-push-service/internal/device"
	"github.com/rentfolio/go-push-service/internal/dispatch"
	"github.com/rentfolio/go-push-service/internal/platform/noop"
	"github.com/rentfolio/go-push-service/internal/provider"
	"github.com/rentfolio/go-push-service/internal/stats"
	fsStore "github.com/rentfolio/go-push-service/internal/storage/firestore"
	"github.com/rentfolio/go-push-service/internal/template"
	"github.com/rentfolio/go-push-service/pkg/push"
	"github.com/rentfolio/go-push-service/pushservice"
	"github.com/rentfolio/go-push-service/pushservice/config"
)

// A malformed payload must never cycle through the workers forever: the
// transformer rejects it, the subscription retries it, and Pub/Sub moves
// it to the dead letter topic once its delivery attempts are exhausted.
func TestPushService_PoisonPill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-push-dlq"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	// 2. Main topic, DLQ topic, and subscriptions
	runID := uuid.NewString()
	mainTopicID := "push-main-" + runID
	dlqTopicID := "push-dlq-" + runID
	mainSubID := mainTopicID + "-sub"
	dlqSubID := dlqTopicID + "-sub"

	createPubsubResources(t, ctx, psClient, projectID, dlqTopicID, dlqSubID)
	dlqTopicName := fmt.Sprintf("projects/%s/topics/%s", projectID, dlqTopicID)

	mainTopicName := fmt.Sprintf("projects/%s/topics/%s", projectID, mainTopicID)
	_, err = psClient.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: mainTopicName})
	require.NoError(t, err)

	mainSubName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, mainSubID)
	mainSub := &pubsubpb.Subscription{
		Name:  mainSubName,
		Topic: mainTopicName,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopicName,
			MaxDeliveryAttempts: 5,
		},
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = psClient.SubscriptionAdminClient.CreateSubscription(ctx, mainSub)
	require.NoError(t, err)

	// 3. Service over real stores and a capturing gateway
	deviceStore := fsStore.NewDeviceStore(fsClient)
	recordStore := fsStore.NewRecordStore(fsClient)
	templateStore := fsStore.NewTemplateStore(fsClient)

	fcmAdapter := &capturingAdapter{id: push.ProviderFCM}
	registry, err := provider.NewRegistry(
		fcmAdapter,
		noop.New(push.ProviderAPNS, logger),
		noop.New(push.ProviderWebPush, logger),
		noop.New(push.ProviderNoop, logger),
	)
	require.NoError(t, err)
	router := provider.NewRouter(nil)

	deviceRegistry := device.NewRegistry(deviceStore, router, registry, 5*time.Second, logger)
	renderer := template.NewRenderer(templateStore, logger)
	engine := dispatch.NewEngine(deviceStore, recordStore, renderer, registry, router, 5*time.Second, logger)
	reporter := stats.NewReporter(recordStore, deviceStore, logger)

	consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(mainSubID)
	consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
	require.NoError(t, err)

	cfg := &config.Config{
		ProjectID:          projectID,
		ListenAddr:         ":0",
		SubscriptionID:     mainSubID,
		NumPipelineWorkers: 2,
	}

	noopMiddleware := func(h http.Handler) http.Handler { return h }
	svc, err := pushservice.New(cfg, consumer, engine, deviceRegistry, reporter, noopMiddleware, noopMiddleware, logger)
	require.NoError(t, err)

	// 4. Start the service and publish the poison pill
	serviceCtx, serviceCancel := context.WithCancel(ctx)
	defer serviceCancel()
	go func() {
		if err := svc.Start(serviceCtx); err != nil && !errors.Is(err, context.Canceled) {
			t.Logf("service.Start() returned an error: %v", err)
		}
	}()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	poisonPayload := []byte(`{"this is not valid json"`)
	result := psClient.Publisher(mainTopicID).Publish(ctx, &pubsub.Message{Data: poisonPayload})
	_, err = result.Get(ctx)
	require.NoError(t, err)

	// 5. The message must surface on the DLQ subscription
	dlqSub := psClient.Subscriber(dlqSubID)
	var wg sync.WaitGroup
	wg.Add(1)
	var receivedMsg *pubsub.Message

	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		err := dlqSub.Receive(cctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			receivedMsg = msg
			cancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("DLQ Receive returned an unexpected error: %v", err)
		}
	}()

	wg.Wait()
	require.NotNil(t, receivedMsg, "poison message never reached the DLQ subscription")
	assert.Equal(t, poisonPayload, receivedMsg.Data)

	// 6. The gateway must never have been asked to deliver anything
	count, _, _ := fcmAdapter.calls()
	assert.Zero(t, count)
}
