package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/rentfolio/go-push-service/internal/device"
	"github.com/rentfolio/go-push-service/internal/dispatch"
	"github.com/rentfolio/go-push-service/internal/platform/apns"
	"github.com/rentfolio/go-push-service/internal/platform/fcm"
	"github.com/rentfolio/go-push-service/internal/platform/noop"
	"github.com/rentfolio/go-push-service/internal/platform/webpush"
	"github.com/rentfolio/go-push-service/internal/provider"
	"github.com/rentfolio/go-push-service/internal/stats"
	"github.com/rentfolio/go-push-service/internal/storage/cache"
	fsStore "github.com/rentfolio/go-push-service/internal/storage/firestore"
	"github.com/rentfolio/go-push-service/internal/template"
	"github.com/rentfolio/go-push-service/pkg/push"
	"github.com/rentfolio/go-push-service/pushservice"
	"github.com/rentfolio/go-push-service/pushservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-service")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Stores (Device store optionally decorated with Redis) ---
	var deviceStore push.DeviceStore = fsStore.NewDeviceStore(fsClient)
	logger.Info("DeviceStore initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deviceStore = cache.NewCachedDeviceStore(deviceStore, redisClient, 24*time.Hour)
		logger.Info("DeviceStore upgraded", "type", "redis_cached_firestore")
	}

	recordStore := fsStore.NewRecordStore(fsClient)
	templateStore := fsStore.NewTemplateStore(fsClient)

	if err := template.SeedDefaults(ctx, templateStore, logger); err != nil {
		logger.Error("Template seeding failed", "err", err)
		os.Exit(1)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	adminMiddleware := newAdminGuard(os.Getenv("ADMIN_USERS"), logger)

	// --- Adapters ---
	adapters := []push.Adapter{noop.New(push.ProviderNoop, logger)}

	// A. Mobile (FCM)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	adapters = append(adapters, fcm.New(fcmMessaging, logger))

	// B. Apple (APNs). Missing credentials downgrade ios delivery to the
	// no-op adapter rather than blocking the whole service.
	if cfg.APNS.P8KeyContent != "" {
		apnsAdapter, err := apns.New(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
		}, cfg.BatchConcurrency, logger)
		if err != nil {
			logger.Error("Failed to build APNs adapter", "err", err)
			os.Exit(1)
		}
		adapters = append(adapters, apnsAdapter)
	} else {
		logger.Warn("APNs credentials missing. ios pushes will be no-ops.")
		adapters = append(adapters, noop.New(push.ProviderAPNS, logger))
	}

	// C. Web (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push will fail.")
	}
	adapters = append(adapters, webpush.New(webpush.Config{
		PublicKey:       cfg.Vapid.PublicKey,
		PrivateKey:      cfg.Vapid.PrivateKey,
		SubscriberEmail: cfg.Vapid.SubscriberEmail,
	}, cfg.BatchConcurrency, logger))

	registry, err := provider.NewRegistry(adapters...)
	if err != nil {
		logger.Error("Provider registry failed", "err", err)
		os.Exit(1)
	}

	overrides := make(map[push.Platform]push.ProviderID, len(cfg.RouterOverrides))
	for platform, providerID := range cfg.RouterOverrides {
		overrides[push.Platform(platform)] = push.ProviderID(providerID)
		logger.Info("Route override active", "platform", platform, "provider", providerID)
	}
	router := provider.NewRouter(overrides)

	// --- Domain components ---
	deviceRegistry := device.NewRegistry(deviceStore, router, registry, cfg.SendTimeout, logger)
	renderer := template.NewRenderer(templateStore, logger)
	engine := dispatch.NewEngine(deviceStore, recordStore, renderer, registry, router, cfg.SendTimeout, logger)
	reporter := stats.NewReporter(recordStore, deviceStore, logger)

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	service, err := pushservice.New(
		cfg,
		consumer,
		engine,
		deviceRegistry,
		reporter,
		authMiddleware,
		adminMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newAdminGuard restricts a route to the operator allowlist. The auth
// middleware has already established identity; this only checks the role.
func newAdminGuard(allowlist string, logger *slog.Logger) func(http.Handler) http.Handler {
	admins := make(map[string]bool)
	for _, id := range strings.Split(allowlist, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			admins[trimmed] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := middleware.GetUserHandleFromContext(r.Context())
			if !ok || !admins[userID] {
				logger.Warn("admin route refused", "user", userID)
				response.WriteJSONError(w, http.StatusForbidden, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
