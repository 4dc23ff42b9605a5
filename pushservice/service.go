// Package pushservice assembles the HTTP surface and the asynchronous
// ingestion pipeline into one runnable service.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/rentfolio/go-push-service/internal/api"
	"github.com/rentfolio/go-push-service/internal/device"
	"github.com/rentfolio/go-push-service/internal/dispatch"
	"github.com/rentfolio/go-push-service/internal/pipeline"
	"github.com/rentfolio/go-push-service/internal/stats"
	"github.com/rentfolio/go-push-service/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.SendRequest]
	logger          *slog.Logger
}

// New assembles the service. The engine, registry and reporter arrive
// fully wired; adminMiddleware guards the fleet-wide broadcast route on
// top of the ordinary auth middleware.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	engine *dispatch.Engine,
	deviceRegistry *device.Registry,
	reporter *stats.Reporter,
	authMiddleware func(http.Handler) http.Handler,
	adminMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (async send requests)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.SendRequestTransformer,
		pipeline.NewProcessor(engine, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 3. APIs
	deviceAPI := api.NewDeviceAPI(deviceRegistry, logger)
	dispatchAPI := api.NewDispatchAPI(engine, logger)
	statsAPI := api.NewStatsAPI(reporter, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}
	handleAdmin := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(adminMiddleware(handlerFunc))))
	}

	// Device registration surface
	handle("POST /api/v1/devices", deviceAPI.RegisterDevice)
	handle("GET /api/v1/devices", deviceAPI.ListDevices)
	handle("DELETE /api/v1/devices/{id}", deviceAPI.UnregisterDevice)

	// Dispatch surface
	handle("POST /api/v1/send", dispatchAPI.Send)
	handle("POST /api/v1/send/template", dispatchAPI.SendTemplated)
	handleAdmin("POST /api/v1/broadcast", dispatchAPI.Broadcast)

	// Reporting surface
	handleAdmin("GET /api/v1/stats", statsAPI.Stats)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
