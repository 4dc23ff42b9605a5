package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/rentfolio/go-push-service/internal/dispatch"
	"github.com/rentfolio/go-push-service/pkg/push"
)

// NewProcessor builds the worker function that feeds validated send
// requests into the dispatch engine.
//
// Operation-level failures (no target devices, unknown template, bad
// content) are business outcomes, not transport problems: they are logged
// and the message is acked so it never cycles through the DLQ. Storage
// errors are returned so the streaming service retries.
func NewProcessor(
	engine *dispatch.Engine,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[SendRequest] {

	return func(ctx context.Context, original messagepipeline.Message, req *SendRequest) error {
		procLogger := logger.With(
			"user_id", req.UserID,
			"pubsub_msg_id", original.ID,
		)

		var (
			result *dispatch.Result
			err    error
		)
		if req.Template != "" {
			result, err = engine.SendTemplated(ctx, req.Template, req.userURN, req.Variables)
		} else {
			result, err = engine.Send(ctx, dispatch.Target{UserID: req.userURN, DeviceID: req.DeviceID}, req.Message)
		}

		if err != nil {
			if isBusinessOutcome(err) {
				procLogger.Info("dropping undeliverable send request", "reason", err)
				return nil
			}
			procLogger.Error("dispatch failed", "err", err)
			return err
		}

		procLogger.Info("dispatched", "sent", result.Sent, "failed", result.Failed)
		return nil
	}
}

func isBusinessOutcome(err error) bool {
	return errors.Is(err, push.ErrNoTargetDevices) ||
		errors.Is(err, push.ErrTemplateNotFound) ||
		errors.Is(err, push.ErrDeviceNotFound) ||
		errors.Is(err, push.ErrNotOwner) ||
		errors.Is(err, push.ErrInvalidMessage)
}
