// Package noop is the stand-in adapter for unrecognized platforms and for
// tests. It accepts every token and synthesizes receipts without touching
// the network.
package noop

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rentfolio/go-push-service/pkg/push"
)

type Adapter struct {
	id     push.ProviderID
	logger *slog.Logger
}

// New builds a no-op adapter answering to the given provider identifier,
// so it can also stand in for a real gateway whose credentials are absent.
func New(id push.ProviderID, logger *slog.Logger) *Adapter {
	return &Adapter{id: id, logger: logger.With("component", "NoopAdapter", "provider", string(id))}
}

func (a *Adapter) Name() push.ProviderID { return a.id }

func (a *Adapter) ValidateToken(_ context.Context, _ string) bool { return true }

func (a *Adapter) Send(_ context.Context, _ string, _ push.Message) (string, error) {
	return "noop-" + uuid.NewString(), nil
}

func (a *Adapter) SendBatch(_ context.Context, tokens []string, _ push.Message) (push.BatchResult, error) {
	result := push.BatchResult{
		SuccessCount: len(tokens),
		Outcomes:     make([]push.SendOutcome, len(tokens)),
	}
	for i, t := range tokens {
		result.Outcomes[i] = push.SendOutcome{Token: t, MessageID: "noop-" + uuid.NewString()}
	}
	a.logger.Debug("synthesized batch", "tokens", len(tokens))
	return result, nil
}

var _ push.Adapter = (*Adapter)(nil)
