// Package fcm adapts Firebase Cloud Messaging to the push.Adapter contract.
package fcm

import (
	"context"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/rentfolio/go-push-service/pkg/push"
)

// FCM registration tokens have no published grammar, but real ones sit
// comfortably inside this range. Outliers are rejected at registration.
const (
	minTokenLen = 100
	maxTokenLen = 4096
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Adapter struct {
	client MessagingClient
	logger *slog.Logger
}

// New accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func New(client MessagingClient, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		logger: logger.With("component", "FCMAdapter"),
	}
}

func (a *Adapter) Name() push.ProviderID { return push.ProviderFCM }

// ValidateToken applies a length heuristic. FCM offers no offline token
// check, so this only filters out obviously malformed registrations.
func (a *Adapter) ValidateToken(_ context.Context, token string) bool {
	return len(token) >= minTokenLen && len(token) <= maxTokenLen
}

func (a *Adapter) Send(ctx context.Context, token string, msg push.Message) (string, error) {
	id, err := a.client.Send(ctx, &messaging.Message{
		Token:        token,
		Notification: notificationOf(msg),
		Data:         msg.Data,
		Android:      androidConfigOf(msg),
	})
	if err != nil {
		return "", &push.ProviderError{Provider: push.ProviderFCM, Err: err}
	}
	return id, nil
}

// SendBatch issues one multiplexed multicast call for the whole token set.
func (a *Adapter) SendBatch(ctx context.Context, tokens []string, msg push.Message) (push.BatchResult, error) {
	if len(tokens) == 0 {
		return push.BatchResult{}, nil
	}

	br, err := a.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: notificationOf(msg),
		Data:         msg.Data,
		Android:      androidConfigOf(msg),
	})
	if err != nil {
		// Whole-batch transport failure: every token shares the outcome.
		return push.BatchResult{}, &push.ProviderError{Provider: push.ProviderFCM, Err: err}
	}

	result := push.BatchResult{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Outcomes:     make([]push.SendOutcome, len(tokens)),
	}
	for i, resp := range br.Responses {
		outcome := push.SendOutcome{Token: tokens[i]}
		if resp.Success {
			outcome.MessageID = resp.MessageID
		} else {
			outcome.Err = &push.ProviderError{Provider: push.ProviderFCM, Err: resp.Error}
		}
		result.Outcomes[i] = outcome
	}

	a.logger.Debug("multicast complete",
		"tokens", len(tokens), "success", br.SuccessCount, "failure", br.FailureCount)
	return result, nil
}

func notificationOf(msg push.Message) *messaging.Notification {
	return &messaging.Notification{
		Title:    msg.Title,
		Body:     msg.Body,
		ImageURL: msg.ImageURL,
	}
}

func androidConfigOf(msg push.Message) *messaging.AndroidConfig {
	cfg := &messaging.AndroidConfig{
		CollapseKey: msg.CollapseKey,
		Priority:    "normal",
	}
	if msg.Priority == push.PriorityHigh {
		cfg.Priority = "high"
	}
	if msg.TTLSeconds > 0 {
		ttl := time.Duration(msg.TTLSeconds) * time.Second
		cfg.TTL = &ttl
	}
	return cfg
}

var _ push.Adapter = (*Adapter)(nil)

// guards against the narrow interface drifting from the SDK signature
var _ MessagingClient = (*messaging.Client)(nil)
