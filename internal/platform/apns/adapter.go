// Package apns adapts the Apple Push Notification Service to the
// push.Adapter contract.
package apns

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/rentfolio/go-push-service/pkg/push"
)

// APNs device tokens are exactly 32 bytes, hex encoded.
const tokenHexLen = 64

// defaultBatchConcurrency bounds the per-partition fan-out during
// broadcasts. APNs has no multicast endpoint, so a batch is individual
// HTTP/2 pushes; an unbounded fan-out would hammer the gateway.
const defaultBatchConcurrency = 8

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID  string
	TeamID string
	// BundleID is the app bundle ID used as the APNs topic.
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file.
	P8KeyContent string
}

type Adapter struct {
	client           APNSClient
	topic            string
	batchConcurrency int
	logger           *slog.Logger
}

// New creates a configured APNs adapter. It parses the P8 key immediately
// to fail fast on startup if credentials are bad.
func New(cfg Config, batchConcurrency int, logger *slog.Logger) (*Adapter, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return NewWithClient(apns2.NewTokenClient(tokenSource), cfg.BundleID, batchConcurrency, logger), nil
}

// NewWithClient wires an already-built client; tests inject mocks here.
func NewWithClient(client APNSClient, topic string, batchConcurrency int, logger *slog.Logger) *Adapter {
	if batchConcurrency <= 0 {
		batchConcurrency = defaultBatchConcurrency
	}
	return &Adapter{
		client:           client,
		topic:            topic,
		batchConcurrency: batchConcurrency,
		logger:           logger.With("component", "APNSAdapter"),
	}
}

func (a *Adapter) Name() push.ProviderID { return push.ProviderAPNS }

// ValidateToken checks the fixed 64-character hex format of APNs tokens.
func (a *Adapter) ValidateToken(_ context.Context, t string) bool {
	if len(t) != tokenHexLen {
		return false
	}
	_, err := hex.DecodeString(t)
	return err == nil
}

func (a *Adapter) Send(ctx context.Context, deviceToken string, msg push.Message) (string, error) {
	res, err := a.client.PushWithContext(ctx, a.notification(deviceToken, msg))
	if err != nil {
		return "", &push.ProviderError{Provider: push.ProviderAPNS, Err: err}
	}
	if !res.Sent() {
		return "", &push.ProviderError{
			Provider: push.ProviderAPNS,
			Err:      fmt.Errorf("apns rejected notification: %s (status %d)", res.Reason, res.StatusCode),
		}
	}
	return res.ApnsID, nil
}

// SendBatch fans out individual pushes with bounded concurrency. APNs
// offers no batch primitive, so callers must not assume the cost profile
// of a true multicast call.
func (a *Adapter) SendBatch(ctx context.Context, tokens []string, msg push.Message) (push.BatchResult, error) {
	result := push.BatchResult{Outcomes: make([]push.SendOutcome, len(tokens))}
	if len(tokens) == 0 {
		return result, nil
	}

	sem := make(chan struct{}, a.batchConcurrency)
	var wg sync.WaitGroup
	for i, t := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, t string) {
			defer wg.Done()
			defer func() { <-sem }()

			id, err := a.Send(ctx, t, msg)
			// Each goroutine owns exactly one slot; no further locking.
			result.Outcomes[i] = push.SendOutcome{Token: t, MessageID: id, Err: err}
		}(i, t)
	}
	wg.Wait()

	for _, o := range result.Outcomes {
		if o.Err != nil {
			result.FailureCount++
		} else {
			result.SuccessCount++
		}
	}

	a.logger.Debug("batch complete",
		"tokens", len(tokens), "success", result.SuccessCount, "failure", result.FailureCount)
	return result, nil
}

func (a *Adapter) notification(deviceToken string, msg push.Message) *apns2.Notification {
	builder := payload.NewPayload().
		AlertTitle(msg.Title).
		AlertBody(msg.Body)
	if msg.Sound != "" {
		builder.Sound(msg.Sound)
	}
	if msg.Badge > 0 {
		builder.Badge(msg.Badge)
	}
	if msg.Category != "" {
		builder.Category(msg.Category)
	}
	for k, v := range msg.Data {
		builder.Custom(k, v)
	}

	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       a.topic,
		Payload:     builder,
		CollapseID:  msg.CollapseKey,
		Priority:    apns2.PriorityLow,
	}
	if msg.Priority == push.PriorityHigh {
		n.Priority = apns2.PriorityHigh
	}
	if msg.TTLSeconds > 0 {
		n.Expiration = time.Now().Add(time.Duration(msg.TTLSeconds) * time.Second)
	}
	return n
}

var _ push.Adapter = (*Adapter)(nil)
var _ APNSClient = (*apns2.Client)(nil)
