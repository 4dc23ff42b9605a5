// Package dispatch is the fan-out engine: it resolves a send's target
// device set, pushes through each device's provider adapter, and journals
// every per-device outcome as a notification record.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/rentfolio/go-push-service/internal/provider"
	"github.com/rentfolio/go-push-service/internal/template"
	"github.com/rentfolio/go-push-service/pkg/push"
)

// Target selects the device set of a send: all of UserID's active devices
// or, when DeviceID is set, exactly that device, which must belong to
// UserID. UserID is always required.
type Target struct {
	UserID   urn.URN
	DeviceID string
}

// DeviceOutcome is the per-device detail inside a dispatch result.
type DeviceOutcome struct {
	DeviceID  string          `json:"device_id"`
	Provider  push.ProviderID `json:"provider"`
	MessageID string          `json:"message_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Result aggregates a dispatch call. Partial failure is a normal response
// shape: Sent+Failed always equals the number of resolved devices.
type Result struct {
	Sent     int             `json:"sent"`
	Failed   int             `json:"failed"`
	Outcomes []DeviceOutcome `json:"results"`
}

// BroadcastResult aggregates an admin fleet-wide broadcast.
type BroadcastResult struct {
	TotalDevices int `json:"total_devices"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
}

// Engine coordinates device resolution, adapter calls and journaling.
type Engine struct {
	devices     push.DeviceStore
	records     push.RecordStore
	renderer    *template.Renderer
	providers   *provider.Registry
	router      *provider.Router
	sendTimeout time.Duration
	logger      *slog.Logger
}

func NewEngine(
	devices push.DeviceStore,
	records push.RecordStore,
	renderer *template.Renderer,
	providers *provider.Registry,
	router *provider.Router,
	sendTimeout time.Duration,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		devices:     devices,
		records:     records,
		renderer:    renderer,
		providers:   providers,
		router:      router,
		sendTimeout: sendTimeout,
		logger:      logger.With("component", "DispatchEngine"),
	}
}

// Send dispatches one message to every device the target resolves to.
// Adapter failures are captured on the device's record and never abort
// sibling deliveries; an empty target set aborts the whole call with
// push.ErrNoTargetDevices.
func (e *Engine) Send(ctx context.Context, target Target, msg push.Message) (*Result, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	devices, err := e.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	return e.fanOut(ctx, devices, msg), nil
}

// SendTemplated renders an active template and runs the identical
// per-device dispatch loop against the user's devices.
func (e *Engine) SendTemplated(ctx context.Context, name string, userID urn.URN, vars map[string]string) (*Result, error) {
	msg, err := e.renderer.Render(ctx, name, vars)
	if err != nil {
		return nil, err
	}
	return e.Send(ctx, Target{UserID: userID}, msg)
}

// fanOut runs the per-device loop concurrently. Devices are independent
// units of work: each gets its own record and the aggregate is an
// order-independent sum.
func (e *Engine) fanOut(ctx context.Context, devices []push.Device, msg push.Message) *Result {
	result := &Result{Outcomes: make([]DeviceOutcome, len(devices))}

	var wg sync.WaitGroup
	for i, d := range devices {
		wg.Add(1)
		go func(i int, d push.Device) {
			defer wg.Done()
			result.Outcomes[i] = e.sendToDevice(ctx, d, msg)
		}(i, d)
	}
	wg.Wait()

	for _, o := range result.Outcomes {
		if o.Error != "" {
			result.Failed++
		} else {
			result.Sent++
		}
	}
	return result
}

// sendToDevice pushes to one device and journals the outcome. Every
// outcome is persisted, success and failure alike, so the ledger is a
// complete audit trail.
func (e *Engine) sendToDevice(ctx context.Context, d push.Device, msg push.Message) DeviceOutcome {
	providerID := e.router.Route(d.Platform)
	outcome := DeviceOutcome{DeviceID: d.ID, Provider: providerID}

	rec, err := push.NewRecord(uuid.NewString(), d.UserID, d.ID, providerID, msg, time.Now().UTC())
	if err != nil {
		// Validated before fan-out; reaching this is a programming error.
		outcome.Error = err.Error()
		return outcome
	}

	adapter, err := e.providers.Get(providerID)
	if err != nil {
		rec.MarkFailed(err)
		outcome.Error = err.Error()
	} else {
		sctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		messageID, sendErr := adapter.Send(sctx, d.Token, msg)
		cancel()

		if sendErr != nil {
			// Local to this device: recorded, not re-raised.
			rec.MarkFailed(sendErr)
			outcome.Error = sendErr.Error()
			e.logger.Warn("send failed",
				"device_id", d.ID, "provider", string(providerID), "err", sendErr)
		} else {
			rec.MarkSent(messageID, time.Now().UTC())
			outcome.MessageID = messageID
		}
	}

	if err := e.records.Insert(ctx, rec); err != nil {
		e.logger.Error("failed to journal outcome", "device_id", d.ID, "err", err)
	}
	return outcome
}

// Broadcast pushes one message to every active device system-wide,
// partitioned by provider with a single batch call per partition. Every
// per-device outcome is journaled so the stats ledger stays complete.
func (e *Engine) Broadcast(ctx context.Context, title, body string, priority push.Priority) (*BroadcastResult, error) {
	msg := push.Message{Title: title, Body: body, Priority: priority}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	devices, err := e.devices.ListAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active devices: %w", err)
	}

	result := &BroadcastResult{TotalDevices: len(devices)}
	if len(devices) == 0 {
		return result, nil
	}

	partitions := make(map[push.ProviderID][]push.Device)
	for _, d := range devices {
		id := e.router.Route(d.Platform)
		partitions[id] = append(partitions[id], d)
	}

	for providerID, part := range partitions {
		sent, failed := e.broadcastPartition(ctx, providerID, part, msg)
		result.Sent += sent
		result.Failed += failed
	}

	e.logger.Info("broadcast complete",
		"devices", result.TotalDevices, "sent", result.Sent, "failed", result.Failed)
	return result, nil
}

func (e *Engine) broadcastPartition(ctx context.Context, providerID push.ProviderID, devices []push.Device, msg push.Message) (sent, failed int) {
	adapter, err := e.providers.Get(providerID)
	if err != nil {
		e.journalPartitionFailure(ctx, devices, providerID, msg, err)
		return 0, len(devices)
	}

	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}

	bctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	batch, err := adapter.SendBatch(bctx, tokens, msg)
	cancel()
	if err != nil {
		// Whole-partition transport failure; other partitions carry on.
		e.logger.Warn("partition batch failed", "provider", string(providerID), "err", err)
		e.journalPartitionFailure(ctx, devices, providerID, msg, err)
		return 0, len(devices)
	}

	// Outcomes align with the token slice, so index i is device i.
	for i, o := range batch.Outcomes {
		rec, recErr := push.NewRecord(uuid.NewString(), devices[i].UserID, devices[i].ID, providerID, msg, time.Now().UTC())
		if recErr != nil {
			continue
		}
		if o.Err != nil {
			rec.MarkFailed(o.Err)
		} else {
			rec.MarkSent(o.MessageID, time.Now().UTC())
		}
		if err := e.records.Insert(ctx, rec); err != nil {
			e.logger.Error("failed to journal broadcast outcome", "device_id", devices[i].ID, "err", err)
		}
	}
	return batch.SuccessCount, batch.FailureCount
}

func (e *Engine) journalPartitionFailure(ctx context.Context, devices []push.Device, providerID push.ProviderID, msg push.Message, cause error) {
	for _, d := range devices {
		rec, recErr := push.NewRecord(uuid.NewString(), d.UserID, d.ID, providerID, msg, time.Now().UTC())
		if recErr != nil {
			continue
		}
		rec.MarkFailed(cause)
		if err := e.records.Insert(ctx, rec); err != nil {
			e.logger.Error("failed to journal broadcast outcome", "device_id", d.ID, "err", err)
		}
	}
}

// resolve expands a target into its active device set.
func (e *Engine) resolve(ctx context.Context, target Target) ([]push.Device, error) {
	if target.DeviceID != "" {
		d, err := e.devices.GetByID(ctx, target.DeviceID)
		if err != nil {
			return nil, err
		}
		if !d.IsActive {
			return nil, fmt.Errorf("%w: device %s is inactive", push.ErrDeviceNotFound, target.DeviceID)
		}
		if d.UserID.String() != target.UserID.String() {
			return nil, push.ErrNotOwner
		}
		return []push.Device{*d}, nil
	}

	devices, err := e.devices.ListActiveByUser(ctx, target.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolving target devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, push.ErrNoTargetDevices
	}
	return devices, nil
}
