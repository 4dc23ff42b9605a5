package push

import (
	"context"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Adapter is the uniform contract over one push gateway. Adapters are
// stateless; a single cached instance may serve concurrent callers.
type Adapter interface {
	// Name returns the provider identifier this adapter serves.
	Name() ProviderID

	// Send delivers one message to one token and returns the gateway's
	// message ID.
	Send(ctx context.Context, token string, msg Message) (string, error)

	// SendBatch delivers one message to many tokens. Batch-capable
	// gateways issue a single multiplexed call; the rest fan out with
	// bounded concurrency. One outcome is reported per input token.
	SendBatch(ctx context.Context, tokens []string, msg Message) (BatchResult, error)

	// ValidateToken reports whether the token matches the gateway's
	// expected format. Invalid tokens are rejected at registration time,
	// never discovered lazily at send time.
	ValidateToken(ctx context.Context, token string) bool
}

// SendOutcome is the per-token result of a batch call.
type SendOutcome struct {
	Token     string
	MessageID string
	Err       error
}

// BatchResult aggregates a SendBatch call. Outcomes preserve the order of
// the input tokens.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Outcomes     []SendOutcome
}

// DeviceStore owns DeviceRegistration persistence. Token uniqueness is the
// store's responsibility: concurrent registrations of one token must be
// resolved by the database, not an in-process mutex.
type DeviceStore interface {
	// Upsert inserts the device or, when its token is already registered,
	// merges the registration into the existing record via
	// Device.MergeRegistration. The stored result is returned.
	Upsert(ctx context.Context, d Device) (*Device, error)

	// GetByID returns a device regardless of its active flag, or
	// ErrDeviceNotFound.
	GetByID(ctx context.Context, id string) (*Device, error)

	// ListActiveByUser returns a user's active devices.
	ListActiveByUser(ctx context.Context, userID urn.URN) ([]Device, error)

	// ListAllActive returns every active device system-wide, for broadcast
	// fan-out.
	ListAllActive(ctx context.Context) ([]Device, error)

	// Deactivate soft-deletes a device. The record and its delivery
	// history are never physically removed.
	Deactivate(ctx context.Context, id string) error

	// Counts reports fleet size as of now, independent of any window.
	Counts(ctx context.Context) (DeviceCounts, error)
}

// DeviceCounts summarises the registered fleet.
type DeviceCounts struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	ByPlatform map[Platform]int `json:"by_platform"`
}

// RecordStore owns the notification ledger.
type RecordStore interface {
	// Insert journals one delivery outcome.
	Insert(ctx context.Context, r *Record) error

	// CountByStatusSince tallies records created at or after since.
	CountByStatusSince(ctx context.Context, since time.Time) (StatusCounts, error)

	// MarkDelivered and MarkClicked apply the lifecycle transitions
	// reported by the external receipt collaborator.
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkClicked(ctx context.Context, id string, at time.Time) error
}

// StatusCounts is a windowed tally of the ledger. Sent, Delivered and
// Clicked are cumulative lifecycle attainment: a clicked record counts in
// all three, so delivered/sent is a true delivery ratio.
type StatusCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Clicked   int `json:"clicked"`
	Failed    int `json:"failed"`
}

// Observe folds one record's status into the tally.
func (c *StatusCounts) Observe(s Status) {
	c.Total++
	switch s {
	case StatusPending:
		c.Pending++
	case StatusSent:
		c.Sent++
	case StatusDelivered:
		c.Sent++
		c.Delivered++
	case StatusClicked:
		c.Sent++
		c.Delivered++
		c.Clicked++
	case StatusFailed:
		c.Failed++
	}
}

// TemplateStore reads named templates. The dispatch path never mutates
// templates; Create exists for the startup seed.
type TemplateStore interface {
	GetByName(ctx context.Context, name string) (*Template, error)

	// Create inserts a template, failing if the name is taken.
	Create(ctx context.Context, t *Template) error
}
