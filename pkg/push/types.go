// Package push contains the public domain models and contracts for the
// push-notification dispatch service.
package push

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Platform identifies the client platform a device registration belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// ParsePlatform normalises a raw platform string. Unknown values are
// returned as-is with ok=false; the router maps those to the no-op provider.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(s) {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return Platform(s), true
	}
	return Platform(s), false
}

// ProviderID is the closed set of delivery-provider identifiers.
type ProviderID string

const (
	ProviderFCM     ProviderID = "fcm"
	ProviderAPNS    ProviderID = "apns"
	ProviderWebPush ProviderID = "webpush"
	ProviderNoop    ProviderID = "noop"
)

// Priority controls how aggressively a gateway wakes the device.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Status is the delivery lifecycle of a single notification record.
// Transitions: pending -> sent -> delivered -> clicked, with failed
// reachable from pending or sent as a terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusClicked   Status = "clicked"
	StatusFailed    Status = "failed"
)

// CanTransition reports whether the lifecycle permits moving to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered || next == StatusFailed
	case StatusDelivered:
		return next == StatusClicked
	}
	return false
}

// MaxTTLSeconds caps a notification's time-to-live at 28 days, the longest
// retention any of the supported gateways honours.
const MaxTTLSeconds = 2_419_200

// redactPrefixLen is how many leading token characters survive redaction.
const redactPrefixLen = 8

// DeviceMetadata is optional, client-reported device information.
type DeviceMetadata struct {
	DeviceName string `json:"device_name,omitempty" firestore:"device_name,omitempty"`
	Model      string `json:"model,omitempty" firestore:"model,omitempty"`
	OSVersion  string `json:"os_version,omitempty" firestore:"os_version,omitempty"`
	AppVersion string `json:"app_version,omitempty" firestore:"app_version,omitempty"`
}

// merge overlays non-empty fields of other onto m.
func (m DeviceMetadata) merge(other DeviceMetadata) DeviceMetadata {
	if other.DeviceName != "" {
		m.DeviceName = other.DeviceName
	}
	if other.Model != "" {
		m.Model = other.Model
	}
	if other.OSVersion != "" {
		m.OSVersion = other.OSVersion
	}
	if other.AppVersion != "" {
		m.AppVersion = other.AppVersion
	}
	return m
}

// Device is one registered push endpoint: a binding of (user, platform,
// token). The ID is derived from the token, so two registrations of the
// same token always collide on the same record.
type Device struct {
	ID           string
	UserID       urn.URN
	Platform     Platform
	Provider     ProviderID
	Token        string
	Metadata     DeviceMetadata
	IsActive     bool
	LastActiveAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeviceID derives the canonical device identifier for a token. Using a
// hash keeps the raw secret out of document IDs and makes re-registration
// of the same token an idempotent overwrite rather than a duplicate insert.
func DeviceID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RedactedToken returns a short prefix of the device token suitable for
// read-back. Full tokens never leave the registry boundary.
func (d Device) RedactedToken() string {
	if len(d.Token) <= redactPrefixLen {
		return "..."
	}
	return d.Token[:redactPrefixLen] + "..."
}

// MergeRegistration folds a re-registration of the same token into the
// existing record: ownership moves to the latest caller, metadata is
// merged field-wise, and the activity timestamps are refreshed.
func (d Device) MergeRegistration(incoming Device, now time.Time) Device {
	d.UserID = incoming.UserID
	d.Platform = incoming.Platform
	d.Provider = incoming.Provider
	d.Metadata = d.Metadata.merge(incoming.Metadata)
	d.IsActive = true
	d.LastActiveAt = now
	d.UpdatedAt = now
	return d
}

// Message is the provider-facing notification content.
type Message struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	ImageURL    string            `json:"image_url,omitempty"`
	Category    string            `json:"category,omitempty"`
	Badge       int               `json:"badge,omitempty"`
	Sound       string            `json:"sound,omitempty"`
	CollapseKey string            `json:"collapse_key,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	Priority    Priority          `json:"priority,omitempty"`
	TTLSeconds  int               `json:"ttl_seconds,omitempty"`
}

// Validate enforces the constructor-level invariants on a message.
func (m *Message) Validate() error {
	if m.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidMessage)
	}
	if m.Body == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	if m.TTLSeconds < 0 || m.TTLSeconds > MaxTTLSeconds {
		return fmt.Errorf("%w: ttl must be within [0, %d] seconds", ErrInvalidMessage, MaxTTLSeconds)
	}
	switch m.Priority {
	case "":
		m.Priority = PriorityNormal
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidMessage, m.Priority)
	}
	return nil
}

// Record is the persisted ledger entry for one (logical send, device)
// delivery attempt. Fanning a send out to N devices creates N records.
type Record struct {
	ID                string
	UserID            urn.URN
	DeviceID          string
	Title             string
	Body              string
	ImageURL          string
	Category          string
	Badge             int
	Sound             string
	CollapseKey       string
	Data              map[string]string
	Priority          Priority
	TTLSeconds        int
	Status            Status
	Provider          ProviderID
	ProviderMessageID string
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ClickedAt         *time.Time
	Error             string
	CreatedAt         time.Time
}

// NewRecord builds a pending record for one device delivery attempt.
func NewRecord(id string, userID urn.URN, deviceID string, provider ProviderID, msg Message, now time.Time) (*Record, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &Record{
		ID:          id,
		UserID:      userID,
		DeviceID:    deviceID,
		Title:       msg.Title,
		Body:        msg.Body,
		ImageURL:    msg.ImageURL,
		Category:    msg.Category,
		Badge:       msg.Badge,
		Sound:       msg.Sound,
		CollapseKey: msg.CollapseKey,
		Data:        msg.Data,
		Priority:    msg.Priority,
		TTLSeconds:  msg.TTLSeconds,
		Status:      StatusPending,
		Provider:    provider,
		CreatedAt:   now,
	}, nil
}

// MarkSent transitions the record to sent and captures the gateway receipt.
func (r *Record) MarkSent(providerMessageID string, at time.Time) {
	r.Status = StatusSent
	r.ProviderMessageID = providerMessageID
	r.SentAt = &at
}

// MarkFailed transitions the record to the terminal failed state. The
// adapter error is captured on the record, never re-raised to the caller.
func (r *Record) MarkFailed(err error) {
	r.Status = StatusFailed
	if err != nil {
		r.Error = err.Error()
	}
}

// Template is a named, parameterized title/body pair. Placeholders use
// {{identifier}} markers.
type Template struct {
	Name        string
	Category    string
	Title       string
	Body        string
	ImageURL    string
	DefaultData map[string]string
	Priority    Priority
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
