package push

import (
	"errors"
	"fmt"
)

// Sentinel errors make up the caller-facing taxonomy. Handlers map them to
// HTTP status codes with errors.Is; everything else is a 500.
var (
	// ErrInvalidToken rejects a registration whose token fails the routed
	// provider's validation. Nothing is persisted.
	ErrInvalidToken = errors.New("invalid device token")

	// ErrInvalidMessage rejects a malformed send request before any device
	// is resolved.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrDeviceNotFound covers unknown or inactive devices.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrRecordNotFound covers receipt updates against an unknown ledger
	// entry.
	ErrRecordNotFound = errors.New("notification record not found")

	// ErrTemplateNotFound covers missing or inactive templates.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateExists is returned when creating a template whose name is
	// already taken; the startup seed treats it as success.
	ErrTemplateExists = errors.New("template already exists")

	// ErrNoTargetDevices aborts a dispatch whose target resolves to an
	// empty device set.
	ErrNoTargetDevices = errors.New("no active devices for target")

	// ErrNotOwner covers a device that exists but belongs to another user.
	ErrNotOwner = errors.New("device not owned by caller")

	// ErrUnknownProvider is returned by the registry for an identifier no
	// adapter was constructed for.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ProviderError wraps a gateway-level send failure. During fan-out it is
// captured on the device's record and never aborts sibling deliveries.
type ProviderError struct {
	Provider ProviderID
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
