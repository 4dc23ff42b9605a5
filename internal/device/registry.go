// Package device owns the device-registration lifecycle: token-validated
// registration with upsert-by-token dedupe, owner-scoped listing with
// token redaction, and soft-delete unregistration.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/rentfolio/go-push-service/internal/provider"
	"github.com/rentfolio/go-push-service/pkg/push"
)

// Registry is the owner of DeviceRegistration records.
type Registry struct {
	store           push.DeviceStore
	router          *provider.Router
	providers       *provider.Registry
	validateTimeout time.Duration
	logger          *slog.Logger
}

func NewRegistry(
	store push.DeviceStore,
	router *provider.Router,
	providers *provider.Registry,
	validateTimeout time.Duration,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		store:           store,
		router:          router,
		providers:       providers,
		validateTimeout: validateTimeout,
		logger:          logger.With("component", "DeviceRegistry"),
	}
}

// Registration is the inbound registration request.
type Registration struct {
	Platform push.Platform
	Token    string
	Metadata push.DeviceMetadata
}

// Register validates the token against the routed provider and upserts the
// registration. Re-registering a known token reassigns ownership to the
// latest caller, merges metadata and refreshes lastActiveAt; the store
// resolves concurrent registrations of one token, so there is exactly one
// active record per token afterwards.
func (r *Registry) Register(ctx context.Context, userID urn.URN, reg Registration) (*push.Device, error) {
	if reg.Token == "" {
		return nil, fmt.Errorf("%w: token is required", push.ErrInvalidToken)
	}

	providerID := r.router.Route(reg.Platform)
	adapter, err := r.providers.Get(providerID)
	if err != nil {
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, r.validateTimeout)
	defer cancel()
	if !adapter.ValidateToken(vctx, reg.Token) {
		// Fail fast: nothing is persisted for a rejected token.
		return nil, fmt.Errorf("%w: rejected by provider %s", push.ErrInvalidToken, providerID)
	}

	now := time.Now().UTC()
	stored, err := r.store.Upsert(ctx, push.Device{
		ID:           push.DeviceID(reg.Token),
		UserID:       userID,
		Platform:     reg.Platform,
		Provider:     providerID,
		Token:        reg.Token,
		Metadata:     reg.Metadata,
		IsActive:     true,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("upserting device: %w", err)
	}

	r.logger.Info("device registered",
		"device_id", stored.ID, "user", userID.String(),
		"platform", string(reg.Platform), "provider", string(providerID))
	return stored, nil
}

// List returns the caller's active devices. Tokens come back redacted;
// the full secret never leaves the registry boundary.
func (r *Registry) List(ctx context.Context, userID urn.URN) ([]push.Device, error) {
	devices, err := r.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	for i := range devices {
		devices[i].Token = devices[i].RedactedToken()
	}
	return devices, nil
}

// Unregister soft-deletes a device after re-checking ownership. Delivery
// history referencing the device is untouched.
func (r *Registry) Unregister(ctx context.Context, userID urn.URN, deviceID string) error {
	d, err := r.store.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.UserID.String() != userID.String() {
		return push.ErrNotOwner
	}
	if err := r.store.Deactivate(ctx, deviceID); err != nil {
		return fmt.Errorf("deactivating device: %w", err)
	}
	r.logger.Info("device unregistered", "device_id", deviceID, "user", userID.String())
	return nil
}
