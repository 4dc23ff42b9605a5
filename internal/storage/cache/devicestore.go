package cache

import (
	"context"
	"errors"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/rentfolio/go-push-service/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore is a decorator that adds read-aside caching of the
// per-user active-device lookup, the hot path of every dispatch. Writes
// invalidate so an unregistered device stops receiving immediately.
type CachedDeviceStore struct {
	realStore push.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore push.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDeviceStore) ListActiveByUser(ctx context.Context, userID urn.URN) ([]push.Device, error) {
	key := s.cacheKey(userID)
	var cached []push.Device

	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// just serve from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) Upsert(ctx context.Context, d push.Device) (*push.Device, error) {
	// A re-registration can move the token to a new owner; the previous
	// owner's cached device list must go stale too.
	prev, err := s.realStore.GetByID(ctx, d.ID)
	if err != nil && !errors.Is(err, push.ErrDeviceNotFound) {
		return nil, err
	}

	stored, err := s.realStore.Upsert(ctx, d)
	if err != nil {
		return nil, err
	}

	if prev != nil {
		_ = s.invalidate(ctx, prev.UserID)
	}
	return stored, s.invalidate(ctx, stored.UserID)
}

// Deactivate clears the owner's cache even though the write succeeded, so
// notifications stop immediately rather than at TTL expiry.
func (s *CachedDeviceStore) Deactivate(ctx context.Context, id string) error {
	d, err := s.realStore.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.realStore.Deactivate(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, d.UserID)
}

// --- PASSTHROUGH ---

func (s *CachedDeviceStore) GetByID(ctx context.Context, id string) (*push.Device, error) {
	return s.realStore.GetByID(ctx, id)
}

func (s *CachedDeviceStore) ListAllActive(ctx context.Context) ([]push.Device, error) {
	return s.realStore.ListAllActive(ctx)
}

func (s *CachedDeviceStore) Counts(ctx context.Context) (push.DeviceCounts, error) {
	return s.realStore.Counts(ctx)
}

// --- Helpers ---

func (s *CachedDeviceStore) invalidate(ctx context.Context, userID urn.URN) error {
	return s.cache.Del(ctx, s.cacheKey(userID))
}

func (s *CachedDeviceStore) cacheKey(userID urn.URN) string {
	return "push:devices:" + userID.String()
}

var _ push.DeviceStore = (*CachedDeviceStore)(nil)
