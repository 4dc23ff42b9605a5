// Package firestore implements the service's stores on Google Cloud
// Firestore.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/rentfolio/go-push-service/pkg/push"
)

const devicesCollection = "devices"

// DeviceStore keeps one document per token: the document ID is the
// token-derived device ID, so concurrent registrations of one token
// collide on the same document and the transaction resolves the merge.
// No in-process locking is involved.
type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

// deviceDoc is the persisted representation.
type deviceDoc struct {
	UserID       string              `firestore:"user_id"`
	Platform     string              `firestore:"platform"`
	Provider     string              `firestore:"provider"`
	Token        string              `firestore:"token"`
	Metadata     push.DeviceMetadata `firestore:"metadata"`
	IsActive     bool                `firestore:"is_active"`
	LastActiveAt time.Time           `firestore:"last_active_at"`
	CreatedAt    time.Time           `firestore:"created_at"`
	UpdatedAt    time.Time           `firestore:"updated_at"`
}

func docOf(d push.Device) deviceDoc {
	return deviceDoc{
		UserID:       d.UserID.String(),
		Platform:     string(d.Platform),
		Provider:     string(d.Provider),
		Token:        d.Token,
		Metadata:     d.Metadata,
		IsActive:     d.IsActive,
		LastActiveAt: d.LastActiveAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (doc deviceDoc) device(id string) (push.Device, error) {
	userURN, err := urn.Parse(doc.UserID)
	if err != nil {
		return push.Device{}, fmt.Errorf("corrupt device %s: %w", id, err)
	}
	return push.Device{
		ID:           id,
		UserID:       userURN,
		Platform:     push.Platform(doc.Platform),
		Provider:     push.ProviderID(doc.Provider),
		Token:        doc.Token,
		Metadata:     doc.Metadata,
		IsActive:     doc.IsActive,
		LastActiveAt: doc.LastActiveAt,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (s *DeviceStore) Upsert(ctx context.Context, d push.Device) (*push.Device, error) {
	ref := s.client.Collection(devicesCollection).Doc(d.ID)
	var stored push.Device

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		final := d
		if err == nil {
			var existing deviceDoc
			if derr := snap.DataTo(&existing); derr != nil {
				return derr
			}
			prev, perr := existing.device(d.ID)
			if perr != nil {
				return perr
			}
			final = prev.MergeRegistration(d, time.Now().UTC())
		}

		stored = final
		return tx.Set(ref, docOf(final))
	})
	if err != nil {
		return nil, fmt.Errorf("device upsert failed: %w", err)
	}
	return &stored, nil
}

func (s *DeviceStore) GetByID(ctx context.Context, id string) (*push.Device, error) {
	snap, err := s.client.Collection(devicesCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, push.ErrDeviceNotFound
		}
		return nil, err
	}
	var doc deviceDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	d, err := doc.device(id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) ListActiveByUser(ctx context.Context, userID urn.URN) ([]push.Device, error) {
	query := s.client.Collection(devicesCollection).
		Where("user_id", "==", userID.String()).
		Where("is_active", "==", true)
	return s.collect(ctx, query)
}

func (s *DeviceStore) ListAllActive(ctx context.Context) ([]push.Device, error) {
	query := s.client.Collection(devicesCollection).Where("is_active", "==", true)
	return s.collect(ctx, query)
}

func (s *DeviceStore) Deactivate(ctx context.Context, id string) error {
	ref := s.client.Collection(devicesCollection).Doc(id)
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "is_active", Value: false},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return push.ErrDeviceNotFound
	}
	return err
}

func (s *DeviceStore) Counts(ctx context.Context) (push.DeviceCounts, error) {
	counts := push.DeviceCounts{ByPlatform: make(map[push.Platform]int)}

	iter := s.client.Collection(devicesCollection).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return counts, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var doc deviceDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		counts.Total++
		if doc.IsActive {
			counts.Active++
			counts.ByPlatform[push.Platform(doc.Platform)]++
		}
	}
	return counts, nil
}

func (s *DeviceStore) collect(ctx context.Context, query firestore.Query) ([]push.Device, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var devices []push.Device
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var doc deviceDoc
		if err := snap.DataTo(&doc); err != nil {
			// Safe to skip corrupt rows; they cannot be dispatched to.
			continue
		}
		d, err := doc.device(snap.Ref.ID)
		if err != nil {
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

var _ push.DeviceStore = (*DeviceStore)(nil)
