package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rentfolio/go-push-service/pkg/push"
)

const notificationsCollection = "notifications"

// RecordStore journals one document per (logical send, device) delivery
// attempt.
type RecordStore struct {
	client *firestore.Client
}

func NewRecordStore(client *firestore.Client) *RecordStore {
	return &RecordStore{client: client}
}

type recordDoc struct {
	UserID            string            `firestore:"user_id"`
	DeviceID          string            `firestore:"device_id,omitempty"`
	Title             string            `firestore:"title"`
	Body              string            `firestore:"body"`
	ImageURL          string            `firestore:"image_url,omitempty"`
	Category          string            `firestore:"category,omitempty"`
	Badge             int               `firestore:"badge,omitempty"`
	Sound             string            `firestore:"sound,omitempty"`
	CollapseKey       string            `firestore:"collapse_key,omitempty"`
	Data              map[string]string `firestore:"data,omitempty"`
	Priority          string            `firestore:"priority"`
	TTLSeconds        int               `firestore:"ttl_seconds,omitempty"`
	Status            string            `firestore:"status"`
	Provider          string            `firestore:"provider"`
	ProviderMessageID string            `firestore:"provider_message_id,omitempty"`
	SentAt            *time.Time        `firestore:"sent_at,omitempty"`
	DeliveredAt       *time.Time        `firestore:"delivered_at,omitempty"`
	ClickedAt         *time.Time        `firestore:"clicked_at,omitempty"`
	Error             string            `firestore:"error,omitempty"`
	CreatedAt         time.Time         `firestore:"created_at"`
}

func (s *RecordStore) Insert(ctx context.Context, r *push.Record) error {
	doc := recordDoc{
		UserID:            r.UserID.String(),
		DeviceID:          r.DeviceID,
		Title:             r.Title,
		Body:              r.Body,
		ImageURL:          r.ImageURL,
		Category:          r.Category,
		Badge:             r.Badge,
		Sound:             r.Sound,
		CollapseKey:       r.CollapseKey,
		Data:              r.Data,
		Priority:          string(r.Priority),
		TTLSeconds:        r.TTLSeconds,
		Status:            string(r.Status),
		Provider:          string(r.Provider),
		ProviderMessageID: r.ProviderMessageID,
		SentAt:            r.SentAt,
		DeliveredAt:       r.DeliveredAt,
		ClickedAt:         r.ClickedAt,
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
	}
	_, err := s.client.Collection(notificationsCollection).Doc(r.ID).Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", r.ID, err)
	}
	return nil
}

func (s *RecordStore) CountByStatusSince(ctx context.Context, since time.Time) (push.StatusCounts, error) {
	var counts push.StatusCounts

	iter := s.client.Collection(notificationsCollection).
		Where("created_at", ">=", since).
		Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return counts, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var doc recordDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		counts.Observe(push.Status(doc.Status))
	}
	return counts, nil
}

// MarkDelivered applies the sent -> delivered transition reported by the
// external receipt collaborator.
func (s *RecordStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, push.StatusDelivered, "delivered_at", at)
}

// MarkClicked applies the delivered -> clicked transition.
func (s *RecordStore) MarkClicked(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, push.StatusClicked, "clicked_at", at)
}

func (s *RecordStore) transition(ctx context.Context, id string, next push.Status, tsField string, at time.Time) error {
	ref := s.client.Collection(notificationsCollection).Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return push.ErrRecordNotFound
			}
			return err
		}
		var doc recordDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if !push.Status(doc.Status).CanTransition(next) {
			return fmt.Errorf("record %s: illegal transition %s -> %s", id, doc.Status, next)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(next)},
			{Path: tsField, Value: at},
		})
	})
}

var _ push.RecordStore = (*RecordStore)(nil)
