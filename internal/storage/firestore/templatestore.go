package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rentfolio/go-push-service/pkg/push"
)

const templatesCollection = "templates"

// TemplateStore keys templates by their unique name.
type TemplateStore struct {
	client *firestore.Client
}

func NewTemplateStore(client *firestore.Client) *TemplateStore {
	return &TemplateStore{client: client}
}

func (s *TemplateStore) GetByName(ctx context.Context, name string) (*push.Template, error) {
	snap, err := s.client.Collection(templatesCollection).Doc(name).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %q", push.ErrTemplateNotFound, name)
		}
		return nil, err
	}
	var doc templateDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	t := doc.template(name)
	return &t, nil
}

func (s *TemplateStore) Create(ctx context.Context, t *push.Template) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.client.Collection(templatesCollection).Doc(t.Name).Create(ctx, docOfTemplate(*t))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %q", push.ErrTemplateExists, t.Name)
		}
		return fmt.Errorf("creating template %q: %w", t.Name, err)
	}
	return nil
}

type templateDoc struct {
	Category    string            `firestore:"category,omitempty"`
	Title       string            `firestore:"title"`
	Body        string            `firestore:"body"`
	ImageURL    string            `firestore:"image_url,omitempty"`
	DefaultData map[string]string `firestore:"default_data,omitempty"`
	Priority    string            `firestore:"priority"`
	IsActive    bool              `firestore:"is_active"`
	CreatedAt   time.Time         `firestore:"created_at"`
	UpdatedAt   time.Time         `firestore:"updated_at"`
}

func docOfTemplate(t push.Template) templateDoc {
	return templateDoc{
		Category:    t.Category,
		Title:       t.Title,
		Body:        t.Body,
		ImageURL:    t.ImageURL,
		DefaultData: t.DefaultData,
		Priority:    string(t.Priority),
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (doc templateDoc) template(name string) push.Template {
	return push.Template{
		Name:        name,
		Category:    doc.Category,
		Title:       doc.Title,
		Body:        doc.Body,
		ImageURL:    doc.ImageURL,
		DefaultData: doc.DefaultData,
		Priority:    push.Priority(doc.Priority),
		IsActive:    doc.IsActive,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

var _ push.TemplateStore = (*TemplateStore)(nil)
