package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rentfolio/go-push-service/pkg/push"
)

// Renderer resolves active templates by name and interpolates their
// content. It only reads the template store; nothing in the dispatch path
// mutates templates.
type Renderer struct {
	store  push.TemplateStore
	logger *slog.Logger
}

func NewRenderer(store push.TemplateStore, logger *slog.Logger) *Renderer {
	return &Renderer{
		store:  store,
		logger: logger.With("component", "TemplateRenderer"),
	}
}

// Render looks up an active template and produces the message to dispatch.
// Missing and inactive templates are both push.ErrTemplateNotFound.
func (r *Renderer) Render(ctx context.Context, name string, vars map[string]string) (push.Message, error) {
	tmpl, err := r.store.GetByName(ctx, name)
	if err != nil {
		return push.Message{}, err
	}
	if !tmpl.IsActive {
		return push.Message{}, fmt.Errorf("%w: %q is inactive", push.ErrTemplateNotFound, name)
	}

	// Template defaults sit under the caller's variables in the data
	// payload; the variables also drive the text substitution.
	data := make(map[string]string, len(tmpl.DefaultData)+len(vars))
	for k, v := range tmpl.DefaultData {
		data[k] = v
	}
	for k, v := range vars {
		data[k] = v
	}
	if len(data) == 0 {
		data = nil
	}

	return push.Message{
		Title:    Interpolate(tmpl.Title, vars),
		Body:     Interpolate(tmpl.Body, vars),
		ImageURL: tmpl.ImageURL,
		Category: tmpl.Category,
		Data:     data,
		Priority: tmpl.Priority,
	}, nil
}

// SeedDefaults creates any default template that is missing. Existing
// templates are left untouched and defaults are never auto-removed.
func SeedDefaults(ctx context.Context, store push.TemplateStore, logger *slog.Logger) error {
	for _, tmpl := range Defaults() {
		t := tmpl
		if err := store.Create(ctx, &t); err != nil {
			if errors.Is(err, push.ErrTemplateExists) {
				continue
			}
			return fmt.Errorf("seeding template %q: %w", t.Name, err)
		}
		logger.Info("seeded default template", "name", t.Name)
	}
	return nil
}

// Defaults is the fixed template set the service ships with.
func Defaults() []push.Template {
	return []push.Template{
		{
			Name:     "lease_expiring",
			Category: "lease",
			Title:    "Lease expiring soon",
			Body:     "Lease for {{unitAddress}} expires in {{daysRemaining}} days",
			Priority: push.PriorityHigh,
			IsActive: true,
		},
		{
			Name:     "rent_due",
			Category: "billing",
			Title:    "Rent due",
			Body:     "Rent of {{amount}} for {{unitAddress}} is due on {{dueDate}}",
			Priority: push.PriorityHigh,
			IsActive: true,
		},
		{
			Name:     "payment_received",
			Category: "billing",
			Title:    "Payment received",
			Body:     "We received your payment of {{amount}} for {{unitAddress}}",
			Priority: push.PriorityNormal,
			IsActive: true,
		},
		{
			Name:     "maintenance_update",
			Category: "maintenance",
			Title:    "Maintenance update",
			Body:     "Your request for {{unitAddress}} is now {{status}}",
			Priority: push.PriorityNormal,
			IsActive: true,
		},
		{
			Name:     "welcome",
			Category: "account",
			Title:    "Welcome to Rentfolio",
			Body:     "Hi {{firstName}}, your account is ready",
			Priority: push.PriorityLow,
			IsActive: true,
		},
	}
}
