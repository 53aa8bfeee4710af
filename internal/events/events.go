// Package events delivers rental domain events to the notification
// collaborator.
package events

import (
	"context"
	"errors"

	"powerbank-rental-backend/internal/domain"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/repository"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// OutboxPublisher stores events in the user's notification inbox.
type OutboxPublisher struct {
	notes repository.NotificationRepository
}

func NewOutboxPublisher(notes repository.NotificationRepository) *OutboxPublisher {
	return &OutboxPublisher{notes: notes}
}

func (p *OutboxPublisher) Publish(ctx context.Context, event domain.Event) error {
	rentalID := event.RentalID
	note := &domain.Notification{
		UserID:     event.UserID,
		RentalID:   &rentalID,
		EventType:  event.Type,
		Title:      event.Title(),
		Message:    event.Message(),
		Attributes: event.Attributes(),
		CreatedAt:  event.OccurredAt,
	}
	return p.notes.Create(ctx, note)
}

// LogPublisher only logs events. Used when no downstream is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event domain.Event) error {
	logger.InfoContext(ctx, "Domain event", "type", event.Type, "eventID", event.ID,
		"userID", event.UserID, "rentalID", event.RentalID, "amount", event.Amount.StringFixed(2))
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
