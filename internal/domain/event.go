package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventRentalStarted   EventType = "rental_started"
	EventRentalDueSoon   EventType = "rental_due_soon"
	EventRentalCompleted EventType = "rental_completed"
	EventRentalCancelled EventType = "rental_cancelled"
	EventRentalOverdue   EventType = "rental_overdue"
	EventPaymentDue      EventType = "payment_due"
	EventPointsEarned    EventType = "points_earned"
)

// Event is emitted by the rental engine for the notification collaborator.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	UserID     int32           `json:"user_id"`
	RentalID   int32           `json:"rental_id"`
	Amount     decimal.Decimal `json:"amount"`
	Points     int64           `json:"points,omitempty"`
	DueAt      *time.Time      `json:"due_at,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Title and Message render the event for the notification inbox.
func (e Event) Title() string {
	switch e.Type {
	case EventRentalStarted:
		return "Rental started"
	case EventRentalDueSoon:
		return "Rental due soon"
	case EventRentalCompleted:
		return "Rental completed"
	case EventRentalCancelled:
		return "Rental cancelled"
	case EventRentalOverdue:
		return "Rental overdue"
	case EventPaymentDue:
		return "Payment due"
	case EventPointsEarned:
		return "Points earned"
	}
	return string(e.Type)
}

func (e Event) Message() string {
	switch e.Type {
	case EventRentalStarted:
		if e.DueAt != nil {
			return fmt.Sprintf("Rental #%d started. Please return the power bank by %s.", e.RentalID, e.DueAt.UTC().Format(time.RFC3339))
		}
		return fmt.Sprintf("Rental #%d started.", e.RentalID)
	case EventRentalDueSoon:
		return fmt.Sprintf("Rental #%d is due at %s. Extend or return it to avoid late charges.", e.RentalID, e.DueAt.UTC().Format(time.RFC3339))
	case EventRentalCompleted:
		return fmt.Sprintf("Rental #%d completed. Total charged: %s.", e.RentalID, e.Amount.StringFixed(2))
	case EventRentalCancelled:
		return fmt.Sprintf("Rental #%d was cancelled. %s has been refunded.", e.RentalID, e.Amount.StringFixed(2))
	case EventRentalOverdue:
		return fmt.Sprintf("Rental #%d is overdue. Late charges so far: %s.", e.RentalID, e.Amount.StringFixed(2))
	case EventPaymentDue:
		return fmt.Sprintf("Rental #%d has an outstanding balance of %s. Top up to settle it.", e.RentalID, e.Amount.StringFixed(2))
	case EventPointsEarned:
		return fmt.Sprintf("You earned %d points on rental #%d.", e.Points, e.RentalID)
	}
	return ""
}

// Attributes flattens the event for notification storage.
func (e Event) Attributes() map[string]string {
	attrs := map[string]string{
		"event_id":  e.ID,
		"rental_id": fmt.Sprintf("%d", e.RentalID),
		"amount":    e.Amount.StringFixed(2),
	}
	if e.Points != 0 {
		attrs["points"] = fmt.Sprintf("%d", e.Points)
	}
	if e.DueAt != nil {
		attrs["due_at"] = e.DueAt.UTC().Format(time.RFC3339)
	}
	return attrs
}
