package domain

import "time"

// Notification is a user-facing inbox entry written from a domain event.
type Notification struct {
	ID         int32             `json:"id"`
	UserID     int32             `json:"user_id"`
	RentalID   *int32            `json:"rental_id,omitempty"`
	EventType  EventType         `json:"event_type"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	IsRead     bool              `json:"is_read"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
}
