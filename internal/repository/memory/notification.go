package memory

import (
	"context"
	"time"

	"powerbank-rental-backend/internal/domain"
)

type notificationRepository struct {
	s    *Store
	inTx bool
}

func (r *notificationRepository) Create(ctx context.Context, note *domain.Notification) error {
	r.s.run(r.inTx, func(db *state) {
		note.ID = db.next("notifications")
		if note.CreatedAt.IsZero() {
			note.CreatedAt = time.Now().UTC()
		}
		db.notifications = append(db.notifications, *note)
	})
	return nil
}

func (r *notificationRepository) List(ctx context.Context, userID int32, n, offset int32) ([]domain.Notification, int32, error) {
	var out []domain.Notification
	r.s.run(r.inTx, func(db *state) {
		for i := len(db.notifications) - 1; i >= 0; i-- {
			if db.notifications[i].UserID == userID {
				out = append(out, db.notifications[i])
			}
		}
	})
	total := int32(len(out))
	if int(offset) >= len(out) {
		return nil, total, nil
	}
	return limit(out[offset:], n), total, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, id, userID int32) error {
	var found bool
	r.s.run(r.inTx, func(db *state) {
		for i := range db.notifications {
			if db.notifications[i].ID == id && db.notifications[i].UserID == userID {
				db.notifications[i].IsRead = true
				found = true
				return
			}
		}
	})
	if !found {
		return domain.NewNotFoundError("notificationRepository.MarkAsRead", "notification", id)
	}
	return nil
}
