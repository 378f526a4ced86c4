package storage

import (
	"context"

	"github.com/salonops/booker/internal/notify"
	"github.com/salonops/booker/libs/db"
)

// NotificationRepository is the append-only delivery log.
type NotificationRepository struct {
	pool *db.Pool
}

func NewNotificationRepository(pool *db.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Append(ctx context.Context, rec notify.Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications
			(company_id, entity_id, recipient, channel, purpose, content, status, message_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.CompanyID, rec.EntityID, rec.Recipient, rec.Channel, rec.Purpose,
		rec.Content, rec.Status, rec.MessageID, rec.SentAt)
	return err
}
