package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campushq/portal-api/internal/models"
)

// NotificationRepository persists broadcast messages and their per-recipient
// delivery rows.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateBroadcast stores the message and one delivery per recipient in a
// single transaction. Any failure rolls everything back so a reader never
// observes a partially delivered broadcast.
func (r *NotificationRepository) CreateBroadcast(ctx context.Context, message *models.Message, recipients []string) ([]models.NotificationDelivery, error) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin broadcast tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const messageQuery = `INSERT INTO messages (id, sender_id, title, body, target_type, target, created_at)
VALUES (:id, :sender_id, :title, :body, :target_type, :target, :created_at)`
	if _, err := tx.NamedExecContext(ctx, messageQuery, message); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	const deliveryQuery = `INSERT INTO notification_deliveries (id, message_id, recipient_id, is_read, created_at)
VALUES ($1, $2, $3, FALSE, $4)`
	deliveries := make([]models.NotificationDelivery, 0, len(recipients))
	for _, recipientID := range recipients {
		delivery := models.NotificationDelivery{
			ID:          uuid.NewString(),
			MessageID:   message.ID,
			RecipientID: recipientID,
			IsRead:      false,
			CreatedAt:   message.CreatedAt,
		}
		if _, err := tx.ExecContext(ctx, deliveryQuery, delivery.ID, delivery.MessageID, delivery.RecipientID, delivery.CreatedAt); err != nil {
			return nil, fmt.Errorf("create delivery for %s: %w", recipientID, err)
		}
		deliveries = append(deliveries, delivery)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit broadcast tx: %w", err)
	}
	return deliveries, nil
}

// ListByRecipient returns the recipient's deliveries joined with message
// content, newest first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string) ([]models.NotificationItem, error) {
	const query = `SELECT d.id AS delivery_id, m.id AS message_id, m.sender_id, m.title, m.body, d.is_read, d.created_at
FROM notification_deliveries d
JOIN messages m ON m.id = d.message_id
WHERE d.recipient_id = $1
ORDER BY d.created_at DESC`
	var items []models.NotificationItem
	if err := r.db.SelectContext(ctx, &items, query, recipientID); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

// UnreadCount returns the number of unread deliveries for the recipient.
func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	const query = `SELECT COUNT(*) FROM notification_deliveries WHERE recipient_id = $1 AND is_read = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, recipientID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// FindDelivery returns a delivery row by identifier.
func (r *NotificationRepository) FindDelivery(ctx context.Context, id string) (*models.NotificationDelivery, error) {
	const query = `SELECT id, message_id, recipient_id, is_read, read_at, created_at
FROM notification_deliveries WHERE id = $1`
	var delivery models.NotificationDelivery
	if err := r.db.GetContext(ctx, &delivery, query, id); err != nil {
		return nil, err
	}
	return &delivery, nil
}

// MarkRead flips is_read exactly once. The conditional update makes repeat
// calls a no-op; the returned flag reports whether this call transitioned.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error) {
	const query = `UPDATE notification_deliveries SET is_read = TRUE, read_at = $2 WHERE id = $1 AND is_read = FALSE`
	result, err := r.db.ExecContext(ctx, query, id, readAt)
	if err != nil {
		return false, fmt.Errorf("mark delivery read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark delivery read rows: %w", err)
	}
	return affected == 1, nil
}
