package models

import "time"

// MessageTarget selects how a broadcast resolves its recipients.
type MessageTarget string

const (
	TargetStudent MessageTarget = "STUDENT"
	TargetCourse  MessageTarget = "COURSE"
	TargetAll     MessageTarget = "ALL"
)

// Message is a teacher-authored broadcast. Immutable once created.
type Message struct {
	ID         string        `db:"id" json:"id"`
	SenderID   string        `db:"sender_id" json:"sender_id"`
	Title      string        `db:"title" json:"title"`
	Body       string        `db:"body" json:"body"`
	TargetType MessageTarget `db:"target_type" json:"target_type"`
	Target     string        `db:"target" json:"target,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// NotificationDelivery is one recipient's copy of a message. Read state is
// independent per recipient and only ever moves false to true.
type NotificationDelivery struct {
	ID          string     `db:"id" json:"id"`
	MessageID   string     `db:"message_id" json:"message_id"`
	RecipientID string     `db:"recipient_id" json:"recipient_id"`
	IsRead      bool       `db:"is_read" json:"is_read"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// NotificationItem is a delivery joined with its message content.
type NotificationItem struct {
	DeliveryID string    `db:"delivery_id" json:"delivery_id"`
	MessageID  string    `db:"message_id" json:"message_id"`
	SenderID   string    `db:"sender_id" json:"sender_id"`
	Title      string    `db:"title" json:"title"`
	Body       string    `db:"body" json:"body"`
	IsRead     bool      `db:"is_read" json:"is_read"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
